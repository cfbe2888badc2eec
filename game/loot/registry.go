// game/loot/registry.go
package loot

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the drop configuration: rarities, item types and elite
// entries. It is constructed explicitly (no package-level singleton) and safe
// for concurrent reads once built; registration after construction takes the
// write lock.
type Registry struct {
	mu         sync.RWMutex
	rarities   map[string]RarityConfig
	itemTypes  map[string]ItemTypeConfig
	eliteDrops map[string]EliteDropConfig
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rarities:   make(map[string]RarityConfig),
		itemTypes:  make(map[string]ItemTypeConfig),
		eliteDrops: make(map[string]EliteDropConfig),
	}
}

// NewDefaultRegistry returns a registry seeded with the stock game content.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	for _, rc := range defaultRarities() {
		if err := r.RegisterRarity(rc); err != nil {
			panic(err)
		}
	}
	for _, it := range defaultItemTypes() {
		if err := r.RegisterItemType(it); err != nil {
			panic(err)
		}
	}
	for _, ed := range defaultEliteDrops() {
		if err := r.RegisterEliteDrop(ed); err != nil {
			panic(err)
		}
	}
	return r
}

// RegisterRarity adds a rarity; duplicate names are rejected.
func (r *Registry) RegisterRarity(rc RarityConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rarities[rc.Name()]; exists {
		return fmt.Errorf("rarity %s already registered", rc.Name())
	}
	r.rarities[rc.Name()] = rc
	return nil
}

// RegisterItemType adds an item type; duplicate ids are rejected.
func (r *Registry) RegisterItemType(it ItemTypeConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.itemTypes[it.ID()]; exists {
		return fmt.Errorf("item type %s already registered", it.ID())
	}
	r.itemTypes[it.ID()] = it
	return nil
}

// RegisterEliteDrop adds an elite entry after checking that every referenced
// item type exists and supports the entry's tier.
func (r *Registry) RegisterEliteDrop(ed EliteDropConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.eliteDrops[ed.MobID()]; exists {
		return fmt.Errorf("elite drop for %s already registered", ed.MobID())
	}
	for _, typeID := range ed.ItemTypes() {
		it, ok := r.itemTypes[typeID]
		if !ok {
			return fmt.Errorf("elite drop for %s references unknown item type %s", ed.MobID(), typeID)
		}
		if ed.Tier() > it.MaxTier() {
			return fmt.Errorf("elite drop for %s tier %d exceeds item type %s max tier %d",
				ed.MobID(), ed.Tier(), typeID, it.MaxTier())
		}
	}
	r.eliteDrops[ed.MobID()] = ed
	return nil
}

// Rarity looks up a rarity by name.
func (r *Registry) Rarity(name string) (RarityConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.rarities[name]
	return rc, ok
}

// Rarities returns all rarities sorted by name for deterministic iteration.
func (r *Registry) Rarities() []RarityConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RarityConfig, 0, len(r.rarities))
	for _, rc := range r.rarities {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ItemType looks up an item type by id.
func (r *Registry) ItemType(id string) (ItemTypeConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.itemTypes[id]
	return it, ok
}

// EliteDrop looks up the drop entry for an elite mob.
func (r *Registry) EliteDrop(mobID string) (EliteDropConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ed, ok := r.eliteDrops[mobID]
	return ed, ok
}

// defaultRarities mirrors the stock four-band rarity table.
func defaultRarities() []RarityConfig {
	mk := func(name string, weight int, mult float64, color string) RarityConfig {
		rc, err := NewRarityConfig(name, weight, mult, color)
		if err != nil {
			panic(err)
		}
		return rc
	}
	return []RarityConfig{
		mk("COMMON", 62, 1.0, "§f"),
		mk("UNCOMMON", 26, 1.25, "§a"),
		mk("RARE", 10, 1.6, "§b"),
		mk("UNIQUE", 2, 2.0, "§e"),
	}
}

// defaultItemTypes defines the stock rollable gear across five tiers.
func defaultItemTypes() []ItemTypeConfig {
	mk := func(id, name string, damage, hp map[int]StatRange) ItemTypeConfig {
		it, err := NewItemTypeConfig(id, name, damage, hp)
		if err != nil {
			panic(err)
		}
		return it
	}
	return []ItemTypeConfig{
		mk("sword", "Sword", map[int]StatRange{
			1: MustStatRange(2, 6),
			2: MustStatRange(6, 14),
			3: MustStatRange(14, 30),
			4: MustStatRange(30, 62),
			5: MustStatRange(62, 120),
		}, map[int]StatRange{
			1: MustStatRange(0, 0),
			2: MustStatRange(0, 0),
			3: MustStatRange(0, 0),
			4: MustStatRange(0, 0),
			5: MustStatRange(0, 0),
		}),
		mk("chestplate", "Chestplate", map[int]StatRange{
			1: MustStatRange(0, 0),
			2: MustStatRange(0, 0),
			3: MustStatRange(0, 0),
			4: MustStatRange(0, 0),
			5: MustStatRange(0, 0),
		}, map[int]StatRange{
			1: MustStatRange(20, 45),
			2: MustStatRange(45, 110),
			3: MustStatRange(110, 250),
			4: MustStatRange(250, 520),
			5: MustStatRange(520, 1000),
		}),
	}
}

// defaultEliteDrops pins the stock elite mobs to their loot tables.
func defaultEliteDrops() []EliteDropConfig {
	mk := func(mobID string, tier int, types []string) EliteDropConfig {
		ed, err := NewEliteDropConfig(mobID, tier, types)
		if err != nil {
			panic(err)
		}
		return ed
	}
	return []EliteDropConfig{
		mk("frost_king", 4, []string{"sword", "chestplate"}),
		mk("bone_lord", 3, []string{"sword"}),
		mk("world_boss_avarice", 5, []string{"sword", "chestplate"}),
	}
}
