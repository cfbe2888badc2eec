// game/loot/generator.go
package loot

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Drop is one rolled item.
type Drop struct {
	ItemType string `json:"itemType"`
	Name     string `json:"name"`
	Tier     int    `json:"tier"`
	Rarity   string `json:"rarity"`
	Color    string `json:"color"`
	Damage   int    `json:"damage"`
	HP       int    `json:"hp"`
}

// Generator rolls drops against a registry. A seed of 0 uses the current
// time; a fixed seed makes rolls reproducible for tests and balance tuning.
type Generator struct {
	registry *Registry
	mu       sync.Mutex
	rng      *rand.Rand
}

// NewGenerator creates a generator over the given registry.
func NewGenerator(registry *Registry, seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		registry: registry,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// RollRarity performs the weighted rarity pick across all registered
// rarities.
func (g *Generator) RollRarity() (RarityConfig, error) {
	rarities := g.registry.Rarities()
	if len(rarities) == 0 {
		return RarityConfig{}, fmt.Errorf("no rarities registered")
	}

	total := 0
	for _, rc := range rarities {
		total += rc.Weight()
	}

	g.mu.Lock()
	pick := g.rng.Intn(total)
	g.mu.Unlock()

	for _, rc := range rarities {
		pick -= rc.Weight()
		if pick < 0 {
			return rc, nil
		}
	}
	// Unreachable while weights sum to total.
	return rarities[len(rarities)-1], nil
}

// Roll generates a drop for an item type and tier with a freshly rolled
// rarity.
func (g *Generator) Roll(itemTypeID string, tier int) (*Drop, error) {
	rarity, err := g.RollRarity()
	if err != nil {
		return nil, err
	}
	return g.RollWithRarity(itemTypeID, tier, rarity.Name())
}

// RollWithRarity generates a drop for an explicit (itemType, tier, rarity)
// triple.
func (g *Generator) RollWithRarity(itemTypeID string, tier int, rarityName string) (*Drop, error) {
	itemType, ok := g.registry.ItemType(itemTypeID)
	if !ok {
		return nil, fmt.Errorf("unknown item type %q", itemTypeID)
	}
	rarity, ok := g.registry.Rarity(rarityName)
	if !ok {
		return nil, fmt.Errorf("unknown rarity %q", rarityName)
	}
	damageRange, ok := itemType.DamageRange(tier)
	if !ok {
		return nil, fmt.Errorf("item type %s has no tier %d", itemTypeID, tier)
	}
	hpRange, _ := itemType.HPRange(tier)

	g.mu.Lock()
	damage := damageRange.Roll(g.rng)
	hp := hpRange.Roll(g.rng)
	g.mu.Unlock()

	return &Drop{
		ItemType: itemType.ID(),
		Name:     fmt.Sprintf("%s %s", rarity.Name(), itemType.Name()),
		Tier:     tier,
		Rarity:   rarity.Name(),
		Color:    rarity.ColorCode(),
		Damage:   scaleStat(damage, rarity.Multiplier()),
		HP:       scaleStat(hp, rarity.Multiplier()),
	}, nil
}

// RollElite generates the full drop set for an elite mob kill: one roll per
// item type in its table.
func (g *Generator) RollElite(mobID string) ([]*Drop, error) {
	elite, ok := g.registry.EliteDrop(mobID)
	if !ok {
		return nil, fmt.Errorf("no elite drop table for mob %q", mobID)
	}

	drops := make([]*Drop, 0, len(elite.ItemTypes()))
	for _, typeID := range elite.ItemTypes() {
		drop, err := g.Roll(typeID, elite.Tier())
		if err != nil {
			return nil, fmt.Errorf("rolling %s for elite %s: %w", typeID, mobID, err)
		}
		drops = append(drops, drop)
	}
	return drops, nil
}

// scaleStat applies the rarity multiplier, rounding half up so a multiplier
// never reduces a nonzero stat to zero.
func scaleStat(base int, multiplier float64) int {
	if base == 0 {
		return 0
	}
	scaled := int(math.Round(float64(base) * multiplier))
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}
