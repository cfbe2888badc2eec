// game/loot/config.go
package loot

import (
	"fmt"
	"math/rand"
)

// StatRange is an immutable inclusive integer range used for rolling item
// stats. Construct through NewStatRange; the zero value rolls zero.
type StatRange struct {
	min int
	max int
}

// NewStatRange validates and builds a range.
func NewStatRange(min, max int) (StatRange, error) {
	if min < 0 {
		return StatRange{}, fmt.Errorf("stat range min %d must not be negative", min)
	}
	if max < min {
		return StatRange{}, fmt.Errorf("stat range max %d is below min %d", max, min)
	}
	return StatRange{min: min, max: max}, nil
}

// MustStatRange is for package defaults where the bounds are compile-time
// constants.
func MustStatRange(min, max int) StatRange {
	r, err := NewStatRange(min, max)
	if err != nil {
		panic(err)
	}
	return r
}

func (r StatRange) Min() int { return r.min }
func (r StatRange) Max() int { return r.max }

// Roll returns a uniform value in [min, max].
func (r StatRange) Roll(rng *rand.Rand) int {
	if r.max == r.min {
		return r.min
	}
	return r.min + rng.Intn(r.max-r.min+1)
}

// RarityConfig describes one rarity band: its weight in the drop roll, the
// multiplier applied to rolled stats, and the chat color code used when the
// item is announced.
type RarityConfig struct {
	name       string
	weight     int
	multiplier float64
	colorCode  string
}

// NewRarityConfig validates and builds a rarity.
func NewRarityConfig(name string, weight int, multiplier float64, colorCode string) (RarityConfig, error) {
	if name == "" {
		return RarityConfig{}, fmt.Errorf("rarity name must not be empty")
	}
	if weight <= 0 {
		return RarityConfig{}, fmt.Errorf("rarity %s weight %d must be positive", name, weight)
	}
	if multiplier <= 0 {
		return RarityConfig{}, fmt.Errorf("rarity %s multiplier %v must be positive", name, multiplier)
	}
	return RarityConfig{name: name, weight: weight, multiplier: multiplier, colorCode: colorCode}, nil
}

func (r RarityConfig) Name() string        { return r.name }
func (r RarityConfig) Weight() int         { return r.weight }
func (r RarityConfig) Multiplier() float64 { return r.multiplier }
func (r RarityConfig) ColorCode() string   { return r.colorCode }

// ItemTypeConfig describes a rollable item type and its base stat ranges per
// tier. Tier indexes are 1-based; ranges scale with tier before the rarity
// multiplier applies.
type ItemTypeConfig struct {
	id      string
	name    string
	damage  map[int]StatRange
	hp      map[int]StatRange
	maxTier int
}

// NewItemTypeConfig validates and builds an item type. Every tier from 1 to
// the highest present must have both a damage and an hp range.
func NewItemTypeConfig(id, name string, damage, hp map[int]StatRange) (ItemTypeConfig, error) {
	if id == "" || name == "" {
		return ItemTypeConfig{}, fmt.Errorf("item type requires id and name")
	}
	if len(damage) == 0 || len(hp) == 0 {
		return ItemTypeConfig{}, fmt.Errorf("item type %s requires stat ranges", id)
	}

	maxTier := 0
	for tier := range damage {
		if tier > maxTier {
			maxTier = tier
		}
	}
	for tier := 1; tier <= maxTier; tier++ {
		if _, ok := damage[tier]; !ok {
			return ItemTypeConfig{}, fmt.Errorf("item type %s missing damage range for tier %d", id, tier)
		}
		if _, ok := hp[tier]; !ok {
			return ItemTypeConfig{}, fmt.Errorf("item type %s missing hp range for tier %d", id, tier)
		}
	}

	// Copy so the caller cannot mutate the config afterwards.
	d := make(map[int]StatRange, len(damage))
	for k, v := range damage {
		d[k] = v
	}
	h := make(map[int]StatRange, len(hp))
	for k, v := range hp {
		h[k] = v
	}
	return ItemTypeConfig{id: id, name: name, damage: d, hp: h, maxTier: maxTier}, nil
}

func (c ItemTypeConfig) ID() string   { return c.id }
func (c ItemTypeConfig) Name() string { return c.name }
func (c ItemTypeConfig) MaxTier() int { return c.maxTier }

// DamageRange returns the damage range for a tier.
func (c ItemTypeConfig) DamageRange(tier int) (StatRange, bool) {
	r, ok := c.damage[tier]
	return r, ok
}

// HPRange returns the hp range for a tier.
func (c ItemTypeConfig) HPRange(tier int) (StatRange, bool) {
	r, ok := c.hp[tier]
	return r, ok
}

// EliteDropConfig pins a named elite mob to the tier and item types it drops.
type EliteDropConfig struct {
	mobID     string
	tier      int
	itemTypes []string
}

// NewEliteDropConfig validates and builds an elite drop entry.
func NewEliteDropConfig(mobID string, tier int, itemTypes []string) (EliteDropConfig, error) {
	if mobID == "" {
		return EliteDropConfig{}, fmt.Errorf("elite drop requires a mob id")
	}
	if tier < 1 {
		return EliteDropConfig{}, fmt.Errorf("elite drop for %s has invalid tier %d", mobID, tier)
	}
	if len(itemTypes) == 0 {
		return EliteDropConfig{}, fmt.Errorf("elite drop for %s requires at least one item type", mobID)
	}
	types := make([]string, len(itemTypes))
	copy(types, itemTypes)
	return EliteDropConfig{mobID: mobID, tier: tier, itemTypes: types}, nil
}

func (e EliteDropConfig) MobID() string { return e.mobID }
func (e EliteDropConfig) Tier() int     { return e.tier }

// ItemTypes returns a copy of the droppable item type ids.
func (e EliteDropConfig) ItemTypes() []string {
	out := make([]string, len(e.itemTypes))
	copy(out, e.itemTypes)
	return out
}
