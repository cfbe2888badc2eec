package loot

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatRangeValidation(t *testing.T) {
	_, err := NewStatRange(-1, 5)
	assert.Error(t, err)

	_, err = NewStatRange(10, 5)
	assert.Error(t, err)

	r, err := NewStatRange(3, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Roll(rand.New(rand.NewSource(1))))
}

func TestStatRangeRollStaysInBounds(t *testing.T) {
	r := MustStatRange(5, 20)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		v := r.Roll(rng)
		require.GreaterOrEqual(t, v, 5)
		require.LessOrEqual(t, v, 20)
	}
}

func TestRarityConfigValidation(t *testing.T) {
	_, err := NewRarityConfig("", 10, 1.0, "§f")
	assert.Error(t, err)

	_, err = NewRarityConfig("COMMON", 0, 1.0, "§f")
	assert.Error(t, err)

	_, err = NewRarityConfig("COMMON", 10, 0, "§f")
	assert.Error(t, err)
}

func TestItemTypeConfigRequiresContiguousTiers(t *testing.T) {
	damage := map[int]StatRange{1: MustStatRange(1, 2), 3: MustStatRange(5, 9)}
	hp := map[int]StatRange{1: MustStatRange(0, 0), 3: MustStatRange(0, 0)}

	_, err := NewItemTypeConfig("axe", "Axe", damage, hp)
	assert.Error(t, err, "tier 2 is missing")
}

func TestRegistryRejectsDuplicatesAndDanglingRefs(t *testing.T) {
	r := NewRegistry()

	rc, err := NewRarityConfig("COMMON", 10, 1.0, "§f")
	require.NoError(t, err)
	require.NoError(t, r.RegisterRarity(rc))
	assert.Error(t, r.RegisterRarity(rc))

	ed, err := NewEliteDropConfig("ghost", 1, []string{"sword"})
	require.NoError(t, err)
	assert.Error(t, r.RegisterEliteDrop(ed), "sword is not registered")
}

func TestRegistryRejectsEliteTierBeyondItemType(t *testing.T) {
	r := NewRegistry()
	it, err := NewItemTypeConfig("sword", "Sword",
		map[int]StatRange{1: MustStatRange(1, 4)},
		map[int]StatRange{1: MustStatRange(0, 0)})
	require.NoError(t, err)
	require.NoError(t, r.RegisterItemType(it))

	ed, err := NewEliteDropConfig("dragon", 5, []string{"sword"})
	require.NoError(t, err)
	assert.Error(t, r.RegisterEliteDrop(ed))
}

func TestGeneratorDeterministicWithSeed(t *testing.T) {
	a := NewGenerator(NewDefaultRegistry(), 1234)
	b := NewGenerator(NewDefaultRegistry(), 1234)

	for i := 0; i < 50; i++ {
		da, err := a.Roll("sword", 3)
		require.NoError(t, err)
		db, err := b.Roll("sword", 3)
		require.NoError(t, err)
		assert.Equal(t, da, db)
	}
}

func TestGeneratorRollBounds(t *testing.T) {
	g := NewGenerator(NewDefaultRegistry(), 99)
	reg := NewDefaultRegistry()
	it, _ := reg.ItemType("sword")

	for i := 0; i < 500; i++ {
		drop, err := g.RollWithRarity("sword", 3, "UNIQUE")
		require.NoError(t, err)

		dr, _ := it.DamageRange(3)
		rarity, _ := reg.Rarity("UNIQUE")
		maxScaled := scaleStat(dr.Max(), rarity.Multiplier())
		minScaled := scaleStat(dr.Min(), rarity.Multiplier())

		assert.GreaterOrEqual(t, drop.Damage, minScaled)
		assert.LessOrEqual(t, drop.Damage, maxScaled)
		assert.Equal(t, "UNIQUE", drop.Rarity)
		assert.Equal(t, 3, drop.Tier)
	}
}

func TestGeneratorRejectsUnknownInputs(t *testing.T) {
	g := NewGenerator(NewDefaultRegistry(), 7)

	_, err := g.Roll("wand", 1)
	assert.Error(t, err)

	_, err = g.RollWithRarity("sword", 1, "MYTHIC")
	assert.Error(t, err)

	_, err = g.RollWithRarity("sword", 99, "COMMON")
	assert.Error(t, err)
}

func TestWeightedRarityDistribution(t *testing.T) {
	g := NewGenerator(NewDefaultRegistry(), 2024)

	counts := make(map[string]int)
	const rolls = 20000
	for i := 0; i < rolls; i++ {
		rc, err := g.RollRarity()
		require.NoError(t, err)
		counts[rc.Name()]++
	}

	// COMMON carries 62% of the weight; with 20k rolls it dominates by a wide
	// margin and UNIQUE (2%) stays rare.
	assert.Greater(t, counts["COMMON"], counts["UNCOMMON"])
	assert.Greater(t, counts["UNCOMMON"], counts["RARE"])
	assert.Greater(t, counts["RARE"], counts["UNIQUE"])
	assert.Greater(t, counts["UNIQUE"], 0)
	assert.Less(t, counts["UNIQUE"], rolls/10)
}

func TestRollElite(t *testing.T) {
	g := NewGenerator(NewDefaultRegistry(), 5)

	drops, err := g.RollElite("frost_king")
	require.NoError(t, err)
	require.Len(t, drops, 2)
	for _, d := range drops {
		assert.Equal(t, 4, d.Tier)
	}

	_, err = g.RollElite("chicken")
	assert.Error(t, err)
}
