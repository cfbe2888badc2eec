package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemCodecRoundTrip(t *testing.T) {
	items := []ItemStack{
		{
			Slot:        0,
			Material:    "DIAMOND_SWORD",
			Amount:      1,
			Durability:  1561,
			DisplayName: "Frostbane",
			Lore:        []string{"Forged in the north"},
			Enchants:    map[string]int{"sharpness": 5, "unbreaking": 3},
		},
		{Slot: 8, Material: "GOLDEN_APPLE", Amount: 64},
	}

	encoded, err := EncodeItems(items)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeItems(encoded)
	require.NoError(t, err)
	assert.Equal(t, items, decoded)
}

func TestItemCodecEmpty(t *testing.T) {
	encoded, err := EncodeItems(nil)
	require.NoError(t, err)
	assert.Empty(t, encoded)

	decoded, err := DecodeItems("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestDecodeItemsRejectsGarbage(t *testing.T) {
	_, err := DecodeItems("not base64!!!")
	assert.Error(t, err)

	// Valid base64 but not msgpack item data.
	_, err = DecodeItems("aGVsbG8gd29ybGQ=")
	assert.Error(t, err)
}
