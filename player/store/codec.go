// player/store/codec.go
package store

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ItemStack is the wire representation of a single inventory or bank slot.
// The document layer treats the encoded form as an opaque string; only this
// codec knows the shape.
type ItemStack struct {
	Slot        int            `msgpack:"slot"`
	Material    string         `msgpack:"material"`
	Amount      int            `msgpack:"amount"`
	Durability  int            `msgpack:"durability,omitempty"`
	DisplayName string         `msgpack:"display_name,omitempty"`
	Lore        []string       `msgpack:"lore,omitempty"`
	Enchants    map[string]int `msgpack:"enchants,omitempty"`
}

// EncodeItems serializes a slice of item stacks into the opaque string form
// stored on the player document.
func EncodeItems(items []ItemStack) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	data, err := msgpack.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode %d item stacks: %w", len(items), err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeItems reverses EncodeItems. An empty string decodes to no items.
func DecodeItems(encoded string) ([]ItemStack, error) {
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to base64-decode item blob: %w", err)
	}
	var items []ItemStack
	if err := msgpack.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode item blob: %w", err)
	}
	return items, nil
}
