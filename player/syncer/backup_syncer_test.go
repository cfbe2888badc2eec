package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderDirtyFirst(t *testing.T) {
	uuids := []string{"a", "b", "c", "d"}
	dirty := map[string]bool{"b": true, "d": true}

	assert.Equal(t, []string{"b", "d", "a", "c"}, orderDirtyFirst(uuids, dirty))
}

func TestOrderDirtyFirstNoFlags(t *testing.T) {
	uuids := []string{"a", "b"}

	assert.Equal(t, uuids, orderDirtyFirst(uuids, nil))
	assert.Equal(t, []string{"a", "b"}, orderDirtyFirst(uuids, map[string]bool{"a": true, "b": true}))
}

func TestUUIDFromOnlineKey(t *testing.T) {
	assert.Equal(t, "123e4567", uuidFromOnlineKey("online:{123e4567}:"))
	assert.Empty(t, uuidFromOnlineKey("online:plain"))
	assert.Empty(t, uuidFromOnlineKey("online:{}:"))
}
