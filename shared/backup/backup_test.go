package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yakrealms/yak-services/shared/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestWriteAndRestoreRoundTrip(t *testing.T) {
	s := newTestStore(t)

	player := models.NewPlayer(uuid.New().String())
	player.Username = "Steve"
	player.Gems = 1234

	path, err := s.Write(player.UUID, player)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, ".lz4", filepath.Ext(path))

	data, err := s.Restore(path)
	require.NoError(t, err)

	var restored models.Player
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, player.UUID, restored.UUID)
	assert.Equal(t, "Steve", restored.Username)
	assert.Equal(t, int64(1234), restored.Gems)
}

func TestWriteRequiresUUID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write("", struct{}{})
	assert.Error(t, err)
}

func TestListAndLatestOrdering(t *testing.T) {
	s := newTestStore(t)
	playerUUID := uuid.New().String()

	var last string
	for i := 0; i < 3; i++ {
		path, err := s.Write(playerUUID, map[string]int{"rev": i})
		require.NoError(t, err)
		last = path
	}

	paths, err := s.List(playerUUID)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, last, paths[len(paths)-1])

	latest, err := s.Latest(playerUUID)
	require.NoError(t, err)
	assert.Equal(t, last, latest)
}

func TestListUnknownPlayerIsEmpty(t *testing.T) {
	s := newTestStore(t)

	paths, err := s.List(uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, paths)

	latest, err := s.Latest(uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestQuarantineKeepsRawBytes(t *testing.T) {
	s := newTestStore(t)

	raw := []byte(`{"_id": 42, "level": "NaN"}`)
	path, err := s.Quarantine("broken-doc", raw)
	require.NoError(t, err)
	assert.Contains(t, path, corruptedSubdir)

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, raw, stored)
}

func TestQuarantineWithoutID(t *testing.T) {
	s := newTestStore(t)
	path, err := s.Quarantine("", []byte("junk"))
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "unknown")
}
