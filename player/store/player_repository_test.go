package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/yakrealms/yak-services/shared/backup"
	"github.com/yakrealms/yak-services/shared/config"
	"github.com/yakrealms/yak-services/shared/models"
	"github.com/yakrealms/yak-services/shared/mongodb"
)

func testRepo(t *testing.T) *PlayerRepository {
	t.Helper()
	return NewPlayerRepository(nil, nil, config.MongoConfig{
		PlayersCollection: "players",
		BackupsCollection: "player_backups",
	})
}

// testRepoWithBackups builds a repository with a real on-disk backup store and
// no manager, so the write paths can be exercised through the perform seam.
func testRepoWithBackups(t *testing.T) *PlayerRepository {
	t.Helper()
	backups, err := backup.NewStore(t.TempDir())
	require.NoError(t, err)
	repo := NewPlayerRepository(nil, backups, config.MongoConfig{
		PlayersCollection: "players",
		BackupsCollection: "player_backups",
	})
	return repo
}

func marshalRaw(t *testing.T, doc interface{}) bson.Raw {
	t.Helper()
	data, err := bson.Marshal(doc)
	require.NoError(t, err)
	return bson.Raw(data)
}

func TestDecodeDocumentCleanRoundTrip(t *testing.T) {
	repo := testRepo(t)

	blob, err := EncodeItems([]ItemStack{{Slot: 4, Material: "EMERALD", Amount: 12}})
	require.NoError(t, err)

	original := models.NewPlayer(uuid.New().String())
	original.Username = "Alex"
	original.Level = 37
	original.Gems = 999
	original.BankPages = map[string]string{"1": blob}
	original.InventoryContents = blob

	player, outcome, err := repo.decodeDocument(marshalRaw(t, original))
	require.NoError(t, err)
	assert.Equal(t, DocValid, outcome.Status, "issues: %v", outcome.Issues)
	assert.Equal(t, original.UUID, player.UUID)
	assert.Equal(t, "Alex", player.Username)
	assert.Equal(t, 37, player.Level)
	assert.Equal(t, int64(999), player.Gems)
	assert.Equal(t, map[string]string{"1": blob}, player.BankPages)
	assert.Equal(t, blob, player.InventoryContents)
}

func TestDecodeDocumentRepairsCorruption(t *testing.T) {
	repo := testRepo(t)

	doc := bson.M{
		"_id":        uuid.New().String(),
		"username":   "",
		"level":      int32(-4),
		"health":     -100.0,
		"max_health": 80.0,
		"gems":       int64(models.MaxGems + 5),
	}

	player, outcome, err := repo.decodeDocument(marshalRaw(t, doc))
	require.NoError(t, err)
	assert.Equal(t, DocRepaired, outcome.Status)
	assert.Equal(t, "Unknown", player.Username)
	assert.Equal(t, models.MinLevel, player.Level)
	assert.Equal(t, models.MinHealth, player.Health)
	assert.Equal(t, int64(models.MaxGems), player.Gems)
}

func TestDecodeDocumentRejectsMissingID(t *testing.T) {
	repo := testRepo(t)

	player, outcome, err := repo.decodeDocument(marshalRaw(t, bson.M{"username": "Ghost"}))
	require.NoError(t, err)
	assert.Nil(t, player)
	assert.Equal(t, DocRejected, outcome.Status)
}

func TestScanDocumentCounts(t *testing.T) {
	repo := testRepoWithBackups(t)

	docs := []bson.Raw{
		marshalRaw(t, models.NewPlayer(uuid.New().String())),
		marshalRaw(t, models.NewPlayer(uuid.New().String())),
		marshalRaw(t, bson.M{"_id": uuid.New().String(), "username": "Crook", "level": int32(-4)}),
		marshalRaw(t, bson.M{"username": "Ghost"}),
	}

	out := &FindAllResult{}
	for _, raw := range docs {
		repo.scanDocument(out, raw)
	}

	assert.Equal(t, 3, out.Loaded)
	assert.Equal(t, 1, out.Repaired)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, len(docs), out.Loaded+out.Skipped, "every document counts exactly once")
	assert.Len(t, out.Players, out.Loaded)
	assert.Equal(t, int64(1), repo.Stats().Quarantines)
	assert.Equal(t, int64(1), repo.Stats().Repairs)
}

func TestSaveBackupInsertRunsOnceBeforeUpsert(t *testing.T) {
	repo := testRepoWithBackups(t)

	var calls []string
	repo.perform = func(ctx context.Context, name string, op mongodb.Operation) (interface{}, error) {
		calls = append(calls, name)
		return nil, nil
	}

	p := models.NewPlayer(uuid.New().String())
	require.NoError(t, repo.Save(context.Background(), p))

	assert.Equal(t, []string{"SavePlayerBackup", "SavePlayer"}, calls)
	assert.Equal(t, int64(1), repo.Stats().Saves)

	paths, err := repo.backups.List(p.UUID)
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestSaveFailureLeavesLocalBackup(t *testing.T) {
	repo := testRepoWithBackups(t)
	repo.perform = func(ctx context.Context, name string, op mongodb.Operation) (interface{}, error) {
		return nil, errors.New("connection refused")
	}

	p := models.NewPlayer(uuid.New().String())
	err := repo.Save(context.Background(), p)
	require.Error(t, err)
	assert.Equal(t, int64(0), repo.Stats().Saves)

	paths, lerr := repo.backups.List(p.UUID)
	require.NoError(t, lerr)
	assert.Len(t, paths, 1, "a failed save still leaves a local backup")
}

func TestSaveRetriesLocalBackupWhenBothWritesFail(t *testing.T) {
	repo := testRepoWithBackups(t)
	p := models.NewPlayer(uuid.New().String())

	// A regular file where the player's backup directory belongs makes the
	// first local write fail. The fake database clears it before failing, so
	// the retry on the error path is what produces the backup.
	blocker := filepath.Join(repo.backups.Dir(), p.UUID)
	require.NoError(t, os.WriteFile(blocker, []byte("in the way"), 0o644))

	repo.perform = func(ctx context.Context, name string, op mongodb.Operation) (interface{}, error) {
		if name == "SavePlayer" {
			require.NoError(t, os.Remove(blocker))
		}
		return nil, errors.New("connection refused")
	}

	err := repo.Save(context.Background(), p)
	require.Error(t, err)

	paths, lerr := repo.backups.List(p.UUID)
	require.NoError(t, lerr)
	assert.Len(t, paths, 1, "the error path rewrites the missing local backup")
}

func TestRawID(t *testing.T) {
	id := uuid.New().String()
	assert.Equal(t, id, rawID(marshalRaw(t, bson.M{"_id": id})))
	assert.Equal(t, "unknown", rawID(marshalRaw(t, bson.M{"_id": int64(5)})))
	assert.Equal(t, "unknown", rawID(marshalRaw(t, bson.M{"x": 1})))
}
