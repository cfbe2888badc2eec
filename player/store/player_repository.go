// player/store/player_repository.go
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yakrealms/yak-services/shared/backup"
	"github.com/yakrealms/yak-services/shared/config"
	"github.com/yakrealms/yak-services/shared/models"
	"github.com/yakrealms/yak-services/shared/mongodb"
)

// ErrPlayerNotFound is returned when a player document does not exist or was
// quarantined as unrepairable.
var ErrPlayerNotFound = errors.New("player not found")

// saveAsyncTimeout bounds background saves so a wedged connection cannot leak
// goroutines indefinitely.
const saveAsyncTimeout = 30 * time.Second

// findAllBatchSize limits cursor batches during full scans.
const findAllBatchSize = 100

// PlayerRepository persists player profiles through the connection manager's
// retry discipline. Every document leaving this layer has passed validation
// and repair; every document entering it is clamped to model bounds and
// backed up before the write is attempted.
type PlayerRepository struct {
	manager *mongodb.Manager
	backups *backup.Store
	cfg     config.MongoConfig

	loads       atomic.Int64
	saves       atomic.Int64
	repairs     atomic.Int64
	quarantines atomic.Int64

	// Seam for tests; production routes through the manager's retry discipline.
	perform func(ctx context.Context, name string, op mongodb.Operation) (interface{}, error)
}

// NewPlayerRepository wires the repository to an already started manager and
// a local backup store.
func NewPlayerRepository(manager *mongodb.Manager, backups *backup.Store, cfg config.MongoConfig) *PlayerRepository {
	r := &PlayerRepository{
		manager: manager,
		backups: backups,
		cfg:     cfg,
	}
	if manager != nil {
		r.perform = manager.PerformSafeOperation
	}
	return r
}

// RepoStats is a point-in-time snapshot of repository counters.
type RepoStats struct {
	Loads       int64 `json:"loads"`
	Saves       int64 `json:"saves"`
	Repairs     int64 `json:"repairs"`
	Quarantines int64 `json:"quarantines"`
}

// Stats returns the current repository counters.
func (r *PlayerRepository) Stats() RepoStats {
	return RepoStats{
		Loads:       r.loads.Load(),
		Saves:       r.saves.Load(),
		Repairs:     r.repairs.Load(),
		Quarantines: r.quarantines.Load(),
	}
}

// FindByUUID loads a player document, repairing recoverable corruption in
// place. Unrepairable documents are quarantined to the backup store and
// reported as ErrPlayerNotFound so callers treat them as absent.
func (r *PlayerRepository) FindByUUID(ctx context.Context, playerUUID string) (*models.Player, error) {
	if playerUUID == "" {
		return nil, fmt.Errorf("player UUID must not be empty")
	}

	raw, err := mongodb.Execute(ctx, r.manager, "FindPlayerByUUID",
		func(ctx context.Context, db *mongo.Database) (bson.Raw, error) {
			res := db.Collection(r.cfg.PlayersCollection).FindOne(ctx, bson.M{"_id": playerUUID})
			return res.Raw()
		})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerUUID)
		}
		return nil, fmt.Errorf("failed to load player %s: %w", playerUUID, err)
	}

	player, outcome, err := r.decodeDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode player %s: %w", playerUUID, err)
	}
	if outcome.Status == DocRejected {
		r.quarantineRaw(playerUUID, raw, outcome.Issues)
		return nil, fmt.Errorf("%w: %s (document quarantined)", ErrPlayerNotFound, playerUUID)
	}
	if outcome.Status == DocRepaired {
		r.repairs.Add(1)
		log.Printf("WARN: Repaired player document %s on load: %v", playerUUID, outcome.Issues)
	}

	r.loads.Add(1)
	return player, nil
}

// Save persists a player with the full write discipline: clamp to model
// bounds, stamp last_saved_at, write a local backup and a copy into the
// backups collection, then upsert. A failed save always leaves at least the
// local backup behind; if the first local write failed, it is retried before
// the error is returned.
func (r *PlayerRepository) Save(ctx context.Context, p *models.Player) error {
	if err := ValidatePlayer(p); err != nil {
		return fmt.Errorf("refusing to save invalid player: %w", err)
	}
	if issues := ClampPlayer(p); len(issues) > 0 {
		log.Printf("WARN: Clamped player %s before save: %v", p.UUID, issues)
	}
	now := time.Now()
	p.LastSavedAt = &now

	localOK := true
	if _, err := r.backups.Write(p.UUID, p); err != nil {
		localOK = false
		log.Printf("WARN: Failed to write local backup for player %s: %v", p.UUID, err)
	}

	// The backups-collection copy runs as its own operation, outside the
	// upsert's retry loop, so a save that succeeds on a later attempt cannot
	// leave duplicate backup documents.
	if _, err := r.perform(ctx, "SavePlayerBackup",
		func(ctx context.Context, db *mongo.Database) (interface{}, error) {
			return db.Collection(r.cfg.BackupsCollection).InsertOne(ctx, bson.M{
				"player_uuid": p.UUID,
				"saved_at":    now,
				"player":      p,
			})
		}); err != nil {
		log.Printf("WARN: Failed to write backup copy for player %s: %v", p.UUID, err)
	}

	_, err := r.perform(ctx, "SavePlayer",
		func(ctx context.Context, db *mongo.Database) (interface{}, error) {
			opts := options.Replace().SetUpsert(true)
			return db.Collection(r.cfg.PlayersCollection).ReplaceOne(ctx, bson.M{"_id": p.UUID}, p, opts)
		})
	if err != nil {
		if !localOK {
			if _, berr := r.backups.Write(p.UUID, p); berr != nil {
				log.Printf("ERROR: No backup exists for player %s after failed save: %v", p.UUID, berr)
			}
		}
		return fmt.Errorf("failed to save player %s: %w", p.UUID, err)
	}

	r.saves.Add(1)
	return nil
}

// SaveAsync performs Save in the background and delivers the result on the
// returned channel. The channel is buffered; the caller may discard it.
func (r *PlayerRepository) SaveAsync(p *models.Player) <-chan error {
	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveAsyncTimeout)
		defer cancel()
		err := r.Save(ctx, p)
		if err != nil {
			log.Printf("ERROR: Background save for player %s failed: %v", p.UUID, err)
		}
		done <- err
	}()
	return done
}

// FindAllResult reports the outcome of a full scan.
type FindAllResult struct {
	Players  []*models.Player
	Loaded   int
	Repaired int
	Skipped  int
}

// FindAll streams every player document, repairing what it can and skipping
// (with quarantine) what it cannot. A handful of bad documents never aborts
// the scan.
func (r *PlayerRepository) FindAll(ctx context.Context) (*FindAllResult, error) {
	result, err := mongodb.Execute(ctx, r.manager, "FindAllPlayers",
		func(ctx context.Context, db *mongo.Database) (*FindAllResult, error) {
			opts := options.Find().SetBatchSize(findAllBatchSize)
			cursor, err := db.Collection(r.cfg.PlayersCollection).Find(ctx, bson.M{}, opts)
			if err != nil {
				return nil, err
			}
			defer cursor.Close(ctx)

			out := &FindAllResult{}
			for cursor.Next(ctx) {
				r.scanDocument(out, cursor.Current)
			}
			if err := cursor.Err(); err != nil {
				return nil, err
			}
			return out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to scan players: %w", err)
	}
	r.loads.Add(int64(result.Loaded))
	return result, nil
}

// scanDocument folds one raw document into a running scan result: repaired
// documents load with a count, unrepairable ones are quarantined and skipped.
// Every document lands in exactly one of Loaded or Skipped.
func (r *PlayerRepository) scanDocument(out *FindAllResult, raw bson.Raw) {
	player, outcome, err := r.decodeDocument(raw)
	if err != nil {
		log.Printf("WARN: Skipping undecodable player document during scan: %v", err)
		out.Skipped++
		return
	}
	if outcome.Status == DocRejected {
		r.quarantineRaw(rawID(raw), raw, outcome.Issues)
		out.Skipped++
		return
	}
	if outcome.Status == DocRepaired {
		r.repairs.Add(1)
		log.Printf("WARN: Repaired player document %s during scan: %v", player.UUID, outcome.Issues)
		out.Repaired++
	}
	out.Players = append(out.Players, player)
	out.Loaded++
}

// FindByUsernamePlaceholder returns up to limit players whose username is
// still the repair placeholder, for the background name resolver.
func (r *PlayerRepository) FindByUsernamePlaceholder(ctx context.Context, limit int64) ([]*models.Player, error) {
	return mongodb.Execute(ctx, r.manager, "FindPlaceholderUsernames",
		func(ctx context.Context, db *mongo.Database) ([]*models.Player, error) {
			opts := options.Find().SetLimit(limit)
			cursor, err := db.Collection(r.cfg.PlayersCollection).Find(ctx, bson.M{"username": "Unknown"}, opts)
			if err != nil {
				return nil, err
			}
			defer cursor.Close(ctx)

			var players []*models.Player
			for cursor.Next(ctx) {
				player, outcome, decErr := r.decodeDocument(cursor.Current)
				if decErr != nil || outcome.Status == DocRejected {
					continue
				}
				players = append(players, player)
			}
			return players, cursor.Err()
		})
}

// UpdateUsername sets only the username field, leaving the rest of the
// document untouched.
func (r *PlayerRepository) UpdateUsername(ctx context.Context, playerUUID, username string) error {
	if username == "" || len(username) > 16 {
		return fmt.Errorf("username %q out of bounds", username)
	}
	res, err := mongodb.Execute(ctx, r.manager, "UpdateUsername",
		func(ctx context.Context, db *mongo.Database) (*mongo.UpdateResult, error) {
			return db.Collection(r.cfg.PlayersCollection).UpdateOne(ctx,
				bson.M{"_id": playerUUID},
				bson.M{"$set": bson.M{"username": username}})
		})
	if err != nil {
		return fmt.Errorf("failed to update username for player %s: %w", playerUUID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, playerUUID)
	}
	return nil
}

// DeleteByUUID removes a player document after writing a final local backup
// of whatever is currently stored.
func (r *PlayerRepository) DeleteByUUID(ctx context.Context, playerUUID string) error {
	if p, err := r.FindByUUID(ctx, playerUUID); err == nil {
		if _, berr := r.backups.Write(playerUUID, p); berr != nil {
			log.Printf("WARN: Failed to back up player %s before delete: %v", playerUUID, berr)
		}
	}

	res, err := mongodb.Execute(ctx, r.manager, "DeletePlayer",
		func(ctx context.Context, db *mongo.Database) (*mongo.DeleteResult, error) {
			return db.Collection(r.cfg.PlayersCollection).DeleteOne(ctx, bson.M{"_id": playerUUID})
		})
	if err != nil {
		return fmt.Errorf("failed to delete player %s: %w", playerUUID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrPlayerNotFound, playerUUID)
	}
	log.Printf("INFO: Deleted player document %s.", playerUUID)
	return nil
}

// ExistsByUUID reports whether a document exists without loading it.
func (r *PlayerRepository) ExistsByUUID(ctx context.Context, playerUUID string) (bool, error) {
	count, err := mongodb.Execute(ctx, r.manager, "PlayerExists",
		func(ctx context.Context, db *mongo.Database) (int64, error) {
			opts := options.Count().SetLimit(1)
			return db.Collection(r.cfg.PlayersCollection).CountDocuments(ctx, bson.M{"_id": playerUUID}, opts)
		})
	if err != nil {
		return false, fmt.Errorf("failed to check player %s: %w", playerUUID, err)
	}
	return count > 0, nil
}

// decodeDocument runs the repair pipeline on a raw document and converts the
// result into the typed model, applying model-level clamping last.
func (r *PlayerRepository) decodeDocument(raw bson.Raw) (*models.Player, RepairOutcome, error) {
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, RepairOutcome{Status: DocRejected}, fmt.Errorf("bson unmarshal: %w", err)
	}

	outcome := RepairDocument(doc)
	if outcome.Status == DocRejected {
		return nil, outcome, nil
	}

	player, err := documentToPlayer(doc)
	if err != nil {
		return nil, outcome, err
	}
	if issues := ClampPlayer(player); len(issues) > 0 {
		for _, issue := range issues {
			outcome.note("%s", issue)
		}
	}
	return player, outcome, nil
}

// quarantineRaw preserves an unrepairable document on disk before it is
// dropped from the load path.
func (r *PlayerRepository) quarantineRaw(id string, raw bson.Raw, issues []string) {
	r.quarantines.Add(1)
	log.Printf("ERROR: Player document %s is unrepairable: %v", id, issues)

	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		data = []byte(raw.String())
	}
	if _, err := r.backups.Quarantine(id, data); err != nil {
		log.Printf("ERROR: Failed to quarantine document %s: %v", id, err)
	}
}

// documentToPlayer converts a repaired loose document into the typed model by
// round-tripping through the BSON codec.
func documentToPlayer(doc bson.M) (*models.Player, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-marshal: %w", err)
	}
	var p models.Player
	if err := bson.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal into model: %w", err)
	}
	return &p, nil
}

// rawID extracts the _id from a raw document for quarantine naming, tolerating
// any malformed shape.
func rawID(raw bson.Raw) string {
	v, err := raw.LookupErr("_id")
	if err != nil {
		return "unknown"
	}
	if s, ok := v.StringValueOK(); ok {
		return s
	}
	return "unknown"
}
