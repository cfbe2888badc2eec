// player/syncer/backup_syncer.go
package syncer

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yakrealms/yak-services/player/store"
	"github.com/yakrealms/yak-services/shared/backup"
	"github.com/yakrealms/yak-services/shared/cluster"
	redisutil "github.com/yakrealms/yak-services/shared/redis"
)

// syncLeaderKey is the fixed entity hashed on the ring so exactly one player
// service instance runs each flush pass.
const syncLeaderKey = "player-backup-sync"

// BackupSyncer periodically writes local backups for every player currently
// online, so a crash during a database outage still leaves recent copies on
// disk. With multiple player service instances, consistent hashing elects a
// single leader per pass.
type BackupSyncer struct {
	redisClient *goredis.ClusterClient
	repo        *store.PlayerRepository
	backups     *backup.Store
	assignment  *cluster.ServiceAssignmentManager
	interval    time.Duration
	timeout     time.Duration
	stopChan    chan struct{}
	doneChan    chan struct{}
}

// NewBackupSyncer creates a syncer; Start must be called to begin flushing.
func NewBackupSyncer(
	redisClient *goredis.ClusterClient,
	repo *store.PlayerRepository,
	backups *backup.Store,
	assignment *cluster.ServiceAssignmentManager,
	interval time.Duration,
	timeout time.Duration,
) *BackupSyncer {
	return &BackupSyncer{
		redisClient: redisClient,
		repo:        repo,
		backups:     backups,
		assignment:  assignment,
		interval:    interval,
		timeout:     timeout,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}
}

// Start launches the periodic flush loop.
func (bs *BackupSyncer) Start() {
	log.Printf("Starting backup syncer, interval %v.", bs.interval)
	go bs.run()
}

// Stop signals the loop to exit and waits for the in-flight pass to finish.
func (bs *BackupSyncer) Stop() {
	close(bs.stopChan)
	<-bs.doneChan
}

func (bs *BackupSyncer) run() {
	defer close(bs.doneChan)

	ticker := time.NewTicker(bs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-bs.stopChan:
			return
		case <-ticker.C:
			bs.flushOnce()
		}
	}
}

// flushOnce performs one leader-gated flush pass.
func (bs *BackupSyncer) flushOnce() {
	leader, err := bs.assignment.IsResponsible(syncLeaderKey)
	if err != nil {
		log.Printf("WARN: Backup syncer could not determine flush leader: %v", err)
		return
	}
	if !leader {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), bs.timeout)
	defer cancel()

	uuids, err := bs.onlinePlayerUUIDs(ctx)
	if err != nil {
		log.Printf("WARN: Backup syncer could not list online players: %v", err)
		return
	}
	if len(uuids) == 0 {
		return
	}

	dirty := bs.dirtyPlayers(ctx, uuids)

	flushed := 0
	for _, playerUUID := range orderDirtyFirst(uuids, dirty) {
		select {
		case <-bs.stopChan:
			return
		default:
		}

		player, err := bs.repo.FindByUUID(ctx, playerUUID)
		if err != nil {
			log.Printf("WARN: Backup syncer could not load player %s: %v", playerUUID, err)
			continue
		}
		if _, err := bs.backups.Write(playerUUID, player); err != nil {
			log.Printf("WARN: Backup syncer could not back up player %s: %v", playerUUID, err)
			continue
		}
		flushed++

		if dirty[playerUUID] {
			key := fmt.Sprintf(redisutil.PendingSaveKeyPrefix, playerUUID)
			if _, err := bs.redisClient.Del(ctx, key).Result(); err != nil {
				log.Printf("WARN: Backup syncer could not clear backup flag for player %s: %v", playerUUID, err)
			}
		}
	}
	log.Printf("INFO: Backup syncer flushed %d/%d online players (%d flagged).", flushed, len(uuids), len(dirty))
}

// dirtyPlayers returns the subset of uuids carrying a pending-save flag.
// A Redis error just means that player loses its priority, not its backup.
func (bs *BackupSyncer) dirtyPlayers(ctx context.Context, uuids []string) map[string]bool {
	dirty := make(map[string]bool)
	for _, playerUUID := range uuids {
		key := fmt.Sprintf(redisutil.PendingSaveKeyPrefix, playerUUID)
		n, err := bs.redisClient.Exists(ctx, key).Result()
		if err != nil {
			log.Printf("WARN: Backup syncer could not check backup flag for player %s: %v", playerUUID, err)
			continue
		}
		if n > 0 {
			dirty[playerUUID] = true
		}
	}
	return dirty
}

// orderDirtyFirst returns uuids with flagged players ahead of the rest,
// preserving relative order within each group, so an interrupted pass has
// already covered the players most in need of a fresh backup.
func orderDirtyFirst(uuids []string, dirty map[string]bool) []string {
	ordered := make([]string, 0, len(uuids))
	for _, u := range uuids {
		if dirty[u] {
			ordered = append(ordered, u)
		}
	}
	for _, u := range uuids {
		if !dirty[u] {
			ordered = append(ordered, u)
		}
	}
	return ordered
}

// onlinePlayerUUIDs scans every cluster master for online presence keys and
// extracts the player UUIDs from their hash tags.
func (bs *BackupSyncer) onlinePlayerUUIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	err := bs.redisClient.ForEachMaster(ctx, func(ctx context.Context, shard *goredis.Client) error {
		iter := shard.Scan(ctx, 0, "online:*", 100).Iterator()
		for iter.Next(ctx) {
			if playerUUID := uuidFromOnlineKey(iter.Val()); playerUUID != "" {
				seen[playerUUID] = struct{}{}
			}
		}
		return iter.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("scan for %s keys failed: %w", redisutil.OnlineKeyPrefix, err)
	}

	uuids := make([]string, 0, len(seen))
	for playerUUID := range seen {
		uuids = append(uuids, playerUUID)
	}
	return uuids, nil
}

// uuidFromOnlineKey pulls the player UUID out of a key shaped like
// "online:{<uuid>}:".
func uuidFromOnlineKey(key string) string {
	start := strings.IndexByte(key, '{')
	end := strings.IndexByte(key, '}')
	if start < 0 || end <= start+1 {
		return ""
	}
	return key[start+1 : end]
}
