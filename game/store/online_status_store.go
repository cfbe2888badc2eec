// game/store/online_status_store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	redisutil "github.com/yakrealms/yak-services/shared/redis"
)

// OnlineStatusStore tracks player presence in Redis with TTL keys. A player
// is online exactly as long as their key keeps getting refreshed; a missed
// heartbeat lets the key expire and the player falls offline without any
// explicit logout write.
type OnlineStatusStore struct {
	client *redis.ClusterClient
	ttl    time.Duration
}

// NewOnlineStatusStore creates a store using the given presence TTL.
func NewOnlineStatusStore(client *redis.ClusterClient, ttl time.Duration) *OnlineStatusStore {
	return &OnlineStatusStore{
		client: client,
		ttl:    ttl,
	}
}

func onlineKey(playerUUID string) string {
	return fmt.Sprintf(redisutil.OnlineKeyPrefix, playerUUID)
}

func worldKey(playerUUID string) string {
	return fmt.Sprintf(redisutil.SessionWorldKeyPrefix, playerUUID)
}

// MarkOnline records a player as present in a world. The presence key expires
// after the TTL unless refreshed by Heartbeat.
func (s *OnlineStatusStore) MarkOnline(ctx context.Context, playerUUID, world string) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, onlineKey(playerUUID), world, s.ttl)
	pipe.Set(ctx, worldKey(playerUUID), world, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark player %s online: %w", playerUUID, err)
	}
	return nil
}

// Heartbeat extends a player's presence. Returns false if the player was not
// online (key already expired), in which case the caller should MarkOnline
// again with the current world.
func (s *OnlineStatusStore) Heartbeat(ctx context.Context, playerUUID string) (bool, error) {
	ok, err := s.client.Expire(ctx, onlineKey(playerUUID), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to refresh presence for player %s: %w", playerUUID, err)
	}
	if ok {
		// Best effort; the world key is advisory.
		if _, err := s.client.Expire(ctx, worldKey(playerUUID), s.ttl).Result(); err != nil {
			log.Printf("WARN: Failed to refresh world key for player %s: %v", playerUUID, err)
		}
	}
	return ok, nil
}

// MarkOffline removes a player's presence immediately.
func (s *OnlineStatusStore) MarkOffline(ctx context.Context, playerUUID string) error {
	if _, err := s.client.Del(ctx, onlineKey(playerUUID), worldKey(playerUUID)).Result(); err != nil {
		return fmt.Errorf("failed to mark player %s offline: %w", playerUUID, err)
	}
	return nil
}

// IsOnline reports whether a player currently has a live presence key.
func (s *OnlineStatusStore) IsOnline(ctx context.Context, playerUUID string) (bool, error) {
	n, err := s.client.Exists(ctx, onlineKey(playerUUID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check presence for player %s: %w", playerUUID, err)
	}
	return n > 0, nil
}

// GetWorld returns the world a player was last seen in.
func (s *OnlineStatusStore) GetWorld(ctx context.Context, playerUUID string) (string, error) {
	world, err := s.client.Get(ctx, worldKey(playerUUID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%w: no world for player %s", redisutil.ErrRedisKeyNotFound, playerUUID)
		}
		return "", fmt.Errorf("failed to get world for player %s: %w", playerUUID, err)
	}
	return world, nil
}

// MarkDirty flags a player's profile as having unsaved changes. The flag has
// no TTL; it is cleared by ClearDirty after a successful save.
func (s *OnlineStatusStore) MarkDirty(ctx context.Context, playerUUID string) error {
	key := fmt.Sprintf(redisutil.PendingSaveKeyPrefix, playerUUID)
	if _, err := s.client.Set(ctx, key, time.Now().UnixMilli(), 0).Result(); err != nil {
		return fmt.Errorf("failed to mark player %s dirty: %w", playerUUID, err)
	}
	return nil
}

// ClearDirty removes the pending-save flag.
func (s *OnlineStatusStore) ClearDirty(ctx context.Context, playerUUID string) error {
	key := fmt.Sprintf(redisutil.PendingSaveKeyPrefix, playerUUID)
	if _, err := s.client.Del(ctx, key).Result(); err != nil {
		return fmt.Errorf("failed to clear dirty flag for player %s: %w", playerUUID, err)
	}
	return nil
}

// IsDirty reports whether a player has unsaved changes flagged.
func (s *OnlineStatusStore) IsDirty(ctx context.Context, playerUUID string) (bool, error) {
	key := fmt.Sprintf(redisutil.PendingSaveKeyPrefix, playerUUID)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check dirty flag for player %s: %w", playerUUID, err)
	}
	return n > 0, nil
}
