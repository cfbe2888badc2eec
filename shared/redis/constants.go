// shared/redis/constants.go
package redis

import "fmt"

const (
	// OnlineKeyPrefix keys a player's online session: online:{uuid}:
	OnlineKeyPrefix = "online:{%s}:"

	// SessionWorldKeyPrefix keys the world a player's session lives in: world:{uuid}:
	SessionWorldKeyPrefix = "world:{%s}:"

	// PendingSaveKeyPrefix flags a player whose profile has unsaved changes: dirty:{uuid}:
	PendingSaveKeyPrefix = "dirty:{%s}:"
)

// ErrRedisKeyNotFound is returned when a lookup misses.
var ErrRedisKeyNotFound = fmt.Errorf("redis key not found")
