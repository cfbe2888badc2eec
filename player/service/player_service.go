// player/service/player_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/yakrealms/yak-services/player/store"
	"github.com/yakrealms/yak-services/shared/models"
	"github.com/yakrealms/yak-services/shared/mongodb"
)

// PlayerService implements the business logic around player profiles. It sits
// between the HTTP layer and the repository so handlers never touch storage
// directly.
type PlayerService struct {
	repo    *store.PlayerRepository
	manager *mongodb.Manager
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(repo *store.PlayerRepository, manager *mongodb.Manager) *PlayerService {
	return &PlayerService{
		repo:    repo,
		manager: manager,
	}
}

// GetOrCreatePlayer loads a player's profile, creating a fresh one with
// defaults if none exists. The login timestamp is updated either way.
func (s *PlayerService) GetOrCreatePlayer(ctx context.Context, playerUUID string) (*models.Player, error) {
	player, err := s.repo.FindByUUID(ctx, playerUUID)
	if err != nil {
		if !errors.Is(err, store.ErrPlayerNotFound) {
			return nil, err
		}
		player = models.NewPlayer(playerUUID)
		log.Printf("INFO: Creating new player profile for %s.", playerUUID)
	}

	now := time.Now()
	player.LastLoginAt = &now
	if err := s.repo.Save(ctx, player); err != nil {
		// The caller still gets a usable profile; persistence will be retried
		// on the next save.
		log.Printf("WARN: Failed to persist profile for %s on login: %v", playerUUID, err)
	}
	return player, nil
}

// GetPlayer loads an existing player's profile.
func (s *PlayerService) GetPlayer(ctx context.Context, playerUUID string) (*models.Player, error) {
	return s.repo.FindByUUID(ctx, playerUUID)
}

// SavePlayer persists the given profile.
func (s *PlayerService) SavePlayer(ctx context.Context, player *models.Player) error {
	return s.repo.Save(ctx, player)
}

// SavePlayerAsync persists the profile in the background, for callers on hot
// paths that must not block on the database.
func (s *PlayerService) SavePlayerAsync(player *models.Player) <-chan error {
	return s.repo.SaveAsync(player)
}

// DeletePlayer removes a player's profile permanently. A final backup is
// written by the repository before the document is removed.
func (s *PlayerService) DeletePlayer(ctx context.Context, playerUUID string) error {
	return s.repo.DeleteByUUID(ctx, playerUUID)
}

// PlayerExists reports whether a profile exists for the UUID.
func (s *PlayerService) PlayerExists(ctx context.Context, playerUUID string) (bool, error) {
	return s.repo.ExistsByUUID(ctx, playerUUID)
}

// BanPlayer flags a player as banned. A zero duration means permanent.
func (s *PlayerService) BanPlayer(ctx context.Context, playerUUID, reason string, duration time.Duration) (*models.Player, error) {
	player, err := s.repo.FindByUUID(ctx, playerUUID)
	if err != nil {
		return nil, err
	}

	player.Banned = true
	player.BanReason = reason
	player.BanExpiresAt = nil
	if duration > 0 {
		expires := time.Now().Add(duration)
		player.BanExpiresAt = &expires
	}

	if err := s.repo.Save(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to persist ban for player %s: %w", playerUUID, err)
	}
	log.Printf("INFO: Banned player %s (reason: %q, expires: %v).", playerUUID, reason, player.BanExpiresAt)
	return player, nil
}

// UnbanPlayer clears a player's ban flags.
func (s *PlayerService) UnbanPlayer(ctx context.Context, playerUUID string) (*models.Player, error) {
	player, err := s.repo.FindByUUID(ctx, playerUUID)
	if err != nil {
		return nil, err
	}

	player.Banned = false
	player.BanReason = ""
	player.BanExpiresAt = nil

	if err := s.repo.Save(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to persist unban for player %s: %w", playerUUID, err)
	}
	log.Printf("INFO: Unbanned player %s.", playerUUID)
	return player, nil
}

// SetMuted toggles a player's muted flag.
func (s *PlayerService) SetMuted(ctx context.Context, playerUUID string, muted bool) (*models.Player, error) {
	player, err := s.repo.FindByUUID(ctx, playerUUID)
	if err != nil {
		return nil, err
	}
	player.Muted = muted
	if err := s.repo.Save(ctx, player); err != nil {
		return nil, fmt.Errorf("failed to persist mute state for player %s: %w", playerUUID, err)
	}
	return player, nil
}

// StatsSnapshot bundles the connection manager and repository counters for
// the diagnostics endpoint.
type StatsSnapshot struct {
	Connection mongodb.Stats   `json:"connection"`
	Repository store.RepoStats `json:"repository"`
}

// Stats returns a point-in-time snapshot of persistence health.
func (s *PlayerService) Stats() StatsSnapshot {
	return StatsSnapshot{
		Connection: s.manager.Stats(),
		Repository: s.repo.Stats(),
	}
}

// ResetRecovery re-enables the connection manager's auto-recovery. Exposed
// for the operator endpoint.
func (s *PlayerService) ResetRecovery() {
	s.manager.ResetRecovery()
}
