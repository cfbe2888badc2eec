// shared/service/playerclient.go
package service

import (
	"context"
	"fmt"

	"github.com/yakrealms/yak-services/shared/api"
	"github.com/yakrealms/yak-services/shared/models"
)

// PlayerClient is a typed client for the player service's HTTP API, used by
// the game service to load and persist profiles.
type PlayerClient struct {
	client *api.Client
}

// NewPlayerClient creates a client against the player service base URL.
func NewPlayerClient(baseURL string) *PlayerClient {
	return &PlayerClient{
		client: api.NewClient(baseURL, api.NewDefaultHTTPClient()),
	}
}

// GetPlayer fetches an existing player profile. Missing players surface as
// api.ErrNotFound.
func (pc *PlayerClient) GetPlayer(ctx context.Context, playerUUID string) (*models.Player, error) {
	var player models.Player
	if err := pc.client.Get(ctx, fmt.Sprintf("/players/%s", playerUUID), &player); err != nil {
		return nil, err
	}
	return &player, nil
}

// LoginPlayer loads a profile, creating it if absent.
func (pc *PlayerClient) LoginPlayer(ctx context.Context, playerUUID string) (*models.Player, error) {
	var player models.Player
	if err := pc.client.Post(ctx, fmt.Sprintf("/players/%s/login", playerUUID), nil, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

// SavePlayer persists a full profile through the player service.
func (pc *PlayerClient) SavePlayer(ctx context.Context, player *models.Player) (*models.Player, error) {
	var saved models.Player
	if err := pc.client.Put(ctx, fmt.Sprintf("/players/%s", player.UUID), player, &saved); err != nil {
		return nil, err
	}
	return &saved, nil
}

// PlayerExists checks for a profile without transferring it.
func (pc *PlayerClient) PlayerExists(ctx context.Context, playerUUID string) (bool, error) {
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := pc.client.Get(ctx, fmt.Sprintf("/players/%s/exists", playerUUID), &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}
