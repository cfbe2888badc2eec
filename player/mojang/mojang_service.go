// player/mojang/mojang_service.go
package mojang

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/yakrealms/yak-services/player/store"
)

// sessionServerURL is Mojang's profile lookup endpoint. The UUID must be
// supplied without dashes.
const sessionServerURL = "https://sessionserver.mojang.com/session/minecraft/profile/%s"

// fillerBatchSize caps how many placeholder usernames one pass resolves, to
// stay well under Mojang's rate limits.
const fillerBatchSize = 25

// Service resolves usernames from Mojang and backfills profiles whose
// username is still the repair placeholder.
type Service struct {
	repo       *store.PlayerRepository
	httpClient *http.Client
	interval   time.Duration
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// NewService creates a Mojang username filler running every interval.
func NewService(repo *store.PlayerRepository, interval time.Duration) *Service {
	return &Service{
		repo: repo,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the background filler loop.
func (s *Service) Start() {
	log.Printf("Starting Mojang username filler, interval %v.", s.interval)
	go s.run()
}

// Stop signals the loop to exit and waits for it.
func (s *Service) Stop() {
	close(s.stopChan)
	<-s.doneChan
}

func (s *Service) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.fillPlaceholders()
		}
	}
}

// fillPlaceholders resolves and persists real usernames for one batch of
// placeholder profiles. Failures are logged and retried on the next tick.
func (s *Service) fillPlaceholders() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval/2)
	defer cancel()

	players, err := s.repo.FindByUsernamePlaceholder(ctx, fillerBatchSize)
	if err != nil {
		log.Printf("WARN: Username filler could not query placeholder profiles: %v", err)
		return
	}
	if len(players) == 0 {
		return
	}

	resolved := 0
	for _, p := range players {
		select {
		case <-s.stopChan:
			return
		default:
		}

		name, err := s.GetUsername(ctx, p.UUID)
		if err != nil {
			log.Printf("WARN: Could not resolve username for %s: %v", p.UUID, err)
			continue
		}
		if err := s.repo.UpdateUsername(ctx, p.UUID, name); err != nil {
			log.Printf("WARN: Could not persist username %q for %s: %v", name, p.UUID, err)
			continue
		}
		resolved++
	}
	if resolved > 0 {
		log.Printf("INFO: Username filler resolved %d/%d placeholder profiles.", resolved, len(players))
	}
}

// mojangProfile is the subset of the session server response we care about.
type mojangProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetUsername fetches the current username for a player UUID from Mojang.
func (s *Service) GetUsername(ctx context.Context, playerUUID string) (string, error) {
	compact := strings.ReplaceAll(playerUUID, "-", "")
	url := fmt.Sprintf(sessionServerURL, compact)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build Mojang request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Mojang request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound:
		return "", fmt.Errorf("no Mojang profile for UUID %s", playerUUID)
	case http.StatusTooManyRequests:
		return "", fmt.Errorf("Mojang rate limit hit for UUID %s", playerUUID)
	default:
		return "", fmt.Errorf("Mojang returned unexpected status %d for UUID %s", resp.StatusCode, playerUUID)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read Mojang response: %w", err)
	}

	var profile mojangProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return "", fmt.Errorf("failed to parse Mojang response: %w", err)
	}
	if profile.Name == "" {
		return "", fmt.Errorf("Mojang response for UUID %s carried no name", playerUUID)
	}
	return profile.Name, nil
}
