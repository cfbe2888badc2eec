// player/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/yakrealms/yak-services/player/service"
	"github.com/yakrealms/yak-services/player/store"
	sharedapi "github.com/yakrealms/yak-services/shared/api"
	"github.com/yakrealms/yak-services/shared/models"
)

// Handler holds the HTTP handlers for the player service.
type Handler struct {
	playerService *service.PlayerService
}

// NewHandler creates a new Handler.
func NewHandler(ps *service.PlayerService) *Handler {
	return &Handler{playerService: ps}
}

// RegisterRoutes attaches all player service routes to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/players/{uuid}", h.GetPlayer).Methods(http.MethodGet)
	r.HandleFunc("/players/{uuid}", h.SavePlayer).Methods(http.MethodPut)
	r.HandleFunc("/players/{uuid}", h.DeletePlayer).Methods(http.MethodDelete)
	r.HandleFunc("/players/{uuid}/login", h.LoginPlayer).Methods(http.MethodPost)
	r.HandleFunc("/players/{uuid}/exists", h.PlayerExists).Methods(http.MethodGet)
	r.HandleFunc("/players/{uuid}/ban", h.BanPlayer).Methods(http.MethodPost)
	r.HandleFunc("/players/{uuid}/ban", h.UnbanPlayer).Methods(http.MethodDelete)
	r.HandleFunc("/players/{uuid}/mute", h.SetMuted).Methods(http.MethodPost)
	r.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)
	r.HandleFunc("/admin/recovery/reset", h.ResetRecovery).Methods(http.MethodPost)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

// pathUUID extracts and validates the uuid path variable.
func pathUUID(r *http.Request) (string, error) {
	raw := mux.Vars(r)["uuid"]
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid player UUID %q", raw)
	}
	return raw, nil
}

// GetPlayer handles GET /players/{uuid}.
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	player, err := h.playerService.GetPlayer(r.Context(), playerUUID)
	if err != nil {
		if errors.Is(err, store.ErrPlayerNotFound) {
			sharedapi.WriteNotFound(w, fmt.Sprintf("Player %s not found", playerUUID))
			return
		}
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to load player: %v", err))
		return
	}
	sharedapi.WriteJSON(w, http.StatusOK, player)
}

// LoginPlayer handles POST /players/{uuid}/login, returning the profile and
// creating it if necessary.
func (h *Handler) LoginPlayer(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	player, err := h.playerService.GetOrCreatePlayer(r.Context(), playerUUID)
	if err != nil {
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to load or create player: %v", err))
		return
	}
	sharedapi.WriteJSON(w, http.StatusOK, player)
}

// SavePlayer handles PUT /players/{uuid}.
func (h *Handler) SavePlayer(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	var player models.Player
	if err := json.NewDecoder(r.Body).Decode(&player); err != nil {
		sharedapi.WriteBadRequest(w, fmt.Sprintf("Invalid player payload: %v", err))
		return
	}
	if player.UUID == "" {
		player.UUID = playerUUID
	}
	if player.UUID != playerUUID {
		sharedapi.WriteBadRequest(w, "Payload UUID does not match path UUID")
		return
	}

	if err := h.playerService.SavePlayer(r.Context(), &player); err != nil {
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to save player: %v", err))
		return
	}
	sharedapi.WriteJSON(w, http.StatusOK, player)
}

// DeletePlayer handles DELETE /players/{uuid}.
func (h *Handler) DeletePlayer(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.playerService.DeletePlayer(r.Context(), playerUUID); err != nil {
		if errors.Is(err, store.ErrPlayerNotFound) {
			sharedapi.WriteNotFound(w, fmt.Sprintf("Player %s not found", playerUUID))
			return
		}
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to delete player: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PlayerExists handles GET /players/{uuid}/exists.
func (h *Handler) PlayerExists(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	exists, err := h.playerService.PlayerExists(r.Context(), playerUUID)
	if err != nil {
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to check player: %v", err))
		return
	}
	sharedapi.WriteJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// banRequest is the payload for POST /players/{uuid}/ban.
type banRequest struct {
	Reason          string `json:"reason"`
	DurationSeconds int64  `json:"durationSeconds"` // 0 means permanent
}

// BanPlayer handles POST /players/{uuid}/ban.
func (h *Handler) BanPlayer(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sharedapi.WriteBadRequest(w, fmt.Sprintf("Invalid ban payload: %v", err))
		return
	}
	if req.DurationSeconds < 0 {
		sharedapi.WriteBadRequest(w, "durationSeconds must not be negative")
		return
	}

	player, err := h.playerService.BanPlayer(r.Context(), playerUUID, req.Reason,
		time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		if errors.Is(err, store.ErrPlayerNotFound) {
			sharedapi.WriteNotFound(w, fmt.Sprintf("Player %s not found", playerUUID))
			return
		}
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to ban player: %v", err))
		return
	}
	sharedapi.WriteJSON(w, http.StatusOK, player)
}

// UnbanPlayer handles DELETE /players/{uuid}/ban.
func (h *Handler) UnbanPlayer(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	player, err := h.playerService.UnbanPlayer(r.Context(), playerUUID)
	if err != nil {
		if errors.Is(err, store.ErrPlayerNotFound) {
			sharedapi.WriteNotFound(w, fmt.Sprintf("Player %s not found", playerUUID))
			return
		}
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to unban player: %v", err))
		return
	}
	sharedapi.WriteJSON(w, http.StatusOK, player)
}

// muteRequest is the payload for POST /players/{uuid}/mute.
type muteRequest struct {
	Muted bool `json:"muted"`
}

// SetMuted handles POST /players/{uuid}/mute.
func (h *Handler) SetMuted(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sharedapi.WriteBadRequest(w, fmt.Sprintf("Invalid mute payload: %v", err))
		return
	}

	player, err := h.playerService.SetMuted(r.Context(), playerUUID, req.Muted)
	if err != nil {
		if errors.Is(err, store.ErrPlayerNotFound) {
			sharedapi.WriteNotFound(w, fmt.Sprintf("Player %s not found", playerUUID))
			return
		}
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to update mute state: %v", err))
		return
	}
	sharedapi.WriteJSON(w, http.StatusOK, player)
}

// GetStats handles GET /stats, exposing connection and repository counters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	sharedapi.WriteJSON(w, http.StatusOK, h.playerService.Stats())
}

// ResetRecovery handles POST /admin/recovery/reset, re-enabling auto-recovery
// after it disabled itself.
func (h *Handler) ResetRecovery(w http.ResponseWriter, r *http.Request) {
	h.playerService.ResetRecovery()
	sharedapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "recovery reset"})
}

// HealthCheck responds OK when the service is up. Connection trouble is
// reported through /stats, not here, so orchestrators do not restart the
// service during a database outage.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	sharedapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
