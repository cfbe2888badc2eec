// game/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/yakrealms/yak-services/game/loot"
	"github.com/yakrealms/yak-services/game/store"
	sharedapi "github.com/yakrealms/yak-services/shared/api"
	redisutil "github.com/yakrealms/yak-services/shared/redis"
	"github.com/yakrealms/yak-services/shared/service"
)

// Handler holds the HTTP handlers for the game service.
type Handler struct {
	lootGen      *loot.Generator
	onlineStore  *store.OnlineStatusStore
	playerClient *service.PlayerClient
}

// NewHandler creates a new Handler.
func NewHandler(lootGen *loot.Generator, onlineStore *store.OnlineStatusStore, playerClient *service.PlayerClient) *Handler {
	return &Handler{
		lootGen:      lootGen,
		onlineStore:  onlineStore,
		playerClient: playerClient,
	}
}

// RegisterRoutes attaches all game service routes to the router.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/sessions/{uuid}", h.OpenSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{uuid}", h.GetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{uuid}", h.CloseSession).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{uuid}/heartbeat", h.Heartbeat).Methods(http.MethodPost)
	r.HandleFunc("/loot/roll", h.RollLoot).Methods(http.MethodPost)
	r.HandleFunc("/loot/elite/{mob}", h.RollEliteLoot).Methods(http.MethodPost)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}

func pathUUID(r *http.Request) (string, error) {
	raw := mux.Vars(r)["uuid"]
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid player UUID %q", raw)
	}
	return raw, nil
}

// openSessionRequest is the payload for POST /sessions/{uuid}.
type openSessionRequest struct {
	World string `json:"world"`
}

// OpenSession marks a player online. The player service is consulted first so
// banned players are rejected and a profile exists before gameplay starts.
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sharedapi.WriteBadRequest(w, fmt.Sprintf("Invalid session payload: %v", err))
		return
	}
	if req.World == "" {
		sharedapi.WriteBadRequest(w, "world must not be empty")
		return
	}

	player, err := h.playerClient.LoginPlayer(r.Context(), playerUUID)
	if err != nil {
		sharedapi.WriteError(w, http.StatusBadGateway, fmt.Sprintf("Player service unavailable: %v", err))
		return
	}
	if player.Banned && (player.BanExpiresAt == nil || player.BanExpiresAt.After(time.Now())) {
		sharedapi.WriteError(w, http.StatusForbidden,
			fmt.Sprintf("Player is banned: %s", player.BanReason))
		return
	}

	if err := h.onlineStore.MarkOnline(r.Context(), playerUUID, req.World); err != nil {
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to open session: %v", err))
		return
	}
	// The login stamp just changed, so flag the profile for the backup
	// syncer's next pass.
	if err := h.onlineStore.MarkDirty(r.Context(), playerUUID); err != nil {
		log.Printf("WARN: Failed to flag player %s for backup: %v", playerUUID, err)
	}
	sharedapi.WriteJSON(w, http.StatusOK, player)
}

// GetSession reports presence and world for a player.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	online, err := h.onlineStore.IsOnline(r.Context(), playerUUID)
	if err != nil {
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to check session: %v", err))
		return
	}

	resp := map[string]interface{}{"online": online}
	if online {
		world, err := h.onlineStore.GetWorld(r.Context(), playerUUID)
		if err != nil && !errors.Is(err, redisutil.ErrRedisKeyNotFound) {
			sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to read session world: %v", err))
			return
		}
		resp["world"] = world

		dirty, err := h.onlineStore.IsDirty(r.Context(), playerUUID)
		if err != nil {
			sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to read session state: %v", err))
			return
		}
		resp["dirty"] = dirty
	}
	sharedapi.WriteJSON(w, http.StatusOK, resp)
}

// CloseSession marks a player offline.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	// The player service performs the authoritative logout save, so the
	// backup flag no longer applies to this session.
	if err := h.onlineStore.ClearDirty(r.Context(), playerUUID); err != nil {
		log.Printf("WARN: Failed to clear backup flag for player %s: %v", playerUUID, err)
	}
	if err := h.onlineStore.MarkOffline(r.Context(), playerUUID); err != nil {
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to close session: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat extends a player's presence TTL.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	playerUUID, err := pathUUID(r)
	if err != nil {
		sharedapi.WriteBadRequest(w, err.Error())
		return
	}

	alive, err := h.onlineStore.Heartbeat(r.Context(), playerUUID)
	if err != nil {
		sharedapi.WriteInternalServerError(w, fmt.Sprintf("Failed to refresh session: %v", err))
		return
	}
	if !alive {
		sharedapi.WriteNotFound(w, "Session expired; open a new one")
		return
	}
	if err := h.onlineStore.MarkDirty(r.Context(), playerUUID); err != nil {
		log.Printf("WARN: Failed to flag player %s for backup: %v", playerUUID, err)
	}
	sharedapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// rollRequest is the payload for POST /loot/roll. Rarity is optional; when
// empty the weighted roll decides.
type rollRequest struct {
	ItemType string `json:"itemType"`
	Tier     int    `json:"tier"`
	Rarity   string `json:"rarity,omitempty"`
}

// RollLoot rolls a single drop.
func (h *Handler) RollLoot(w http.ResponseWriter, r *http.Request) {
	var req rollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sharedapi.WriteBadRequest(w, fmt.Sprintf("Invalid roll payload: %v", err))
		return
	}

	var (
		drop *loot.Drop
		err  error
	)
	if req.Rarity != "" {
		drop, err = h.lootGen.RollWithRarity(req.ItemType, req.Tier, req.Rarity)
	} else {
		drop, err = h.lootGen.Roll(req.ItemType, req.Tier)
	}
	if err != nil {
		sharedapi.WriteBadRequest(w, fmt.Sprintf("Roll failed: %v", err))
		return
	}
	sharedapi.WriteJSON(w, http.StatusOK, drop)
}

// RollEliteLoot rolls the full drop table for an elite mob kill.
func (h *Handler) RollEliteLoot(w http.ResponseWriter, r *http.Request) {
	mobID := mux.Vars(r)["mob"]

	drops, err := h.lootGen.RollElite(mobID)
	if err != nil {
		sharedapi.WriteBadRequest(w, fmt.Sprintf("Elite roll failed: %v", err))
		return
	}
	sharedapi.WriteJSON(w, http.StatusOK, drops)
}

// HealthCheck responds OK when the service is up.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	sharedapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
