package models

import (
	"time"
)

// Numeric bounds enforced on both load and save. Values outside these ranges
// are clamped rather than rejected so a bad write never bricks a profile.
const (
	MinLevel    = 1
	MaxLevel    = 200
	MinHealth   = 1.0
	MaxGems     = 10_000_000
	MaxBankPage = 10

	// Health may exceed max health through buffs, but never past this factor.
	HealthOverflowFactor = 2.0
)

// NotificationSettings holds a player's toggleable alert preferences.
type NotificationSettings struct {
	BuddyJoin    bool `bson:"buddy_join" json:"buddyJoin"`
	TradeRequest bool `bson:"trade_request" json:"tradeRequest"`
	PartyInvite  bool `bson:"party_invite" json:"partyInvite"`
	GuildChat    bool `bson:"guild_chat" json:"guildChat"`
}

// DefaultNotificationSettings returns the settings applied to new or repaired profiles.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{
		BuddyJoin:    true,
		TradeRequest: true,
		PartyInvite:  true,
		GuildChat:    true,
	}
}

// Player represents a player's profile data stored persistently in MongoDB.
// Inventory and bank page contents are opaque encoded strings produced by the
// repository's codec; the document layer never interprets them.
type Player struct {
	UUID      string `bson:"_id" json:"uuid"`
	Username  string `bson:"username" json:"username"`
	Level     int    `bson:"level" json:"level"`
	Alignment string `bson:"alignment" json:"alignment"`

	Health    float64 `bson:"health" json:"health"`
	MaxHealth float64 `bson:"max_health" json:"maxHealth"`

	Gems        int64 `bson:"gems" json:"gems"`
	BankGems    int64 `bson:"bank_gems" json:"bankGems"`
	EliteShards int64 `bson:"elite_shards" json:"eliteShards"`

	// Bank pages keyed by page number ("1".."10"), values are encoded blobs.
	BankPages map[string]string `bson:"bank_pages,omitempty" json:"bankPages,omitempty"`

	// Serialized inventory contents as encoded strings.
	InventoryContents string `bson:"inventory_contents,omitempty" json:"inventoryContents,omitempty"`
	ArmorContents     string `bson:"armor_contents,omitempty" json:"armorContents,omitempty"`
	EnderChest        string `bson:"ender_chest,omitempty" json:"enderChest,omitempty"`

	Notifications  NotificationSettings `bson:"notifications" json:"notifications"`
	WorldBossKills map[string]int64     `bson:"world_boss_kills,omitempty" json:"worldBossKills,omitempty"`

	Banned       bool       `bson:"banned" json:"banned"`
	BanReason    string     `bson:"ban_reason,omitempty" json:"banReason,omitempty"`
	BanExpiresAt *time.Time `bson:"ban_expires_at,omitempty" json:"banExpiresAt,omitempty"`
	Muted        bool       `bson:"muted" json:"muted"`

	LastLoginAt *time.Time `bson:"last_login_at,omitempty" json:"lastLoginAt,omitempty"`
	LastSavedAt *time.Time `bson:"last_saved_at,omitempty" json:"lastSavedAt,omitempty"`
	CreatedAt   *time.Time `bson:"created_at,omitempty" json:"createdAt,omitempty"`
}

// NewPlayer returns a fresh profile with game-valid defaults for the given UUID.
func NewPlayer(uuid string) *Player {
	now := time.Now()
	return &Player{
		UUID:          uuid,
		Username:      "Unknown",
		Level:         MinLevel,
		Alignment:     "LAWFUL",
		Health:        50,
		MaxHealth:     50,
		Notifications: DefaultNotificationSettings(),
		CreatedAt:     &now,
		LastLoginAt:   &now,
	}
}
