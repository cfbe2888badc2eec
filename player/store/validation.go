// player/store/validation.go
package store

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yakrealms/yak-services/shared/models"
)

// RepairStatus classifies the outcome of inspecting a loaded document.
type RepairStatus int

const (
	// DocValid means the document passed every check untouched.
	DocValid RepairStatus = iota
	// DocRepaired means one or more fields were corrected in place.
	DocRepaired
	// DocRejected means the document is beyond repair (bad or missing _id)
	// and must be quarantined, never returned to a caller.
	DocRejected
)

func (s RepairStatus) String() string {
	switch s {
	case DocValid:
		return "VALID"
	case DocRepaired:
		return "REPAIRED"
	case DocRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// RepairOutcome reports what RepairDocument did, with one issue string per
// corrected field so operators can grep logs for patterns of corruption.
type RepairOutcome struct {
	Status RepairStatus
	Issues []string
}

func (o *RepairOutcome) note(format string, args ...interface{}) {
	o.Issues = append(o.Issues, fmt.Sprintf(format, args...))
	if o.Status == DocValid {
		o.Status = DocRepaired
	}
}

var validAlignments = map[string]bool{
	"LAWFUL":  true,
	"NEUTRAL": true,
	"CHAOTIC": true,
}

// RepairDocument validates a raw player document and corrects every
// recoverable problem in place. It never deletes player data it cannot
// prove is garbage; unrecognized extra fields are left alone.
//
// The only rejection cause is an unusable _id, since without an identity the
// document cannot be re-saved or associated with a player.
func RepairDocument(doc bson.M) RepairOutcome {
	out := RepairOutcome{Status: DocValid}

	id, ok := doc["_id"].(string)
	if !ok || id == "" {
		out.Status = DocRejected
		out.Issues = append(out.Issues, fmt.Sprintf("_id missing or not a string: %T", doc["_id"]))
		return out
	}
	if _, err := uuid.Parse(id); err != nil {
		out.Status = DocRejected
		out.Issues = append(out.Issues, fmt.Sprintf("_id %q is not a UUID: %v", id, err))
		return out
	}

	repairUsername(doc, &out)
	repairAlignment(doc, &out)
	repairNumericFields(doc, &out)
	repairBankPages(doc, &out)
	repairItemBlobs(doc, &out)
	repairWorldBossKills(doc, &out)
	repairFlags(doc, &out)
	repairTimestamps(doc, &out)

	return out
}

func repairUsername(doc bson.M, out *RepairOutcome) {
	name, ok := doc["username"].(string)
	if !ok || name == "" {
		out.note("username missing or not a string, set placeholder")
		doc["username"] = "Unknown"
		return
	}
	if len(name) > 16 {
		out.note("username %q longer than 16 chars, truncated", name)
		doc["username"] = name[:16]
	}
}

func repairAlignment(doc bson.M, out *RepairOutcome) {
	a, ok := doc["alignment"].(string)
	if !ok || !validAlignments[a] {
		out.note("alignment %v invalid, reset to LAWFUL", doc["alignment"])
		doc["alignment"] = "LAWFUL"
	}
}

func repairNumericFields(doc bson.M, out *RepairOutcome) {
	level, ok := numberValue(doc["level"])
	if !ok || !isFinite(level) {
		out.note("level %v unusable, reset to %d", doc["level"], models.MinLevel)
		level = models.MinLevel
	}
	if clamped := clampFloat(level, models.MinLevel, models.MaxLevel); clamped != level {
		out.note("level %v out of range, clamped to %v", level, clamped)
		level = clamped
	}
	doc["level"] = int32(level)

	maxHealth, ok := numberValue(doc["max_health"])
	if !ok || !isFinite(maxHealth) || maxHealth < models.MinHealth {
		out.note("max_health %v unusable, reset to 50", doc["max_health"])
		maxHealth = 50
	}
	doc["max_health"] = maxHealth

	health, ok := numberValue(doc["health"])
	if !ok || !isFinite(health) {
		out.note("health %v unusable, reset to max_health", doc["health"])
		health = maxHealth
	}
	healthCap := maxHealth * models.HealthOverflowFactor
	if clamped := clampFloat(health, models.MinHealth, healthCap); clamped != health {
		out.note("health %v outside [%v, %v], clamped", health, models.MinHealth, healthCap)
		health = clamped
	}
	doc["health"] = health

	for _, field := range []string{"gems", "bank_gems", "elite_shards"} {
		v, ok := numberValue(doc[field])
		if !ok || !isFinite(v) {
			if _, present := doc[field]; present {
				out.note("%s %v unusable, reset to 0", field, doc[field])
			}
			v = 0
		}
		if clamped := clampFloat(v, 0, models.MaxGems); clamped != v {
			out.note("%s %v out of range, clamped to %v", field, v, clamped)
			v = clamped
		}
		doc[field] = int64(v)
	}
}

// repairBankPages strips entries whose key is not a page number in range or
// whose value is not an encoded string blob.
func repairBankPages(doc bson.M, out *RepairOutcome) {
	raw, present := doc["bank_pages"]
	if !present {
		return
	}
	pages, ok := raw.(bson.M)
	if !ok {
		out.note("bank_pages is %T not a document, dropped", raw)
		delete(doc, "bank_pages")
		return
	}
	for key, val := range pages {
		page, err := strconv.Atoi(key)
		if err != nil || page < 1 || page > models.MaxBankPage {
			out.note("bank_pages key %q invalid, entry dropped", key)
			delete(pages, key)
			continue
		}
		blob, ok := val.(string)
		if !ok {
			out.note("bank_pages[%s] is %T not a string, entry dropped", key, val)
			delete(pages, key)
			continue
		}
		if _, err := DecodeItems(blob); err != nil {
			out.note("bank_pages[%s] blob does not decode, entry dropped: %v", key, err)
			delete(pages, key)
		}
	}
}

// repairItemBlobs checks that the opaque inventory fields actually decode as
// item data. An undecodable blob is dropped rather than carried forward,
// since re-serializing it on the next save would entrench the corruption.
func repairItemBlobs(doc bson.M, out *RepairOutcome) {
	for _, field := range []string{"inventory_contents", "armor_contents", "ender_chest"} {
		raw, present := doc[field]
		if !present {
			continue
		}
		blob, ok := raw.(string)
		if !ok {
			out.note("%s is %T not a string, dropped", field, raw)
			delete(doc, field)
			continue
		}
		if _, err := DecodeItems(blob); err != nil {
			out.note("%s blob does not decode, dropped: %v", field, err)
			delete(doc, field)
		}
	}
}

func repairWorldBossKills(doc bson.M, out *RepairOutcome) {
	raw, present := doc["world_boss_kills"]
	if !present {
		return
	}
	kills, ok := raw.(bson.M)
	if !ok {
		out.note("world_boss_kills is %T not a document, dropped", raw)
		delete(doc, "world_boss_kills")
		return
	}
	for boss, val := range kills {
		n, ok := numberValue(val)
		if !ok || !isFinite(n) || n < 0 {
			out.note("world_boss_kills[%s] %v invalid, entry dropped", boss, val)
			delete(kills, boss)
			continue
		}
		kills[boss] = int64(n)
	}
}

func repairFlags(doc bson.M, out *RepairOutcome) {
	for _, field := range []string{"banned", "muted"} {
		raw, present := doc[field]
		if !present {
			continue
		}
		if _, ok := raw.(bool); !ok {
			out.note("%s is %T not a bool, reset to false", field, raw)
			doc[field] = false
		}
	}

	if raw, present := doc["notifications"]; present {
		if _, ok := raw.(bson.M); !ok {
			out.note("notifications is %T not a document, reset to defaults", raw)
			doc["notifications"] = defaultNotificationsDoc()
		}
	}
}

func repairTimestamps(doc bson.M, out *RepairOutcome) {
	for _, field := range []string{"created_at", "last_login_at"} {
		raw, present := doc[field]
		if !present || !isBSONDate(raw) {
			if present {
				out.note("%s is %T not a date, reset to now", field, raw)
			} else {
				out.note("%s missing, set to now", field)
			}
			doc[field] = primitive.NewDateTimeFromTime(time.Now())
		}
	}
	// Optional timestamps may be absent but must be dates when present.
	for _, field := range []string{"last_saved_at", "ban_expires_at"} {
		raw, present := doc[field]
		if present && !isBSONDate(raw) {
			out.note("%s is %T not a date, dropped", field, raw)
			delete(doc, field)
		}
	}
}

func defaultNotificationsDoc() bson.M {
	s := models.DefaultNotificationSettings()
	return bson.M{
		"buddy_join":    s.BuddyJoin,
		"trade_request": s.TradeRequest,
		"party_invite":  s.PartyInvite,
		"guild_chat":    s.GuildChat,
	}
}

// ClampPlayer applies the model bounds to an in-memory player, returning the
// list of corrections made. Calling it twice in a row yields no further
// corrections.
func ClampPlayer(p *models.Player) []string {
	var issues []string

	if p.Username == "" {
		p.Username = "Unknown"
		issues = append(issues, "username empty, set placeholder")
	}
	if !validAlignments[p.Alignment] {
		issues = append(issues, fmt.Sprintf("alignment %q invalid, reset to LAWFUL", p.Alignment))
		p.Alignment = "LAWFUL"
	}
	if p.Level < models.MinLevel || p.Level > models.MaxLevel {
		issues = append(issues, fmt.Sprintf("level %d out of range, clamped", p.Level))
		p.Level = int(clampFloat(float64(p.Level), models.MinLevel, models.MaxLevel))
	}
	if !isFinite(p.MaxHealth) || p.MaxHealth < models.MinHealth {
		issues = append(issues, fmt.Sprintf("max_health %v unusable, reset to 50", p.MaxHealth))
		p.MaxHealth = 50
	}
	healthCap := p.MaxHealth * models.HealthOverflowFactor
	if !isFinite(p.Health) {
		issues = append(issues, fmt.Sprintf("health %v unusable, reset to max_health", p.Health))
		p.Health = p.MaxHealth
	}
	if p.Health < models.MinHealth || p.Health > healthCap {
		issues = append(issues, fmt.Sprintf("health %v outside [%v, %v], clamped", p.Health, models.MinHealth, healthCap))
		p.Health = clampFloat(p.Health, models.MinHealth, healthCap)
	}
	for _, cur := range []*int64{&p.Gems, &p.BankGems, &p.EliteShards} {
		if *cur < 0 {
			issues = append(issues, fmt.Sprintf("currency %d negative, reset to 0", *cur))
			*cur = 0
		} else if *cur > models.MaxGems {
			issues = append(issues, fmt.Sprintf("currency %d over cap, clamped", *cur))
			*cur = models.MaxGems
		}
	}
	for key := range p.BankPages {
		page, err := strconv.Atoi(key)
		if err != nil || page < 1 || page > models.MaxBankPage {
			issues = append(issues, fmt.Sprintf("bank page key %q invalid, dropped", key))
			delete(p.BankPages, key)
		}
	}
	return issues
}

// ValidatePlayer checks the caller-supplied contract: a player handed to the
// repository must carry a parseable UUID. Everything else is clamped, not
// rejected.
func ValidatePlayer(p *models.Player) error {
	if p == nil {
		return fmt.Errorf("player is nil")
	}
	if p.UUID == "" {
		return fmt.Errorf("player UUID is empty")
	}
	if _, err := uuid.Parse(p.UUID); err != nil {
		return fmt.Errorf("player UUID %q is not a valid UUID: %w", p.UUID, err)
	}
	return nil
}

// numberValue coerces the numeric types the BSON decoder can hand back.
func numberValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isBSONDate(v interface{}) bool {
	switch v.(type) {
	case primitive.DateTime, time.Time:
		return true
	default:
		return false
	}
}
