package store

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yakrealms/yak-services/shared/models"
)

func validDoc() bson.M {
	return bson.M{
		"_id":        uuid.New().String(),
		"username":   "Steve",
		"alignment":  "NEUTRAL",
		"level":      int32(42),
		"health":     75.0,
		"max_health": 100.0,
		"gems":       int64(1500),
		"bank_gems":  int64(0),
		"created_at": primitive.NewDateTimeFromTime(time.Now()),
		"last_login_at": primitive.NewDateTimeFromTime(
			time.Now().Add(-time.Hour)),
	}
}

func TestRepairDocumentValid(t *testing.T) {
	doc := validDoc()
	out := RepairDocument(doc)

	assert.Equal(t, DocValid, out.Status)
	assert.Empty(t, out.Issues)
	assert.Equal(t, "Steve", doc["username"])
	assert.Equal(t, int32(42), doc["level"])
}

func TestRepairDocumentRejectsBadID(t *testing.T) {
	cases := map[string]interface{}{
		"missing":    nil,
		"non-string": int64(12345),
		"not a uuid": "steve",
		"empty":      "",
	}
	for name, id := range cases {
		t.Run(name, func(t *testing.T) {
			doc := validDoc()
			if id == nil {
				delete(doc, "_id")
			} else {
				doc["_id"] = id
			}
			out := RepairDocument(doc)
			assert.Equal(t, DocRejected, out.Status)
			assert.NotEmpty(t, out.Issues)
		})
	}
}

func TestRepairDocumentFixesUsername(t *testing.T) {
	doc := validDoc()
	doc["username"] = ""
	out := RepairDocument(doc)
	assert.Equal(t, DocRepaired, out.Status)
	assert.Equal(t, "Unknown", doc["username"])

	doc = validDoc()
	doc["username"] = "ThisNameIsWayTooLongForMinecraft"
	out = RepairDocument(doc)
	assert.Equal(t, DocRepaired, out.Status)
	assert.Len(t, doc["username"], 16)
}

func TestRepairDocumentClampsNumbers(t *testing.T) {
	doc := validDoc()
	doc["level"] = int32(9999)
	doc["health"] = math.NaN()
	doc["gems"] = int64(-50)
	doc["bank_gems"] = int64(999_999_999)

	out := RepairDocument(doc)
	require.Equal(t, DocRepaired, out.Status)

	assert.Equal(t, int32(models.MaxLevel), doc["level"])
	assert.Equal(t, 100.0, doc["health"]) // reset to max_health
	assert.Equal(t, int64(0), doc["gems"])
	assert.Equal(t, int64(models.MaxGems), doc["bank_gems"])
}

func TestRepairDocumentHealthOverflowCap(t *testing.T) {
	doc := validDoc()
	doc["max_health"] = 100.0
	doc["health"] = 1000.0

	out := RepairDocument(doc)
	require.Equal(t, DocRepaired, out.Status)
	assert.Equal(t, 100.0*models.HealthOverflowFactor, doc["health"])
}

func encodedBlob(t *testing.T) string {
	t.Helper()
	blob, err := EncodeItems([]ItemStack{{Slot: 0, Material: "DIRT", Amount: 1}})
	require.NoError(t, err)
	return blob
}

func TestRepairDocumentBankPages(t *testing.T) {
	blob := encodedBlob(t)
	doc := validDoc()
	doc["bank_pages"] = bson.M{
		"1":      blob,
		"11":     blob,
		"potato": blob,
		"2":      int64(7),
		"3":      "not an encoded blob!!!",
	}

	out := RepairDocument(doc)
	require.Equal(t, DocRepaired, out.Status)

	pages := doc["bank_pages"].(bson.M)
	assert.Equal(t, bson.M{"1": blob}, pages)
	assert.Len(t, out.Issues, 4)
}

func TestRepairDocumentDropsUndecodableItemBlobs(t *testing.T) {
	doc := validDoc()
	doc["inventory_contents"] = "%%% not base64 %%%"
	doc["armor_contents"] = encodedBlob(t)
	doc["ender_chest"] = int64(9)

	out := RepairDocument(doc)
	require.Equal(t, DocRepaired, out.Status)

	_, hasInv := doc["inventory_contents"]
	assert.False(t, hasInv)
	_, hasEnder := doc["ender_chest"]
	assert.False(t, hasEnder)
	assert.Equal(t, encodedBlob(t), doc["armor_contents"], "a decodable blob survives untouched")
	assert.Len(t, out.Issues, 2)
}

func TestRepairDocumentTimestamps(t *testing.T) {
	doc := validDoc()
	delete(doc, "created_at")
	doc["last_login_at"] = "yesterday"
	doc["ban_expires_at"] = int64(99)

	out := RepairDocument(doc)
	require.Equal(t, DocRepaired, out.Status)

	assert.IsType(t, primitive.DateTime(0), doc["created_at"])
	assert.IsType(t, primitive.DateTime(0), doc["last_login_at"])
	_, present := doc["ban_expires_at"]
	assert.False(t, present)
}

func TestRepairDocumentIdempotent(t *testing.T) {
	doc := validDoc()
	doc["level"] = int32(0)
	doc["username"] = ""
	doc["health"] = -5.0
	doc["world_boss_kills"] = bson.M{"dragon": int64(3), "lich": "many"}

	first := RepairDocument(doc)
	require.Equal(t, DocRepaired, first.Status)

	second := RepairDocument(doc)
	assert.Equal(t, DocValid, second.Status, "second pass found issues: %v", second.Issues)
}

func TestClampPlayerIdempotent(t *testing.T) {
	p := models.NewPlayer(uuid.New().String())
	p.Level = 500
	p.Health = math.Inf(1)
	p.Gems = -10
	p.BankPages = map[string]string{"3": "ok", "99": "bad"}

	issues := ClampPlayer(p)
	require.NotEmpty(t, issues)
	assert.Equal(t, models.MaxLevel, p.Level)
	assert.Equal(t, p.MaxHealth, p.Health)
	assert.Equal(t, int64(0), p.Gems)
	assert.NotContains(t, p.BankPages, "99")

	assert.Empty(t, ClampPlayer(p))
}

func TestValidatePlayer(t *testing.T) {
	assert.Error(t, ValidatePlayer(nil))
	assert.Error(t, ValidatePlayer(&models.Player{}))
	assert.Error(t, ValidatePlayer(&models.Player{UUID: "not-a-uuid"}))
	assert.NoError(t, ValidatePlayer(models.NewPlayer(uuid.New().String())))
}
