package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "data", "voca.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))
	t.Cleanup(func() { _ = Close(gdb) })
	return gdb
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestOpen_ServerDriversRequireDSN(t *testing.T) {
	_, err := Open(DriverPostgres, "")
	assert.Error(t, err)
	_, err = Open(DriverMySQL, "")
	assert.Error(t, err)
}

func TestConversationRecord_RoundTrip(t *testing.T) {
	gdb := openTestDB(t)

	rec := ConversationRecord{
		ID:         "c1",
		CallID:     "CA1",
		TenantID:   "org",
		Transcript: Transcript{{Role: "user", Content: "hi"}},
		LeadData:   StringMap{"name": "Ana"},
		LeadStatus: "warm",
	}
	require.NoError(t, gdb.Create(&rec).Error)

	var got ConversationRecord
	require.NoError(t, gdb.First(&got, "call_id = ?", "CA1").Error)
	assert.Equal(t, rec.Transcript, got.Transcript)
	assert.Equal(t, "Ana", got.LeadData["name"])
	assert.Equal(t, "warm", got.LeadStatus)
}

func TestConversationRecord_UpsertOnCallID(t *testing.T) {
	gdb := openTestDB(t)
	upsert := func(id, status string) {
		rec := ConversationRecord{ID: id, CallID: "CA1", LeadStatus: status, LeadData: StringMap{}}
		err := gdb.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "call_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"lead_status", "updated_at"}),
		}).Create(&rec).Error
		require.NoError(t, err)
	}
	upsert("c1", "cold")
	upsert("c2", "hot")

	var count int64
	require.NoError(t, gdb.Model(&ConversationRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var got ConversationRecord
	require.NoError(t, gdb.First(&got, "call_id = ?", "CA1").Error)
	assert.Equal(t, "hot", got.LeadStatus)
}
