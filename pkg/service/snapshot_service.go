package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vocalabs/voca/pkg/db"
	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

var ErrSnapshotNotFound = errors.New("conversation snapshot not found")

// Snapshot is the persisted view of a conversation after a turn.
type Snapshot struct {
	TenantID         string
	CallID           string
	Transcript       []models.Turn
	Fields           map[string]string
	Classification   string
	SummaryRequested bool
}

// SnapshotFromSession copies the persisted parts of a session.
func SnapshotFromSession(sess *models.ConversationSession) Snapshot {
	c := sess.Clone()
	return Snapshot{
		TenantID:         c.TenantID,
		CallID:           c.ConversationID,
		Transcript:       c.Turns,
		Fields:           c.Fields,
		Classification:   c.Classification,
		SummaryRequested: c.SummaryRequested,
	}
}

// SnapshotService upserts one conversation row per call.
type SnapshotService struct {
	db     *gorm.DB
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewSnapshotService(database *gorm.DB) *SnapshotService {
	return &SnapshotService{
		db:     database,
		logger: utils.GetLogger(),
	}
}

// Persist writes the snapshot. It reports false without error when no store
// is configured.
func (s *SnapshotService) Persist(ctx context.Context, snap Snapshot) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	if snap.CallID == "" {
		return false, models.ErrMissingConversationID
	}

	transcript := make(db.Transcript, 0, len(snap.Transcript))
	for _, t := range snap.Transcript {
		transcript = append(transcript, db.TranscriptEntry{Role: t.Role, Content: t.Content})
	}
	row := db.ConversationRecord{
		ID:               uuid.NewString(),
		CallID:           snap.CallID,
		TenantID:         snap.TenantID,
		Transcript:       transcript,
		LeadData:         db.StringMap(snap.Fields),
		LeadStatus:       snap.Classification,
		SummaryRequested: snap.SummaryRequested,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "call_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tenant_id", "transcript", "lead_data", "lead_status", "summary_requested", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return false, fmt.Errorf("persist conversation %s: %w", snap.CallID, err)
	}
	return true, nil
}

// PersistAsync persists in the background. Failures are logged only.
func (s *SnapshotService) PersistAsync(snap Snapshot) {
	if s == nil || s.db == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.Persist(context.Background(), snap); err != nil {
			s.logger.Warn("Failed to persist conversation snapshot", "callSid", snap.CallID, "error", err)
		}
	}()
}

// Wait blocks until background writes finish.
func (s *SnapshotService) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

// Load returns the stored snapshot for a call.
func (s *SnapshotService) Load(ctx context.Context, callID string) (*db.ConversationRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrSnapshotNotFound
	}
	var row db.ConversationRecord
	err := s.db.WithContext(ctx).Where("call_id = ?", callID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", callID, err)
	}
	return &row, nil
}
