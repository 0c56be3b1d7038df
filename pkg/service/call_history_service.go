package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

var ErrCallProviderMissing = errors.New("call provider not configured")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// CallProvider lists calls known to the telephony provider. An empty status
// means no status filter.
type CallProvider interface {
	ListCalls(ctx context.Context, status models.CallStatus, limit int, after, before *time.Time) ([]models.CallSummary, error)
}

// HistoryQuery bounds a history fetch.
type HistoryQuery struct {
	Limit       int
	StartAfter  *time.Time
	StartBefore *time.Time
}

// CallHistoryService reconciles provider call records with the local registry.
type CallHistoryService struct {
	provider CallProvider
	registry *CallRegistry
	now      func() time.Time
	logger   *slog.Logger
}

func NewCallHistoryService(provider CallProvider, registry *CallRegistry) *CallHistoryService {
	return &CallHistoryService{
		provider: provider,
		registry: registry,
		now:      time.Now,
		logger:   utils.GetLogger(),
	}
}

// FetchHistory queries the provider once per status group and once without a
// filter, keeping the first record seen per call. Calls only known locally
// are appended with their elapsed time. A failing query is skipped.
func (s *CallHistoryService) FetchHistory(ctx context.Context, q HistoryQuery) (*models.CallHistory, error) {
	if s.provider == nil {
		return nil, ErrCallProviderMissing
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	passes := make([]models.CallStatus, 0, 9)
	passes = append(passes, models.OngoingStatuses...)
	passes = append(passes, models.DeclinedStatuses...)
	passes = append(passes, models.CompletedStatuses...)
	passes = append(passes, "")

	history := models.NewCallHistory()
	seen := make(map[string]bool)
	for _, status := range passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		calls, err := s.provider.ListCalls(ctx, status, limit, q.StartAfter, q.StartBefore)
		if err != nil {
			s.logger.Warn("Call history query failed", "status", status, "error", err)
			continue
		}
		for _, c := range calls {
			if c.CallID == "" || seen[c.CallID] {
				continue
			}
			seen[c.CallID] = true
			history.Add(c)
		}
	}

	if s.registry != nil {
		now := s.now()
		for _, rec := range s.registry.List() {
			if seen[rec.CallID] {
				continue
			}
			seen[rec.CallID] = true
			history.Add(localSummary(rec, now))
		}
	}
	return history, nil
}

func localSummary(rec models.CallRecord, now time.Time) models.CallSummary {
	start := rec.StartTime
	elapsed := int(now.Sub(start).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	return models.CallSummary{
		CallID:          rec.CallID,
		Status:          rec.Status,
		Direction:       rec.Direction,
		From:            rec.From,
		To:              rec.To,
		StartTime:       &start,
		EndTime:         rec.EndTime,
		DurationSeconds: &elapsed,
		DurationHuman:   models.FormatDuration(elapsed),
	}
}
