package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalabs/voca/pkg/event"
	"github.com/vocalabs/voca/pkg/models"
)

// fakeCallProvider serves calls per status filter and records the queries.
type fakeCallProvider struct {
	mu       sync.Mutex
	byStatus map[models.CallStatus][]models.CallSummary
	failing  map[models.CallStatus]bool
	queries  []models.CallStatus
	limits   []int
}

func (f *fakeCallProvider) ListCalls(_ context.Context, status models.CallStatus, limit int, _, _ *time.Time) ([]models.CallSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, status)
	f.limits = append(f.limits, limit)
	if f.failing[status] {
		return nil, errors.New("provider error")
	}
	return f.byStatus[status], nil
}

func summary(id string, status models.CallStatus) models.CallSummary {
	return models.CallSummary{CallID: id, Status: status}
}

func TestFetchHistory_QueryOrderAndBuckets(t *testing.T) {
	provider := &fakeCallProvider{
		byStatus: map[models.CallStatus][]models.CallSummary{
			models.CallInProgress: {summary("CA1", models.CallInProgress)},
			models.CallBusy:       {summary("CA2", models.CallBusy)},
			models.CallCompleted:  {summary("CA3", models.CallCompleted)},
			// the catch-all pass sees CA1 with a newer status and an unknown one
			"": {
				summary("CA1", models.CallCompleted),
				summary("CA4", "paused"),
			},
		},
	}
	svc := NewCallHistoryService(provider, nil)

	h, err := svc.FetchHistory(context.Background(), HistoryQuery{})
	require.NoError(t, err)

	assert.Equal(t, []models.CallStatus{
		models.CallQueued, models.CallRinging, models.CallInProgress,
		models.CallBusy, models.CallFailed, models.CallNoAnswer, models.CallCanceled,
		models.CallCompleted, "",
	}, provider.queries)
	for _, l := range provider.limits {
		assert.Equal(t, defaultHistoryLimit, l)
	}

	require.Len(t, h.Ongoing, 1)
	assert.Equal(t, "CA1", h.Ongoing[0].CallID, "first-seen record wins")
	require.Len(t, h.Declined, 1)
	require.Len(t, h.Completed, 1)
	require.Len(t, h.Others, 1)
	assert.Equal(t, "CA4", h.Others[0].CallID)
	assert.Equal(t, 4, h.Total())
}

func TestFetchHistory_SkipsFailingQueries(t *testing.T) {
	provider := &fakeCallProvider{
		byStatus: map[models.CallStatus][]models.CallSummary{
			models.CallRinging: {summary("CA1", models.CallRinging)},
			"":                 {summary("CA2", models.CallFailed)},
		},
		failing: map[models.CallStatus]bool{models.CallQueued: true, models.CallCompleted: true},
	}
	h, err := NewCallHistoryService(provider, nil).FetchHistory(context.Background(), HistoryQuery{Limit: 5000})
	require.NoError(t, err)
	assert.Len(t, h.Ongoing, 1)
	assert.Len(t, h.Declined, 1)
	assert.Equal(t, maxHistoryLimit, provider.limits[0])
}

func TestFetchHistory_MergesLocalCallsOnce(t *testing.T) {
	registry := NewCallRegistry(nil, nil)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	registry.Upsert(models.CallRecord{CallID: "CA9", Status: models.CallInitiated, Direction: models.DirectionOutboundAPI, StartTime: start})
	registry.Upsert(models.CallRecord{CallID: "CA1", Status: models.CallRinging, StartTime: start})

	provider := &fakeCallProvider{byStatus: map[models.CallStatus][]models.CallSummary{
		models.CallRinging: {summary("CA1", models.CallRinging)},
	}}
	svc := NewCallHistoryService(provider, registry)
	svc.now = func() time.Time { return start.Add(95 * time.Second) }

	h, err := svc.FetchHistory(context.Background(), HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, h.Ongoing, 2)
	assert.Equal(t, 2, h.Total())

	local := h.Ongoing[1]
	assert.Equal(t, "CA9", local.CallID)
	require.NotNil(t, local.DurationSeconds)
	assert.Equal(t, 95, *local.DurationSeconds)
	assert.Equal(t, "00:01:35", local.DurationHuman)
}

func TestFetchHistory_NoProvider(t *testing.T) {
	_, err := NewCallHistoryService(nil, NewCallRegistry(nil, nil)).FetchHistory(context.Background(), HistoryQuery{})
	assert.ErrorIs(t, err, ErrCallProviderMissing)
}

func TestCallRegistry_Lifecycle(t *testing.T) {
	emitter := event.NewEmitter()
	var mu sync.Mutex
	var statuses []string
	emitter.On(event.CallStatusChanged, func(ev event.Event) {
		mu.Lock()
		statuses = append(statuses, ev.(event.CallStatusChangedEvent).Status)
		mu.Unlock()
	})
	metrics := NewMetrics("test")
	r := NewCallRegistry(emitter, metrics)

	r.Upsert(models.CallRecord{CallID: "CA1", Status: models.CallRinging, From: "+15550100", Direction: models.DirectionInbound})
	r.Upsert(models.CallRecord{CallID: "CA1", To: "+15550199"})
	rec, ok := r.Get("CA1")
	require.True(t, ok)
	assert.Equal(t, models.CallRinging, rec.Status)
	assert.Equal(t, "+15550100", rec.From)
	assert.Equal(t, "+15550199", rec.To)
	assert.False(t, rec.StartTime.IsZero())

	assert.False(t, r.UpdateStatus("CA1", models.CallInProgress))
	assert.False(t, r.UpdateStatus("CA2", models.CallRinging), "unknown calls are registered")
	assert.Equal(t, 2, r.Count())
	assert.Len(t, r.List(), 2)

	assert.True(t, r.UpdateStatus("CA1", models.CallCompleted))
	_, ok = r.Get("CA1")
	assert.False(t, ok)
	assert.True(t, r.UpdateStatus("CA3", models.CallNoAnswer), "terminal status for an unknown call")
	assert.Equal(t, 1, r.Count())

	r.Remove("CA2")
	assert.Equal(t, 0, r.Count())
	assert.False(t, r.UpdateStatus("", models.CallRinging))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ringing", "ringing", "in-progress", "ringing", "completed", "no-answer"}, statuses)
}

func TestCallRegistry_UpsertTerminalRemoves(t *testing.T) {
	r := NewCallRegistry(nil, nil)
	r.Upsert(models.CallRecord{CallID: "CA1", Status: models.CallInitiated})
	r.Upsert(models.CallRecord{CallID: "CA1", Status: models.CallFailed})
	assert.Equal(t, 0, r.Count())
}
