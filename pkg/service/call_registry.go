package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vocalabs/voca/pkg/event"
	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

// CallRegistry tracks the calls this process knows about. Calls leave the
// registry as soon as they reach a terminal status.
type CallRegistry struct {
	mu      sync.RWMutex
	calls   map[string]*models.CallRecord
	emitter *event.Emitter
	metrics *Metrics
	now     func() time.Time
	logger  *slog.Logger
}

func NewCallRegistry(emitter *event.Emitter, metrics *Metrics) *CallRegistry {
	return &CallRegistry{
		calls:   make(map[string]*models.CallRecord),
		emitter: emitter,
		metrics: metrics,
		now:     time.Now,
		logger:  utils.GetLogger(),
	}
}

// Upsert registers a call or refreshes its details. Empty fields of rec keep
// the stored values; a zero StartTime keeps the first-seen time.
func (r *CallRegistry) Upsert(rec models.CallRecord) {
	if rec.CallID == "" {
		return
	}
	r.mu.Lock()
	cur, ok := r.calls[rec.CallID]
	if !ok {
		cur = &models.CallRecord{CallID: rec.CallID, StartTime: r.now()}
		r.calls[rec.CallID] = cur
	}
	if rec.Status != "" {
		cur.Status = rec.Status
	}
	if rec.Direction != "" {
		cur.Direction = rec.Direction
	}
	if rec.From != "" {
		cur.From = rec.From
	}
	if rec.To != "" {
		cur.To = rec.To
	}
	if !rec.StartTime.IsZero() {
		cur.StartTime = rec.StartTime
	}
	status, direction := cur.Status, cur.Direction
	if status.IsTerminal() {
		delete(r.calls, rec.CallID)
	}
	active := len(r.calls)
	r.mu.Unlock()

	r.changed(rec.CallID, status, direction, active)
}

// UpdateStatus applies a provider status callback. Unknown calls are
// registered unless the status is terminal. It reports whether the call
// reached a terminal status.
func (r *CallRegistry) UpdateStatus(callID string, status models.CallStatus) bool {
	if callID == "" || status == "" {
		return false
	}
	r.mu.Lock()
	cur, ok := r.calls[callID]
	direction := ""
	switch {
	case status.IsTerminal():
		if ok {
			direction = cur.Direction
			delete(r.calls, callID)
		}
	case ok:
		cur.Status = status
		direction = cur.Direction
	default:
		r.calls[callID] = &models.CallRecord{CallID: callID, Status: status, StartTime: r.now()}
	}
	active := len(r.calls)
	r.mu.Unlock()

	r.changed(callID, status, direction, active)
	return status.IsTerminal()
}

// Remove forgets a call without emitting a status change.
func (r *CallRegistry) Remove(callID string) {
	r.mu.Lock()
	delete(r.calls, callID)
	active := len(r.calls)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.CallsActive.Set(float64(active))
	}
}

// Get returns a copy of the call record.
func (r *CallRegistry) Get(callID string) (models.CallRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.calls[callID]
	if !ok {
		return models.CallRecord{}, false
	}
	return *rec, true
}

// List returns copies of all tracked calls, oldest first.
func (r *CallRegistry) List() []models.CallRecord {
	r.mu.RLock()
	out := make([]models.CallRecord, 0, len(r.calls))
	for _, rec := range r.calls {
		out = append(out, *rec)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func (r *CallRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

func (r *CallRegistry) changed(callID string, status models.CallStatus, direction string, active int) {
	r.logger.Info("Call status", "callSid", callID, "status", status, "activeCalls", active)
	r.metrics.callStatus(string(status), active)
	if r.emitter != nil {
		r.emitter.Emit(event.CallStatusChangedEvent{
			CallID:    callID,
			Status:    string(status),
			Direction: direction,
		})
	}
}
