package models

import (
	"fmt"
	"time"
)

// CallStatus is a provider call status.
type CallStatus string

const (
	CallInitiated  CallStatus = "initiated"
	CallQueued     CallStatus = "queued"
	CallRinging    CallStatus = "ringing"
	CallInProgress CallStatus = "in-progress"
	CallCompleted  CallStatus = "completed"
	CallBusy       CallStatus = "busy"
	CallFailed     CallStatus = "failed"
	CallNoAnswer   CallStatus = "no-answer"
	CallCanceled   CallStatus = "canceled"
)

// Status groups used for history bucketing, in query order.
var (
	OngoingStatuses   = []CallStatus{CallQueued, CallRinging, CallInProgress}
	DeclinedStatuses  = []CallStatus{CallBusy, CallFailed, CallNoAnswer, CallCanceled}
	CompletedStatuses = []CallStatus{CallCompleted}
)

func (s CallStatus) IsOngoing() bool   { return containsStatus(OngoingStatuses, s) }
func (s CallStatus) IsDeclined() bool  { return containsStatus(DeclinedStatuses, s) }
func (s CallStatus) IsCompleted() bool { return containsStatus(CompletedStatuses, s) }

// IsTerminal reports whether the call has ended.
func (s CallStatus) IsTerminal() bool { return s.IsCompleted() || s.IsDeclined() }

func containsStatus(list []CallStatus, s CallStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Call directions.
const (
	DirectionInbound     = "inbound"
	DirectionOutboundAPI = "outbound-api"
)

// CallRecord is the locally tracked state of a call.
type CallRecord struct {
	CallID    string     `json:"call_sid"`
	Status    CallStatus `json:"status"`
	Direction string     `json:"direction,omitempty"`
	From      string     `json:"from_number,omitempty"`
	To        string     `json:"to_number,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
}

// CallSummary is one row of the call history.
type CallSummary struct {
	CallID          string     `json:"call_sid"`
	Status          CallStatus `json:"status"`
	Direction       string     `json:"direction,omitempty"`
	From            string     `json:"from_number,omitempty"`
	To              string     `json:"to_number,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	DurationHuman   string     `json:"duration_human,omitempty"`
}

// CallHistory groups call summaries by status bucket.
type CallHistory struct {
	Ongoing   []CallSummary `json:"ongoing"`
	Declined  []CallSummary `json:"declined"`
	Completed []CallSummary `json:"completed"`
	Others    []CallSummary `json:"others"`
}

// NewCallHistory returns a history with non-nil buckets so they encode as [].
func NewCallHistory() *CallHistory {
	return &CallHistory{
		Ongoing:   []CallSummary{},
		Declined:  []CallSummary{},
		Completed: []CallSummary{},
		Others:    []CallSummary{},
	}
}

// Add puts a summary in the bucket matching its status.
// Locally initiated calls count as ongoing.
func (h *CallHistory) Add(s CallSummary) {
	switch {
	case s.Status.IsOngoing() || s.Status == CallInitiated:
		h.Ongoing = append(h.Ongoing, s)
	case s.Status.IsDeclined():
		h.Declined = append(h.Declined, s)
	case s.Status.IsCompleted():
		h.Completed = append(h.Completed, s)
	default:
		h.Others = append(h.Others, s)
	}
}

// Total is the number of summaries across all buckets.
func (h *CallHistory) Total() int {
	return len(h.Ongoing) + len(h.Declined) + len(h.Completed) + len(h.Others)
}

// FormatDuration renders seconds as HH:MM:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
