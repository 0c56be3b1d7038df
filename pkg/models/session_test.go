package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeFields_LastNonEmptyWins(t *testing.T) {
	s := NewConversationSession("CA1", "")
	s.MergeFields(map[string]string{FieldName: "Ana", FieldPhone: "555"})
	s.MergeFields(map[string]string{FieldName: "", FieldPhone: "  ", FieldEmail: "ana@example.com"})

	assert.Equal(t, "Ana", s.Fields[FieldName])
	assert.Equal(t, "555", s.Fields[FieldPhone])
	assert.Equal(t, "ana@example.com", s.Fields[FieldEmail])

	s.MergeFields(map[string]string{FieldName: "Ana Lopez"})
	assert.Equal(t, "Ana Lopez", s.Fields[FieldName])
}

func TestSetClassification_IgnoresEmpty(t *testing.T) {
	s := NewConversationSession("CA1", "")
	s.SetClassification(LeadWarm)
	s.SetClassification("")
	assert.Equal(t, LeadWarm, s.Classification)
	s.SetClassification(LeadHot)
	assert.Equal(t, LeadHot, s.Classification)
}

func TestClone_IsIndependent(t *testing.T) {
	s := NewConversationSession("CA1", "org")
	s.AppendTurn(RoleUser, "hi")
	s.MergeFields(map[string]string{FieldName: "Ana"})

	c := s.Clone()
	c.AppendTurn(RoleAssistant, "hello")
	c.Fields[FieldName] = "Bob"

	require.Len(t, s.Turns, 1)
	assert.Equal(t, "Ana", s.Fields[FieldName])
}

func TestCallHistory_Add(t *testing.T) {
	h := NewCallHistory()
	h.Add(CallSummary{CallID: "1", Status: CallRinging})
	h.Add(CallSummary{CallID: "2", Status: CallInitiated})
	h.Add(CallSummary{CallID: "3", Status: CallNoAnswer})
	h.Add(CallSummary{CallID: "4", Status: CallCompleted})
	h.Add(CallSummary{CallID: "5", Status: "paused"})

	assert.Len(t, h.Ongoing, 2)
	assert.Len(t, h.Declined, 1)
	assert.Len(t, h.Completed, 1)
	assert.Len(t, h.Others, 1)
	assert.Equal(t, 5, h.Total())
}

func TestCallStatus_IsTerminal(t *testing.T) {
	for _, s := range []CallStatus{CallCompleted, CallBusy, CallFailed, CallNoAnswer, CallCanceled} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []CallStatus{CallInitiated, CallQueued, CallRinging, CallInProgress} {
		assert.False(t, s.IsTerminal(), s)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatDuration(0))
	assert.Equal(t, "00:01:05", FormatDuration(65))
	assert.Equal(t, "01:01:01", FormatDuration(3661))
	assert.Equal(t, "00:00:00", FormatDuration(-3))
}

func TestTurnEvent_Validate(t *testing.T) {
	assert.ErrorIs(t, (&TurnEvent{}).Validate(), ErrMissingConversationID)
	assert.ErrorIs(t, (&TurnEvent{ConversationID: "CA1", Confidence: 1.5}).Validate(), ErrInvalidConfidence)
	assert.NoError(t, (&TurnEvent{ConversationID: "CA1", Confidence: 0.3}).Validate())
}
