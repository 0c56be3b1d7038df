package models

import (
	"strings"
	"time"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Lead fields tracked by the extraction step.
const (
	FieldName           = "name"
	FieldPhone          = "phone"
	FieldEmail          = "email"
	FieldServiceType    = "service_type"
	FieldPreferredDate  = "preferred_date"
	FieldPreferredTime  = "preferred_time"
	FieldNumberOfPeople = "number_of_people"
	FieldRoomType       = "room_type"
	FieldNotes          = "notes"
)

// LeadFields lists the standard structured fields in display order.
var LeadFields = []string{
	FieldName, FieldPhone, FieldEmail, FieldServiceType, FieldPreferredDate,
	FieldPreferredTime, FieldNumberOfPeople, FieldRoomType, FieldNotes,
}

// Lead classifications.
const (
	LeadHot  = "hot"
	LeadWarm = "warm"
	LeadCold = "cold"
)

// Turn is one entry of a conversation transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationSession is the per-call dialogue state.
type ConversationSession struct {
	ConversationID   string            `json:"conversation_id"`
	TenantID         string            `json:"tenant_id,omitempty"`
	Turns            []Turn            `json:"turns"`
	Fields           map[string]string `json:"fields"`
	Classification   string            `json:"classification,omitempty"`
	SummaryRequested bool              `json:"summary_requested"`
	GreetingSent     bool              `json:"greeting_sent"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// NewConversationSession returns an empty session for id.
func NewConversationSession(id, tenantID string) *ConversationSession {
	now := time.Now()
	return &ConversationSession{
		ConversationID: id,
		TenantID:       tenantID,
		Fields:         map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// AppendTurn adds a transcript entry and bumps UpdatedAt.
func (s *ConversationSession) AppendTurn(role, content string) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content})
	s.UpdatedAt = time.Now()
}

// MergeFields applies extracted values; empty values never overwrite.
func (s *ConversationSession) MergeFields(updates map[string]string) {
	if s.Fields == nil {
		s.Fields = map[string]string{}
	}
	for k, v := range updates {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		s.Fields[k] = v
	}
}

// SetClassification replaces the label only with a non-empty value.
func (s *ConversationSession) SetClassification(label string) {
	if label = strings.TrimSpace(label); label != "" {
		s.Classification = label
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *ConversationSession) Clone() *ConversationSession {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	c.Fields = make(map[string]string, len(s.Fields))
	for k, v := range s.Fields {
		c.Fields[k] = v
	}
	return &c
}
