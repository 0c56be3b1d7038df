// Database models for call conversation snapshots
package db

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ConversationRecord is the latest snapshot of a call conversation.
// It is upserted on CallID after every turn.
type ConversationRecord struct {
	ID               string     `json:"id" gorm:"primaryKey;size:36"`
	CallID           string     `json:"call_id" gorm:"uniqueIndex;size:64;not null"`
	TenantID         string     `json:"tenant_id" gorm:"index;size:64"`
	Transcript       Transcript `json:"transcript" gorm:"type:json"`
	LeadData         StringMap  `json:"lead_data" gorm:"type:json"`
	LeadStatus       string     `json:"lead_status" gorm:"size:20"`
	SummaryRequested bool       `json:"summary_requested"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (ConversationRecord) TableName() string {
	return "conversations"
}

// TranscriptEntry is one stored turn.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript is stored as a JSON array.
type Transcript []TranscriptEntry

// Value implements driver.Valuer for database storage
func (t Transcript) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (t *Transcript) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, t)
}

// StringMap is a JSON object of string values.
type StringMap map[string]string

// Value implements driver.Valuer for database storage
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for database retrieval
func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, m)
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("type assertion to []byte or string failed")
	}
}
