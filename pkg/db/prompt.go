package db

import "time"

// SystemPrompt is the prompt configuration of one tenant. The default tenant
// is stored with an empty TenantID.
type SystemPrompt struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	TenantID       string    `json:"tenant_id" gorm:"uniqueIndex;size:64"`
	Prompt         string    `json:"prompt" gorm:"type:text;not null"`
	Name           string    `json:"name" gorm:"size:100"`
	WelcomeMessage string    `json:"welcome_message" gorm:"type:text"`
	IsActive       bool      `json:"is_active" gorm:"default:true"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (SystemPrompt) TableName() string {
	return "system_prompts"
}
