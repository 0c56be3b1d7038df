package models

// DefaultSystemPrompt is used when no tenant prompt is stored.
const DefaultSystemPrompt = "You are Voca, a helpful voice assistant. Respond concisely and naturally. " +
	"If asked how you can help, say: 'I can assist you with the information that is available to me.' " +
	"Keep responses brief and conversational."

// DefaultAssistantName is the display name paired with DefaultSystemPrompt.
const DefaultAssistantName = "Voca"

// PromptConfig is the prompt configuration of one tenant.
type PromptConfig struct {
	TenantID       string `json:"tenant_id,omitempty"`
	SystemPrompt   string `json:"system_prompt"`
	Name           string `json:"name,omitempty"`
	WelcomeMessage string `json:"welcome_message,omitempty"`
	IsDefault      bool   `json:"is_default"`
}

// DefaultPromptConfig returns the built-in configuration.
func DefaultPromptConfig(tenantID string) PromptConfig {
	return PromptConfig{
		TenantID:     tenantID,
		SystemPrompt: DefaultSystemPrompt,
		Name:         DefaultAssistantName,
		IsDefault:    true,
	}
}

// UpdatePromptRequest is the body of a prompt update.
type UpdatePromptRequest struct {
	TenantID       string `json:"tenant_id"`
	SystemPrompt   string `json:"system_prompt" binding:"required"`
	Name           string `json:"name"`
	WelcomeMessage string `json:"welcome_message"`
}
