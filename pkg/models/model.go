package models

import "strings"

// Supported chat model providers.
const (
	ProviderOpenAI    = "openai"
	ProviderCustom    = "custom"
	ProviderArk       = "ark"
	ProviderDeepSeek  = "deepseek"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGoogle    = "google"
	ProviderQianfan   = "qianfan"
	ProviderQwen      = "qwen"
)

// SupportedModelProviders all valid provider values
var SupportedModelProviders = map[string]struct{}{
	ProviderOpenAI:    {},
	ProviderCustom:    {},
	ProviderArk:       {},
	ProviderDeepSeek:  {},
	ProviderAnthropic: {},
	ProviderOllama:    {},
	ProviderGoogle:    {},
	ProviderQianfan:   {},
	ProviderQwen:      {},
}

// ModelConfig describes the chat model behind the reply capability.
type ModelConfig struct {
	Provider    string            `json:"provider"`
	Model       string            `json:"model"`
	BaseUrl     string            `json:"base_url"`
	ApiKey      string            `json:"api_key"`
	Temperature float32           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	Extra       map[string]string `json:"extra"` // Vendor-specific fields
}

func (m *ModelConfig) Normalize() {
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	if m.Extra == nil {
		m.Extra = map[string]string{}
	}
}
