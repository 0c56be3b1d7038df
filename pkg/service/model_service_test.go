package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/models"
)

func TestModelConfigFromApp_ProviderDefaults(t *testing.T) {
	mc := ModelConfigFromApp(&config.AppConfig{})
	assert.Equal(t, models.ProviderGoogle, mc.Provider)
	assert.Equal(t, config.DefaultLLMModel, mc.Model)
	assert.NotNil(t, mc.Extra)

	mc = ModelConfigFromApp(&config.AppConfig{LLM: config.LLMConfig{Provider: "DeepSeek"}})
	assert.Equal(t, models.ProviderDeepSeek, mc.Provider)
	assert.Equal(t, "deepseek-chat", mc.Model)

	mc = ModelConfigFromApp(&config.AppConfig{LLM: config.LLMConfig{Provider: "openai", Model: "gpt-4.1-nano"}})
	assert.Equal(t, "gpt-4.1-nano", mc.Model)
}

func TestCreateChatModel_Rejections(t *testing.T) {
	svc := NewModelService()
	ctx := context.Background()

	_, err := svc.CreateChatModel(ctx, nil)
	assert.Error(t, err)

	_, err = svc.CreateChatModel(ctx, &models.ModelConfig{Provider: "watson", Model: "x"})
	assert.ErrorContains(t, err, "unsupported model provider")

	_, err = svc.CreateChatModel(ctx, &models.ModelConfig{Provider: models.ProviderQianfan})
	assert.ErrorContains(t, err, "no model configured")

	_, err = svc.CreateChatModel(ctx, &models.ModelConfig{Provider: models.ProviderOpenAI, Model: "gpt-4o-mini"})
	assert.ErrorContains(t, err, "api key")
}

func TestCreateChatModel_OllamaNeedsNoKey(t *testing.T) {
	cm, err := NewModelService().CreateChatModel(context.Background(), &models.ModelConfig{
		Provider: " Ollama ",
		Model:    "llama3.1",
	})
	require.NoError(t, err)
	assert.NotNil(t, cm)
}
