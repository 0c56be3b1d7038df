package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/deepseek"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qianfan"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

// Default model per provider when llm.model is empty.
var defaultModels = map[string]string{
	models.ProviderOpenAI:    "gpt-4o-mini",
	models.ProviderDeepSeek:  "deepseek-chat",
	models.ProviderAnthropic: "claude-3-5-haiku-latest",
	models.ProviderOllama:    "llama3.1",
	models.ProviderGoogle:    config.DefaultLLMModel,
	models.ProviderQwen:      "qwen-turbo",
}

type chatModelFactory func(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error)

var chatModelFactories = map[string]chatModelFactory{
	models.ProviderOpenAI:    newOpenAIModel,
	models.ProviderCustom:    newOpenAIModel,
	models.ProviderArk:       newArkModel,
	models.ProviderDeepSeek:  newDeepSeekModel,
	models.ProviderAnthropic: newClaudeModel,
	models.ProviderOllama:    newOllamaModel,
	models.ProviderGoogle:    newGeminiModel,
	models.ProviderQianfan:   newQianfanModel,
	models.ProviderQwen:      newQwenModel,
}

// ModelService builds the chat model behind the reply capability.
type ModelService struct {
	logger *slog.Logger
}

func NewModelService() *ModelService {
	return &ModelService{
		logger: utils.GetLogger(),
	}
}

// ModelConfigFromApp builds the chat model config from the llm section.
func ModelConfigFromApp(cfg *config.AppConfig) *models.ModelConfig {
	mc := &models.ModelConfig{
		Provider:    cfg.LLMProvider(),
		Model:       cfg.LLMModel(),
		BaseUrl:     cfg.LLM.BaseURL,
		ApiKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLMTemperature(),
		MaxTokens:   cfg.LLMMaxTokens(),
		Extra:       cfg.LLM.Extra,
	}
	mc.Normalize()
	if mc.Model == "" {
		mc.Model = defaultModels[mc.Provider]
	}
	return mc
}

// CreateChatModel creates the eino chat model for mc.Provider. Hosted
// providers other than ollama need an API key.
func (m *ModelService) CreateChatModel(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error) {
	if mc == nil {
		return nil, fmt.Errorf("model config is nil")
	}
	mc.Normalize()
	factory, ok := chatModelFactories[mc.Provider]
	if !ok {
		return nil, fmt.Errorf("unsupported model provider: %s", mc.Provider)
	}
	if mc.Model == "" {
		return nil, fmt.Errorf("no model configured for provider %s", mc.Provider)
	}
	if mc.ApiKey == "" && mc.Provider != models.ProviderOllama && mc.Provider != models.ProviderCustom {
		return nil, fmt.Errorf("%s api key is not set", mc.Provider)
	}
	m.logger.Debug("Creating chat model", "provider", mc.Provider, "model", mc.Model,
		"apiKey", utils.MaskSensitiveString(mc.ApiKey))

	chatModel, err := factory(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", mc.Provider, err)
	}
	m.logger.Info("Chat model ready", "provider", mc.Provider, "model", mc.Model)
	return chatModel, nil
}

func newOpenAIModel(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error) {
	return openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL: mc.BaseUrl,
		APIKey:  mc.ApiKey,
		Model:   mc.Model,
	})
}

func newArkModel(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error) {
	timeout := 8 * time.Second
	retries := 0
	if v, err := strconv.Atoi(mc.Extra["retry_times"]); err == nil {
		retries = v
	}
	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:    mc.BaseUrl,
		Region:     mc.Extra["region"],
		Timeout:    &timeout,
		RetryTimes: &retries,
		APIKey:     mc.ApiKey,
		Model:      mc.Model,
	})
}

func newDeepSeekModel(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error) {
	return deepseek.NewChatModel(ctx, &deepseek.ChatModelConfig{
		BaseURL: mc.BaseUrl,
		APIKey:  mc.ApiKey,
		Model:   mc.Model,
	})
}

// Claude requires max_tokens on every request.
func newClaudeModel(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error) {
	maxTokens := mc.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 256
	}
	var baseURL *string
	if mc.BaseUrl != "" {
		baseURL = &mc.BaseUrl
	}
	return claude.NewChatModel(ctx, &claude.Config{
		BaseURL:   baseURL,
		APIKey:    mc.ApiKey,
		Model:     mc.Model,
		MaxTokens: maxTokens,
	})
}

func newOllamaModel(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error) {
	baseURL := mc.BaseUrl
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: baseURL,
		Model:   mc.Model,
	})
}

func newGeminiModel(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  mc.ApiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return gemini.NewChatModel(ctx, &gemini.Config{
		Client: client,
		Model:  mc.Model,
	})
}

func newQianfanModel(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error) {
	qc := qianfan.GetQianfanSingletonConfig()
	qc.BaseURL = mc.BaseUrl
	qc.BearerToken = mc.ApiKey
	return qianfan.NewChatModel(ctx, &qianfan.ChatModelConfig{
		Model: mc.Model,
	})
}

func newQwenModel(ctx context.Context, mc *models.ModelConfig) (einoModel.BaseChatModel, error) {
	return qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		BaseURL: mc.BaseUrl,
		APIKey:  mc.ApiKey,
		Model:   mc.Model,
	})
}
