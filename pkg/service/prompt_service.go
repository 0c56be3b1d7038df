package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vocalabs/voca/pkg/db"
	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

const promptCacheTTL = 60 * time.Second

var (
	ErrEmptyPrompt        = errors.New("prompt must not be empty")
	ErrPromptStoreMissing = errors.New("prompt store not configured")
)

type cachedPrompt struct {
	cfg     models.PromptConfig
	fetched time.Time
}

// PromptService stores one system prompt, assistant name and welcome message
// per tenant. Reads are cached for a minute and fall back to the built-in
// prompt whenever the store is missing or failing.
type PromptService struct {
	db            *gorm.DB
	defaultTenant string
	logger        *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedPrompt
	now   func() time.Time
}

func NewPromptService(database *gorm.DB, defaultTenant string) *PromptService {
	return &PromptService{
		db:            database,
		defaultTenant: defaultTenant,
		logger:        utils.GetLogger(),
		cache:         make(map[string]cachedPrompt),
		now:           time.Now,
	}
}

func (s *PromptService) tenant(tenantID string) string {
	if t := strings.TrimSpace(tenantID); t != "" {
		return t
	}
	return s.defaultTenant
}

// Get returns the tenant's prompt configuration. It never fails.
func (s *PromptService) Get(ctx context.Context, tenantID string) models.PromptConfig {
	tenantID = s.tenant(tenantID)

	s.mu.Lock()
	if c, ok := s.cache[tenantID]; ok && s.now().Sub(c.fetched) < promptCacheTTL {
		s.mu.Unlock()
		return c.cfg
	}
	s.mu.Unlock()

	if s.db == nil {
		return models.DefaultPromptConfig(tenantID)
	}

	var row db.SystemPrompt
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND is_active = ?", tenantID, true).First(&row).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Error("Failed to load system prompt, using default", "tenantID", tenantID, "error", err)
		}
		return models.DefaultPromptConfig(tenantID)
	}

	cfg := models.PromptConfig{
		TenantID:       tenantID,
		SystemPrompt:   row.Prompt,
		Name:           row.Name,
		WelcomeMessage: row.WelcomeMessage,
		IsDefault:      row.Prompt == models.DefaultSystemPrompt,
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = models.DefaultSystemPrompt
		cfg.IsDefault = true
	}
	s.store(tenantID, cfg)
	return cfg
}

// Update upserts the tenant's prompt. Empty name and welcome message leave
// the stored values unchanged.
func (s *PromptService) Update(ctx context.Context, tenantID, prompt, name, welcome string) (bool, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return false, ErrEmptyPrompt
	}
	if s.db == nil {
		return false, ErrPromptStoreMissing
	}
	tenantID = s.tenant(tenantID)

	row := db.SystemPrompt{
		TenantID:       tenantID,
		Prompt:         prompt,
		Name:           strings.TrimSpace(name),
		WelcomeMessage: strings.TrimSpace(welcome),
		IsActive:       true,
	}
	updates := []string{"prompt", "is_active", "updated_at"}
	if row.Name != "" {
		updates = append(updates, "name")
	}
	if row.WelcomeMessage != "" {
		updates = append(updates, "welcome_message")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns(updates),
	}).Create(&row).Error
	if err != nil {
		return false, fmt.Errorf("save system prompt: %w", err)
	}

	s.invalidate(tenantID)
	s.logger.Info("System prompt updated", "tenantID", tenantID)
	return true, nil
}

// Reset restores the built-in prompt for the tenant.
func (s *PromptService) Reset(ctx context.Context, tenantID string) (bool, error) {
	return s.Update(ctx, tenantID, models.DefaultSystemPrompt, "", "")
}

// ClearCache drops all cached prompts.
func (s *PromptService) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]cachedPrompt)
	s.mu.Unlock()
}

func (s *PromptService) store(tenantID string, cfg models.PromptConfig) {
	s.mu.Lock()
	s.cache[tenantID] = cachedPrompt{cfg: cfg, fetched: s.now()}
	s.mu.Unlock()
}

func (s *PromptService) invalidate(tenantID string) {
	s.mu.Lock()
	delete(s.cache, tenantID)
	s.mu.Unlock()
}
