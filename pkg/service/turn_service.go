package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

const (
	maxReplyChars    = 500
	maxGreetingChars = 300

	// saveTimeout bounds the session write that follows a turn. It runs
	// detached from the caller's deadline so a timed-out reply still keeps
	// the caller's utterance.
	saveTimeout = 2 * time.Second

	DefaultGreeting = "Hello! How can I help you today?"

	fallbackSpellName = "I'm sorry, I couldn't quite catch that. Could you please spell your name for me? " +
		"First, tell me your first name, and then your last name."
	fallbackGeneric = "I'm sorry, I couldn't quite understand what you're saying. Could you please repeat that?"

	greetingInstruction = "Generate a brief, natural greeting (1-2 sentences) that you would say when " +
		"answering a phone call. Keep it warm, professional, and aligned with your role."

	noRegreetDirective = "\n\nIMPORTANT: A greeting has already been given at the start of this call. " +
		"Do NOT greet the user again. If they say 'hi', 'hello', or similar greetings, simply acknowledge " +
		"them naturally and continue the conversation. For example, respond with 'Hi! How can I help you?' " +
		"or 'Hello! What can I do for you?' instead of repeating the full greeting."
)

// PromptProvider returns the prompt configuration for a tenant. It never fails.
type PromptProvider interface {
	Get(ctx context.Context, tenantID string) models.PromptConfig
}

// ReplyProvider generates replies and greetings.
type ReplyProvider interface {
	Reply(ctx context.Context, req ReplyRequest) (*ReplyResult, error)
	Complete(ctx context.Context, systemPrompt, instruction string) (string, error)
}

// SnapshotPersister stores conversation snapshots without blocking the caller.
type SnapshotPersister interface {
	PersistAsync(snap Snapshot)
}

// TurnService owns turn processing and greetings for every conversation.
type TurnService struct {
	store         SessionStore
	prompts       PromptProvider
	replies       ReplyProvider
	snapshots     SnapshotPersister
	defaultTenant string
	convLog       *ConversationLog
	metrics       *Metrics
	logger        *slog.Logger
}

// TurnServiceOptions carries the optional collaborators of a TurnService.
type TurnServiceOptions struct {
	Snapshots     SnapshotPersister
	DefaultTenant string
	Log           *ConversationLog
	Metrics       *Metrics
}

func NewTurnService(store SessionStore, prompts PromptProvider, replies ReplyProvider, opts TurnServiceOptions) *TurnService {
	return &TurnService{
		store:         store,
		prompts:       prompts,
		replies:       replies,
		snapshots:     opts.Snapshots,
		defaultTenant: opts.DefaultTenant,
		convLog:       opts.Log,
		metrics:       opts.Metrics,
		logger:        utils.GetLogger(),
	}
}

// ProcessTurn records the caller's utterance, produces the agent reply and
// merges the extracted lead state. Only an empty conversation id is an
// error; every other failure becomes a fallback reply.
func (s *TurnService) ProcessTurn(ctx context.Context, conversationID, tenantID, userText string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", models.ErrMissingConversationID
	}
	started := time.Now()
	userText = strings.TrimSpace(userText)
	s.convLog.User(conversationID, userText)

	sess, err := s.store.GetOrCreate(ctx, conversationID, tenantID)
	if err != nil {
		s.logger.Error("Failed to load session", "conversationID", conversationID, "error", err)
		return s.finish(conversationID, s.fallback(userText, nil), "store_error", started), nil
	}
	sess.AppendTurn(models.RoleUser, userText)

	reply, outcome := s.generateReply(ctx, sess)

	if reply != "" {
		sess.AppendTurn(models.RoleAssistant, utils.Truncate(reply, maxReplyChars))
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	err = s.store.Save(saveCtx, sess)
	cancel()
	if err != nil {
		s.logger.Error("Failed to save session", "conversationID", conversationID, "error", err)
	}
	if s.snapshots != nil {
		s.snapshots.PersistAsync(SnapshotFromSession(sess))
	}

	if reply == "" {
		reply = s.fallback(userText, sess.Fields)
		if outcome == "ok" {
			outcome = "empty_reply"
		}
	}
	return s.finish(conversationID, reply, outcome, started), nil
}

func (s *TurnService) generateReply(ctx context.Context, sess *models.ConversationSession) (string, string) {
	if s.replies == nil {
		return "", "unavailable"
	}
	tenant := s.effectiveTenant(sess.TenantID)
	systemPrompt := models.DefaultSystemPrompt
	if s.prompts != nil {
		if p := s.prompts.Get(ctx, tenant).SystemPrompt; strings.TrimSpace(p) != "" {
			systemPrompt = p
		}
	}
	if sess.GreetingSent {
		systemPrompt += noRegreetDirective
	}

	res, err := s.replies.Reply(ctx, ReplyRequest{
		SystemPrompt: systemPrompt,
		Messages:     sess.Turns,
		Fields:       sess.Fields,
	})
	if err != nil {
		s.logger.Error("Reply generation failed", "conversationID", sess.ConversationID, "error", err)
		return "", "reply_error"
	}

	sess.MergeFields(res.Fields)
	sess.SetClassification(res.Classification)
	if res.SummaryRequested {
		sess.SummaryRequested = true
	}
	return strings.TrimSpace(res.Reply), "ok"
}

func (s *TurnService) finish(conversationID, reply, outcome string, started time.Time) string {
	reply = utils.Truncate(reply, maxReplyChars)
	s.convLog.AI(conversationID, reply)
	s.metrics.turn(outcome, time.Since(started).Seconds())
	return reply
}

// fallback asks the caller to spell their name when a name is in play,
// otherwise to repeat.
func (s *TurnService) fallback(userText string, fields map[string]string) string {
	if strings.Contains(strings.ToLower(userText), "name") || fields[models.FieldName] != "" {
		s.metrics.fallback("spell_name")
		return fallbackSpellName
	}
	s.metrics.fallback("generic")
	return fallbackGeneric
}

// GenerateGreeting marks the greeting as sent and returns the opening line:
// the tenant welcome message, a generated greeting, or a fixed default.
// The greeting is not added to the transcript.
func (s *TurnService) GenerateGreeting(ctx context.Context, conversationID, tenantID string) string {
	tenant := s.markGreeted(ctx, conversationID, tenantID)
	greeting, source := s.greeting(ctx, tenant)
	s.metrics.greeting(source)
	s.convLog.AI(conversationID, greeting)
	return greeting
}

// Greet marks the greeting as sent using an opening line chosen by the
// caller, such as the message of an outbound call.
func (s *TurnService) Greet(ctx context.Context, conversationID, tenantID, opener string) string {
	s.markGreeted(ctx, conversationID, tenantID)
	opener = utils.Truncate(strings.TrimSpace(opener), maxGreetingChars)
	s.metrics.greeting("opener")
	s.convLog.AI(conversationID, opener)
	return opener
}

// markGreeted sets GreetingSent and returns the session's tenant.
func (s *TurnService) markGreeted(ctx context.Context, conversationID, tenantID string) string {
	tenant := s.effectiveTenant(tenantID)
	if conversationID == "" {
		return tenant
	}
	sess, err := s.store.GetOrCreate(ctx, conversationID, tenantID)
	if err != nil {
		s.logger.Warn("Failed to load session for greeting", "conversationID", conversationID, "error", err)
		return tenant
	}
	sess.GreetingSent = true
	if err := s.store.Save(ctx, sess); err != nil {
		s.logger.Warn("Failed to save session for greeting", "conversationID", conversationID, "error", err)
	}
	return s.effectiveTenant(sess.TenantID)
}

func (s *TurnService) greeting(ctx context.Context, tenant string) (string, string) {
	cfg := models.DefaultPromptConfig(tenant)
	if s.prompts != nil {
		cfg = s.prompts.Get(ctx, tenant)
	}
	if welcome := strings.TrimSpace(cfg.WelcomeMessage); welcome != "" {
		return utils.Truncate(welcome, maxGreetingChars), "welcome"
	}

	if s.replies != nil {
		systemPrompt := cfg.SystemPrompt
		if strings.TrimSpace(systemPrompt) == "" {
			systemPrompt = models.DefaultSystemPrompt
		}
		text, err := s.replies.Complete(ctx, systemPrompt, greetingInstruction)
		if err != nil {
			s.logger.Warn("Greeting generation failed", "tenantID", tenant, "error", err)
		} else if text = strings.TrimSpace(text); text != "" {
			return utils.Truncate(text, maxGreetingChars), "generated"
		}
	}
	return DefaultGreeting, "default"
}

// PendingField names the lead field the agent is most likely waiting for.
// Only the name is tracked.
func (s *TurnService) PendingField(ctx context.Context, conversationID string) string {
	sess, err := s.store.Get(ctx, conversationID)
	if err != nil || sess.Fields[models.FieldName] == "" {
		return models.FieldName
	}
	return ""
}

// Session returns a copy of the conversation state.
func (s *TurnService) Session(ctx context.Context, conversationID string) (*models.ConversationSession, error) {
	return s.store.Get(ctx, conversationID)
}

// EndConversation drops the session of a finished call.
func (s *TurnService) EndConversation(ctx context.Context, conversationID string) {
	if err := s.store.Evict(ctx, conversationID); err != nil {
		s.logger.Warn("Failed to evict session", "conversationID", conversationID, "error", err)
	}
}

// ActiveSessions counts stored sessions; store errors count as zero.
func (s *TurnService) ActiveSessions(ctx context.Context) int {
	n, err := s.store.Len(ctx)
	if err != nil {
		return 0
	}
	return n
}

func (s *TurnService) effectiveTenant(tenantID string) string {
	if tenantID != "" {
		return tenantID
	}
	return s.defaultTenant
}
