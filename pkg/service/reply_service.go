package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sethvargo/go-retry"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

var ErrReplyUnavailable = errors.New("reply model not configured")

const trackerInstructions = "You are a CRM state tracker. " +
	"Given the full conversation, extract any newly provided values for the lead fields " +
	"(name, phone, email, service_type, preferred_date, preferred_time, number_of_people, " +
	"room_type, notes) and store them in JSON. " +
	"Only include fields that are explicitly mentioned. " +
	"Classify the lead as hot, warm, or cold depending on intent and readiness. " +
	"Set summary_requested to true only if the user explicitly requests a summary.\n\n" +
	`Respond with a single JSON object of the form {"lead": {"name": "...", "custom_fields": {}}, ` +
	`"lead_status": "hot|warm|cold", "summary_requested": false}. Omit fields you do not know.`

// ReplyRequest is the input of one reply/extraction round.
type ReplyRequest struct {
	SystemPrompt string
	Messages     []models.Turn
	Fields       map[string]string
}

// ReplyResult is the reply plus the extracted lead state. Fields holds only
// the non-empty values reported by the tracker.
type ReplyResult struct {
	Reply            string
	Fields           map[string]string
	Classification   string
	SummaryRequested bool
}

// ReplyOptions tune generation and the retry policy. Zero values select defaults.
type ReplyOptions struct {
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration // per attempt
	Attempts    int
	BackoffStep time.Duration // linear step between attempts
	BackoffCap  time.Duration
}

func (o ReplyOptions) withDefaults() ReplyOptions {
	if o.Temperature == 0 {
		o.Temperature = 0.7
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 256
	}
	if o.Timeout <= 0 {
		o.Timeout = config.DefaultLLMTimeout
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.BackoffStep <= 0 {
		o.BackoffStep = 2 * time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 5 * time.Second
	}
	return o
}

// replyState flows between the assistant and tracker nodes.
type replyState struct {
	req      *ReplyRequest
	messages []*schema.Message
	result   *ReplyResult
}

// ReplyService runs a two-node eino chain: the assistant produces the spoken
// reply, then the tracker extracts lead fields from the whole conversation.
type ReplyService struct {
	chatModel einoModel.BaseChatModel
	opts      ReplyOptions
	runnable  compose.Runnable[*ReplyRequest, *ReplyResult]
	logger    *slog.Logger
}

func NewReplyService(ctx context.Context, chatModel einoModel.BaseChatModel, opts ReplyOptions) (*ReplyService, error) {
	s := &ReplyService{
		chatModel: chatModel,
		opts:      opts.withDefaults(),
		logger:    utils.GetLogger(),
	}
	if chatModel == nil {
		return s, nil
	}

	chain := compose.NewChain[*ReplyRequest, *ReplyResult]()
	chain.
		AppendLambda(compose.InvokableLambda(s.assistantNode), compose.WithNodeName("assistant")).
		AppendLambda(compose.InvokableLambda(s.trackerNode), compose.WithNodeName("state_tracker"))
	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile reply chain: %w", err)
	}
	s.runnable = runnable
	return s, nil
}

// Ready reports whether a chat model is configured.
func (s *ReplyService) Ready() bool {
	return s != nil && s.runnable != nil
}

// Reply produces the next agent reply and the lead-state update. The whole
// round is retried with linear backoff; only the last error is returned.
func (s *ReplyService) Reply(ctx context.Context, req ReplyRequest) (*ReplyResult, error) {
	if !s.Ready() {
		return nil, ErrReplyUnavailable
	}
	var out *ReplyResult
	err := s.withRetry(ctx, "reply", func(ctx context.Context) error {
		res, err := s.runnable.Invoke(ctx, &req)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Complete runs a single system+user exchange without extraction.
func (s *ReplyService) Complete(ctx context.Context, systemPrompt, instruction string) (string, error) {
	if !s.Ready() {
		return "", ErrReplyUnavailable
	}
	msgs := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(instruction),
	}
	var text string
	err := s.withRetry(ctx, "complete", func(ctx context.Context) error {
		resp, err := s.generate(ctx, msgs)
		if err != nil {
			return err
		}
		text = resp.Content
		return nil
	})
	return strings.TrimSpace(text), err
}

func (s *ReplyService) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		d := time.Duration(attempt) * s.opts.BackoffStep
		if d > s.opts.BackoffCap {
			d = s.opts.BackoffCap
		}
		return d, false
	})

	try := 0
	return retry.Do(ctx, retry.WithMaxRetries(uint64(s.opts.Attempts-1), backoff), func(ctx context.Context) error {
		try++
		attemptCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("LLM call failed", "op", op, "attempt", try, "maxAttempts", s.opts.Attempts, "error", err)
		return retry.RetryableError(err)
	})
}

func (s *ReplyService) generate(ctx context.Context, msgs []*schema.Message) (*schema.Message, error) {
	return s.chatModel.Generate(ctx, msgs,
		einoModel.WithTemperature(s.opts.Temperature),
		einoModel.WithMaxTokens(s.opts.MaxTokens),
	)
}

func toSchemaMessages(turns []models.Turn) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case models.RoleAssistant:
			out = append(out, schema.AssistantMessage(t.Content, nil))
		default:
			out = append(out, schema.UserMessage(t.Content))
		}
	}
	return out
}

func (s *ReplyService) assistantNode(ctx context.Context, req *ReplyRequest) (*replyState, error) {
	history := toSchemaMessages(req.Messages)
	msgs := append([]*schema.Message{schema.SystemMessage(req.SystemPrompt)}, history...)

	resp, err := s.generate(ctx, msgs)
	if err != nil {
		return nil, err
	}
	reply := strings.TrimSpace(resp.Content)
	return &replyState{
		req:      req,
		messages: append(history, schema.AssistantMessage(reply, nil)),
		result:   &ReplyResult{Reply: reply, Fields: map[string]string{}},
	}, nil
}

type leadUpdate struct {
	Lead             map[string]json.RawMessage `json:"lead"`
	LeadStatus       string                     `json:"lead_status"`
	SummaryRequested bool                       `json:"summary_requested"`
}

// trackerNode never fails the round: a broken extraction keeps the reply.
func (s *ReplyService) trackerNode(ctx context.Context, st *replyState) (*ReplyResult, error) {
	msgs := append([]*schema.Message{schema.SystemMessage(trackerInstructions)}, st.messages...)
	resp, err := s.generate(ctx, msgs)
	if err != nil {
		s.logger.Warn("Lead state extraction failed", "error", err)
		return st.result, nil
	}
	update, err := parseLeadUpdate(resp.Content)
	if err != nil {
		s.logger.Warn("Lead state extraction returned invalid JSON", "error", err)
		return st.result, nil
	}
	st.result.Fields = update.fields()
	st.result.Classification = strings.ToLower(strings.TrimSpace(update.LeadStatus))
	st.result.SummaryRequested = update.SummaryRequested
	return st.result, nil
}

func parseLeadUpdate(content string) (*leadUpdate, error) {
	content = strings.TrimSpace(content)
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in tracker output")
	}
	var u leadUpdate
	if err := json.Unmarshal([]byte(content[start:end+1]), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// fields flattens the lead object, including custom_fields, keeping only
// non-empty scalar values.
func (u *leadUpdate) fields() map[string]string {
	out := map[string]string{}
	for key, raw := range u.Lead {
		if key == "custom_fields" {
			var custom map[string]json.RawMessage
			if err := json.Unmarshal(raw, &custom); err == nil {
				for k, v := range custom {
					if s := scalarString(v); s != "" {
						out[k] = s
					}
				}
			}
			continue
		}
		if s := scalarString(raw); s != "" {
			out[key] = s
		}
	}
	return out
}

func scalarString(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}
