package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/utils"
)

var (
	ErrTwilioNotConfigured = errors.New("twilio is not configured")
	ErrCallNotActive       = errors.New("call is not active")
)

// Webhook paths served by the telephony handler.
const (
	VoiceWebhookPath   = "/webhook/voice"
	OutboundPath       = "/outbound"
	CallStatusPath     = "/call/status"
	ProcessSpeechPath  = "/process_speech/"
	twilioStatusHangup = "completed"
)

// twilioCallAPI is the part of the Twilio REST API this service uses.
type twilioCallAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	ListCall(params *openapi.ListCallParams) ([]openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// TwilioService places and ends calls through the Twilio REST API and lists
// provider call records for the history view.
type TwilioService struct {
	cfg       config.TwilioConfig
	baseURL   string
	api       twilioCallAPI
	validator *client.RequestValidator
	registry  *CallRegistry
	logger    *slog.Logger

	mu      sync.Mutex
	openers map[string]string
}

// NewTwilioService builds the REST client when credentials are present.
// Without them the service reports itself unconfigured.
func NewTwilioService(cfg *config.AppConfig, registry *CallRegistry) *TwilioService {
	s := &TwilioService{
		cfg:      cfg.Twilio,
		baseURL:  cfg.PublicBaseURL(),
		registry: registry,
		logger:   utils.GetLogger(),
		openers:  make(map[string]string),
	}
	if cfg.TwilioConfigured() {
		rc := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.Twilio.AccountSID,
			Password: cfg.Twilio.AuthToken,
		})
		s.api = rc.Api
		v := client.NewRequestValidator(cfg.Twilio.AuthToken)
		s.validator = &v
		s.logger.Info("Twilio client ready",
			"accountSid", utils.MaskSensitiveString(cfg.Twilio.AccountSID),
			"phoneNumber", cfg.Twilio.PhoneNumber)
	}
	return s
}

// Configured reports whether REST calls can be made.
func (s *TwilioService) Configured() bool {
	return s != nil && s.api != nil
}

// WebhookURLs returns the URLs to set on the Twilio phone number.
func (s *TwilioService) WebhookURLs() models.WebhookURLs {
	if s.baseURL == "" {
		return models.WebhookURLs{}
	}
	return models.WebhookURLs{
		Voice:         s.baseURL + VoiceWebhookPath,
		Outbound:      s.baseURL + OutboundPath,
		Status:        s.baseURL + CallStatusPath,
		ProcessSpeech: s.baseURL + ProcessSpeechPath + "{call_sid}",
	}
}

// PublicURL is the externally reachable URL of a request path, the URL
// Twilio signs webhook requests with.
func (s *TwilioService) PublicURL(requestURI string) string {
	return s.baseURL + requestURI
}

// PhoneNumber is the caller id used for outbound calls.
func (s *TwilioService) PhoneNumber() string { return s.cfg.PhoneNumber }

// ValidateSignature checks the X-Twilio-Signature of a webhook request.
// It always passes when validation is disabled.
func (s *TwilioService) ValidateSignature(url string, params map[string]string, signature string) bool {
	if !s.cfg.ValidateSignatures {
		return true
	}
	if s.validator == nil || signature == "" {
		return false
	}
	return s.validator.Validate(url, params, signature)
}

// MakeCall dials to and registers the call as initiated. A non-empty
// message replaces the greeting when the call is answered.
func (s *TwilioService) MakeCall(ctx context.Context, to, message string) (*models.CallRecord, error) {
	if !s.Configured() {
		return nil, ErrTwilioNotConfigured
	}
	if s.baseURL == "" {
		return nil, fmt.Errorf("%w: twilio.webhook_url is empty", ErrTwilioNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(s.cfg.PhoneNumber)
	params.SetUrl(s.baseURL + OutboundPath)
	params.SetMethod("POST")
	params.SetStatusCallback(s.baseURL + CallStatusPath)
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})

	call, err := s.api.CreateCall(params)
	if err != nil {
		return nil, fmt.Errorf("create call to %s: %w", to, err)
	}
	sid := deref(call.Sid)
	if sid == "" {
		return nil, errors.New("create call: provider returned no call sid")
	}

	rec := models.CallRecord{
		CallID:    sid,
		Status:    models.CallInitiated,
		Direction: models.DirectionOutboundAPI,
		From:      s.cfg.PhoneNumber,
		To:        to,
	}
	s.registry.Upsert(rec)
	if message = strings.TrimSpace(message); message != "" {
		s.mu.Lock()
		s.openers[sid] = message
		s.mu.Unlock()
	}
	s.logger.Info("Outbound call initiated", "to", to, "callSid", sid)
	out, _ := s.registry.Get(sid)
	return &out, nil
}

// TakeOpener returns and forgets the custom opening line of an outbound call.
func (s *TwilioService) TakeOpener(callID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.openers[callID]
	delete(s.openers, callID)
	return msg
}

// Hangup ends a tracked call.
func (s *TwilioService) Hangup(ctx context.Context, callID string) error {
	if !s.Configured() {
		return ErrTwilioNotConfigured
	}
	if _, ok := s.registry.Get(callID); !ok {
		return ErrCallNotActive
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus(twilioStatusHangup)
	if _, err := s.api.UpdateCall(callID, params); err != nil {
		return fmt.Errorf("hang up call %s: %w", callID, err)
	}
	s.registry.UpdateStatus(callID, models.CallCompleted)
	s.TakeOpener(callID)
	s.logger.Info("Call hung up", "callSid", callID)
	return nil
}

// HangupAll ends every tracked call and returns how many were ended.
// Individual failures are logged.
func (s *TwilioService) HangupAll(ctx context.Context) (int, error) {
	if !s.Configured() {
		return 0, ErrTwilioNotConfigured
	}
	ended := 0
	for _, rec := range s.registry.List() {
		if err := s.Hangup(ctx, rec.CallID); err != nil {
			s.logger.Warn("Failed to hang up call", "callSid", rec.CallID, "error", err)
			continue
		}
		ended++
	}
	s.logger.Info("All calls hung up", "count", ended)
	return ended, nil
}

// ListCalls implements CallProvider on top of the Twilio call list.
func (s *TwilioService) ListCalls(ctx context.Context, status models.CallStatus, limit int, after, before *time.Time) ([]models.CallSummary, error) {
	if !s.Configured() {
		return nil, ErrTwilioNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := &openapi.ListCallParams{}
	params.SetLimit(limit)
	if status != "" {
		params.SetStatus(string(status))
	}
	if after != nil {
		params.SetStartTimeAfter(*after)
	}
	if before != nil {
		params.SetStartTimeBefore(*before)
	}
	calls, err := s.api.ListCall(params)
	if err != nil {
		return nil, fmt.Errorf("list calls (status %q): %w", status, err)
	}
	out := make([]models.CallSummary, 0, len(calls))
	for i := range calls {
		out = append(out, summaryFromTwilio(&calls[i]))
	}
	return out, nil
}

func summaryFromTwilio(c *openapi.ApiV2010Call) models.CallSummary {
	sum := models.CallSummary{
		CallID:    deref(c.Sid),
		Status:    models.CallStatus(deref(c.Status)),
		Direction: deref(c.Direction),
		From:      deref(c.From),
		To:        deref(c.To),
		StartTime: parseTwilioTime(deref(c.StartTime)),
		EndTime:   parseTwilioTime(deref(c.EndTime)),
	}
	if d, err := strconv.Atoi(deref(c.Duration)); err == nil {
		sum.DurationSeconds = &d
		sum.DurationHuman = models.FormatDuration(d)
	}
	return sum
}

// parseTwilioTime accepts the RFC 2822 timestamps of the REST API.
func parseTwilioTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
