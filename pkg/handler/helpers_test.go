package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/dialogue"
	"github.com/vocalabs/voca/pkg/event"
	"github.com/vocalabs/voca/pkg/service"
)

const testAuthToken = "test-auth-token"

// stubReplies answers every turn with a fixed reply and fails greetings, so
// greetings fall back to the default. A stalled stub blocks until the turn
// context ends, like a model that never answers.
type stubReplies struct {
	mu       sync.Mutex
	reply    string
	fields   map[string]string
	stalled  bool
	requests []service.ReplyRequest
}

func (s *stubReplies) Reply(ctx context.Context, req service.ReplyRequest) (*service.ReplyResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	stalled := s.stalled
	s.mu.Unlock()
	if stalled {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &service.ReplyResult{Reply: s.reply, Fields: s.fields}, nil
}

func (s *stubReplies) Complete(context.Context, string, string) (string, error) {
	return "", errors.New("no model")
}

func (s *stubReplies) setReply(reply string) {
	s.mu.Lock()
	s.reply = reply
	s.mu.Unlock()
}

type testEnv struct {
	router   *gin.Engine
	cfg      *config.AppConfig
	registry *service.CallRegistry
	turns    *service.TurnService
	machine  *dialogue.Machine
	twilio   *service.TwilioService
	replies  *stubReplies
	emitter  *event.Emitter
	metrics  *service.Metrics
	logger   *slog.Logger
}

func configuredTwilio() config.TwilioConfig {
	return config.TwilioConfig{
		AccountSID:  "ACtest",
		AuthToken:   testAuthToken,
		PhoneNumber: "+15550100",
		WebhookURL:  "https://voca.example.com/webhook/voice",
	}
}

func newTestEnv(t *testing.T, tw config.TwilioConfig) *testEnv {
	t.Helper()
	return newTestEnvWithBudget(t, tw, 0)
}

func newTestEnvWithBudget(t *testing.T, tw config.TwilioConfig, turnBudget time.Duration) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.AppConfig{Twilio: tw}
	emitter := event.NewEmitter()
	metrics := service.NewMetrics("test")
	registry := service.NewCallRegistry(emitter, metrics)
	replies := &stubReplies{reply: "Sure, for what time?"}
	turns := service.NewTurnService(service.NewMemorySessionStore(0), service.NewPromptService(nil, ""), replies,
		service.TurnServiceOptions{Metrics: metrics})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		router:   gin.New(),
		cfg:      cfg,
		registry: registry,
		turns:    turns,
		machine:  dialogue.NewMachine(turns, dialogue.Options{Logger: logger}),
		twilio:   service.NewTwilioService(cfg, registry),
		replies:  replies,
		emitter:  emitter,
		metrics:  metrics,
		logger:   logger,
	}

	h := NewTwilioHandler(env.twilio, registry, turns, env.machine, emitter, metrics, turnBudget, logger)
	h.RegisterWebhooks(env.router)
	h.RegisterRoutes(env.router.Group("/api"))
	return env
}

func postForm(r http.Handler, path string, form url.Values, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}
