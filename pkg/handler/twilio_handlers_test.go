package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/dialogue"
	"github.com/vocalabs/voca/pkg/event"
	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/service"
)

func answer(t *testing.T, env *testEnv, callSid string) {
	t.Helper()
	w := postForm(env.router, "/webhook/voice", url.Values{"CallSid": {callSid}, "From": {"+15550101"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func speak(env *testEnv, callSid, text, confidence string) string {
	w := postForm(env.router, "/process_speech/"+callSid, url.Values{
		"CallSid":      {callSid},
		"SpeechResult": {text},
		"Confidence":   {confidence},
	})
	return w.Body.String()
}

func TestWebhooks_UnavailableWithoutCredentials(t *testing.T) {
	env := newTestEnv(t, config.TwilioConfig{})
	for _, path := range []string{"/webhook/voice", "/outbound", "/process_speech/CA1"} {
		w := postForm(env.router, path, url.Values{"CallSid": {"CA1"}})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Contains(t, w.Body.String(), "<Say>Service temporarily unavailable</Say>", path)
	}
	assert.Equal(t, 0, env.registry.Count())
}

func TestIncomingCall_GreetsAndGathers(t *testing.T) {
	env := newTestEnv(t, configuredTwilio())

	w := postForm(env.router, "/webhook/voice", url.Values{
		"CallSid": {"CA1"}, "From": {"+15550101"}, "To": {"+15550100"}, "CallStatus": {"ringing"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/xml")

	body := w.Body.String()
	assert.Contains(t, body, "<Response>")
	assert.Contains(t, body, "<Say>"+service.DefaultGreeting+"</Say>")
	assert.Contains(t, body, "<Gather")
	assert.Contains(t, body, `input="speech"`)
	assert.Contains(t, body, `action="/process_speech/CA1"`)
	assert.Contains(t, body, "listening...")
	assert.Contains(t, body, "<Redirect>/process_speech/CA1</Redirect>")

	rec, ok := env.registry.Get("CA1")
	require.True(t, ok)
	assert.Equal(t, models.CallRinging, rec.Status)
	assert.Equal(t, models.DirectionInbound, rec.Direction)
	assert.Equal(t, "+15550101", rec.From)

	st, ok := env.machine.RetryState("CA1")
	require.True(t, ok)
	assert.Equal(t, dialogue.StateNormal, st.State)

	sess, err := env.turns.Session(context.Background(), "CA1")
	require.NoError(t, err)
	assert.True(t, sess.GreetingSent)
}

func TestOutboundAnswered_RegistersOutboundCall(t *testing.T) {
	env := newTestEnv(t, configuredTwilio())

	w := postForm(env.router, "/outbound", url.Values{"CallSid": {"CA2"}, "To": {"+15550199"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Say>"+service.DefaultGreeting+"</Say>")
	assert.Contains(t, w.Body.String(), `action="/process_speech/CA2"`)

	rec, ok := env.registry.Get("CA2")
	require.True(t, ok)
	assert.Equal(t, models.CallInProgress, rec.Status)
	assert.Equal(t, models.DirectionOutboundAPI, rec.Direction)
}

func TestProcessSpeech_UnknownCall(t *testing.T) {
	env := newTestEnv(t, configuredTwilio())
	w := postForm(env.router, "/process_speech/CA404", url.Values{"SpeechResult": {"hello"}, "Confidence": {"0.9"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProcessSpeech_ClearUtterance(t *testing.T) {
	env := newTestEnv(t, configuredTwilio())
	answer(t, env, "CA1")

	var mu sync.Mutex
	var completed []event.TurnCompletedEvent
	env.emitter.On(event.TurnCompleted, func(ev event.Event) {
		mu.Lock()
		completed = append(completed, ev.(event.TurnCompletedEvent))
		mu.Unlock()
	})

	body := speak(env, "CA1", "I'd like to book a table for two tonight", "0.92")
	assert.Contains(t, body, "<Say>Sure, for what time?</Say>")
	assert.Contains(t, body, "<Gather")
	assert.NotContains(t, body, "<Hangup")

	sess, err := env.turns.Session(context.Background(), "CA1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, "I'd like to book a table for two tonight", sess.Turns[0].Content)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, completed, 1)
	assert.Equal(t, "CA1", completed[0].CallID)
	assert.Equal(t, string(dialogue.StateNormal), completed[0].State)
	assert.InDelta(t, 0.92, completed[0].Confidence, 1e-9)
	assert.False(t, completed[0].Terminate)
}

func TestProcessSpeech_UnclearUtterancesEscalate(t *testing.T) {
	env := newTestEnv(t, configuredTwilio())
	answer(t, env, "CA1")

	// the name is still pending, so the second miss asks for spelling
	assert.Contains(t, speak(env, "CA1", "mumble", "0.2"), "Please speak clearly.")
	assert.Contains(t, speak(env, "CA1", "", "0"), "spell your name")
	body := speak(env, "CA1", "hmm", "0.3")
	assert.Contains(t, body, "trouble getting your name")
	assert.Contains(t, body, "<Gather")

	st, ok := env.machine.RetryState("CA1")
	require.True(t, ok)
	assert.Equal(t, dialogue.StateNormal, st.State)
	assert.Equal(t, 0, st.UnclearCount)

	env.replies.mu.Lock()
	defer env.replies.mu.Unlock()
	assert.Empty(t, env.replies.requests, "unclear input never reaches the model")
}

func TestProcessSpeech_DeclineHangsUp(t *testing.T) {
	env := newTestEnv(t, configuredTwilio())
	answer(t, env, "CA1")
	env.replies.setReply("Thank you for calling, have a great day!")

	body := speak(env, "CA1", "no thanks, that's all", "0.95")
	assert.Contains(t, body, "have a great day!</Say>")
	assert.Contains(t, body, "<Hangup")
	assert.NotContains(t, body, "<Gather")

	st, _ := env.machine.RetryState("CA1")
	assert.Equal(t, dialogue.StateTerminating, st.State)

	// further input keeps hanging up without another reply
	body = speak(env, "CA1", "wait, one more thing", "0.95")
	assert.Contains(t, body, "<Hangup")
	assert.NotContains(t, body, "<Say>")
}

func TestProcessSpeech_SlowModelFallsBackWithinBudget(t *testing.T) {
	env := newTestEnvWithBudget(t, configuredTwilio(), 50*time.Millisecond)
	answer(t, env, "CA1")
	env.replies.mu.Lock()
	env.replies.stalled = true
	env.replies.mu.Unlock()

	start := time.Now()
	body := speak(env, "CA1", "I'd like to book a table for two tonight", "0.92")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, body, "Could you please repeat that?</Say>")
	assert.Contains(t, body, "<Gather")

	// the caller's words are still saved after the deadline fired
	sess, err := env.turns.Session(context.Background(), "CA1")
	require.NoError(t, err)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, models.RoleUser, sess.Turns[0].Role)
}

func TestProcessSpeech_RejectsBadConfidence(t *testing.T) {
	env := newTestEnv(t, configuredTwilio())
	answer(t, env, "CA1")

	w := postForm(env.router, "/process_speech/CA1", url.Values{"SpeechResult": {"hi"}, "Confidence": {"1.5"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = postForm(env.router, "/process_speech/CA1", url.Values{"SpeechResult": {"hi"}, "Confidence": {"high"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sess, err := env.turns.Session(context.Background(), "CA1")
	require.NoError(t, err)
	assert.Empty(t, sess.Turns)
}

func TestCallStatus_TerminalStatusCleansUp(t *testing.T) {
	env := newTestEnv(t, configuredTwilio())
	answer(t, env, "CA1")
	speak(env, "CA1", "I'd like to book a table for two tonight", "0.9")

	w := postForm(env.router, "/call/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"in-progress"}})
	require.Equal(t, http.StatusOK, w.Code)
	rec, ok := env.registry.Get("CA1")
	require.True(t, ok)
	assert.Equal(t, models.CallInProgress, rec.Status)

	w = postForm(env.router, "/call/status", url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.registry.Count())
	assert.Equal(t, 0, env.turns.ActiveSessions(context.Background()))
	_, ok = env.machine.RetryState("CA1")
	assert.False(t, ok)

	w = postForm(env.router, "/call/status", url.Values{"CallSid": {"CA1"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// twilioSignature signs a request the way Twilio does: HMAC-SHA1 over the
// URL followed by the sorted form parameters.
func twilioSignature(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := u
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestWebhooks_SignatureValidation(t *testing.T) {
	tw := configuredTwilio()
	tw.ValidateSignatures = true
	env := newTestEnv(t, tw)
	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}

	w := postForm(env.router, "/call/status", form)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = postForm(env.router, "/call/status", form, "X-Twilio-Signature", "bm90IGEgc2lnbmF0dXJl")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, env.registry.Count())

	sig := twilioSignature(testAuthToken, "https://voca.example.com/call/status", form)
	w = postForm(env.router, "/call/status", form, "X-Twilio-Signature", sig)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.registry.Count())
}

func TestTurnEndpoint(t *testing.T) {
	env := newTestEnv(t, config.TwilioConfig{})
	ctx := context.Background()

	w := doJSON(env.router, http.MethodPost, "/api/turns", `{"conversation_id": " ", "recognized_text": "hi", "confidence": 0.9}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(env.router, http.MethodPost, "/api/turns", `{"conversation_id": "web-1", "recognized_text": "hi", "confidence": -1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(env.router, http.MethodPost, "/api/turns", `{"conversation_id": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, env.turns.ActiveSessions(ctx), "rejected input creates no session")

	w = doJSON(env.router, http.MethodPost, "/api/turns", `{"conversation_id": "web-1", "recognized_text": "Do you have rooms on Friday?", "confidence": 0.88}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res models.TurnResult
	decode(t, w, &res)
	assert.Equal(t, "Sure, for what time?", res.ReplyText)
	assert.True(t, res.ContinueListening)
	assert.False(t, res.Terminate)
	assert.Equal(t, "NORMAL", res.State)
}

func TestTwilioAdminRoutes(t *testing.T) {
	env := newTestEnv(t, config.TwilioConfig{})

	w := doJSON(env.router, http.MethodPost, "/api/twilio/make-call", `{"to": "+15550199"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = doJSON(env.router, http.MethodPost, "/api/twilio/make-call", `{"message": "hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(env.router, http.MethodPost, "/api/twilio/hangup-all", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var configured struct {
		Configured bool `json:"configured"`
	}
	decode(t, doJSON(env.router, http.MethodGet, "/api/twilio/configured", ""), &configured)
	assert.False(t, configured.Configured)

	env = newTestEnv(t, configuredTwilio())
	decode(t, doJSON(env.router, http.MethodGet, "/api/twilio/configured", ""), &configured)
	assert.True(t, configured.Configured)

	var urls models.WebhookURLs
	decode(t, doJSON(env.router, http.MethodGet, "/api/twilio/webhook-urls", ""), &urls)
	assert.Equal(t, "https://voca.example.com/webhook/voice", urls.Voice)
	assert.Equal(t, "https://voca.example.com/call/status", urls.Status)

	var codes []models.CountryCode
	decode(t, doJSON(env.router, http.MethodGet, "/api/twilio/country-codes", ""), &codes)
	assert.Contains(t, codes, models.CountryCode{Name: "United Kingdom (+44)", Code: "+44"})

	answer(t, env, "CA1")
	var status struct {
		Configured  bool                `json:"configured"`
		PhoneNumber string              `json:"phone_number"`
		ActiveCalls []models.CallRecord `json:"active_calls"`
	}
	decode(t, doJSON(env.router, http.MethodGet, "/api/twilio/status", ""), &status)
	assert.Equal(t, "+15550100", status.PhoneNumber)
	require.Len(t, status.ActiveCalls, 1)
	assert.Equal(t, "CA1", status.ActiveCalls[0].CallID)
}
