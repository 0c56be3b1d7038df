package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/dialogue"
	"github.com/vocalabs/voca/pkg/event"
	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/service"
)

const (
	listeningPrompt    = "I'm listening..."
	unavailableMessage = "Service temporarily unavailable"
	twimlContentType   = "text/xml; charset=utf-8"
)

// callForm holds the call parameters Twilio posts to every voice webhook.
type callForm struct {
	CallSid    string `form:"CallSid"`
	CallStatus string `form:"CallStatus"`
	Direction  string `form:"Direction"`
	From       string `form:"From"`
	To         string `form:"To"`
}

// TwilioHandler serves the Twilio voice webhooks and renders dialogue
// actions as TwiML.
type TwilioHandler struct {
	twilio   *service.TwilioService
	registry *service.CallRegistry
	turns    *service.TurnService
	machine  *dialogue.Machine
	emitter  *event.Emitter
	metrics  *service.Metrics
	logger   *slog.Logger

	turnBudget time.Duration
}

// NewTwilioHandler creates the handler. turnBudget bounds the work behind
// one webhook response; zero selects config.DefaultTurnBudget.
func NewTwilioHandler(twilio *service.TwilioService, registry *service.CallRegistry, turns *service.TurnService,
	machine *dialogue.Machine, emitter *event.Emitter, metrics *service.Metrics, turnBudget time.Duration,
	logger *slog.Logger) *TwilioHandler {
	if turnBudget <= 0 {
		turnBudget = config.DefaultTurnBudget
	}
	return &TwilioHandler{
		twilio:     twilio,
		registry:   registry,
		turns:      turns,
		machine:    machine,
		emitter:    emitter,
		metrics:    metrics,
		logger:     logger,
		turnBudget: turnBudget,
	}
}

// turnContext bounds one turn so that the reply, or its fallback, is spoken
// before Twilio abandons the webhook.
func (h *TwilioHandler) turnContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.turnBudget)
}

// RegisterWebhooks registers the webhook routes at the paths configured on
// the Twilio phone number.
func (h *TwilioHandler) RegisterWebhooks(r gin.IRouter) {
	hooks := r.Group("", h.verifySignature)
	{
		hooks.POST(service.VoiceWebhookPath, h.IncomingCall)
		hooks.POST(service.OutboundPath, h.OutboundAnswered)
		hooks.POST(service.ProcessSpeechPath+":call_sid", h.ProcessSpeech)
		hooks.POST(service.CallStatusPath, h.CallStatus)
	}
}

// RegisterRoutes registers the call administration and JSON turn routes.
func (h *TwilioHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/turns", h.Turn)

	tw := r.Group("/twilio")
	{
		tw.POST("/make-call", h.MakeCall)
		tw.POST("/hangup-all", h.HangupAll)
		tw.GET("/status", h.Status)
		tw.GET("/configured", h.Configured)
		tw.GET("/webhook-urls", h.WebhookURLs)
		tw.GET("/country-codes", h.CountryCodes)
	}
}

// verifySignature rejects webhook requests whose X-Twilio-Signature does not
// match when signature validation is enabled.
func (h *TwilioHandler) verifySignature(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid form: " + err.Error()})
		return
	}
	params := make(map[string]string, len(c.Request.PostForm))
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	url := h.twilio.PublicURL(c.Request.URL.RequestURI())
	if !h.twilio.ValidateSignature(url, params, c.GetHeader("X-Twilio-Signature")) {
		h.logger.Warn("Rejected webhook with invalid signature", "path", c.FullPath())
		c.AbortWithStatusJSON(http.StatusForbidden, models.Response{Code: 403, Message: "invalid signature"})
		return
	}
	c.Next()
}

// IncomingCall answers an inbound call with the greeting and starts listening.
func (h *TwilioHandler) IncomingCall(c *gin.Context) {
	if !h.twilio.Configured() {
		h.unavailable(c)
		return
	}
	var form callForm
	_ = c.ShouldBind(&form)
	if form.CallSid == "" {
		h.writeTwiML(c, http.StatusOK, &twiml.VoiceSay{Message: service.DefaultGreeting})
		return
	}

	h.registry.Upsert(models.CallRecord{
		CallID:    form.CallSid,
		Status:    callStatusOr(form.CallStatus, models.CallRinging),
		Direction: models.DirectionInbound,
		From:      form.From,
		To:        form.To,
	})
	h.machine.Start(form.CallSid)
	h.logger.Info("Incoming call", "callSid", form.CallSid, "from", form.From)

	ctx, cancel := h.turnContext(c)
	defer cancel()
	greeting := h.turns.GenerateGreeting(ctx, form.CallSid, c.Query("tenant_id"))
	h.writeTwiML(c, http.StatusOK, h.greet(form.CallSid, greeting)...)
}

// OutboundAnswered speaks the opener of an outbound call, or a greeting when
// none was given, and starts listening.
func (h *TwilioHandler) OutboundAnswered(c *gin.Context) {
	if !h.twilio.Configured() {
		h.unavailable(c)
		return
	}
	var form callForm
	_ = c.ShouldBind(&form)
	if form.CallSid == "" {
		h.writeTwiML(c, http.StatusOK, &twiml.VoiceSay{Message: service.DefaultGreeting})
		return
	}

	h.registry.Upsert(models.CallRecord{
		CallID:    form.CallSid,
		Status:    callStatusOr(form.CallStatus, models.CallInProgress),
		Direction: models.DirectionOutboundAPI,
		From:      form.From,
		To:        form.To,
	})
	h.machine.Start(form.CallSid)

	ctx, cancel := h.turnContext(c)
	defer cancel()
	tenant := c.Query("tenant_id")
	var greeting string
	if opener := h.twilio.TakeOpener(form.CallSid); opener != "" {
		greeting = h.turns.Greet(ctx, form.CallSid, tenant, opener)
	} else {
		greeting = h.turns.GenerateGreeting(ctx, form.CallSid, tenant)
	}
	h.logger.Info("Outbound call answered", "callSid", form.CallSid, "to", form.To)
	h.writeTwiML(c, http.StatusOK, h.greet(form.CallSid, greeting)...)
}

// ProcessSpeech runs one recognized utterance through the dialogue machine
// and answers with the resulting actions.
func (h *TwilioHandler) ProcessSpeech(c *gin.Context) {
	if !h.twilio.Configured() {
		h.unavailable(c)
		return
	}
	callID := c.Param("call_sid")
	if _, ok := h.registry.Get(callID); !ok {
		c.JSON(http.StatusNotFound, models.Response{Code: 404, Message: "Call not found"})
		return
	}

	var ev models.TurnEvent
	if err := c.ShouldBind(&ev); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	ev.ConversationID = callID
	if err := ev.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: err.Error()})
		return
	}
	h.logger.Info("Speech received", "callSid", callID, "text", ev.RecognizedText, "confidence", ev.Confidence)

	ctx, cancel := h.turnContext(c)
	defer cancel()
	res, err := h.handleTurn(ctx, ev, c.Query("tenant_id"))
	if err != nil {
		h.logger.Error("Failed to process speech", "callSid", callID, "error", err)
		h.writeTwiML(c, http.StatusOK, h.render(callID, []dialogue.Action{
			dialogue.Speak(h.machine.Prompts().ProcessingFail),
			dialogue.Listen(h.machine.ListenTimeout()),
		})...)
		return
	}
	h.writeTwiML(c, http.StatusOK, h.render(callID, res.Actions)...)
}

func (h *TwilioHandler) handleTurn(ctx context.Context, ev models.TurnEvent, tenant string) (dialogue.Result, error) {
	pending := ev.PendingField
	if pending == "" {
		pending = h.turns.PendingField(ctx, ev.ConversationID)
	}
	var pendingValue string
	if sess, err := h.turns.Session(ctx, ev.ConversationID); err == nil {
		pendingValue = sess.Fields[pending]
	}
	if ev.TenantID != "" {
		tenant = ev.TenantID
	}

	res, err := h.machine.Handle(ctx, dialogue.Event{
		CallID:       ev.ConversationID,
		TenantID:     tenant,
		Text:         ev.RecognizedText,
		Confidence:   ev.Confidence,
		PendingField: pending,
		PendingValue: pendingValue,
	})
	if err != nil {
		return res, err
	}
	h.metrics.ObserveDialogueState(string(res.State))
	if h.emitter != nil {
		h.emitter.Emit(event.TurnCompletedEvent{
			CallID:       ev.ConversationID,
			State:        string(res.State),
			Confidence:   ev.Confidence,
			UnclearCount: res.Retry.UnclearCount,
			Terminate:    res.Terminates(),
		})
	}
	return res, nil
}

// Turn processes a JSON turn event for transports other than Twilio.
func (h *TwilioHandler) Turn(c *gin.Context) {
	var ev models.TurnEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	if err := ev.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: err.Error()})
		return
	}
	ctx, cancel := h.turnContext(c)
	defer cancel()
	res, err := h.handleTurn(ctx, ev, "")
	if err != nil {
		h.logger.Error("Failed to process turn", "conversationID", ev.ConversationID, "error", err)
		c.JSON(http.StatusInternalServerError, models.Response{Code: 500, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: res.TurnResult()})
}

// CallStatus records a status callback. A terminal status ends the
// conversation and drops its retry state.
func (h *TwilioHandler) CallStatus(c *gin.Context) {
	var form callForm
	_ = c.ShouldBind(&form)
	if form.CallSid == "" || form.CallStatus == "" {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "CallSid and CallStatus are required"})
		return
	}

	status := models.CallStatus(form.CallStatus)
	if h.registry.UpdateStatus(form.CallSid, status) {
		h.turns.EndConversation(c.Request.Context(), form.CallSid)
		h.machine.Forget(form.CallSid)
		h.twilio.TakeOpener(form.CallSid)
		h.logger.Info("Call ended", "callSid", form.CallSid, "status", status)
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok"})
}

// greet speaks the opening line and listens for the first utterance.
func (h *TwilioHandler) greet(callID, greeting string) []twiml.Element {
	return h.render(callID, []dialogue.Action{
		dialogue.Speak(greeting),
		dialogue.Listen(h.machine.ListenTimeout()),
	})
}

// render translates dialogue actions into TwiML verbs. Listening gathers
// speech and redirects back to the speech webhook when the caller is silent.
func (h *TwilioHandler) render(callID string, actions []dialogue.Action) []twiml.Element {
	verbs := make([]twiml.Element, 0, len(actions)+1)
	action := service.ProcessSpeechPath + callID
	for _, a := range actions {
		switch a.Kind {
		case dialogue.ActionSpeak:
			if a.Text != "" {
				verbs = append(verbs, &twiml.VoiceSay{Message: a.Text})
			}
		case dialogue.ActionListen:
			verbs = append(verbs,
				&twiml.VoiceGather{
					Input:         "speech",
					Timeout:       strconv.Itoa(timeoutSeconds(a.Timeout)),
					SpeechTimeout: "auto",
					Action:        action,
					Method:        http.MethodPost,
					InnerElements: []twiml.Element{&twiml.VoiceSay{Message: listeningPrompt}},
				},
				&twiml.VoiceRedirect{Url: action},
			)
		case dialogue.ActionTerminate:
			verbs = append(verbs, &twiml.VoiceHangup{})
		}
	}
	return verbs
}

func (h *TwilioHandler) unavailable(c *gin.Context) {
	h.writeTwiML(c, http.StatusServiceUnavailable, &twiml.VoiceSay{Message: unavailableMessage})
}

func (h *TwilioHandler) writeTwiML(c *gin.Context, status int, verbs ...twiml.Element) {
	doc, err := twiml.Voice(verbs)
	if err != nil {
		h.logger.Error("Failed to render TwiML", "error", err)
		c.JSON(http.StatusInternalServerError, models.Response{Code: 500, Message: err.Error()})
		return
	}
	c.Data(status, twimlContentType, []byte(doc))
}

func timeoutSeconds(d time.Duration) int {
	if d < time.Second {
		return 1
	}
	return int(d / time.Second)
}

func callStatusOr(v string, def models.CallStatus) models.CallStatus {
	if v == "" {
		return def
	}
	return models.CallStatus(v)
}

// MakeCall places an outbound call.
func (h *TwilioHandler) MakeCall(c *gin.Context) {
	var req models.MakeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	rec, err := h.twilio.MakeCall(c.Request.Context(), req.To, req.Message)
	if err != nil {
		if errors.Is(err, service.ErrTwilioNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, models.Response{Code: 503, Message: err.Error()})
			return
		}
		h.logger.Error("Failed to make call", "to", req.To, "error", err)
		c.JSON(http.StatusBadGateway, models.Response{Code: 502, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: rec})
}

// HangupAll ends every active call.
func (h *TwilioHandler) HangupAll(c *gin.Context) {
	n, err := h.twilio.HangupAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, models.Response{Code: 503, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: gin.H{"ended": n}})
}

func (h *TwilioHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: gin.H{
		"configured":   h.twilio.Configured(),
		"phone_number": h.twilio.PhoneNumber(),
		"active_calls": h.registry.List(),
	}})
}

func (h *TwilioHandler) Configured(c *gin.Context) {
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: gin.H{"configured": h.twilio.Configured()}})
}

func (h *TwilioHandler) WebhookURLs(c *gin.Context) {
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: h.twilio.WebhookURLs()})
}

func (h *TwilioHandler) CountryCodes(c *gin.Context) {
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: models.CountryCodes})
}
