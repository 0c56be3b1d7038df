package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/service"
	"github.com/vocalabs/voca/pkg/speech"
)

const defaultLogLimit = 100

// ReadyChecker reports whether a capability can serve requests.
type ReadyChecker interface {
	Ready() bool
}

// AdminDeps are the services behind the status and history endpoints.
// Every field except Registry and Turns may be nil.
type AdminDeps struct {
	Registry    *service.CallRegistry
	Turns       *service.TurnService
	History     *service.CallHistoryService
	Snapshots   *service.SnapshotService
	Log         *service.ConversationLog
	Twilio      *service.TwilioService
	LocalVoice  *service.LocalVoiceService
	Replies     ReadyChecker
	Recognizer  speech.Recognizer
	Synthesizer speech.Synthesizer
	LLMProvider string
}

// AdminHandler serves service status, call history, the conversation log and
// stored conversations.
type AdminHandler struct {
	deps   AdminDeps
	logger *slog.Logger
}

func NewAdminHandler(deps AdminDeps, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{deps: deps, logger: logger}
}

// RegisterRoutes registers admin routes
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/status", h.Status)
	r.GET("/calls/history", h.CallHistory)
	r.GET("/logs", h.Logs)
	r.GET("/conversations/:call_id", h.Conversation)
}

func (h *AdminHandler) Status(c *gin.Context) {
	d := h.deps
	st := models.ServiceStatus{
		ActiveCalls:      d.Registry.Count(),
		ActiveSessions:   d.Turns.ActiveSessions(c.Request.Context()),
		ModelsReady:      d.Replies != nil && d.Replies.Ready(),
		RecognizerReady:  d.Recognizer != nil && d.Recognizer.IsReady(),
		SynthesizerReady: d.Synthesizer != nil && d.Synthesizer.IsReady(),
		TwilioConfigured: d.Twilio.Configured(),
		LocalVoice:       d.LocalVoice != nil && d.LocalVoice.Running(),
		LLMProvider:      d.LLMProvider,
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: st})
}

// CallHistory merges provider call records with locally tracked calls.
//
// Query params:
// - limit: records per status query (default 50, max 1000)
// - start_after, start_before: RFC 3339 timestamps or YYYY-MM-DD dates
func (h *AdminHandler) CallHistory(c *gin.Context) {
	var q service.HistoryQuery
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "limit must be a non-negative integer"})
			return
		}
		q.Limit = n
	}
	var err error
	if q.StartAfter, err = parseTimeParam(c.Query("start_after")); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "start_after: " + err.Error()})
		return
	}
	if q.StartBefore, err = parseTimeParam(c.Query("start_before")); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "start_before: " + err.Error()})
		return
	}

	history, err := h.deps.History.FetchHistory(c.Request.Context(), q)
	if err != nil {
		if errors.Is(err, service.ErrCallProviderMissing) {
			c.JSON(http.StatusServiceUnavailable, models.Response{Code: 503, Message: err.Error()})
			return
		}
		h.logger.Error("Failed to fetch call history", "error", err)
		c.JSON(http.StatusInternalServerError, models.Response{Code: 500, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: history})
}

func (h *AdminHandler) Logs(c *gin.Context) {
	limit := defaultLogLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: h.deps.Log.Recent(limit)})
}

// Conversation returns the stored transcript and lead data of a call.
func (h *AdminHandler) Conversation(c *gin.Context) {
	callID := c.Param("call_id")
	rec, err := h.deps.Snapshots.Load(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, service.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, models.Response{Code: 404, Message: err.Error()})
			return
		}
		h.logger.Error("Failed to load conversation", "callSid", callID, "error", err)
		c.JSON(http.StatusInternalServerError, models.Response{Code: 500, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: rec})
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.New("expected RFC 3339 timestamp or YYYY-MM-DD date")
}
