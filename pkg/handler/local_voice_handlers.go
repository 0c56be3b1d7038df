package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/service"
	"github.com/vocalabs/voca/pkg/speech"
)

// LocalVoiceHandler starts and stops the microphone conversation loop.
type LocalVoiceHandler struct {
	voice  *service.LocalVoiceService
	logger *slog.Logger
}

func NewLocalVoiceHandler(voice *service.LocalVoiceService, logger *slog.Logger) *LocalVoiceHandler {
	return &LocalVoiceHandler{voice: voice, logger: logger}
}

func (h *LocalVoiceHandler) RegisterRoutes(r *gin.RouterGroup) {
	lv := r.Group("/local-voice")
	{
		lv.POST("/start-continuous", h.Start)
		lv.POST("/stop-continuous", h.Stop)
		lv.GET("/status", h.Status)
	}
}

func (h *LocalVoiceHandler) Start(c *gin.Context) {
	err := h.voice.Start()
	switch {
	case err == nil:
		c.JSON(http.StatusOK, models.Response{Code: 0, Message: "Started", Data: h.voice.Status()})
	case errors.Is(err, service.ErrLocalVoiceRunning):
		c.JSON(http.StatusConflict, models.Response{Code: 409, Message: err.Error()})
	case errors.Is(err, speech.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, models.Response{Code: 503, Message: err.Error()})
	default:
		h.logger.Error("Failed to start local voice", "error", err)
		c.JSON(http.StatusInternalServerError, models.Response{Code: 500, Message: err.Error()})
	}
}

func (h *LocalVoiceHandler) Stop(c *gin.Context) {
	if err := h.voice.Stop(); err != nil {
		c.JSON(http.StatusConflict, models.Response{Code: 409, Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "Stopped", Data: h.voice.Status()})
}

func (h *LocalVoiceHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: h.voice.Status()})
}
