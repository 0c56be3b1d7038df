package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vocalabs/voca/pkg/models"
	"github.com/vocalabs/voca/pkg/service"
)

// PromptHandler provides HTTP handlers for tenant prompt administration
type PromptHandler struct {
	prompts *service.PromptService
	logger  *slog.Logger
}

func NewPromptHandler(prompts *service.PromptService, logger *slog.Logger) *PromptHandler {
	return &PromptHandler{prompts: prompts, logger: logger}
}

// RegisterRoutes registers prompt routes
func (h *PromptHandler) RegisterRoutes(r *gin.RouterGroup) {
	prompts := r.Group("/prompts")
	{
		prompts.GET("", h.Get)
		prompts.PUT("", h.Update)
		prompts.DELETE("", h.Reset)
	}
}

// Get returns the tenant's prompt, or the built-in one.
func (h *PromptHandler) Get(c *gin.Context) {
	cfg := h.prompts.Get(c.Request.Context(), c.Query("tenant_id"))
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "ok", Data: cfg})
}

func (h *PromptHandler) Update(c *gin.Context) {
	var req models.UpdatePromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: "Invalid request: " + err.Error()})
		return
	}
	if req.TenantID == "" {
		req.TenantID = c.Query("tenant_id")
	}
	if _, err := h.prompts.Update(c.Request.Context(), req.TenantID, req.SystemPrompt, req.Name, req.WelcomeMessage); err != nil {
		h.writeError(c, err)
		return
	}
	cfg := h.prompts.Get(c.Request.Context(), req.TenantID)
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "Updated", Data: cfg})
}

// Reset restores the built-in prompt.
func (h *PromptHandler) Reset(c *gin.Context) {
	tenant := c.Query("tenant_id")
	if _, err := h.prompts.Reset(c.Request.Context(), tenant); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.Response{Code: 0, Message: "Reset", Data: h.prompts.Get(c.Request.Context(), tenant)})
}

func (h *PromptHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyPrompt):
		c.JSON(http.StatusBadRequest, models.Response{Code: 400, Message: err.Error()})
	case errors.Is(err, service.ErrPromptStoreMissing):
		c.JSON(http.StatusServiceUnavailable, models.Response{Code: 503, Message: err.Error()})
	default:
		h.logger.Error("Failed to save prompt", "error", err)
		c.JSON(http.StatusInternalServerError, models.Response{Code: 500, Message: err.Error()})
	}
}
