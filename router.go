package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/event"
	"github.com/vocalabs/voca/pkg/handler"
	"github.com/vocalabs/voca/pkg/models"
)

type Server struct {
	ginEngine *gin.Engine
	cfg       *config.AppConfig
	app       *App
	logger    *slog.Logger
	port      int
}

func NewServer(cfg *config.AppConfig, app *App) *Server {
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: allow local dashboards. Twilio webhooks carry no Origin
	// header and pass straight through.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			} else {
				// Reject unknown origins.
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		cfg:       cfg,
		app:       app,
		logger:    app.logger,
		port:      cfg.Port(),
	}

	server.SetupRoutes()

	return server
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host(), strconv.Itoa(s.cfg.Port()))
	srv := &http.Server{Addr: addr, Handler: s.ginEngine, ReadHeaderTimeout: 10 * time.Second}

	// Attempt to listen on port first; if occupied return error immediately
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}

	// Record the actual port (useful if we ever switch to :0).
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	}
	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) SetupRoutes() {
	a := s.app

	twilioHandler := handler.NewTwilioHandler(a.twilio, a.registry, a.turns, a.machine, a.emitter, a.metrics,
		s.cfg.TurnBudget(), s.logger)
	adminHandler := handler.NewAdminHandler(handler.AdminDeps{
		Registry:    a.registry,
		Turns:       a.turns,
		History:     a.history,
		Snapshots:   a.snapshots,
		Log:         a.convLog,
		Twilio:      a.twilio,
		LocalVoice:  a.localVoice,
		Replies:     a.replies,
		Recognizer:  a.recognizer,
		Synthesizer: a.synthesizer,
		LLMProvider: s.cfg.LLMProvider(),
	}, s.logger)
	promptHandler := handler.NewPromptHandler(a.prompts, s.logger)
	localVoiceHandler := handler.NewLocalVoiceHandler(a.localVoice, s.logger)

	s.ginEngine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	s.ginEngine.GET("/metrics", gin.WrapH(a.metrics.Handler()))

	// Twilio voice webhooks
	// /webhook/voice, /outbound, /process_speech/:call_sid, /call/status
	twilioHandler.RegisterWebhooks(s.ginEngine)

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info for clients and for configuring the phone number
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := s.cfg.Host()
		if host == "0.0.0.0" || host == "::" {
			host = "127.0.0.1"
		}
		hostPort := net.JoinHostPort(host, strconv.Itoa(s.port))
		c.JSON(http.StatusOK, models.RuntimeInfo{
			HTTPBaseURL: "http://" + hostPort,
			WSBaseURL:   "ws://" + hostPort,
			Port:        s.port,
			Webhooks:    a.twilio.WebhookURLs(),
		})
	})

	// Event stream: conversation.log, call.statusChanged, turn.completed, localVoice.stateChanged
	apiGroup.GET("/events/ws", event.NewWSHandler(a.emitter).Handle)

	twilioHandler.RegisterRoutes(apiGroup)
	adminHandler.RegisterRoutes(apiGroup)
	promptHandler.RegisterRoutes(apiGroup)
	localVoiceHandler.RegisterRoutes(apiGroup)
}
