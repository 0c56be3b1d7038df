package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/vocalabs/voca/pkg/config"
	"github.com/vocalabs/voca/pkg/db"
	"github.com/vocalabs/voca/pkg/dialogue"
	"github.com/vocalabs/voca/pkg/event"
	"github.com/vocalabs/voca/pkg/service"
	"github.com/vocalabs/voca/pkg/speech"
	"github.com/vocalabs/voca/pkg/utils"
	"github.com/vocalabs/voca/pkg/vad"
)

// App holds the long-lived services shared by the HTTP handlers.
type App struct {
	cfg         *config.AppConfig
	db          *gorm.DB
	redis       *redis.Client
	memStore    *service.MemorySessionStore
	emitter     *event.Emitter
	metrics     *service.Metrics
	convLog     *service.ConversationLog
	prompts     *service.PromptService
	snapshots   *service.SnapshotService
	replies     *service.ReplyService
	turns       *service.TurnService
	machine     *dialogue.Machine
	registry    *service.CallRegistry
	twilio      *service.TwilioService
	history     *service.CallHistoryService
	recognizer  speech.Recognizer
	synthesizer speech.Synthesizer
	localVoice  *service.LocalVoiceService
	logger      *slog.Logger
}

// NewApp wires every service from cfg. Optional backends that fail to start
// are logged and left out; the affected features degrade to defaults.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	a := &App{
		cfg:     cfg,
		emitter: event.Global(),
		metrics: service.NewMetrics(""),
		logger:  utils.GetLogger(),
	}
	a.convLog = service.NewConversationLog(0, a.emitter)

	gdb, err := db.Open(cfg.StorageDriver(), cfg.StorageDSN())
	if err == nil {
		err = db.Migrate(gdb)
	}
	if err != nil {
		a.logger.Warn("Storage unavailable, prompts fall back to defaults and snapshots are disabled",
			"driver", cfg.StorageDriver(), "error", err)
		if gdb != nil {
			_ = db.Close(gdb)
		}
		gdb = nil
	}
	a.db = gdb
	a.prompts = service.NewPromptService(gdb, cfg.DefaultTenant)
	a.snapshots = service.NewSnapshotService(gdb)

	store := a.sessionStore(ctx)

	var chatModel einoModel.BaseChatModel
	if cm, err := service.NewModelService().CreateChatModel(ctx, service.ModelConfigFromApp(cfg)); err != nil {
		a.logger.Warn("Chat model unavailable, replies use fallbacks", "provider", cfg.LLMProvider(), "error", err)
	} else {
		chatModel = cm
	}
	a.replies, err = service.NewReplyService(ctx, chatModel, service.ReplyOptions{
		Temperature: cfg.LLMTemperature(),
		MaxTokens:   cfg.LLMMaxTokens(),
		Timeout:     cfg.LLMTimeout(),
		Attempts:    cfg.LLMRetries(),
	})
	if err != nil {
		return nil, fmt.Errorf("init reply service: %w", err)
	}

	a.turns = service.NewTurnService(store, a.prompts, a.replies, service.TurnServiceOptions{
		Snapshots:     a.snapshots,
		DefaultTenant: cfg.DefaultTenant,
		Log:           a.convLog,
		Metrics:       a.metrics,
	})
	d := cfg.Dialogue
	a.machine = dialogue.NewMachine(a.turns, dialogue.Options{
		Phrases:       dialogue.DefaultPhrases().WithOverrides(d.AskRepeatPhrases, d.DeclinePhrases, d.ClosingPhrases, d.QuestionWords),
		ListenTimeout: cfg.ListenTimeout(),
	})

	a.registry = service.NewCallRegistry(a.emitter, a.metrics)
	a.twilio = service.NewTwilioService(cfg, a.registry)
	var provider service.CallProvider
	if a.twilio.Configured() {
		provider = a.twilio
	}
	a.history = service.NewCallHistoryService(provider, a.registry)

	if rec, err := speech.NewRecognizer(ctx, cfg); err != nil {
		a.speechUnavailable("recognizer", err)
	} else {
		a.recognizer = rec
	}
	if syn, err := speech.NewSynthesizer(ctx, cfg); err != nil {
		a.speechUnavailable("synthesizer", err)
	} else {
		a.synthesizer = syn
	}
	a.localVoice = service.NewLocalVoiceService(service.LocalVoiceConfig{
		VAD: vad.Config{
			SampleRate:   cfg.SampleRate(),
			FrameMs:      cfg.VAD.FrameMs,
			MaxSilenceMs: cfg.VAD.MaxSilenceMs,
			MinSpeechMs:  cfg.VAD.MinSpeechMs,
		},
		EnergyFloor:     cfg.VAD.EnergyFloor,
		NoiseMultiplier: cfg.VAD.NoiseMultiplier,
	}, service.SystemAudioDevices(), a.recognizer, a.synthesizer, a.turns, a.emitter, a.metrics)

	return a, nil
}

// sessionStore connects to Redis when configured and falls back to the
// in-memory store when Redis is unreachable.
func (a *App) sessionStore(ctx context.Context) service.SessionStore {
	cfg := a.cfg
	if cfg.SessionBackend() == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			a.redis = client
			a.logger.Info("Using Redis session store", "addr", cfg.Redis.Addr)
			return service.NewRedisSessionStore(client, cfg.SessionTTL())
		}
		_ = client.Close()
		a.logger.Warn("Redis unreachable, using in-memory sessions", "addr", cfg.Redis.Addr, "error", err)
	}
	a.memStore = service.NewMemorySessionStore(cfg.SessionTTL())
	return a.memStore
}

func (a *App) speechUnavailable(kind string, err error) {
	if errors.Is(err, speech.ErrNotConfigured) {
		a.logger.Info("Speech engine not configured", "kind", kind)
		return
	}
	a.logger.Warn("Speech engine unavailable", "kind", kind, "error", err)
}

// Close stops the local loop, flushes pending snapshots and releases the
// storage connections.
func (a *App) Close() {
	if a.localVoice.Running() {
		_ = a.localVoice.Stop()
	}
	a.snapshots.Wait()
	if a.db != nil {
		if err := db.Close(a.db); err != nil {
			a.logger.Warn("Failed to close database", "error", err)
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load .env:", err)
	}
	if _, err := config.EnsureDefaultConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to write default config:", err)
	}
	cfg, cfgFile, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	// Initialize logging system
	utils.InitLogger(utils.LogOptions{Level: cfg.Log.Level, Format: cfg.Log.Format})
	logger := utils.GetLogger()
	logger.Info("Config loaded", "path", cfgFile, "llmProvider", cfg.LLMProvider(), "storage", cfg.StorageDriver())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	server := NewServer(cfg, app)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	if app.memStore != nil {
		g.Go(func() error {
			app.memStore.RunJanitor(gctx, time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		app.machine.RunJanitor(gctx, time.Minute, cfg.SessionTTL())
		return nil
	})

	err = g.Wait()
	app.Close()
	if err != nil {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
