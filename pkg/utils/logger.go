package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	loggerMu   sync.RWMutex
)

// LogOptions controls the process-wide logger.
type LogOptions struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Output io.Writer
}

// InitLogger configures the process-wide logger. Calling it again replaces
// the previous logger.
func InitLogger(opts ...LogOptions) {
	var o LogOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Output == nil {
		o.Output = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(o.Level)}
	var h slog.Handler
	if strings.EqualFold(o.Format, "json") {
		h = slog.NewJSONHandler(o.Output, handlerOpts)
	} else {
		h = slog.NewTextHandler(o.Output, handlerOpts)
	}

	l := slog.New(h)
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	slog.SetDefault(l)
}

// GetLogger returns the process-wide logger, initializing a default one on first use.
func GetLogger() *slog.Logger {
	loggerOnce.Do(func() {
		loggerMu.RLock()
		ready := logger != nil
		loggerMu.RUnlock()
		if !ready {
			InitLogger()
		}
	})
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
