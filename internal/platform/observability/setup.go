package observability

import (
	"context"
	"log/slog"
	"sync"
)

// Config toggles span and metric logging.
type Config struct {
	Enabled bool
}

// ShutdownFunc tears down whatever Setup installed.
type ShutdownFunc func(context.Context) error

var (
	stateMu  sync.RWMutex
	obsLog   *slog.Logger
	obsState Config
)

func current() (*slog.Logger, Config) {
	stateMu.RLock()
	defer stateMu.RUnlock()
	return obsLog, obsState
}

// Setup installs the logger spans and metrics are written to. When disabled,
// StartSpan and RecordMetric are no-ops.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (ShutdownFunc, error) {
	stateMu.Lock()
	obsLog = logger
	obsState = cfg
	stateMu.Unlock()

	if logger != nil {
		logger.InfoContext(ctx, "[OBS] setup", slog.Bool("enabled", cfg.Enabled))
	}
	return func(context.Context) error {
		stateMu.Lock()
		obsLog = nil
		obsState = Config{}
		stateMu.Unlock()
		return nil
	}, nil
}
