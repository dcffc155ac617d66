package observability

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Enabled reports whether observability has been toggled on.
func Enabled() bool {
	_, cfg := current()
	return cfg.Enabled
}

func active() *slog.Logger {
	logger, cfg := current()
	if logger == nil || !cfg.Enabled {
		return nil
	}
	return logger
}

// StartSpan logs the start of an operation and returns a func that logs its
// end with duration and error.
func StartSpan(ctx context.Context, component, operation string) (context.Context, func(error)) {
	logger := active()
	if logger == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	logger.LogAttrs(ctx, slog.LevelDebug, "span start",
		slog.String("component", component),
		slog.String("operation", operation),
	)

	return ctx, func(err error) {
		level := slog.LevelDebug
		attrs := []slog.Attr{
			slog.String("component", component),
			slog.String("operation", operation),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			level = slog.LevelWarn
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		logger.LogAttrs(ctx, level, "span end", attrs...)
	}
}

// RecordMetric writes a single datapoint. Labels are emitted in key order.
func RecordMetric(ctx context.Context, name string, value float64, labels map[string]string) {
	logger := active()
	if logger == nil {
		return
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := []slog.Attr{
		slog.String("metric", name),
		slog.Float64("value", value),
	}
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, labels[k]))
	}
	logger.LogAttrs(ctx, slog.LevelDebug, "metric", attrs...)
}
