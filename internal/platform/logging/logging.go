package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config captures logging configuration options.
type Config struct {
	Level    string
	Dir      string
	Filename string
}

var (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

// tagColors maps message tags (the "[Tag]" prefix) to console colors.
var tagColors = map[string]string{
	"[Bootstrap]": "\x1b[96m",
	"[HTTP]":      "\x1b[95m",
	"[Cloud]":     "\x1b[94m",
	"[Cache]":     "\x1b[92m",
	"[Resolver]":  "\x1b[93m",
	"[Entries]":   "\x1b[97m",
	"[Events]":    "\x1b[90m",
}

// textHandler renders records as a single colored console line.
type textHandler struct {
	writer io.Writer
	level  slog.Level
	mu     *sync.Mutex
	attrs  []slog.Attr
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	timeStr := r.Time.Format("2006-01-02 15:04:05.000")

	var levelColor string
	switch {
	case r.Level >= slog.LevelError:
		levelColor = colorError
	case r.Level >= slog.LevelWarn:
		levelColor = colorWarn
	case r.Level >= slog.LevelInfo:
		levelColor = colorInfo
	default:
		levelColor = colorDebug
	}

	msg := r.Message
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s]%s %s[%s]%s ", colorTime, timeStr, colorReset, levelColor, r.Level.String(), colorReset)
	if end := strings.Index(msg, "]"); strings.HasPrefix(msg, "[") && end > 0 {
		if color, ok := tagColors[msg[:end+1]]; ok {
			msg = color + msg[:end+1] + colorReset + msg[end+1:]
		}
	}
	b.WriteString(msg)

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		b.WriteString(" {")
		for _, a := range h.attrs {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		b.WriteString(" }")
	}
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, b.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *textHandler) WithGroup(string) slog.Handler {
	return h
}

// Logger writes every record to the console and, when a directory is configured,
// as JSON lines to a log file.
type Logger struct {
	level      slog.Level
	textLogger *slog.Logger
	jsonLogger *slog.Logger
	logFile    *os.File
	closeOnce  sync.Once
}

// ParseLevel converts a configuration level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// New creates a Logger. An empty Dir disables the JSON file output.
func New(cfg Config) (*Logger, error) {
	level := ParseLevel(cfg.Level)
	l := &Logger{
		level: level,
		textLogger: slog.New(&textHandler{
			writer: os.Stdout,
			level:  level,
			mu:     &sync.Mutex{},
		}),
	}

	if cfg.Dir == "" {
		return l, nil
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	filename := cfg.Filename
	if filename == "" {
		filename = "tuya-ble-credd.log"
	}
	file, err := os.OpenFile(filepath.Join(cfg.Dir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l.logFile = file
	l.jsonLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level}))
	return l, nil
}

// NewWithWriter creates a console-only Logger writing to w. Used by tests and tools.
func NewWithWriter(w io.Writer, level string) *Logger {
	lvl := ParseLevel(level)
	return &Logger{
		level: lvl,
		textLogger: slog.New(&textHandler{
			writer: w,
			level:  lvl,
			mu:     &sync.Mutex{},
		}),
	}
}

// NewDiscard returns a Logger that drops everything.
func NewDiscard() *Logger {
	return NewWithWriter(io.Discard, "error")
}

func (l *Logger) log(level slog.Level, msg string, args ...any) {
	if l == nil || level < l.level {
		return
	}
	if len(args) > 0 {
		if strings.Contains(msg, "%") {
			msg = fmt.Sprintf(msg, args...)
		} else {
			msg = strings.TrimSpace(msg + " " + fmt.Sprint(args...))
		}
	}
	ctx := context.Background()
	l.textLogger.Log(ctx, level, msg)
	if l.jsonLogger != nil {
		l.jsonLogger.Log(ctx, level, msg)
	}
}

// Debug logs a printf-style debug message.
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }

// Info logs a printf-style info message.
func (l *Logger) Info(msg string, args ...any) { l.log(slog.LevelInfo, msg, args...) }

// Warn logs a printf-style warning.
func (l *Logger) Warn(msg string, args ...any) { l.log(slog.LevelWarn, msg, args...) }

// Error logs a printf-style error.
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

// FormatLog prefixes message with a single "[tag]" unless it already carries one.
func FormatLog(tag, message string) string {
	tag = strings.TrimSpace(tag)
	message = strings.TrimSpace(message)
	if tag == "" || strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

func (l *Logger) DebugTag(tag, msg string, args ...any) {
	l.log(slog.LevelDebug, FormatLog(tag, msg), args...)
}

func (l *Logger) InfoTag(tag, msg string, args ...any) {
	l.log(slog.LevelInfo, FormatLog(tag, msg), args...)
}

func (l *Logger) WarnTag(tag, msg string, args ...any) {
	l.log(slog.LevelWarn, FormatLog(tag, msg), args...)
}

func (l *Logger) ErrorTag(tag, msg string, args ...any) {
	l.log(slog.LevelError, FormatLog(tag, msg), args...)
}

// Tagged returns a view of the logger that prefixes every message with tag.
func (l *Logger) Tagged(tag string) *TaggedLogger {
	return &TaggedLogger{parent: l, tag: tag}
}

// Slog exposes the structured console logger for integrations that need slog directly.
func (l *Logger) Slog() *slog.Logger {
	return l.textLogger
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.logFile != nil {
			err = l.logFile.Close()
		}
	})
	return err
}

// TaggedLogger satisfies the narrow domain Logger interfaces with a fixed tag.
type TaggedLogger struct {
	parent *Logger
	tag    string
}

func (t *TaggedLogger) Debug(msg string, args ...any) { t.parent.DebugTag(t.tag, msg, args...) }
func (t *TaggedLogger) Info(msg string, args ...any)  { t.parent.InfoTag(t.tag, msg, args...) }
func (t *TaggedLogger) Warn(msg string, args ...any)  { t.parent.WarnTag(t.tag, msg, args...) }
func (t *TaggedLogger) Error(msg string, args ...any) { t.parent.ErrorTag(t.tag, msg, args...) }
