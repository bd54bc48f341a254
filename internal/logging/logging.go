// Package logging provides the proxy's structured logging: a logrus
// logger with optional file rotation, plus a bounded in-memory history of
// recent entries for the operator status/health inspection surface (the
// teacher's internal/utils/logger.go kept a similar ring buffer for its
// webui; this package retains that capability as a logrus hook instead of
// a hand-rolled logger).
package logging

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one retained log line, shown by the status inspector.
type Entry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// HistoryHook retains the last N formatted log entries in memory.
type HistoryHook struct {
	mu      sync.Mutex
	entries []Entry
	max     int
}

// NewHistoryHook creates a hook retaining up to max entries.
func NewHistoryHook(max int) *HistoryHook {
	return &HistoryHook{max: max}
}

func (h *HistoryHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *HistoryHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, Entry{Timestamp: e.Time, Level: e.Level.String(), Message: e.Message})
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return nil
}

// Snapshot returns a copy of the retained history, most recent last.
func (h *HistoryHook) Snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Logger wraps a configured *logrus.Logger with a retained history hook.
type Logger struct {
	*logrus.Logger
	History *HistoryHook
}

// Options configures logger construction.
type Options struct {
	Level       string
	JSON        bool
	FilePath    string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	HistorySize int
}

// New builds a Logger per Options. JSON formatting is used outside
// dev-mode (matching production log-aggregation expectations); a
// human-readable text formatter is used when dev-mode/non-JSON is
// requested, mirroring the teacher's colorized console logger.
func New(opts Options) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.FilePath != "" {
		l.SetOutput(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		})
	}

	history := NewHistoryHook(orDefault(opts.HistorySize, 500))
	l.AddHook(history)

	return &Logger{Logger: l, History: history}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// WithAccount returns an entry pre-populated with the account field,
// matching the retry loop and selector's habit of logging per-account
// context on every decision.
func (l *Logger) WithAccount(email string) *logrus.Entry {
	return l.WithField("account", email)
}
