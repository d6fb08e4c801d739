// Package audit provides the run-scoped audit/log handle for StrataFlow.
//
// A Handle owns two zap cores: a console core for operator output and a
// JSON file core that forms the append-only audit trail of a run. Unlike a
// process-global logger, the Handle has an explicit lifecycle: it is opened
// at run start, passed into the pipeline and the estimator, and flushed and
// closed at run end.
package audit

import (
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures an audit handle.
type Config struct {
	// Level is the minimum console level (debug, info, warn, error).
	Level string
	// FilePath is the JSON audit trail destination. Empty disables the
	// file core.
	FilePath string
	// Console enables the human-readable stderr core.
	Console bool
}

// Handle is the run-scoped audit log. Safe for concurrent use.
type Handle struct {
	logger *zap.Logger
	file   *os.File
}

// Open builds a Handle from cfg. The audit file's parent directory is
// created if needed; the file itself is opened append-only so prior runs
// are never truncated.
func Open(cfg Config) (*Handle, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cores := make([]zapcore.Core, 0, 2)
	h := &Handle{}

	if cfg.FilePath != "" {
		if dir := filepath.Dir(cfg.FilePath); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, err
			}
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		h.file = f
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(f),
			zapcore.DebugLevel,
		))
	}

	if cfg.Console {
		consoleEncoder := encoderConfig
		consoleEncoder.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoder),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if len(cores) == 0 {
		h.logger = zap.NewNop()
		return h, nil
	}

	h.logger = zap.New(zapcore.NewTee(cores...))
	return h, nil
}

// NewNop returns a Handle that discards everything. Used in tests and by
// callers that supply their own logger.
func NewNop() *Handle {
	return &Handle{logger: zap.NewNop()}
}

// FromLogger wraps an existing zap logger in a Handle without taking
// ownership of any file.
func FromLogger(l *zap.Logger) *Handle {
	return &Handle{logger: l}
}

// Logger returns the underlying zap logger.
func (h *Handle) Logger() *zap.Logger {
	return h.logger
}

// Event records a structured audit event. The payload is rendered as one
// JSON value so the audit trail stays machine-parseable regardless of the
// field types.
func (h *Handle) Event(eventType string, data map[string]interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Warn("audit event payload not serializable",
			zap.String("event_type", eventType), zap.Error(err))
		return
	}
	h.logger.Info("audit",
		zap.String("event_type", eventType),
		zap.Time("event_time", time.Now().UTC()),
		zap.ByteString("data", payload),
	)
}

// Close flushes buffered entries and closes the audit file.
func (h *Handle) Close() error {
	// Sync on stderr returns ENOTTY on some platforms; the file core is
	// what matters here.
	_ = h.logger.Sync()
	if h.file != nil {
		err := h.file.Close()
		h.file = nil
		return err
	}
	return nil
}
