// Package logging builds the logrus loggers used by the CLI and the server.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is an alias so callers need not import logrus
type Fields = logrus.Fields

// RequestIDKey is the context key carrying a request id
const RequestIDKey = "request_id"

// Options controls logger construction
type Options struct {
	Level    string    // logrus level name, default "info"
	Dir      string    // directory for rotated log files, empty disables file output
	NoColors bool      // disable ANSI colors, e.g. when not on a terminal
	Output   io.Writer // console writer, default os.Stderr
}

var (
	defaultLogger *logrus.Logger
	once          sync.Once
)

// Default returns the process-wide logger, created on first use from the
// LOG_LEVEL and LOG_DIR environment variables.
func Default() *logrus.Logger {
	once.Do(func() {
		defaultLogger = New(Options{
			Level: os.Getenv("LOG_LEVEL"),
			Dir:   os.Getenv("LOG_DIR"),
		})
	})
	return defaultLogger
}

// New creates a logger. File output is skipped when APP_ENV=test.
func New(opts Options) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&formatter.Formatter{
		NoColors:        opts.NoColors,
		TimestampFormat: "02 Jan 06 - 15:04:05",
		HideKeys:        false,
		CallerFirst:     true,
		CustomCallerFormatter: func(f *runtime.Frame) string {
			s := strings.Split(f.Function, ".")
			funcName := s[len(s)-1]
			if opts.NoColors {
				return fmt.Sprintf(" [%s:%d][%s()]", path.Base(f.File), f.Line, funcName)
			}
			return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
		},
	})

	console := opts.Output
	if console == nil {
		console = os.Stderr
	}
	writers := []io.Writer{console}

	if opts.Dir != "" && os.Getenv("APP_ENV") != "test" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, fmt.Sprintf("image-detector-%s.log", time.Now().Format("2006-01-02"))),
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		})
	}

	logger.SetOutput(io.MultiWriter(writers...))
	logger.SetReportCaller(true)
	return logger
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// NewTraceID returns a fresh random id for correlating log lines
func NewTraceID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return "unknown"
	}
	return id.String()
}

// ErrorWithTraceID logs msg at error level and returns the trace id attached
// to it. A request_id already present in fields is reused.
func ErrorWithTraceID(logger logrus.FieldLogger, fields Fields, msg string) string {
	if fields == nil {
		fields = Fields{}
	}

	traceID, _ := fields[RequestIDKey].(string)
	if traceID == "" {
		traceID = NewTraceID()
	}
	fields["trace_id"] = traceID

	logger.WithFields(fields).Error(msg)
	return traceID
}

type ctxKey struct{}

// WithRequestID stores a request id in ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// RequestID returns the request id stored in ctx, or "unknown"
func RequestID(ctx context.Context) string {
	if ctx != nil {
		if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
			return id
		}
	}
	return "unknown"
}

// FromContext returns an entry tagged with the request id stored in ctx
func FromContext(ctx context.Context, logger logrus.FieldLogger) *logrus.Entry {
	return logger.WithField(RequestIDKey, RequestID(ctx))
}
