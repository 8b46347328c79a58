package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger every package writes through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	// WithContext tags entries with the request id carried by ctx, if any.
	WithContext(ctx context.Context) Logger
}

type Field struct {
	Key   string
	Value interface{}
}

// Err is shorthand for the error field every call site attaches.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

type entryLogger struct {
	entry *logrus.Entry
}

func New(level string, format string) Logger {
	return NewWithOutput(level, format, os.Stdout)
}

// NewWithOutput builds a logger writing to out. Unknown levels fall back to
// info; any format other than "json" renders as text.
func NewWithOutput(level string, format string, out io.Writer) Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(formatter(format))

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)

	return &entryLogger{entry: logrus.NewEntry(base)}
}

func formatter(format string) logrus.Formatter {
	if format == "json" {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	}
	return &logrus.TextFormatter{TimestampFormat: time.RFC3339Nano, FullTimestamp: true}
}

func (l *entryLogger) Debug(msg string, fields ...Field) { l.with(fields).Debug(msg) }
func (l *entryLogger) Info(msg string, fields ...Field)  { l.with(fields).Info(msg) }
func (l *entryLogger) Warn(msg string, fields ...Field)  { l.with(fields).Warning(msg) }
func (l *entryLogger) Error(msg string, fields ...Field) { l.with(fields).Error(msg) }
func (l *entryLogger) Fatal(msg string, fields ...Field) { l.with(fields).Fatal(msg) }

func (l *entryLogger) WithContext(ctx context.Context) Logger {
	entry := l.entry.WithContext(ctx)
	if requestID, ok := RequestIDFromContext(ctx); ok {
		entry = entry.WithField("request_id", requestID)
	}
	return &entryLogger{entry: entry}
}

func (l *entryLogger) with(fields []Field) *logrus.Entry {
	if len(fields) == 0 {
		return l.entry
	}

	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		data[f.Key] = f.Value
	}
	return l.entry.WithFields(data)
}

var defaultLogger = New("info", "json")

func SetDefault(l Logger) {
	defaultLogger = l
}

func Default() Logger {
	return defaultLogger
}

func Info(msg string, fields ...Field) {
	defaultLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	defaultLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...Field) {
	defaultLogger.Error(msg, fields...)
}

func Fatal(msg string, fields ...Field) {
	defaultLogger.Fatal(msg, fields...)
}

func WithContext(ctx context.Context) Logger {
	return defaultLogger.WithContext(ctx)
}
