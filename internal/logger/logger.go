package logger

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

type ContextKey string

// IdentityKey is where request middleware stores the caller's identity for log enrichment.
const IdentityKey ContextKey = "identity"

// Logger wraps logrus for structured logging with context support
type Logger struct {
	*logrus.Entry
}

// Setup configures the standard logrus logger once at startup.
func Setup(level string, json bool) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	if json {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func New() *Logger {
	return &Logger{
		Entry: logrus.NewEntry(logrus.StandardLogger()),
	}
}

// WithContext creates a logger tagged with the caller identity found in ctx, if any.
func WithContext(ctx context.Context) *Logger {
	l := New()
	if ctx == nil {
		return l
	}
	if id, ok := ctx.Value(IdentityKey).(interface{ String() string }); ok {
		l.Entry = l.Entry.WithField("identity", id.String())
	}
	return l
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		Entry: l.Entry.WithField(key, value),
	}
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		Entry: l.Entry.WithFields(fields),
	}
}

func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Entry: l.Entry.WithError(err),
	}
}
