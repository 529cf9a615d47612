// Package logging provides a context-aware structured logger for the gateway.
package logging

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	// RequestIDKey holds the per-request id in a context.
	RequestIDKey contextKey = "request_id"
	// ActorIDKey holds the resolved internal actor id in a context.
	ActorIDKey contextKey = "actor_id"
	// OrgIDKey holds the resolved organization id in a context.
	OrgIDKey contextKey = "organization_id"
)

// Logger wraps logrus with request-context field extraction.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a logger for the named service. Format is "json" or "text".
func New(service, level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	return &Logger{Logger: l, service: service}
}

// WithContext returns an entry carrying the request, actor and organization
// fields found in ctx, plus the service name.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	fields := logrus.Fields{"service": l.service}
	if rid := GetRequestID(ctx); rid != "" {
		fields["request_id"] = rid
	}
	if actor := GetActorID(ctx); actor != "" {
		fields["actor_id"] = actor
	}
	if org := GetOrgID(ctx); org != "" {
		fields["organization_id"] = org
	}
	return l.WithFields(fields)
}

// LogRequest records one completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}).Info("request completed")
}

// LogSecurityEvent records a security-relevant event at warn level.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	entry := l.WithContext(ctx).WithField("security_event", event)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields))
	}
	entry.Warn("security event")
}

// WithRequestID stores a request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID returns the request id stored in ctx, or "".
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithActorID stores the resolved actor id in ctx.
func WithActorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ActorIDKey, id)
}

// GetActorID returns the actor id stored in ctx, or "".
func GetActorID(ctx context.Context) string {
	if v, ok := ctx.Value(ActorIDKey).(string); ok {
		return v
	}
	return ""
}

// WithOrgID stores the resolved organization id in ctx.
func WithOrgID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, OrgIDKey, id)
}

// GetOrgID returns the organization id stored in ctx, or "".
func GetOrgID(ctx context.Context) string {
	if v, ok := ctx.Value(OrgIDKey).(string); ok {
		return v
	}
	return ""
}

// NewRequestID generates a fresh request id.
func NewRequestID() string {
	return uuid.New().String()
}
