package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/restoreassist/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *Event) error
}

// contextKey is the type for context keys
type contextKey string

const clientIPKey contextKey = "audit_client_ip"

// WithClientIP stores the caller's address for events logged under ctx
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

func clientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return ""
}

// prepare fills the fields every sink expects
func prepare(ctx context.Context, event *Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = EventStatusSuccess
	}
	if event.IPAddress == "" {
		event.IPAddress = clientIP(ctx)
	}
}

// Record logs event and never fails the caller. Audit write errors are
// reported through the context logger.
func Record(ctx context.Context, logger Logger, event *Event) {
	if logger == nil || event == nil {
		return
	}
	if err := logger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"action":        string(event.Action),
			"resource_type": string(event.ResourceType),
			"resource_id":   event.ResourceID,
		}).Warn("failed to write audit event")
	}
}

// NoOpLogger discards events
type NoOpLogger struct{}

// Log does nothing
func (NoOpLogger) Log(ctx context.Context, event *Event) error { return nil }

// StructuredLogger writes audit events to the application log
type StructuredLogger struct {
	logger *observability.Logger
}

// NewStructuredLogger creates an audit sink on top of logger
func NewStructuredLogger(logger *observability.Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger.WithField("component", "audit")}
}

// Log writes event as a single info line
func (l *StructuredLogger) Log(ctx context.Context, event *Event) error {
	prepare(ctx, event)

	fields := map[string]interface{}{
		"audit_id":      event.ID.String(),
		"action":        string(event.Action),
		"resource_type": string(event.ResourceType),
		"resource_id":   event.ResourceID,
		"status":        string(event.Status),
		"user_id":       event.UserID,
	}
	if event.OrganizationID != nil {
		fields["organization_id"] = event.OrganizationID.String()
	}
	if len(event.Details) > 0 {
		fields["details"] = event.Details
	}

	l.logger.WithFields(fields).Info("audit event")
	return nil
}

// MultiLogger fans an event out to several sinks. Every sink is attempted and
// the errors are joined.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger writing to each of loggers in order
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes event to every sink
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	prepare(ctx, event)

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
