// SPDX-License-Identifier: MIT

// Package audit provides structured audit logging for security-sensitive
// registry operations. It follows the WHO/WHAT/WHEN pattern: every event is
// emitted to the structured log and, when a trail is configured, appended to
// a durable sqlite table. Audit failures never fail the audited request.
package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kundajelab/cultivator/internal/log"
)

// EventType represents the type of audit event.
type EventType string

const (
	// Registry events
	EventPublishSuccess EventType = "publish.success"
	EventPublishReplay  EventType = "publish.replay"
	EventPublishReject  EventType = "publish.reject"
	EventYankSuccess    EventType = "yank.success"

	// Authentication events
	EventAuthSuccess EventType = "auth.success"
	EventAuthFailure EventType = "auth.failure"
	EventAuthMissing EventType = "auth.missing"

	// API access events
	EventAPIRateLimit EventType = "api.ratelimit"

	// Configuration events
	EventConfigReload      EventType = "config.reload"
	EventConfigReloadError EventType = "config.reload.error"
)

// Event represents a structured audit event.
type Event struct {
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	Actor      string            `json:"actor"`    // WHO: token name, IP, or "system"
	Resource   string            `json:"resource"` // package ref or endpoint
	Result     string            `json:"result"`   // success, failure, denied
	RemoteAddr string            `json:"remote_addr"`
	RequestID  string            `json:"request_id"`
	Details    map[string]string `json:"details,omitempty"`
}

// Trail durably records audit events. Implemented by SQLiteTrail.
type Trail interface {
	Append(ctx context.Context, e Event) error
	Recent(ctx context.Context, limit int) ([]Event, error)
	Close() error
}

// Logger provides audit logging functionality.
type Logger struct {
	logger zerolog.Logger
	trail  Trail // optional
}

// NewLogger creates an audit logger with a dedicated "audit" component.
// trail may be nil when no durable trail is configured.
func NewLogger(trail Trail) *Logger {
	auditLogger := log.WithComponent("audit").With().
		Str("log_type", "audit").
		Logger()
	return &Logger{logger: auditLogger, trail: trail}
}

// Record emits an event to the structured log and the durable trail.
func (l *Logger) Record(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.RequestID == "" {
		e.RequestID = log.RequestIDFromContext(ctx)
	}

	evt := l.logger.Info().
		Time("ts", e.Timestamp).
		Str("type", string(e.Type)).
		Str("actor", e.Actor).
		Str("resource", e.Resource).
		Str("result", e.Result)
	if e.RemoteAddr != "" {
		evt = evt.Str("remote_addr", e.RemoteAddr)
	}
	if e.RequestID != "" {
		evt = evt.Str(log.FieldRequestID, e.RequestID)
	}
	if len(e.Details) > 0 {
		evt = evt.Interface("details", e.Details)
	}
	evt.Msg("audit event")

	if l.trail != nil {
		if err := l.trail.Append(ctx, e); err != nil {
			l.logger.Warn().Err(err).Msg("audit trail append failed")
		}
	}
}

// Recent returns the newest events from the durable trail, newest first.
// Without a trail it returns an empty slice.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Event, error) {
	if l.trail == nil {
		return []Event{}, nil
	}
	return l.trail.Recent(ctx, limit)
}

// Publish records a publish outcome.
func (l *Logger) Publish(ctx context.Context, typ EventType, actor, remoteAddr, pkg, version string, details map[string]string) {
	result := "success"
	if typ == EventPublishReject {
		result = "failure"
	}
	l.Record(ctx, Event{
		Type:       typ,
		Actor:      actor,
		Resource:   pkg + "@" + version,
		Result:     result,
		RemoteAddr: remoteAddr,
		Details:    details,
	})
}

// Yank records a successful yank.
func (l *Logger) Yank(ctx context.Context, actor, remoteAddr, pkg, version string) {
	l.Record(ctx, Event{
		Type:       EventYankSuccess,
		Actor:      actor,
		Resource:   pkg + "@" + version,
		Result:     "success",
		RemoteAddr: remoteAddr,
	})
}

// Auth records an authentication outcome against an endpoint.
func (l *Logger) Auth(ctx context.Context, typ EventType, remoteAddr, endpoint string) {
	result := "success"
	if typ != EventAuthSuccess {
		result = "denied"
	}
	l.Record(ctx, Event{
		Type:       typ,
		Actor:      remoteAddr,
		Resource:   endpoint,
		Result:     result,
		RemoteAddr: remoteAddr,
	})
}

// RateLimited records a rejected request.
func (l *Logger) RateLimited(ctx context.Context, remoteAddr, endpoint string) {
	l.Record(ctx, Event{
		Type:       EventAPIRateLimit,
		Actor:      remoteAddr,
		Resource:   endpoint,
		Result:     "denied",
		RemoteAddr: remoteAddr,
	})
}

// ConfigReload records a configuration reload outcome.
func (l *Logger) ConfigReload(ctx context.Context, actor string, err error) {
	e := Event{
		Type:     EventConfigReload,
		Actor:    actor,
		Resource: "config",
		Result:   "success",
	}
	if err != nil {
		e.Type = EventConfigReloadError
		e.Result = "failure"
		e.Details = map[string]string{"error": err.Error()}
	}
	l.Record(ctx, e)
}
