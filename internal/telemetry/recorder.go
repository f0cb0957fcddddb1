// Package telemetry records security events. Recording never waits on the
// database: events go through a bounded queue to a single worker that
// persists them with retries.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/mediatech/mediatech-auth/internal/logger"
	"github.com/mediatech/mediatech-auth/internal/model"
)

// Recorder is the entry point used by services, guards and handlers
type Recorder struct {
	dispatcher *Dispatcher
	log        *logger.Logger
	now        func() time.Time
}

// NewRecorder creates a Recorder on top of a running dispatcher
func NewRecorder(dispatcher *Dispatcher, log *logger.Logger) *Recorder {
	return &Recorder{
		dispatcher: dispatcher,
		log:        log.WithComponent("security_audit"),
		now:        time.Now,
	}
}

// WithClock replaces the timestamp source
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record enqueues an event and mirrors it into the log stream
func (r *Recorder) Record(ctx context.Context, event *model.SecurityEvent) {
	r.record(ctx, event, false)
}

func (r *Recorder) record(ctx context.Context, event *model.SecurityEvent, alert bool) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	ip := ""
	if event.IPAddress != nil {
		ip = *event.IPAddress
	}
	r.log.SecurityEvent(event.EventType, string(event.Severity), event.UsernameOrEmpty(), ip, event.Details)
	if alert {
		r.log.Error().
			Str("security_event", event.EventType).
			Str("username", event.UsernameOrEmpty()).
			Str("ip_address", ip).
			Msg("Security alert triggered")
	}
	r.dispatcher.Enqueue(ctx, event, alert)
}

// UnauthorizedAccess records a denied request (WARN)
func (r *Recorder) UnauthorizedAccess(ctx context.Context, username, resource, method, ip, details string) {
	if username == "" {
		username = "anonymous"
	}
	r.Record(ctx, &model.SecurityEvent{
		EventType: model.EventUnauthorizedAccess,
		Severity:  model.SeverityWarn,
		Username:  &username,
		Resource:  optional(resource),
		Method:    optional(method),
		IPAddress: optional(ip),
		Details:   details,
	})
}

// AuthenticationFailure records a failed login (WARN)
func (r *Recorder) AuthenticationFailure(ctx context.Context, username, ip, reason, userAgent string) {
	r.Record(ctx, &model.SecurityEvent{
		EventType: model.EventAuthenticationFailure,
		Severity:  model.SeverityWarn,
		Username:  optional(username),
		IPAddress: optional(ip),
		Details:   fmt.Sprintf("Reason: %s, UserAgent: %s", reason, userAgent),
	})
}

// SuspiciousActivity records behavior worth a closer look (WARN)
func (r *Recorder) SuspiciousActivity(ctx context.Context, username, activityType, ip, details string) {
	r.Record(ctx, &model.SecurityEvent{
		EventType: model.EventSuspiciousActivity,
		Severity:  model.SeverityWarn,
		Username:  optional(username),
		IPAddress: optional(ip),
		Details:   activityType + ": " + details,
	})
}

// SecurityIncident records a detected attack (CRITICAL)
func (r *Recorder) SecurityIncident(ctx context.Context, username, incidentType, resource, ip, details string) {
	r.Record(ctx, incident(username, incidentType, resource, ip, details))
}

// CriticalIncident records a detected attack and raises an alert (CRITICAL)
func (r *Recorder) CriticalIncident(ctx context.Context, username, incidentType, resource, ip, details string) {
	r.record(ctx, incident(username, incidentType, resource, ip, details), true)
}

// SecurityAction records a routine security-relevant action (INFO)
func (r *Recorder) SecurityAction(ctx context.Context, username, action, details string) {
	r.Record(ctx, &model.SecurityEvent{
		EventType: action,
		Severity:  model.SeverityInfo,
		Username:  optional(username),
		Details:   details,
	})
}

func incident(username, incidentType, resource, ip, details string) *model.SecurityEvent {
	return &model.SecurityEvent{
		EventType: incidentType,
		Severity:  model.SeverityCritical,
		Username:  optional(username),
		Resource:  optional(resource),
		IPAddress: optional(ip),
		Details:   details,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
