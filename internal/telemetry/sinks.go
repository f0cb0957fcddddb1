package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/getsentry/sentry-go"

	"github.com/mediatech/mediatech-auth/internal/model"
)

// EventStore is the durable event log (repository.SecurityEventRepository)
type EventStore interface {
	Create(ctx context.Context, event *model.SecurityEvent) error
}

// StoreSink writes events to the event store
type StoreSink struct {
	store EventStore
}

// NewStoreSink creates a sink backed by store
func NewStoreSink(store EventStore) *StoreSink {
	return &StoreSink{store: store}
}

// Write persists one event
func (s *StoreSink) Write(ctx context.Context, event *model.SecurityEvent) error {
	return s.store.Create(ctx, event)
}

// Publisher publishes a message on a pub/sub channel
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// AlertSink publishes critical events on a Redis channel and reports them
// to Sentry
type AlertSink struct {
	publisher Publisher
	channel   string
	hub       *sentry.Hub
}

// NewAlertSink creates an AlertSink. Either publisher or hub may be nil.
func NewAlertSink(publisher Publisher, channel string, hub *sentry.Hub) *AlertSink {
	return &AlertSink{publisher: publisher, channel: channel, hub: hub}
}

// Alert fans the event out to every configured target
func (s *AlertSink) Alert(ctx context.Context, event *model.SecurityEvent) error {
	if s.hub != nil {
		s.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelError)
			scope.SetTag("event_type", event.EventType)
			scope.SetTag("severity", string(event.Severity))
			scope.SetUser(sentry.User{Username: event.UsernameOrEmpty()})
			scope.SetExtra("details", event.Details)
			if event.Resource != nil {
				scope.SetExtra("resource", *event.Resource)
			}
			if event.IPAddress != nil {
				scope.SetExtra("ip_address", *event.IPAddress)
			}
			s.hub.CaptureMessage("security alert: " + event.EventType)
		})
	}

	if s.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}
	if err := s.publisher.Publish(ctx, s.channel, payload); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}
