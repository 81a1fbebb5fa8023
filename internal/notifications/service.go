package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"parcel/internal/config"
)

const userAgent = "parcel/0.1.0"

// Event names a bundle lifecycle milestone.
type Event string

const (
	EventBundleReady    Event = "bundle.ready"
	EventBundleFailed   Event = "bundle.failed"
	EventBundleRevoked  Event = "bundle.revoked"
	EventBundleTimedOut Event = "bundle.timed_out"
	EventTest           Event = "parcel.test"
)

// Payload carries event-specific fields.
type Payload map[string]any

// Service publishes lifecycle events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// Message is the document every transport delivers.
type Message struct {
	Event      Event     `json:"event"`
	BundleID   string    `json:"bundleId,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       Payload   `json:"data,omitempty"`
}

// NewMessage builds the delivered document. The bundle id is lifted out of
// payload["bundleId"] when present.
func NewMessage(event Event, payload Payload, at time.Time) Message {
	msg := Message{Event: event, OccurredAt: at.UTC(), Data: payload}
	if id, ok := payload["bundleId"].(string); ok {
		msg.BundleID = id
	}
	return msg
}

// Encode renders msg as JSON.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s notification: %w", m.Event, err)
	}
	return data, nil
}

// NewService builds the configured transports. With none configured a noop
// service is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var services multiService
	if cfg.Notifications.WebhookURL != "" {
		services = append(services, newWebhookService(cfg.Notifications.WebhookURL, timeout))
	}
	if len(cfg.Notifications.KafkaBrokers) > 0 {
		services = append(services, newKafkaService(cfg.Notifications.KafkaBrokers, cfg.Notifications.KafkaTopic, timeout))
	}
	switch len(services) {
	case 0:
		return noopService{}
	case 1:
		return services[0]
	default:
		return services
	}
}

// Close releases transport resources when svc holds any.
func Close(svc Service) error {
	if closer, ok := svc.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

type multiService []Service

func (m multiService) Publish(ctx context.Context, event Event, payload Payload) error {
	var errs []error
	for _, svc := range m {
		if err := svc.Publish(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiService) Close() error {
	var errs []error
	for _, svc := range m {
		if err := Close(svc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
