package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orders/internal/services"
)

// PubSubNotificationPublisher hands order notifications to the email worker through a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.Notifier = (*PubSubNotificationPublisher)(nil)

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notifier.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type notificationMessage struct {
	Kind       string    `json:"kind"`
	OrderID    string    `json:"orderId"`
	Email      string    `json:"email"`
	TotalCents int64     `json:"totalCents"`
	Total      string    `json:"total"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Notify publishes the notification and waits for the server acknowledgement so the caller's retry
// policy sees publish failures.
func (p *PubSubNotificationPublisher) Notify(ctx context.Context, n services.Notification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification publisher: not initialised")
	}

	data, err := p.marshal(notificationMessage{
		Kind:       string(n.Kind),
		OrderID:    n.OrderID,
		Email:      n.Email,
		TotalCents: n.TotalCents,
		Total:      services.FormatMajor(n.TotalCents, n.Currency),
		Currency:   n.Currency,
		OccurredAt: n.OccurredAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", string(n.Kind))
	setAttr(attrs, "orderId", n.OrderID)
	if n.OrderID != "" && n.Kind != "" {
		// Consumers dedupe on this key; retries of the same notification reuse it.
		attrs["dedupeKey"] = n.OrderID + ":" + string(n.Kind)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
