package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/car-rental/populate/internal/services"
)

// PubSubRentalEventPublisher publishes rental lifecycle events to a Pub/Sub topic.
type PubSubRentalEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubRentalEventPublisher constructs a Pub/Sub backed rental event publisher.
func NewPubSubRentalEventPublisher(topic *pubsub.Topic) (*PubSubRentalEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub rental event publisher: topic is required")
	}
	return &PubSubRentalEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishRentalEvent sends the event and waits for the server-assigned message id. Events of the
// same rental share an ordering key.
func (p *PubSubRentalEventPublisher) PublishRentalEvent(ctx context.Context, event services.RentalEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub rental event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal rental event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", string(event.Type))
	setAttr(attrs, "rentalId", event.RentalID)
	setAttr(attrs, "carId", event.CarID)
	setAttr(attrs, "partitionKey", event.PartitionKey)
	setAttr(attrs, "category", string(event.Category))

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(event.RentalID)
	}

	result := p.topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		// a failed ordered publish pauses its key until resumed
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish rental event %s: %w", event.Type, err)
	}
	return id, nil
}

// Stop flushes pending messages and stops the topic's background goroutines.
func (p *PubSubRentalEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
