package events

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Message is what a Notifier transports.
type Message struct {
	Kind       Kind
	Attributes map[string]string
	Data       []byte
}

// Notifier hands messages to the external email pipeline.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes events to the log. Used in development and when no transport is configured.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("notification event",
		zap.String("kind", string(msg.Kind)),
		zap.String("customer_id", msg.Attributes["customerId"]),
		zap.String("task_id", msg.Attributes["taskId"]),
		zap.ByteString("data", msg.Data),
	)
	return nil
}

// PubSubNotifier publishes events to a Pub/Sub topic consumed by the email service.
type PubSubNotifier struct {
	topic *pubsub.Topic
}

// NewPubSubNotifier binds to an existing topic.
func NewPubSubNotifier(ctx context.Context, client *pubsub.Client, topicID string) (*PubSubNotifier, error) {
	if client == nil {
		panic("pubsub client is required")
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", topicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("topic %q does not exist", topicID)
	}
	return &PubSubNotifier{topic: topic}, nil
}

func (n *PubSubNotifier) Notify(ctx context.Context, msg Message) error {
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: msg.Attributes,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind, err)
	}
	return nil
}

// Stop flushes pending publishes.
func (n *PubSubNotifier) Stop() {
	n.topic.Stop()
}
