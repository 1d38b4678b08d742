package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/labflow/pkg/events"
)

type WatermillEventBus struct {
	logger     *slog.Logger
	publisher  message.Publisher
	subscriber message.Subscriber

	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		logger:        logger.With("module", "event_bus"),
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	eb.logger.DebugContext(ctx, "Publishing event", "key", key, "event_type", event.GetType())

	if err := eb.publisher.Publish(events.Topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.GetType(), err)
	}

	return nil
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", events.Topic, err)
	}

	go func() {
		for msg := range messages {
			eb.dispatch(ctx, msg)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, exists := eb.subscriptions[eventType]
	eb.mu.RUnlock()

	if !exists {
		msg.Ack()

		return
	}

	event := events.New(eventType)
	if event == nil {
		eb.logger.WarnContext(ctx, "Dropping event of unknown type", "event_type", eventType)
		msg.Nack()

		return
	}

	if err := json.Unmarshal(msg.Payload, event); err != nil {
		eb.logger.ErrorContext(ctx, "Failed to decode event", "event_type", eventType, "error", err)
		msg.Nack()

		return
	}

	if err := handler(ctx, event); err != nil {
		eb.logger.ErrorContext(ctx, "Event handler failed", "event_type", eventType, "error", err)
		msg.Nack()

		return
	}

	msg.Ack()
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	return eb.subscriber.Close()
}
