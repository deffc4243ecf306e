package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/roach88/shopsync/internal/ir"
)

// Message metadata keys set by WatermillPubSub.Publish.
const (
	MetadataEntityType = "entity_type"
	MetadataEventType  = "event_type"
)

// WatermillPubSub adapts any watermill transport to Feed and Publisher.
// Payloads are JSON-encoded ir.ChangeEvent values.
type WatermillPubSub struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	prefix     string
}

var (
	_ Feed      = (*WatermillPubSub)(nil)
	_ Publisher = (*WatermillPubSub)(nil)
)

// NewWatermillPubSub wraps a watermill publisher/subscriber pair.
// Either side may be nil when only the other is used.
func NewWatermillPubSub(publisher message.Publisher, subscriber message.Subscriber, topicPrefix string) *WatermillPubSub {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &WatermillPubSub{publisher: publisher, subscriber: subscriber, prefix: topicPrefix}
}

// Publish encodes ev and sends it to the entity type's topic.
func (w *WatermillPubSub) Publish(ctx context.Context, t ir.EntityType, ev ir.ChangeEvent) error {
	if w.publisher == nil {
		return errors.New("realtime: no publisher configured")
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("publish %s: %w", t, err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("publish %s: encode: %w", t, err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(MetadataEntityType, string(t))
	msg.Metadata.Set(MetadataEventType, string(ev.EventType))
	msg.SetContext(ctx)

	return w.publisher.Publish(Topic(w.prefix, t), msg)
}

// Subscribe returns decoded change events for t. Each message is acked
// once the event is handed to the caller and nacked if ctx ends first.
// Undecodable messages are logged and acked so they do not redeliver.
func (w *WatermillPubSub) Subscribe(ctx context.Context, t ir.EntityType) (<-chan ir.ChangeEvent, error) {
	if w.subscriber == nil {
		return nil, errors.New("realtime: no subscriber configured")
	}
	topic := Topic(w.prefix, t)
	msgs, err := w.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan ir.ChangeEvent)
	go func() {
		defer close(out)

		for msg := range msgs {
			var ev ir.ChangeEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				slog.Warn("dropping undecodable change event", "topic", topic, "message_uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}

			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return out, nil
}

// Close closes both sides of the transport.
func (w *WatermillPubSub) Close() error {
	var pubErr, subErr error

	if closer, ok := w.publisher.(interface{ Close() error }); ok {
		pubErr = closer.Close()
	}
	// gochannel uses one value for both sides; close it once.
	if any(w.subscriber) != any(w.publisher) {
		if closer, ok := w.subscriber.(interface{ Close() error }); ok {
			subErr = closer.Close()
		}
	}

	return errors.Join(pubErr, subErr)
}
