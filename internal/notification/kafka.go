package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	segkafka "github.com/segmentio/kafka-go"

	"github.com/MrJamesThe3rd/reloop/internal/kafka"
)

const EventNotificationRequested = "NotificationRequested"

type publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...segkafka.Header) error
}

// KafkaNotifier publishes events for cmd/notifier to persist. Messages are
// keyed by user so one user's notifications keep their order.
type KafkaNotifier struct {
	producer  publisher
	localizer *Localizer
	source    string
}

func NewKafkaNotifier(p publisher, l *Localizer, source string) *KafkaNotifier {
	return &KafkaNotifier{producer: p, localizer: l, source: source}
}

func (n *KafkaNotifier) Notify(ctx context.Context, ev Event) error {
	if ev.Title == "" {
		ev.Title = n.localizer.Title(ev.Type, ev.ItemName)
	}

	env, err := kafka.NewEnvelope(EventNotificationRequested, n.source, ev)
	if err != nil {
		return err
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	headers := []segkafka.Header{{Key: "event_type", Value: []byte(env.EventType)}}

	if err := n.producer.Publish(ctx, []byte(ev.UserID.String()), value, headers...); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}

	return nil
}

// ConsumerHandler persists consumed notification events. The envelope's
// event id makes redelivery a no-op.
func ConsumerHandler(store Store) kafka.Handler {
	return func(ctx context.Context, m segkafka.Message) error {
		env, err := kafka.UnmarshalEnvelope(m.Value)
		if err != nil {
			return err
		}

		if env.EventType != EventNotificationRequested {
			return nil
		}

		eventID, err := uuid.Parse(env.EventID)
		if err != nil {
			return fmt.Errorf("parsing event id: %w", err)
		}

		ev, err := kafka.UnwrapPayload[Event](env.Payload)
		if err != nil {
			return err
		}

		if err := store.Save(ctx, fromEvent(eventID, ev)); err != nil {
			return fmt.Errorf("saving notification: %w", err)
		}

		return nil
	}
}
