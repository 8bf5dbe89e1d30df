package outbox

import (
	"context"
	"fmt"

	"github.com/Shopify/sarama"

	"foodhub/internal/logger"
	"foodhub/internal/types"
)

// Notifier is the user notification fan-out (realtime room plus push).
type Notifier interface {
	SendUserNotification(ctx context.Context, userID types.ID, title, body string, data map[string]string) error
}

// NotificationHandler delivers user_notification messages. Delivery is
// at-least-once; the event id travels in data so clients can drop repeats.
type NotificationHandler struct {
	notifier Notifier
}

func NewNotificationHandler(n Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: n}
}

func (h *NotificationHandler) HandleMessage(ctx context.Context, m *Message) error {
	var n UserNotification
	ev, err := Decode(m, &n)
	if err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	return h.notifier.SendUserNotification(ctx, n.UserID, n.Title, n.Body, withEventID(n.Data, ev.EventID))
}

// VendorResolver maps a vendor to the user that operates it.
type VendorResolver interface {
	UserID(ctx context.Context, vendorID types.ID) (types.ID, error)
}

// VendorNotificationHandler delivers vendor_notification messages to the
// vendor's user. A failed lookup fails the attempt and the message is retried.
type VendorNotificationHandler struct {
	vendors  VendorResolver
	notifier Notifier
}

func NewVendorNotificationHandler(vendors VendorResolver, n Notifier) *VendorNotificationHandler {
	return &VendorNotificationHandler{vendors: vendors, notifier: n}
}

func (h *VendorNotificationHandler) HandleMessage(ctx context.Context, m *Message) error {
	var n VendorNotification
	ev, err := Decode(m, &n)
	if err != nil {
		return fmt.Errorf("decode vendor notification: %w", err)
	}
	userID, err := h.vendors.UserID(ctx, n.VendorID)
	if err != nil {
		return fmt.Errorf("resolve vendor %s: %w", n.VendorID, err)
	}
	return h.notifier.SendUserNotification(ctx, userID, n.Title, n.Body, withEventID(n.Data, ev.EventID))
}

func withEventID(data map[string]string, eventID string) map[string]string {
	out := make(map[string]string, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out["eventId"] = eventID
	return out
}

// KafkaHandler publishes messages to a topic keyed by aggregate id, so all
// events of one order land on the same partition.
type KafkaHandler struct {
	producer sarama.SyncProducer
	topic    string
	log      logger.Logger
}

func NewKafkaHandler(producer sarama.SyncProducer, topic string, log logger.Logger) *KafkaHandler {
	return &KafkaHandler{producer: producer, topic: topic, log: log}
}

func (h *KafkaHandler) HandleMessage(_ context.Context, m *Message) error {
	msg := &sarama.ProducerMessage{
		Topic: h.topic,
		Key:   sarama.StringEncoder(m.AggregateID),
		Value: sarama.ByteEncoder(m.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(m.EventType)},
			{Key: []byte("event_id"), Value: []byte(m.EventID)},
		},
	}
	partition, offset, err := h.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish to kafka: %w", err)
	}
	h.log.Debug("outbox message published", "topic", h.topic, "aggregate_id", m.AggregateID,
		"partition", partition, "offset", offset)
	return nil
}

// LoggingHandler stands in for Kafka when no brokers are configured.
type LoggingHandler struct {
	log logger.Logger
}

func NewLoggingHandler(log logger.Logger) *LoggingHandler {
	return &LoggingHandler{log: log}
}

func (h *LoggingHandler) HandleMessage(_ context.Context, m *Message) error {
	ev, err := Decode(m, nil)
	if err != nil {
		return fmt.Errorf("decode outbox message: %w", err)
	}
	h.log.Info("outbox event", "event_type", m.EventType, "aggregate_id", m.AggregateID,
		"event_id", ev.EventID, "occurred_at", ev.OccurredAt)
	return nil
}
