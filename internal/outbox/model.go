// README: Outbox message model and event constructors.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"foodhub/internal/types"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

const (
	EventUserNotification   = "user_notification"
	EventVendorNotification = "vendor_notification"
	EventOrderStatusChanged = "order_status_changed"
)

type Message struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	Attempts      int
	LastError     *string
	Status        Status
}

// Event is the envelope serialized into Message.Payload.
type Event struct {
	EventType   string          `json:"eventType"`
	EventID     string          `json:"eventId"`
	AggregateID string          `json:"aggregateId"`
	OccurredAt  time.Time       `json:"occurredAt"`
	Data        json.RawMessage `json:"data"`
}

// UserNotification is delivered through the notification handler.
type UserNotification struct {
	UserID types.ID          `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// VendorNotification names the vendor, not its user; the handler resolves the
// user at delivery time so lookup failures are retried like any other.
type VendorNotification struct {
	VendorID types.ID          `json:"vendorId"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
}

type OrderStatusChanged struct {
	OrderID    types.ID  `json:"orderId"`
	CustomerID types.ID  `json:"customerId"`
	VendorID   types.ID  `json:"vendorId"`
	PartnerID  *types.ID `json:"deliveryPartnerId,omitempty"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	ActorID    *types.ID `json:"actorId,omitempty"`
}

func newMessage(aggregateType, aggregateID, eventType string, data any, now time.Time) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	ev := Event{
		EventType:   eventType,
		EventID:     uuid.NewString(),
		AggregateID: aggregateID,
		OccurredAt:  now.UTC(),
		Data:        raw,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &Message{
		EventID:       ev.EventID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     ev.OccurredAt,
		Status:        StatusPending,
	}, nil
}

// NewUserNotification builds a notification message about an order.
func NewUserNotification(orderID types.ID, n UserNotification, now time.Time) (*Message, error) {
	return newMessage("order", string(orderID), EventUserNotification, n, now)
}

func NewVendorNotification(orderID types.ID, n VendorNotification, now time.Time) (*Message, error) {
	return newMessage("order", string(orderID), EventVendorNotification, n, now)
}

func NewOrderStatusChanged(e OrderStatusChanged, now time.Time) (*Message, error) {
	return newMessage("order", string(e.OrderID), EventOrderStatusChanged, e, now)
}

// Decode unpacks the envelope of m and its data into v.
func Decode(m *Message, v any) (Event, error) {
	var ev Event
	if err := json.Unmarshal(m.Payload, &ev); err != nil {
		return ev, err
	}
	if v != nil {
		if err := json.Unmarshal(ev.Data, v); err != nil {
			return ev, err
		}
	}
	return ev, nil
}
