// README: Binds client events on the realtime hub to module services.
package channel

import (
	"context"
	"encoding/json"

	"foodhub/internal/apperr"
	"foodhub/internal/modules/dispatch"
	"foodhub/internal/modules/location"
	"foodhub/internal/modules/order"
	"foodhub/internal/modules/sos"
	"foodhub/internal/modules/support"
	"foodhub/internal/realtime"
	"foodhub/internal/types"
)

// Client events.
const (
	EventJoinOrderTracking = "join-order-tracking"
	EventDeliveryLocation  = "delivery-location-update"
	EventLocationUpdate    = "location-update"
	EventJoinSOSMonitoring = "join-sos-monitoring"
	EventSOSLocationStream = "sos-location-stream"
	EventJoinConversation  = "join-conversation"
	EventSendMessage       = "send-message"
	EventMarkRead          = "mark-read"
	EventCloseConversation = "close-conversation"
	EventDispatchAccept    = "dispatch-accept"
	EventDispatchDecline   = "dispatch-decline"
)

// Acknowledgements sent back to the caller only.
const (
	AckOrderTracking   = "order-tracking-joined"
	AckSOSMonitoring   = "sos-monitoring-joined"
	AckConversation    = "conversation-joined"
	AckDispatchReplied = "dispatch-reply"
)

type Orders interface {
	GetFor(ctx context.Context, id types.ID, actor types.Actor) (*order.Order, error)
}

type Dispatcher interface {
	Accept(ctx context.Context, partnerID, orderID types.ID) (*order.Order, error)
	Decline(ctx context.Context, partnerID, orderID types.ID) (*order.DeclineResult, error)
}

type Deps struct {
	Orders   Orders
	Location *location.Service
	SOS      *sos.Service
	Support  *support.Service
	Dispatch Dispatcher
}

type orderRef struct {
	OrderID types.ID `json:"orderId"`
}

type conversationRef struct {
	UserID types.ID `json:"userId,omitempty"`
	Body   string   `json:"body,omitempty"`
}

// Bind registers every handler on hub.
func Bind(hub *realtime.Hub, d Deps) {
	hub.On(EventJoinOrderTracking, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var p orderRef
		if err := decode(data, &p); err != nil {
			return err
		}
		actor := s.Actor()
		if err := d.Location.JoinOrderTracking(actor, p.OrderID); err != nil {
			return err
		}
		if d.Orders != nil {
			if _, err := d.Orders.GetFor(ctx, p.OrderID, actor); err != nil {
				return err
			}
		}
		s.Join(realtime.OrderRoom(p.OrderID))
		s.Emit(AckOrderTracking, p)
		return nil
	})

	// Telemetry handlers never answer; dropped samples are silent.
	hub.On(EventDeliveryLocation, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var u location.DeliveryUpdate
		if json.Unmarshal(data, &u) != nil {
			return nil
		}
		_, err := d.Location.HandleDeliveryUpdate(ctx, s.Actor(), u)
		return err
	})
	hub.On(EventLocationUpdate, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var smp location.Sample
		if json.Unmarshal(data, &smp) != nil {
			return nil
		}
		_, err := d.Location.HandleLocationUpdate(ctx, s.Actor(), smp)
		return err
	})

	hub.On(EventJoinSOSMonitoring, func(_ context.Context, s realtime.Session, _ json.RawMessage) error {
		if err := d.SOS.JoinMonitoring(s.Actor()); err != nil {
			return err
		}
		s.Join(realtime.SOSPoolRoom())
		s.Emit(AckSOSMonitoring, nil)
		return nil
	})
	hub.On(EventSOSLocationStream, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var smp sos.StreamSample
		if json.Unmarshal(data, &smp) != nil {
			return nil
		}
		_, err := d.SOS.HandleLocationStream(ctx, s.Actor(), smp)
		return err
	})

	hub.On(EventJoinConversation, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var p conversationRef
		if err := decode(data, &p); err != nil {
			return err
		}
		c, err := d.Support.Join(ctx, s.Actor(), p.UserID)
		if err != nil {
			return err
		}
		s.Join(realtime.SupportRoom(c.UserID))
		s.Emit(AckConversation, c)
		return nil
	})
	hub.On(EventSendMessage, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var p conversationRef
		if err := decode(data, &p); err != nil {
			return err
		}
		_, err := d.Support.Send(ctx, s.Actor(), p.UserID, p.Body)
		return err
	})
	hub.On(EventMarkRead, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var p conversationRef
		if err := decode(data, &p); err != nil {
			return err
		}
		_, err := d.Support.MarkRead(ctx, s.Actor(), p.UserID)
		return err
	})
	hub.On(EventCloseConversation, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var p conversationRef
		if err := decode(data, &p); err != nil {
			return err
		}
		_, err := d.Support.Close(ctx, s.Actor(), p.UserID)
		return err
	})

	hub.On(EventDispatchAccept, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var p orderRef
		if err := decode(data, &p); err != nil {
			return err
		}
		if err := partnerOnly(s.Actor()); err != nil {
			return err
		}
		o, err := d.Dispatch.Accept(ctx, s.Actor().ID, p.OrderID)
		if err != nil {
			return err
		}
		s.Join(realtime.OrderRoom(o.ID))
		s.Emit(AckDispatchReplied, map[string]any{"orderId": o.ID, "status": o.Status})
		return nil
	})
	hub.On(EventDispatchDecline, func(ctx context.Context, s realtime.Session, data json.RawMessage) error {
		var p orderRef
		if err := decode(data, &p); err != nil {
			return err
		}
		if err := partnerOnly(s.Actor()); err != nil {
			return err
		}
		res, err := d.Dispatch.Decline(ctx, s.Actor().ID, p.OrderID)
		if err != nil {
			return err
		}
		s.Emit(AckDispatchReplied, map[string]any{"orderId": res.Order.ID, "status": res.Order.Status})
		return nil
	})
}

var _ Dispatcher = (*dispatch.Service)(nil)

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.BadRequest("missing payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.BadRequest("invalid payload")
	}
	return nil
}

func partnerOnly(a types.Actor) error {
	if a.Role != types.RoleDeliveryPartner {
		return apperr.Forbidden("delivery partners only")
	}
	return nil
}
