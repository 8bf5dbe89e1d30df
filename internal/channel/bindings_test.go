package channel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodhub/internal/channel"
	"foodhub/internal/config"
	"foodhub/internal/logger"
	"foodhub/internal/modules/location"
	"foodhub/internal/modules/order"
	"foodhub/internal/modules/partner"
	"foodhub/internal/modules/sos"
	"foodhub/internal/modules/sos/sostest"
	"foodhub/internal/modules/support"
	"foodhub/internal/modules/support/supporttest"
	"foodhub/internal/realtime"
	"foodhub/internal/realtime/realtimetest"
	"foodhub/internal/throttle"
	"foodhub/internal/types"
)

type fakeOrders struct{ parties map[types.ID]bool }

func (f fakeOrders) GetFor(_ context.Context, id types.ID, actor types.Actor) (*order.Order, error) {
	if !f.parties[actor.ID] {
		return nil, order.ErrForbidden
	}
	return &order.Order{ID: id}, nil
}

type fakeDispatch struct{ accepted []types.ID }

func (f *fakeDispatch) Accept(_ context.Context, partnerID, orderID types.ID) (*order.Order, error) {
	if orderID == "ORD-taken" {
		return nil, order.ErrAlreadyAssigned
	}
	f.accepted = append(f.accepted, partnerID)
	return &order.Order{ID: orderID, Status: order.StatusAssigned, DeliveryPartnerID: &partnerID}, nil
}

func (f *fakeDispatch) Decline(_ context.Context, _, orderID types.ID) (*order.DeclineResult, error) {
	return &order.DeclineResult{Order: &order.Order{ID: orderID, Status: order.StatusDispatching}, Remaining: 1}, nil
}

type noPartners struct{}

func (noPartners) SaveSessionLocation(context.Context, types.ID, partner.SessionLocation) error { return nil }

type fixture struct {
	hub      *realtime.Hub
	rooms    *realtimetest.Recorder
	alerts   *sostest.Memory
	dispatch *fakeDispatch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := realtime.NewHub(nil, logger.Nop())
	rooms := &realtimetest.Recorder{}
	sessions := location.NewMemorySessions(time.Hour)
	loc := location.NewService(noPartners{}, sessions, throttle.NewMemory(time.Second), rooms, config.LocationConfig{}, logger.Nop())
	f := &fixture{hub: hub, rooms: rooms, alerts: sostest.NewMemory(), dispatch: &fakeDispatch{}}
	channel.Bind(hub, channel.Deps{
		Orders:   fakeOrders{parties: map[types.ID]bool{"c1": true}},
		Location: loc,
		SOS: sos.NewService(sos.Deps{
			Store: f.alerts, Locations: loc, Throttle: throttle.NewMemory(time.Second),
			Rooms: rooms, Log: logger.Nop(),
		}),
		Support:  support.NewService(supporttest.NewMemory(), rooms, logger.Nop()),
		Dispatch: f.dispatch,
	})
	return f
}

func (f *fixture) send(s realtime.Session, event string, data any) {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	f.hub.Dispatch(context.Background(), s, realtime.Envelope{Event: event, Data: raw})
}

func TestJoinOrderTracking(t *testing.T) {
	f := newFixture(t)
	customer := realtimetest.NewSession("c1", types.RoleCustomer)
	f.send(customer, channel.EventJoinOrderTracking, map[string]string{"orderId": "ORD-1"})
	assert.True(t, customer.InRoom(realtime.OrderRoom("ORD-1")))

	stranger := realtimetest.NewSession("c2", types.RoleCustomer)
	f.send(stranger, channel.EventJoinOrderTracking, map[string]string{"orderId": "ORD-1"})
	assert.False(t, stranger.InRoom(realtime.OrderRoom("ORD-1")))
	p, ok := stranger.LastError()
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, p.Status)

	vendor := realtimetest.NewSession("v1", types.RoleVendor)
	f.send(vendor, channel.EventJoinOrderTracking, map[string]string{"orderId": "ORD-1"})
	p, ok = vendor.LastError()
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, p.Status)
}

func TestDeliveryLocation_SilentDropAndBroadcast(t *testing.T) {
	f := newFixture(t)
	rider := realtimetest.NewSession("p7", types.RoleDeliveryPartner)

	f.send(rider, channel.EventDeliveryLocation, map[string]any{"orderId": "ORD-1", "latitude": 95, "longitude": -73})
	f.hub.Dispatch(context.Background(), rider, realtime.Envelope{Event: channel.EventDeliveryLocation, Data: json.RawMessage(`"garbage"`)})
	assert.Empty(t, rider.Emitted())
	assert.Empty(t, f.rooms.All())

	f.send(rider, channel.EventDeliveryLocation, map[string]any{"orderId": "ORD-1", "latitude": 45, "longitude": -73, "geoAccuracy": 10})
	room := realtime.OrderRoom("ORD-1")
	assert.Len(t, f.rooms.Find(location.EventDeliveryLive, &room), 1)

	customer := realtimetest.NewSession("c1", types.RoleCustomer)
	f.send(customer, channel.EventDeliveryLocation, map[string]any{"orderId": "ORD-1", "latitude": 45, "longitude": -73})
	p, ok := customer.LastError()
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, p.Status)
}

func TestSOSMonitoringAndStream(t *testing.T) {
	f := newFixture(t)
	admin := realtimetest.NewSession("a1", types.RoleAdmin)
	f.send(admin, channel.EventJoinSOSMonitoring, nil)
	assert.True(t, admin.InRoom(realtime.SOSPoolRoom()))

	rider := realtimetest.NewSession("p7", types.RoleDeliveryPartner)
	f.send(rider, channel.EventJoinSOSMonitoring, nil)
	assert.False(t, rider.InRoom(realtime.SOSPoolRoom()))

	require.NoError(t, f.alerts.Create(context.Background(), &sos.Alert{ID: "S1", ActorID: "p7", Status: sos.StatusActive}))
	f.send(rider, channel.EventSOSLocationStream, map[string]any{"sosId": "S1", "latitude": 10, "longitude": 10})
	pool := realtime.SOSPoolRoom()
	assert.Len(t, f.rooms.Find(sos.LiveLocationEvent("S1"), &pool), 1)

	stranger := realtimetest.NewSession("p8", types.RoleDeliveryPartner)
	f.send(stranger, channel.EventSOSLocationStream, map[string]any{"sosId": "S1", "latitude": 11, "longitude": 11})
	p, ok := stranger.LastError()
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, p.Status)
	assert.Len(t, f.rooms.Find(sos.LiveLocationEvent("S1"), &pool), 1)
}

func TestSupportEvents(t *testing.T) {
	f := newFixture(t)
	user := realtimetest.NewSession("u1", types.RoleCustomer)
	f.send(user, channel.EventJoinConversation, map[string]any{})
	assert.True(t, user.InRoom(realtime.SupportRoom("u1")))

	f.send(user, channel.EventSendMessage, map[string]any{"body": "hello"})
	admin := realtimetest.NewSession("a1", types.RoleAdmin)
	f.send(admin, channel.EventJoinConversation, map[string]any{"userId": "u1"})
	assert.True(t, admin.InRoom(realtime.SupportRoom("u1")))
	f.send(admin, channel.EventMarkRead, map[string]any{"userId": "u1"})
	f.send(admin, channel.EventCloseConversation, map[string]any{"userId": "u1"})

	room := realtime.SupportRoom("u1")
	assert.Len(t, f.rooms.Find(support.EventNewMessage, &room), 1)
	assert.Len(t, f.rooms.Find(support.EventReadUpdate, &room), 1)
	assert.Len(t, f.rooms.Find(support.EventConversationClosed, &room), 1)

	other := realtimetest.NewSession("u2", types.RoleCustomer)
	f.send(other, channel.EventSendMessage, map[string]any{"userId": "u1", "body": "sneaky"})
	p, ok := other.LastError()
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, p.Status)
}

func TestDispatchReplies(t *testing.T) {
	f := newFixture(t)
	rider := realtimetest.NewSession("p7", types.RoleDeliveryPartner)
	f.send(rider, channel.EventDispatchAccept, map[string]string{"orderId": "ORD-1"})
	assert.Equal(t, []types.ID{"p7"}, f.dispatch.accepted)
	assert.True(t, rider.InRoom(realtime.OrderRoom("ORD-1")))

	f.send(rider, channel.EventDispatchAccept, map[string]string{"orderId": "ORD-taken"})
	p, ok := rider.LastError()
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, p.Status)

	customer := realtimetest.NewSession("c1", types.RoleCustomer)
	f.send(customer, channel.EventDispatchDecline, map[string]string{"orderId": "ORD-1"})
	p, ok = customer.LastError()
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, p.Status)

	f.send(rider, channel.EventDispatchAccept, nil)
	p, ok = rider.LastError()
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, p.Status)
}
