// README: Order service tests over the in-memory store (state machine, dispatch race, authorization).
package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodhub/internal/config"
	"foodhub/internal/logger"
	"foodhub/internal/modules/order"
	"foodhub/internal/modules/order/ordertest"
	"foodhub/internal/modules/pricing"
	"foodhub/internal/modules/zone"
	"foodhub/internal/outbox"
	"foodhub/internal/outbox/outboxtest"
	"foodhub/internal/realtime"
	"foodhub/internal/realtime/realtimetest"
	"foodhub/internal/types"
)

var (
	customer = types.Actor{ID: "cust-1", Role: types.RoleCustomer}
	vendorU  = types.Actor{ID: "vendor-user-1", Role: types.RoleVendor}
	admin    = types.Actor{ID: "admin-1", Role: types.RoleAdmin}

	shopAddr = types.Address{Line1: "1 Main St", City: "Lisbon", Location: types.Point{Lat: 38.7223, Lng: -9.1393}}
	homeAddr = types.Address{Line1: "9 Side St", City: "Lisbon", Location: types.Point{Lat: 38.7300, Lng: -9.1400}}
)

type fixture struct {
	svc      *order.Service
	store    *ordertest.Memory
	vendors  *ordertest.Vendors
	partners *ordertest.Partners
	outbox   *outboxtest.Memory
	rooms    *realtimetest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    ordertest.NewMemory(),
		vendors:  ordertest.NewVendors(),
		partners: ordertest.NewPartners("p1", "p2", "p3"),
		outbox:   outboxtest.NewMemory(),
		rooms:    &realtimetest.Recorder{},
	}
	f.store.Outbox = f.outbox
	f.vendors.Add("vendor-1", vendorU.ID, shopAddr)
	f.svc = order.NewService(order.Deps{
		Store:    f.store,
		Zones:    ordertest.Zones{Zone: &zone.Zone{ZoneID: "Z1", MinFee: types.Money{Amount: 250, Currency: "EUR"}, MaxDistanceMeters: 8000}},
		Vendors:  f.vendors,
		Partners: f.partners,
		Pricing:  pricing.NewService(config.PricingConfig{Currency: "EUR", CommissionBps: 1000, VATBps: 2000, PerKmFee: 50, PartnerFeeBps: 8000}),
		Outbox:   f.outbox,
		Rooms:    f.rooms,
		Log:      logger.Nop(),
	})
	return f
}

func (f *fixture) create(t *testing.T, paid bool) *order.Order {
	t.Helper()
	o, err := f.svc.Create(context.Background(), order.CreateCommand{
		CustomerID:      customer.ID,
		VendorID:        "vendor-1",
		Items:           []order.Item{{Name: "bifana", Quantity: 2, UnitPrice: types.Money{Amount: 450, Currency: "EUR"}}},
		DeliveryAddress: homeAddr,
		Paid:            paid,
	})
	require.NoError(t, err)
	return o
}

// dispatching returns an order in DISPATCHING offered to pool until expiresAt.
func (f *fixture) dispatching(t *testing.T, expiresAt time.Time, pool ...types.ID) *order.Order {
	t.Helper()
	ctx := context.Background()
	o := f.create(t, true)
	_, err := f.svc.VendorDecide(ctx, order.DecideCommand{OrderID: o.ID, Actor: vendorU, Accept: true})
	require.NoError(t, err)
	o, err = f.svc.StartDispatch(ctx, order.StartDispatchCommand{OrderID: o.ID, Pool: pool, ExpiresAt: expiresAt})
	require.NoError(t, err)
	return o
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to order.Status
		want     bool
	}{
		{order.StatusPending, order.StatusAccepted, true},
		{order.StatusPending, order.StatusRejected, true},
		{order.StatusPending, order.StatusCanceled, true},
		{order.StatusAccepted, order.StatusDispatching, true},
		{order.StatusDispatching, order.StatusAssigned, true},
		{order.StatusDispatching, order.StatusAwaitingPartner, true},
		{order.StatusDispatching, order.StatusReassignmentNeeded, true},
		{order.StatusAwaitingPartner, order.StatusDispatching, true},
		{order.StatusReassignmentNeeded, order.StatusDispatching, true},
		{order.StatusAssigned, order.StatusPickedUp, true},
		{order.StatusAssigned, order.StatusReassignmentNeeded, true},
		{order.StatusPickedUp, order.StatusOnTheWay, true},
		{order.StatusOnTheWay, order.StatusDelivered, true},
		// terminal states have no outgoing transitions
		{order.StatusDelivered, order.StatusPickedUp, false},
		{order.StatusCanceled, order.StatusPending, false},
		{order.StatusRejected, order.StatusAccepted, false},
		// skipping states
		{order.StatusPending, order.StatusDispatching, false},
		{order.StatusAccepted, order.StatusAssigned, false},
		{order.StatusAssigned, order.StatusCanceled, false},
		{order.StatusPickedUp, order.StatusDelivered, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, order.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
	for s := range order.CancelBlocked {
		assert.False(t, order.CanTransition(s, order.StatusCanceled), "cancel allowed from %s", s)
	}
	assert.True(t, order.IsTerminal(order.StatusDelivered))
	assert.False(t, order.IsTerminal(order.StatusAssigned))
}

func TestCreate_SnapshotsMoney(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, false)

	assert.Regexp(t, `^ORD-\d{6}-[0-9A-F]{8}$`, string(o.ID))
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, types.ID("Z1"), o.ZoneID)
	assert.Equal(t, int64(900), o.Pricing.Subtotal.Amount)
	// Under 1 km, so the zone minimum applies.
	assert.Equal(t, int64(250), o.Pricing.DeliveryFee.Amount)
	assert.Equal(t, int64(90), o.Pricing.Commission.Amount)
	assert.Equal(t, int64(18), o.Pricing.VAT.Amount)
	assert.Equal(t, int64(1150), o.Pricing.Total.Amount)
	assert.Empty(t, o.DispatchPartnerPool)

	_, err := f.svc.Create(context.Background(), order.CreateCommand{CustomerID: customer.ID, VendorID: "vendor-1"})
	assert.ErrorIs(t, err, order.ErrBadRequest)
}

func TestVendorDecide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.create(t, false)

	_, err := f.svc.VendorDecide(ctx, order.DecideCommand{OrderID: o.ID, Actor: vendorU, Accept: true})
	assert.ErrorIs(t, err, order.ErrNotPaid)

	_, err = f.svc.MarkPaid(ctx, o.ID)
	require.NoError(t, err)

	stranger := types.Actor{ID: "vendor-user-2", Role: types.RoleVendor}
	_, err = f.svc.VendorDecide(ctx, order.DecideCommand{OrderID: o.ID, Actor: stranger, Accept: true})
	assert.ErrorIs(t, err, order.ErrForbidden)

	accepted, err := f.svc.VendorDecide(ctx, order.DecideCommand{OrderID: o.ID, Actor: vendorU, Accept: true})
	require.NoError(t, err)
	assert.Equal(t, order.StatusAccepted, accepted.Status)
	require.NotNil(t, accepted.PickupAddress)
	assert.Equal(t, shopAddr, *accepted.PickupAddress)

	// The pickup address is a copy; moving the shop later does not change it.
	f.vendors.Move("vendor-1", homeAddr)
	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, shopAddr, *got.PickupAddress)

	// A repeat decision is a conflict, not a second transition.
	_, err = f.svc.VendorDecide(ctx, order.DecideCommand{OrderID: o.ID, Actor: vendorU, Accept: false})
	assert.ErrorIs(t, err, order.ErrInvalidState)
}

func TestVendorDecide_RejectKeepsReason(t *testing.T) {
	f := newFixture(t)
	o := f.create(t, true)
	rejected, err := f.svc.VendorDecide(context.Background(), order.DecideCommand{OrderID: o.ID, Actor: vendorU, Reason: "out of stock"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)
	assert.Equal(t, "out of stock", *rejected.RejectReason)
}

func TestAcceptDispatch_ExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	pool := []types.ID{"p1", "p2", "p3"}
	o := f.dispatching(t, time.Now().Add(time.Minute), pool...)

	var wg sync.WaitGroup
	errs := make([]error, len(pool))
	for i, p := range pool {
		wg.Add(1)
		go func(i int, p types.ID) {
			defer wg.Done()
			_, errs[i] = f.svc.AcceptDispatch(context.Background(), order.DispatchReplyCommand{OrderID: o.ID, PartnerID: p})
		}(i, p)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, errors.Is(err, order.ErrAlreadyAssigned) || errors.Is(err, order.ErrConflict), "unexpected error %v", err)
	}
	assert.Equal(t, 1, winners)

	got, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusAssigned, got.Status)
	require.NotNil(t, got.DeliveryPartnerID)
	assert.Contains(t, pool, *got.DeliveryPartnerID)
	assert.Empty(t, got.DispatchPartnerPool)
	assert.Nil(t, got.DispatchExpiresAt)
}

func TestAcceptDispatch_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	o := f.dispatching(t, now.Add(time.Minute), "p1", "p2")

	_, err := f.svc.AcceptDispatch(ctx, order.DispatchReplyCommand{OrderID: o.ID, PartnerID: "p3"})
	assert.ErrorIs(t, err, order.ErrNotInPool)

	_, err = f.svc.AcceptDispatch(ctx, order.DispatchReplyCommand{OrderID: o.ID, PartnerID: "p1", Now: now.Add(2 * time.Minute)})
	assert.ErrorIs(t, err, order.ErrDispatchClosed)

	_, err = f.svc.AcceptDispatch(ctx, order.DispatchReplyCommand{OrderID: o.ID, PartnerID: "p1"})
	require.NoError(t, err)
	_, err = f.svc.AcceptDispatch(ctx, order.DispatchReplyCommand{OrderID: o.ID, PartnerID: "p2"})
	assert.ErrorIs(t, err, order.ErrAlreadyAssigned)
}

func TestDeclineDispatch_EmptyPoolNeedsReassignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.dispatching(t, time.Now().Add(time.Minute), "p1", "p2")

	res, err := f.svc.DeclineDispatch(ctx, order.DispatchReplyCommand{OrderID: o.ID, PartnerID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, order.StatusDispatching, res.Order.Status)

	_, err = f.svc.DeclineDispatch(ctx, order.DispatchReplyCommand{OrderID: o.ID, PartnerID: "p1"})
	assert.ErrorIs(t, err, order.ErrNotInPool)

	res, err = f.svc.DeclineDispatch(ctx, order.DispatchReplyCommand{OrderID: o.ID, PartnerID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, order.StatusReassignmentNeeded, res.Order.Status)

	// A reassignment can be dispatched again.
	_, err = f.svc.StartDispatch(ctx, order.StartDispatchCommand{OrderID: o.ID, Pool: []types.ID{"p3"}, ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
}

func TestExpireDispatch_IsConditional(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Now()
	expired := f.dispatching(t, now.Add(-time.Second), "p1")
	open := f.dispatching(t, now.Add(time.Minute), "p2")

	list, err := f.svc.ListExpiredDispatches(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, expired.ID, list[0].ID)

	notice, err := outbox.NewUserNotification(expired.ID, outbox.UserNotification{UserID: vendorU.ID, Title: "t"}, now)
	require.NoError(t, err)
	ok, err := f.svc.ExpireDispatch(ctx, list[0], now, notice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, f.outbox.Messages(outbox.EventUserNotification), 1)

	// A second sweep over the same order is a no-op.
	ok, err = f.svc.ExpireDispatch(ctx, list[0], now, notice)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.ExpireDispatch(ctx, open, now, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := f.svc.Get(ctx, expired.ID)
	assert.Equal(t, order.StatusAwaitingPartner, got.Status)
	assert.Empty(t, got.DispatchPartnerPool)
}

func TestUpdateStatus_CourierStepsAndAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.dispatching(t, time.Now().Add(time.Minute), "p1")
	_, err := f.svc.AcceptDispatch(ctx, order.DispatchReplyCommand{OrderID: o.ID, PartnerID: "p1"})
	require.NoError(t, err)

	p1 := types.Actor{ID: "p1", Role: types.RoleDeliveryPartner}
	p2 := types.Actor{ID: "p2", Role: types.RoleDeliveryPartner}

	_, err = f.svc.UpdateStatus(ctx, order.StatusCommand{OrderID: o.ID, To: order.StatusAssigned, Actor: admin})
	assert.ErrorIs(t, err, order.ErrDispatchOwned)

	_, err = f.svc.UpdateStatus(ctx, order.StatusCommand{OrderID: o.ID, To: order.StatusPickedUp, Actor: p2})
	assert.ErrorIs(t, err, order.ErrForbidden)

	_, err = f.svc.UpdateStatus(ctx, order.StatusCommand{OrderID: o.ID, To: order.StatusOnTheWay, Actor: p1})
	assert.ErrorIs(t, err, order.ErrInvalidState)

	_, err = f.svc.Cancel(ctx, order.CancelCommand{OrderID: o.ID, Actor: customer})
	assert.ErrorIs(t, err, order.ErrCancelBlocked)

	f.partners.Suspend("p1")
	_, err = f.svc.UpdateStatus(ctx, order.StatusCommand{OrderID: o.ID, To: order.StatusPickedUp, Actor: p1})
	assert.ErrorIs(t, err, order.ErrPartnerNotActive)

	for _, to := range []order.Status{order.StatusPickedUp, order.StatusOnTheWay, order.StatusDelivered} {
		got, err := f.svc.UpdateStatus(ctx, order.StatusCommand{OrderID: o.ID, To: to, Actor: admin})
		require.NoError(t, err, "to %s", to)
		assert.Equal(t, to, got.Status)
	}
	assert.Equal(t, []types.ID{"p1"}, f.partners.Idled())

	room := realtime.OrderRoom(o.ID)
	assert.NotEmpty(t, f.rooms.Find(order.EventStatusChanged, &room))
	assert.NotEmpty(t, f.outbox.Messages(outbox.EventOrderStatusChanged))
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.create(t, true)

	_, err := f.svc.Cancel(ctx, order.CancelCommand{OrderID: o.ID, Actor: types.Actor{ID: "someone", Role: types.RoleCustomer}})
	assert.ErrorIs(t, err, order.ErrForbidden)

	got, err := f.svc.Cancel(ctx, order.CancelCommand{OrderID: o.ID, Actor: customer, Reason: "changed my mind"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusCanceled, got.Status)
	require.NotNil(t, got.CancelReason)

	_, err = f.svc.Cancel(ctx, order.CancelCommand{OrderID: o.ID, Actor: customer})
	assert.ErrorIs(t, err, order.ErrInvalidState)

	events := f.store.Events(o.ID)
	require.Len(t, events, 2)
	assert.Equal(t, order.StatusCanceled, events[1].ToStatus)
}

func TestReleaseAssignment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.dispatching(t, time.Now().Add(time.Minute), "p1")
	_, err := f.svc.AcceptDispatch(ctx, order.DispatchReplyCommand{OrderID: o.ID, PartnerID: "p1"})
	require.NoError(t, err)

	got, err := f.svc.ReleaseAssignment(ctx, order.ReleaseCommand{OrderID: o.ID, Actor: types.Actor{ID: "p1", Role: types.RoleDeliveryPartner}, Reason: "flat tyre"})
	require.NoError(t, err)
	assert.Equal(t, order.StatusReassignmentNeeded, got.Status)
	assert.Nil(t, got.DeliveryPartnerID)
	assert.Equal(t, []types.ID{"p1"}, f.partners.Idled())

	_, err = f.svc.ReleaseAssignment(ctx, order.ReleaseCommand{OrderID: o.ID, Actor: admin})
	assert.ErrorIs(t, err, order.ErrInvalidState)
}

func TestGetFor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	o := f.create(t, true)

	for _, a := range []types.Actor{customer, vendorU, admin} {
		_, err := f.svc.GetFor(ctx, o.ID, a)
		assert.NoError(t, err, "actor %s", a.ID)
	}
	_, err := f.svc.GetFor(ctx, o.ID, types.Actor{ID: "p9", Role: types.RoleDeliveryPartner})
	assert.ErrorIs(t, err, order.ErrForbidden)
}
