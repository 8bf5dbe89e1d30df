// README: Concurrency tests for order state transitions against Postgres (run with -race).
package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"foodhub/internal/config"
	"foodhub/internal/logger"
	"foodhub/internal/modules/order"
	"foodhub/internal/modules/order/ordertest"
	"foodhub/internal/modules/pricing"
	"foodhub/internal/modules/zone"
	"foodhub/internal/outbox"
	"foodhub/internal/testutil/pgtest"
	"foodhub/internal/types"
)

func setupPG(t *testing.T) (*order.Service, *order.PGStore, *outbox.Store) {
	t.Helper()
	db := pgtest.Open(t, "order_state_events", "orders", "outbox_messages")
	store := order.NewPGStore(db)
	ob := outbox.NewStore(db)
	vendors := ordertest.NewVendors()
	vendors.Add("vendor-1", "vendor-user-1", shopAddr)
	svc := order.NewService(order.Deps{
		Store:    store,
		Zones:    ordertest.Zones{Zone: &zone.Zone{ZoneID: "Z1", MinFee: types.Money{Amount: 250, Currency: "EUR"}}},
		Vendors:  vendors,
		Partners: ordertest.NewPartners("p1", "p2", "p3", "p4", "p5"),
		Pricing:  pricing.NewService(config.PricingConfig{Currency: "EUR", PerKmFee: 50}),
		Outbox:   ob,
		Log:      logger.Nop(),
	})
	return svc, store, ob
}

func pgDispatching(t *testing.T, svc *order.Service, expiresAt time.Time, pool ...types.ID) types.ID {
	t.Helper()
	ctx := context.Background()
	o, err := svc.Create(ctx, order.CreateCommand{
		CustomerID:      "cust-1",
		VendorID:        "vendor-1",
		Items:           []order.Item{{Name: "prego", Quantity: 1, UnitPrice: types.Money{Amount: 700, Currency: "EUR"}}},
		DeliveryAddress: homeAddr,
		Paid:            true,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := svc.VendorDecide(ctx, order.DecideCommand{OrderID: o.ID, Actor: vendorU, Accept: true}); err != nil {
		t.Fatalf("vendor accept: %v", err)
	}
	if _, err := svc.StartDispatch(ctx, order.StartDispatchCommand{OrderID: o.ID, Pool: pool, ExpiresAt: expiresAt}); err != nil {
		t.Fatalf("start dispatch: %v", err)
	}
	return o.ID
}

func TestPG_ConcurrentAcceptDispatch(t *testing.T) {
	svc, _, _ := setupPG(t)
	pool := []types.ID{"p1", "p2", "p3", "p4", "p5"}
	id := pgDispatching(t, svc, time.Now().Add(time.Minute), pool...)

	var wg sync.WaitGroup
	errs := make(chan error, len(pool))
	for _, p := range pool {
		wg.Add(1)
		go func(p types.ID) {
			defer wg.Done()
			_, err := svc.AcceptDispatch(context.Background(), order.DispatchReplyCommand{OrderID: id, PartnerID: p})
			errs <- err
		}(p)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, order.ErrAlreadyAssigned) && !errors.Is(err, order.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", success)
	}
	o, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if o.Status != order.StatusAssigned || o.DeliveryPartnerID == nil || len(o.DispatchPartnerPool) != 0 {
		t.Fatalf("unexpected final order %+v", o)
	}
}

func TestPG_ConcurrentAcceptVsExpire(t *testing.T) {
	svc, store, ob := setupPG(t)
	expiresAt := time.Now().Add(50 * time.Millisecond)
	id := pgDispatching(t, svc, expiresAt, "p1")

	var wg sync.WaitGroup
	var acceptErr error
	var expired bool
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, acceptErr = svc.AcceptDispatch(context.Background(), order.DispatchReplyCommand{OrderID: id, PartnerID: "p1", Now: expiresAt.Add(-time.Millisecond)})
	}()
	go func() {
		defer wg.Done()
		notice, _ := outbox.NewUserNotification(id, outbox.UserNotification{UserID: "vendor-user-1", Title: "expired"}, time.Now())
		var err error
		expired, err = store.ExpireDispatch(context.Background(), id, expiresAt, notice)
		if err != nil {
			t.Errorf("expire: %v", err)
		}
	}()
	wg.Wait()

	if (acceptErr == nil) == expired {
		t.Fatalf("expected exactly one of accept/expire to win, accept err=%v expired=%v", acceptErr, expired)
	}
	msgs, err := ob.Claim(context.Background(), 10)
	if err != nil {
		t.Fatalf("claim outbox: %v", err)
	}
	notices := 0
	for _, m := range msgs {
		if m.EventType == outbox.EventUserNotification {
			notices++
		}
	}
	if expired && notices != 1 {
		t.Fatalf("expected 1 expiry notice, got %d", notices)
	}
	if !expired && notices != 0 {
		t.Fatalf("expected no expiry notice, got %d", notices)
	}
}

func TestPG_StoreRoundTrip(t *testing.T) {
	svc, _, _ := setupPG(t)
	id := pgDispatching(t, svc, time.Now().Add(time.Minute), "p1", "p2")

	o, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if o.Status != order.StatusDispatching || len(o.DispatchPartnerPool) != 2 || o.DispatchExpiresAt == nil {
		t.Fatalf("unexpected dispatch state %+v", o)
	}
	if o.PickupAddress == nil || o.PickupAddress.Line1 != shopAddr.Line1 {
		t.Fatalf("pickup address not stored: %+v", o.PickupAddress)
	}
	if o.Pricing.Total.Amount != 950 {
		t.Fatalf("expected total 950, got %d", o.Pricing.Total.Amount)
	}

	res, err := svc.DeclineDispatch(context.Background(), order.DispatchReplyCommand{OrderID: id, PartnerID: "p1"})
	if err != nil || res.Remaining != 1 {
		t.Fatalf("decline: %v %+v", err, res)
	}
	res, err = svc.DeclineDispatch(context.Background(), order.DispatchReplyCommand{OrderID: id, PartnerID: "p2"})
	if err != nil || res.Order.Status != order.StatusReassignmentNeeded {
		t.Fatalf("decline to empty pool: %v %+v", err, res)
	}
}
