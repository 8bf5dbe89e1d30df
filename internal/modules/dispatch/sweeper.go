package dispatch

import (
	"context"
	"time"

	"foodhub/internal/outbox"
)

// Sweeper moves dispatches whose offer window passed to AWAITING_PARTNER and
// queues one vendor notice per expiry in the same transaction.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	batch    int
}

func NewSweeper(svc *Service) *Sweeper {
	interval := svc.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	batch := svc.cfg.SweepBatch
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{svc: svc, interval: interval, batch: batch}
}

func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := w.Sweep(ctx, w.svc.now())
			if err != nil {
				w.svc.log.Error("dispatch sweep failed", "error", err)
				continue
			}
			if res.Expired+res.Failed > 0 {
				w.svc.log.Info("dispatch sweep", "expired", res.Expired, "skipped", res.Skipped, "failed", res.Failed)
			}
		}
	}
}

// Sweep handles one batch. Every expired order is reset; the vendor notice
// rides the outbox and is resolved to a user when delivered.
func (w *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	expired, err := w.svc.orders.ListExpiredDispatches(ctx, now, w.batch)
	if err != nil {
		return res, err
	}
	for _, o := range expired {
		notice, err := outbox.NewVendorNotification(o.ID, outbox.VendorNotification{
			VendorID: o.VendorID,
			Title:    "No delivery partner found",
			Body:     "No delivery partner accepted order " + string(o.ID) + " in time. You can dispatch it again.",
			Data:     map[string]string{"event": EventExpired, "orderId": string(o.ID)},
		}, now)
		if err != nil {
			res.Failed++
			continue
		}
		ok, err := w.svc.orders.ExpireDispatch(ctx, o, now, notice)
		if err != nil {
			w.svc.log.Error("expire dispatch failed", "order_id", o.ID, "error", err)
			res.Failed++
			continue
		}
		if !ok {
			// Accepted or declined between listing and expiring.
			res.Skipped++
			continue
		}
		res.Expired++
	}
	return res, nil
}
