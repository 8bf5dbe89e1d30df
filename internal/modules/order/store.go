// README: Order store backed by PostgreSQL; every status write is a conditional update.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"foodhub/internal/outbox"
	"foodhub/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const orderColumns = `
	id, customer_id, vendor_id, delivery_partner_id, status, status_version, is_paid,
	zone_id, items, delivery_address, pickup_address, dispatch_partner_pool, dispatch_expires_at,
	pricing, cancel_reason, reject_reason, is_deleted,
	created_at, updated_at, paid_at, assigned_at, delivered_at, canceled_at`

func (s *PGStore) Create(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return err
	}
	addr, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return err
	}
	snap, err := json.Marshal(o.Pricing)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, vendor_id, status, status_version, is_paid,
			zone_id, items, delivery_address, pricing, created_at, updated_at, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11, $12)`,
		string(o.ID), string(o.CustomerID), string(o.VendorID), string(o.Status), o.StatusVersion, o.IsPaid,
		string(o.ZoneID), items, addr, snap, o.CreatedAt, o.PaidAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND NOT is_deleted`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *PGStore) SetPaid(ctx context.Context, id types.ID, version int, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET is_paid = TRUE, paid_at = $2, updated_at = $2, status_version = status_version + 1
		WHERE id = $1 AND status_version = $3 AND NOT is_paid`,
		string(id), at, version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatus applies t. Leaving DISPATCHING through this path always clears
// the offer pool and deadline.
func (s *PGStore) UpdateStatus(ctx context.Context, t Transition) (bool, error) {
	var pickup []byte
	if t.PickupAddress != nil {
		b, err := json.Marshal(t.PickupAddress)
		if err != nil {
			return false, err
		}
		pickup = b
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1::text,
		    status_version = status_version + 1,
		    updated_at = $2,
		    delivery_partner_id = CASE WHEN $3::bool THEN NULL ELSE COALESCE($4::text, delivery_partner_id) END,
		    pickup_address = COALESCE($5::jsonb, pickup_address),
		    cancel_reason = CASE WHEN $1::text = 'CANCELED' THEN $6::text ELSE cancel_reason END,
		    reject_reason = CASE WHEN $1::text = 'REJECTED' THEN $6::text ELSE reject_reason END,
		    dispatch_partner_pool = '{}',
		    dispatch_expires_at = NULL,
		    delivered_at = CASE WHEN $1::text = 'DELIVERED' THEN $2 ELSE delivered_at END,
		    canceled_at = CASE WHEN $1::text = 'CANCELED' THEN $2 ELSE canceled_at END
		WHERE id = $7 AND status = $8 AND status_version = $9`,
		string(t.To), t.At, t.ClearPartner, idPtr(t.PartnerID), pickup, t.Reason,
		string(t.OrderID), string(t.From), t.Version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) StartDispatch(ctx context.Context, id types.ID, from Status, version int, pool []types.ID, expiresAt, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = 'DISPATCHING',
		    status_version = status_version + 1,
		    dispatch_partner_pool = $4,
		    dispatch_expires_at = $5,
		    updated_at = $6
		WHERE id = $1 AND status = $2 AND status_version = $3`,
		string(id), string(from), version, idStrings(pool), expiresAt, now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AcceptDispatch binds partnerID in one conditional statement. At most one
// caller per dispatch entry can match the WHERE clause.
func (s *PGStore) AcceptDispatch(ctx context.Context, id, partnerID types.ID, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = 'ASSIGNED',
		    status_version = status_version + 1,
		    delivery_partner_id = $2,
		    dispatch_partner_pool = '{}',
		    dispatch_expires_at = NULL,
		    assigned_at = $3,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'DISPATCHING'
		  AND $2 = ANY(dispatch_partner_pool)
		  AND dispatch_expires_at > $3`,
		string(id), string(partnerID), now,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// DeclineDispatch removes partnerID from the open pool. An emptied pool moves
// the order to REASSIGNMENT_NEEDED in the same statement.
func (s *PGStore) DeclineDispatch(ctx context.Context, id, partnerID types.ID, now time.Time) (Status, int, bool, error) {
	var status string
	var remaining int
	err := s.db.QueryRow(ctx, `
		UPDATE orders
		SET dispatch_partner_pool = array_remove(dispatch_partner_pool, $2),
		    status = CASE WHEN cardinality(array_remove(dispatch_partner_pool, $2)) = 0
		                  THEN 'REASSIGNMENT_NEEDED' ELSE status END,
		    dispatch_expires_at = CASE WHEN cardinality(array_remove(dispatch_partner_pool, $2)) = 0
		                  THEN NULL ELSE dispatch_expires_at END,
		    status_version = status_version + 1,
		    updated_at = $3
		WHERE id = $1 AND status = 'DISPATCHING' AND $2 = ANY(dispatch_partner_pool)
		RETURNING status, cardinality(dispatch_partner_pool)`,
		string(id), string(partnerID), now,
	).Scan(&status, &remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatusNone, 0, false, nil
	}
	if err != nil {
		return StatusNone, 0, false, err
	}
	return Status(status), remaining, true, nil
}

func (s *PGStore) ListExpiredDispatches(ctx context.Context, now time.Time, limit int) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'DISPATCHING' AND dispatch_expires_at <= $1 AND NOT is_deleted
		ORDER BY dispatch_expires_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ExpireDispatch moves an expired entry to AWAITING_PARTNER and enqueues
// notice in the same transaction. It reports false when the order was
// accepted, declined or re-dispatched in the meantime.
func (s *PGStore) ExpireDispatch(ctx context.Context, id types.ID, now time.Time, notice *outbox.Message) (bool, error) {
	expired := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET status = 'AWAITING_PARTNER',
			    status_version = status_version + 1,
			    dispatch_partner_pool = '{}',
			    dispatch_expires_at = NULL,
			    updated_at = $2
			WHERE id = $1 AND status = 'DISPATCHING' AND dispatch_expires_at <= $2`,
			string(id), now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return nil
		}
		if err := insertEvent(ctx, tx, &Event{
			OrderID:    id,
			FromStatus: StatusDispatching,
			ToStatus:   StatusAwaitingPartner,
			ActorType:  "system",
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		if notice != nil {
			if err := outbox.EnqueueTx(ctx, tx, notice); err != nil {
				return err
			}
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("expire dispatch %s: %w", id, err)
	}
	return expired, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	return insertEvent(ctx, s.db, e)
}

type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertEvent(ctx context.Context, db execer, e *Event) error {
	return db.QueryRow(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.OrderID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, idPtr(e.ActorID), e.Reason, e.CreatedAt,
	).Scan(&e.ID)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var partnerID *string
	var items, delivery, pickup, snap []byte
	var pool []string
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.VendorID, &partnerID, &o.Status, &o.StatusVersion, &o.IsPaid,
		&o.ZoneID, &items, &delivery, &pickup, &pool, &o.DispatchExpiresAt,
		&snap, &o.CancelReason, &o.RejectReason, &o.IsDeleted,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.AssignedAt, &o.DeliveredAt, &o.CanceledAt,
	)
	if err != nil {
		return nil, err
	}
	if partnerID != nil {
		id := types.ID(*partnerID)
		o.DeliveryPartnerID = &id
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(delivery, &o.DeliveryAddress); err != nil {
		return nil, fmt.Errorf("decode delivery address: %w", err)
	}
	if pickup != nil {
		var a types.Address
		if err := json.Unmarshal(pickup, &a); err != nil {
			return nil, fmt.Errorf("decode pickup address: %w", err)
		}
		o.PickupAddress = &a
	}
	if err := json.Unmarshal(snap, &o.Pricing); err != nil {
		return nil, fmt.Errorf("decode pricing: %w", err)
	}
	o.DispatchPartnerPool = make([]types.ID, len(pool))
	for i, p := range pool {
		o.DispatchPartnerPool[i] = types.ID(p)
	}
	return &o, nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func idStrings(ids []types.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
