// README: Partner store backed by PostgreSQL; session location is kept both as JSON and as a PostGIS point.
package partner

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"foodhub/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, userID types.ID) (*Partner, error) {
	var p Partner
	var registeredBy, currentOrder *string
	var loc []byte
	err := s.db.QueryRow(ctx, `
		SELECT user_id, registered_by, status, current_status, session_location,
		       max_concurrent_orders, current_order_id, is_deleted, created_at, updated_at
		FROM delivery_partners
		WHERE user_id = $1`, string(userID),
	).Scan(&p.UserID, &registeredBy, &p.Status, &p.CurrentStatus, &loc,
		&p.MaxConcurrentOrders, &currentOrder, &p.IsDeleted, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if registeredBy != nil {
		id := types.ID(*registeredBy)
		p.RegisteredBy = &id
	}
	if currentOrder != nil {
		id := types.ID(*currentOrder)
		p.CurrentOrderID = &id
	}
	if loc != nil {
		var sl SessionLocation
		if err := json.Unmarshal(loc, &sl); err != nil {
			return nil, err
		}
		p.SessionLocation = &sl
	}
	return &p, nil
}

// SaveSessionLocation returns the partner's availability after the write.
func (s *PGStore) SaveSessionLocation(ctx context.Context, userID types.ID, loc SessionLocation) (Availability, error) {
	raw, err := json.Marshal(loc)
	if err != nil {
		return "", err
	}
	var current Availability
	err = s.db.QueryRow(ctx, `
		UPDATE delivery_partners
		SET session_location = $2,
		    session_point = ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography,
		    updated_at = $5
		WHERE user_id = $1 AND NOT is_deleted
		RETURNING current_status`,
		string(userID), raw, loc.Point.Lng, loc.Point.Lat, loc.UpdatedAt,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return current, err
}

// SetCurrentStatus changes availability only while it is one of from.
func (s *PGStore) SetCurrentStatus(ctx context.Context, userID types.ID, from []Availability, to Availability, orderID *types.ID) (bool, error) {
	fromStr := make([]string, len(from))
	for i, f := range from {
		fromStr[i] = string(f)
	}
	var order *string
	if orderID != nil {
		v := string(*orderID)
		order = &v
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE delivery_partners
		SET current_status = $2, current_order_id = $3, updated_at = NOW()
		WHERE user_id = $1 AND current_status = ANY($4) AND NOT is_deleted`,
		string(userID), string(to), order, fromStr,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FilterDispatchable keeps approved idle partners, preserving the order of ids.
func (s *PGStore) FilterDispatchable(ctx context.Context, ids []types.ID) ([]types.ID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in := make([]string, len(ids))
	for i, id := range ids {
		in[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT user_id FROM delivery_partners
		WHERE user_id = ANY($1)
		  AND status = 'APPROVED'
		  AND current_status = 'IDLE'
		  AND NOT is_deleted`, in)
	if err != nil {
		return nil, err
	}
	ok, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(ok))
	for _, id := range ok {
		keep[id] = true
	}
	out := make([]types.ID, 0, len(ok))
	for _, id := range ids {
		if keep[string(id)] {
			out = append(out, id)
		}
	}
	return out, nil
}
