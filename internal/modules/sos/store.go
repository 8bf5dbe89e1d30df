// README: SOS alert store on PostgreSQL/PostGIS; status changes are conditional on the prior status.
package sos

import (
	"context"
	"encoding/json"
	"errors"
	"time"

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

const selectAlert = `
	SELECT id, actor_id, actor_kind, role, order_id, fleet_manager_id, status, notes, tags, device,
	       ST_Y(location::geometry), ST_X(location::geometry), resolved_by, resolved_at, created_at, updated_at
	FROM sos_alerts`

func (s *PGStore) Create(ctx context.Context, a *Alert) error {
	notes, err := json.Marshal(a.Notes)
	if err != nil {
		return err
	}
	device, err := json.Marshal(a.Device)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sos_alerts (
			id, actor_id, actor_kind, role, order_id, fleet_manager_id, status, notes, tags, device,
			location, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			ST_SetSRID(ST_MakePoint($11, $12), 4326)::geography, $13, $13)`,
		string(a.ID), string(a.ActorID), string(a.ActorKind), string(a.Role), idPtr(a.OrderID), idPtr(a.FleetManagerID),
		string(a.Status), notes, a.Tags, device, a.Location.Lng, a.Location.Lat, a.CreatedAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Alert, error) {
	a, err := scanAlert(s.db.QueryRow(ctx, selectAlert+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// UpdateStatus applies the change only if the alert still has status from.
func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, note *Note, resolvedBy *types.ID, at time.Time) (bool, error) {
	var notes []byte
	if note != nil {
		raw, err := json.Marshal([]Note{*note})
		if err != nil {
			return false, err
		}
		notes = raw
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE sos_alerts
		SET status = $3,
		    notes = CASE WHEN $4::jsonb IS NULL THEN notes ELSE notes || $4::jsonb END,
		    resolved_by = CASE WHEN $3 = 'RESOLVED' THEN $5 ELSE resolved_by END,
		    resolved_at = CASE WHEN $3 = 'RESOLVED' THEN $6 ELSE resolved_at END,
		    updated_at = $6
		WHERE id = $1 AND status = $2`,
		string(id), string(from), string(to), notes, idPtr(resolvedBy), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateLocation moves an unresolved alert raised by actorID.
func (s *PGStore) UpdateLocation(ctx context.Context, id, actorID types.ID, p types.Point, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sos_alerts
		SET location = ST_SetSRID(ST_MakePoint($3, $4), 4326)::geography, updated_at = $5
		WHERE id = $1 AND actor_id = $2 AND status <> 'RESOLVED'`,
		string(id), string(actorID), p.Lng, p.Lat, at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Nearby returns ACTIVE alerts within radiusMeters of p, nearest first.
func (s *PGStore) Nearby(ctx context.Context, p types.Point, radiusMeters int) ([]*Alert, error) {
	rows, err := s.db.Query(ctx, selectAlert+`
		WHERE status = 'ACTIVE'
		  AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY ST_Distance(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)`,
		p.Lng, p.Lat, radiusMeters,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]*Alert, error) {
	statuses := make([]string, len(f.Statuses))
	for i, st := range f.Statuses {
		statuses[i] = string(st)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, selectAlert+`
		WHERE (cardinality($1::text[]) = 0 OR status = ANY($1))
		  AND ($2::text IS NULL OR fleet_manager_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5`,
		statuses, idPtr(f.FleetManagerID), f.Since, limit, f.Offset,
	)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]*Alert, error) {
	defer rows.Close()
	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	var orderID, fleetManagerID, resolvedBy *string
	var notes, device []byte
	err := row.Scan(&a.ID, &a.ActorID, &a.ActorKind, &a.Role, &orderID, &fleetManagerID, &a.Status,
		&notes, &a.Tags, &device, &a.Location.Lat, &a.Location.Lng, &resolvedBy, &a.ResolvedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.OrderID = toID(orderID)
	a.FleetManagerID = toID(fleetManagerID)
	a.ResolvedBy = toID(resolvedBy)
	if err := json.Unmarshal(notes, &a.Notes); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(device, &a.Device); err != nil {
		return nil, err
	}
	if a.Tags == nil {
		a.Tags = []string{}
	}
	return &a, nil
}

func idPtr(id *types.ID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func toID(s *string) *types.ID {
	if s == nil {
		return nil
	}
	id := types.ID(*s)
	return &id
}
