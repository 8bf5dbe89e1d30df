// README: Zone store backed by PostgreSQL/PostGIS; writes that change coverage re-check overlap under a lock.
package zone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"foodhub/internal/geo"
	"foodhub/internal/types"
)

// zoneLockKey serializes writes that can change operational coverage.
const zoneLockKey = 7201

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const selectZone = `
	SELECT zone_id, district, zone_name, ST_AsGeoJSON(boundary), is_operational, is_deleted,
	       min_fee_amount, min_fee_currency, max_distance_m, created_at, updated_at, deleted_at
	FROM zones`

func (s *PGStore) Create(ctx context.Context, z *Zone) error {
	boundary, err := geoJSON(z.Boundary)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, zoneLockKey); err != nil {
			return err
		}
		overlap, err := intersecting(ctx, tx, boundary, "")
		if err != nil {
			return err
		}
		if len(overlap) > 0 {
			return ErrOverlap
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO zones (
				zone_id, district, zone_name, boundary, is_operational, is_deleted,
				min_fee_amount, min_fee_currency, max_distance_m, created_at, updated_at
			) VALUES ($1, $2, $3, ST_SetSRID(ST_GeomFromGeoJSON($4), 4326), $5, FALSE, $6, $7, $8, $9, $9)`,
			string(z.ZoneID), z.District, z.ZoneName, boundary, z.IsOperational,
			z.MinFee.Amount, z.MinFee.Currency, z.MaxDistanceMeters, z.CreatedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrExists
		}
		return err
	})
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Zone, error) {
	z, err := scanZone(s.db.QueryRow(ctx, selectZone+` WHERE zone_id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return z, err
}

func (s *PGStore) List(ctx context.Context, includeDeleted bool) ([]*Zone, error) {
	rows, err := s.db.Query(ctx, selectZone+` WHERE ($1 OR NOT is_deleted) ORDER BY zone_id`, includeDeleted)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Update writes z. When checkOverlap is set the boundary is re-checked
// against other operational zones inside the same locked transaction.
func (s *PGStore) Update(ctx context.Context, z *Zone, checkOverlap bool) error {
	boundary, err := geoJSON(z.Boundary)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if checkOverlap {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, zoneLockKey); err != nil {
				return err
			}
			overlap, err := intersecting(ctx, tx, boundary, z.ZoneID)
			if err != nil {
				return err
			}
			if len(overlap) > 0 {
				return ErrOverlap
			}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE zones SET
				district = $2, zone_name = $3, boundary = ST_SetSRID(ST_GeomFromGeoJSON($4), 4326),
				is_operational = $5, is_deleted = $6, min_fee_amount = $7, min_fee_currency = $8,
				max_distance_m = $9, updated_at = $10, deleted_at = $11
			WHERE zone_id = $1`,
			string(z.ZoneID), z.District, z.ZoneName, boundary, z.IsOperational, z.IsDeleted,
			z.MinFee.Amount, z.MinFee.Currency, z.MaxDistanceMeters, z.UpdatedAt, z.DeletedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *PGStore) Intersecting(ctx context.Context, ring geo.Ring, exclude types.ID) ([]types.ID, error) {
	boundary, err := geoJSON(ring)
	if err != nil {
		return nil, err
	}
	return intersecting(ctx, s.db, boundary, exclude)
}

func (s *PGStore) Containing(ctx context.Context, p types.Point) ([]*Zone, error) {
	rows, err := s.db.Query(ctx, selectZone+`
		WHERE is_operational AND NOT is_deleted
		  AND ST_Intersects(boundary, ST_SetSRID(ST_MakePoint($1, $2), 4326))`, p.Lng, p.Lat)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *PGStore) Delete(ctx context.Context, id types.ID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM zones WHERE zone_id = $1 AND is_deleted`, string(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func intersecting(ctx context.Context, q querier, boundary string, exclude types.ID) ([]types.ID, error) {
	rows, err := q.Query(ctx, `
		SELECT zone_id FROM zones
		WHERE is_operational AND NOT is_deleted AND zone_id <> $2
		  AND ST_Intersects(boundary, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))`,
		boundary, string(exclude))
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make([]types.ID, len(ids))
	for i, id := range ids {
		out[i] = types.ID(id)
	}
	return out, nil
}

func collect(rows pgx.Rows) ([]*Zone, error) {
	defer rows.Close()
	var out []*Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

func scanZone(row pgx.Row) (*Zone, error) {
	var z Zone
	var boundary string
	err := row.Scan(
		&z.ZoneID, &z.District, &z.ZoneName, &boundary, &z.IsOperational, &z.IsDeleted,
		&z.MinFee.Amount, &z.MinFee.Currency, &z.MaxDistanceMeters, &z.CreatedAt, &z.UpdatedAt, &z.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	var poly struct {
		Coordinates []geo.Ring `json:"coordinates"`
	}
	if err := json.Unmarshal([]byte(boundary), &poly); err != nil {
		return nil, fmt.Errorf("decode boundary of zone %s: %w", z.ZoneID, err)
	}
	if len(poly.Coordinates) > 0 {
		z.Boundary = poly.Coordinates[0]
	}
	return &z, nil
}

func geoJSON(r geo.Ring) (string, error) {
	b, err := json.Marshal(r.GeoJSON())
	if err != nil {
		return "", err
	}
	return string(b), nil
}
