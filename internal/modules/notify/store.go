// README: Device token store on PostgreSQL.
package notify

import (
	"context"
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

// Register upserts the token; a token moves to the latest user that registered it.
func (s *PGStore) Register(ctx context.Context, t DeviceToken) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO device_tokens (token, user_id, platform, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform, updated_at = EXCLUDED.updated_at`,
		t.Token, string(t.UserID), string(t.Platform), t.UpdatedAt,
	)
	return err
}

func (s *PGStore) Remove(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1`, token)
	return err
}

func (s *PGStore) TokensFor(ctx context.Context, userID types.ID) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT token FROM device_tokens WHERE user_id = $1 ORDER BY updated_at DESC`, string(userID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Prune drops tokens not refreshed since before.
func (s *PGStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM device_tokens WHERE updated_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
