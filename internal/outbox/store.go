// README: Outbox store backed by PostgreSQL; claims use SKIP LOCKED so several processors can run.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const insertSQL = `
	INSERT INTO outbox_messages (
		event_id, aggregate_type, aggregate_id, event_type, payload, created_at, status
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

func (s *Store) Enqueue(ctx context.Context, m *Message) error {
	return s.db.QueryRow(ctx, insertSQL, insertArgs(m)...).Scan(&m.ID)
}

// EnqueueTx writes m inside the caller's transaction, so it commits or rolls
// back together with the state change it describes.
func EnqueueTx(ctx context.Context, tx pgx.Tx, m *Message) error {
	if err := tx.QueryRow(ctx, insertSQL, insertArgs(m)...).Scan(&m.ID); err != nil {
		return fmt.Errorf("enqueue outbox message: %w", err)
	}
	return nil
}

func insertArgs(m *Message) []any {
	return []any{m.EventID, m.AggregateType, m.AggregateID, m.EventType, m.Payload, m.CreatedAt, string(m.Status)}
}

// Claim moves up to limit pending messages to processing and returns them.
func (s *Store) Claim(ctx context.Context, limit int) ([]*Message, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE outbox_messages
		SET status = 'processing', attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'pending'
			ORDER BY created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event_id, aggregate_type, aggregate_id, event_type, payload,
		          created_at, processed_at, attempts, last_error, status`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var m Message
		var status string
		if err := rows.Scan(
			&m.ID, &m.EventID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload,
			&m.CreatedAt, &m.ProcessedAt, &m.Attempts, &m.LastError, &status,
		); err != nil {
			return nil, err
		}
		m.Status = Status(status)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_messages SET status = 'completed', processed_at = $2, last_error = NULL
		WHERE id = $1`, id, at)
	return err
}

// Release returns a message to pending after a retryable failure.
func (s *Store) Release(ctx context.Context, id int64, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_messages SET status = 'pending', last_error = $2
		WHERE id = $1`, id, reason)
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE outbox_messages SET status = 'failed', last_error = $2
		WHERE id = $1`, id, reason)
	return err
}
