// README: Support store on PostgreSQL; conversations are created lazily and admin assignment is sticky.
package support

import (
	"context"
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

const selectConversation = `
	SELECT c.id, c.user_id, c.user_role, c.assigned_admin, c.status, c.last_message_at, c.closed_at,
	       c.created_at, c.updated_at,
	       (SELECT count(*) FROM support_messages m WHERE m.conversation_id = c.id AND NOT m.read_by_user),
	       (SELECT count(*) FROM support_messages m WHERE m.conversation_id = c.id AND NOT m.read_by_admin)
	FROM support_conversations c`

// Ensure returns the user's conversation, creating it on first use.
func (s *PGStore) Ensure(ctx context.Context, userID types.ID, role types.Role, now time.Time) (*Conversation, error) {
	_, err := s.db.Exec(ctx, `
		INSERT INTO support_conversations (id, user_id, user_role, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'OPEN', $4, $4)
		ON CONFLICT (user_id) DO NOTHING`,
		string(types.NewID()), string(userID), string(role), now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetByUser(ctx, userID)
}

func (s *PGStore) GetByUser(ctx context.Context, userID types.ID) (*Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(ctx, selectConversation+` WHERE c.user_id = $1`, string(userID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// AddMessage stores m, reopens the conversation and assigns the first
// replying admin. Later admins never replace the assignment.
func (s *PGStore) AddMessage(ctx context.Context, m *Message, adminID *types.ID) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO support_messages (id, conversation_id, sender_id, sender_role, body, read_by_user, read_by_admin, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			string(m.ID), string(m.ConversationID), string(m.SenderID), string(m.SenderRole), m.Body,
			m.ReadByUser, m.ReadByAdmin, m.CreatedAt,
		); err != nil {
			return err
		}
		var admin *string
		if adminID != nil {
			a := string(*adminID)
			admin = &a
		}
		_, err := tx.Exec(ctx, `
			UPDATE support_conversations
			SET assigned_admin = COALESCE(assigned_admin, $2),
			    status = 'OPEN',
			    closed_at = NULL,
			    last_message_at = $3,
			    updated_at = $3
			WHERE id = $1`,
			string(m.ConversationID), admin, m.CreatedAt,
		)
		return err
	})
}

// MarkRead marks every message read for side and returns how many changed.
func (s *PGStore) MarkRead(ctx context.Context, conversationID types.ID, side Side) (int, error) {
	column := "read_by_user"
	if side == SideAdmin {
		column = "read_by_admin"
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE support_messages SET `+column+` = TRUE
		WHERE conversation_id = $1 AND NOT `+column,
		string(conversationID),
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) Close(ctx context.Context, conversationID types.ID, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE support_conversations SET status = 'CLOSED', closed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'OPEN'`,
		string(conversationID), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) List(ctx context.Context, status *Status, limit, offset int) ([]*Conversation, error) {
	var st *string
	if status != nil {
		v := string(*status)
		st = &v
	}
	rows, err := s.db.Query(ctx, selectConversation+`
		WHERE ($1::text IS NULL OR c.status = $1)
		ORDER BY c.last_message_at DESC NULLS LAST
		LIMIT $2 OFFSET $3`, st, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Messages pages backwards from before, newest first.
func (s *PGStore) Messages(ctx context.Context, conversationID types.ID, before *time.Time, limit int) ([]*Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, sender_id, sender_role, body, read_by_user, read_by_admin, created_at
		FROM support_messages
		WHERE conversation_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $3`, string(conversationID), before, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Message, error) {
		var m Message
		err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderRole, &m.Body, &m.ReadByUser, &m.ReadByAdmin, &m.CreatedAt)
		return &m, err
	})
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var assigned *string
	err := row.Scan(&c.ID, &c.UserID, &c.UserRole, &assigned, &c.Status, &c.LastMessageAt, &c.ClosedAt,
		&c.CreatedAt, &c.UpdatedAt, &c.UnreadForUser, &c.UnreadForAdmin)
	if err != nil {
		return nil, err
	}
	if assigned != nil {
		id := types.ID(*assigned)
		c.AssignedAdmin = &id
	}
	return &c, nil
}
