// internal/store/messages.go
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/jmoiron/sqlx"
)

// ListMessages returns the newest limit messages of a conversation, oldest first.
func (s *Store) ListMessages(ctx context.Context, clientID, conversationID string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	var out []models.Message
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM (
			SELECT * FROM messages
			WHERE conversation_id = $1 AND client_id = $2
			ORDER BY created_at DESC
			LIMIT $3
		) recent ORDER BY created_at ASC`, conversationID, clientID, limit)
	return out, mapError("list_messages", err)
}

func (s *Store) GetMessage(ctx context.Context, clientID, id string) (*models.Message, error) {
	var m models.Message
	err := s.db.GetContext(ctx, &m, `SELECT * FROM messages WHERE id = $1 AND client_id = $2`, id, clientID)
	if err != nil {
		return nil, getOne(err, "get_message", "message", id)
	}
	return &m, nil
}

// InsertMessage stores m unless its id or external id already exists.
// It reports whether a row was written.
func (s *Store) InsertMessage(ctx context.Context, m models.Message) (bool, error) {
	return insertMessage(ctx, s.db, m)
}

// InsertMessage is the transactional variant.
func (t *Tx) InsertMessage(ctx context.Context, m models.Message) (bool, error) {
	return insertMessage(ctx, t.tx, m)
}

func insertMessage(ctx context.Context, db sqlx.ExecerContext, m models.Message) (bool, error) {
	if m.Status == "" {
		m.Status = models.MessageReceived
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, client_id, conversation_id, role, content, external_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
		ON CONFLICT DO NOTHING`,
		m.ID, m.ClientID, m.ConversationID, m.Role, m.Content, m.ExternalID, m.Status, nullTime(m.CreatedAt))
	if err != nil {
		return false, mapError("insert_message", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError("insert_message", err)
	}
	return n > 0, nil
}

func (s *Store) UpdateMessageStatus(ctx context.Context, clientID, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = $3 WHERE id = $1 AND client_id = $2`, id, clientID, status)
	return expectAffected(res, err, "update_message_status", "message", id)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// AIExchange is what one AI pipeline run writes.
type AIExchange struct {
	Inbound models.Message
	Reply   models.Message
}

// AIExchangeResult reports which rows the transaction wrote.
type AIExchangeResult struct {
	InboundInserted bool
	ReplyInserted   bool
}

// RecordAIExchange writes the inbound message if absent and the reply, touches
// the conversation and counts the reply against the monthly AI usage, all in
// one transaction. A reply that already exists is not counted again.
func (s *Store) RecordAIExchange(ctx context.Context, ex AIExchange) (*AIExchangeResult, error) {
	out := &AIExchangeResult{}
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		if out.InboundInserted, err = tx.InsertMessage(ctx, ex.Inbound); err != nil {
			return err
		}
		if out.ReplyInserted, err = tx.InsertMessage(ctx, ex.Reply); err != nil {
			return err
		}
		if !out.ReplyInserted {
			return nil
		}
		if err := tx.TouchAfterAIReply(ctx, ex.Reply.ConversationID, ex.Reply.CreatedAt); err != nil {
			return err
		}
		return tx.IncrementAIUsage(ctx, ex.Reply.ClientID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
