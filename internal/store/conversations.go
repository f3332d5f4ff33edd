// internal/store/conversations.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
)

type ConversationFilter struct {
	Status         string
	AssignedUserID string
	Channel        string
	Page           Page
}

// ConversationPatch changes only the fields it sets. A nil pointer keeps the
// stored value; the Clear flags set the column to NULL.
type ConversationPatch struct {
	Status            *string
	AssignedUserID    *string
	AgentID           *string
	AIActive          *bool
	ClearAssignedUser bool
	ClearAgent        bool
}

const conversationSummaryColumns = `cv.*, ct.name AS contact_name, ct.phone AS contact_phone`

func (s *Store) ListConversations(ctx context.Context, clientID string, f ConversationFilter) ([]models.ConversationSummary, error) {
	where := []string{"cv.client_id = $1"}
	args := []interface{}{clientID}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("cv.status = $%d", len(args)))
	}
	if f.AssignedUserID != "" {
		args = append(args, f.AssignedUserID)
		where = append(where, fmt.Sprintf("cv.assigned_user_id = $%d", len(args)))
	}
	if f.Channel != "" {
		args = append(args, f.Channel)
		where = append(where, fmt.Sprintf("cv.channel = $%d", len(args)))
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)

	query := fmt.Sprintf(`
		SELECT %s FROM conversations cv
		JOIN contacts ct ON ct.id = cv.contact_id
		WHERE %s
		ORDER BY cv.last_message_at DESC NULLS LAST
		LIMIT $%d OFFSET $%d`,
		conversationSummaryColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	var out []models.ConversationSummary
	err := s.db.SelectContext(ctx, &out, query, args...)
	return out, mapError("list_conversations", err)
}

func (s *Store) GetConversation(ctx context.Context, clientID, id string) (*models.ConversationSummary, error) {
	var c models.ConversationSummary
	err := s.db.GetContext(ctx, &c, `
		SELECT `+conversationSummaryColumns+` FROM conversations cv
		JOIN contacts ct ON ct.id = cv.contact_id
		WHERE cv.id = $1 AND cv.client_id = $2`, id, clientID)
	if err != nil {
		return nil, getOne(err, "get_conversation", "conversation", id)
	}
	return &c, nil
}

// ConversationClientID returns the owning tenant without a tenant filter.
func (s *Store) ConversationClientID(ctx context.Context, id string) (string, error) {
	var clientID string
	err := s.db.GetContext(ctx, &clientID, `SELECT client_id FROM conversations WHERE id = $1`, id)
	if err != nil {
		return "", getOne(err, "conversation_client_id", "conversation", id)
	}
	return clientID, nil
}

// FindOrCreateOpenConversation returns the contact's latest non-closed
// conversation on the instance, opening one when none exists.
func (s *Store) FindOrCreateOpenConversation(ctx context.Context, clientID, contactID string, instanceID *string, channel string) (*models.Conversation, bool, error) {
	var c models.Conversation
	err := s.db.GetContext(ctx, &c, `
		SELECT * FROM conversations
		WHERE client_id = $1 AND contact_id = $2 AND status <> 'CLOSED'
			AND instance_id IS NOT DISTINCT FROM $3
		ORDER BY created_at DESC
		LIMIT 1`, clientID, contactID, instanceID)
	if err == nil {
		return &c, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, mapError("find_conversation", err)
	}

	err = s.db.GetContext(ctx, &c, `
		INSERT INTO conversations (client_id, contact_id, instance_id, channel, agent_id)
		VALUES ($1, $2, $3, $4,
			(SELECT id FROM agents WHERE client_id = $1 AND active ORDER BY created_at LIMIT 1))
		RETURNING *`, clientID, contactID, instanceID, channel)
	if err != nil {
		return nil, false, mapError("create_conversation", err)
	}
	return &c, true, nil
}

func (s *Store) CreateConversation(ctx context.Context, c models.Conversation) (*models.Conversation, error) {
	if c.Channel == "" {
		c.Channel = models.ChannelWebChat
	}
	var out models.Conversation
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO conversations (client_id, contact_id, agent_id, assigned_user_id, instance_id, channel, ai_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *`,
		c.ClientID, c.ContactID, c.AgentID, c.AssignedUserID, c.InstanceID, c.Channel, c.AIActive)
	if err != nil {
		return nil, mapError("create_conversation", err)
	}
	return &out, nil
}

func (s *Store) UpdateConversation(ctx context.Context, clientID, id string, p ConversationPatch) (*models.Conversation, error) {
	var out models.Conversation
	err := s.db.GetContext(ctx, &out, `
		UPDATE conversations SET
			status = COALESCE($3, status),
			assigned_user_id = CASE WHEN $7 THEN NULL ELSE COALESCE($4, assigned_user_id) END,
			agent_id = CASE WHEN $8 THEN NULL ELSE COALESCE($5, agent_id) END,
			ai_active = COALESCE($6, ai_active),
			updated_at = now()
		WHERE id = $1 AND client_id = $2
		RETURNING *`, id, clientID, p.Status, p.AssignedUserID, p.AgentID, p.AIActive, p.ClearAssignedUser, p.ClearAgent)
	if err != nil {
		return nil, getOne(err, "update_conversation", "conversation", id)
	}
	return &out, nil
}

func (s *Store) MarkConversationRead(ctx context.Context, clientID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0, updated_at = now() WHERE id = $1 AND client_id = $2`,
		id, clientID)
	return expectAffected(res, err, "mark_conversation_read", "conversation", id)
}

// RecordInbound bumps the unread counter and activity timestamp after a contact message.
func (s *Store) RecordInbound(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			unread_count = unread_count + 1,
			last_message_at = GREATEST(COALESCE(last_message_at, $2), $2),
			status = CASE WHEN status = 'CLOSED' THEN 'OPEN' ELSE status END,
			updated_at = now()
		WHERE id = $1`, id, at)
	return mapError("record_inbound", err)
}

// RecordOutbound moves last_message_at after an operator reply.
func (s *Store) RecordOutbound(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = now(), updated_at = now() WHERE id = $1`, id)
	return mapError("record_outbound", err)
}

// TouchAfterAIReply updates the activity timestamps inside the reply transaction.
func (t *Tx) TouchAfterAIReply(ctx context.Context, id string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = $2, last_ai_response_at = $2, updated_at = $2
		WHERE id = $1`, id, at)
	return mapError("touch_conversation", err)
}

// CloseIdleConversations closes open conversations without activity since before.
func (s *Store) CloseIdleConversations(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = 'CLOSED', updated_at = now()
		WHERE status <> 'CLOSED' AND COALESCE(last_message_at, created_at) < $1`, before)
	if err != nil {
		return 0, mapError("close_idle_conversations", err)
	}
	return res.RowsAffected()
}
