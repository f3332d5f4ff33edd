// internal/store/playground.go
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
)

func (s *Store) CreatePlaygroundSession(ctx context.Context, clientID, agentID, userID string) (*models.PlaygroundSession, error) {
	var out models.PlaygroundSession
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO playground_sessions (client_id, agent_id, user_id)
		SELECT $1, a.id, $3 FROM agents a WHERE a.id = $2 AND a.client_id = $1
		RETURNING *`, clientID, agentID, userID)
	if err != nil {
		return nil, getOne(err, "create_playground_session", "agent", agentID)
	}
	return &out, nil
}

func (s *Store) GetPlaygroundSession(ctx context.Context, clientID, id string) (*models.PlaygroundSession, error) {
	var out models.PlaygroundSession
	err := s.db.GetContext(ctx, &out,
		`SELECT * FROM playground_sessions WHERE id = $1 AND client_id = $2`, id, clientID)
	if err != nil {
		return nil, getOne(err, "get_playground_session", "playground session", id)
	}
	return &out, nil
}

// AppendPlaygroundMessages adds msgs to the end of the session transcript.
func (s *Store) AppendPlaygroundMessages(ctx context.Context, clientID, id string, msgs ...models.PlaygroundMessage) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return mapError("encode_playground_messages", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE playground_sessions SET messages = messages || $3::jsonb, updated_at = now()
		WHERE id = $1 AND client_id = $2`, id, clientID, string(raw))
	return expectAffected(res, err, "append_playground_messages", "playground session", id)
}

func (s *Store) DeletePlaygroundSession(ctx context.Context, clientID, id string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM playground_sessions WHERE id = $1 AND client_id = $2`, id, clientID)
	return expectAffected(res, err, "delete_playground_session", "playground session", id)
}

// PurgePlaygroundSessions deletes sessions untouched since before.
func (s *Store) PurgePlaygroundSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playground_sessions WHERE updated_at < $1`, before)
	if err != nil {
		return 0, mapError("purge_playground_sessions", err)
	}
	return res.RowsAffected()
}
