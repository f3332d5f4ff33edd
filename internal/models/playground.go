// internal/models/playground.go
package models

import (
	"encoding/json"
	"time"
)

// PlaygroundSession is a throwaway chat used to try an agent before going live.
type PlaygroundSession struct {
	ID        string          `db:"id" json:"id"`
	ClientID  string          `db:"client_id" json:"clientId"`
	AgentID   string          `db:"agent_id" json:"agentId"`
	UserID    string          `db:"user_id" json:"userId"`
	Messages  json.RawMessage `db:"messages" json:"messages"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

type PlaygroundMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
