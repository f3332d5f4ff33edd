// internal/models/notification.go
package models

import (
	"encoding/json"
	"time"
)

// Notification priorities
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Notification types
const (
	NotificationNewMessage           = "new_message"
	NotificationConversationAssigned = "conversation_assigned"
	NotificationAIFailure            = "ai_failure"
	NotificationInstanceStatus       = "instance_status"
	NotificationPlanLimit            = "plan_limit"
)

type Notification struct {
	ID        string          `db:"id" json:"id"`
	ClientID  *string         `db:"client_id" json:"clientId,omitempty"`
	UserID    string          `db:"user_id" json:"userId"`
	Type      string          `db:"type" json:"type"`
	Title     string          `db:"title" json:"title"`
	Body      string          `db:"body" json:"body"`
	Priority  string          `db:"priority" json:"priority"`
	Data      json.RawMessage `db:"data" json:"data"`
	ReadAt    *time.Time      `db:"read_at" json:"readAt,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// PriorityRank orders priorities for threshold comparisons.
func PriorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}
