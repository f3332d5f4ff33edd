// internal/models/conversation.go
package models

import "time"

// Conversation channels
const (
	ChannelWhatsApp = "WHATSAPP"
	ChannelWebChat  = "WEBCHAT"
)

// Conversation statuses
const (
	ConversationOpen    = "OPEN"
	ConversationPending = "PENDING"
	ConversationClosed  = "CLOSED"
)

// Message roles
const (
	RoleContact   = "USER"
	RoleAssistant = "ASSISTANT"
	RoleAgent     = "AGENT"
)

// Message delivery statuses
const (
	MessageReceived = "RECEIVED"
	MessagePending  = "PENDING"
	MessageSent     = "SENT"
	MessageFailed   = "FAILED"
)

type Conversation struct {
	ID               string     `db:"id" json:"id"`
	ClientID         string     `db:"client_id" json:"clientId"`
	ContactID        string     `db:"contact_id" json:"contactId"`
	AgentID          *string    `db:"agent_id" json:"agentId,omitempty"`
	AssignedUserID   *string    `db:"assigned_user_id" json:"assignedUserId,omitempty"`
	InstanceID       *string    `db:"instance_id" json:"instanceId,omitempty"`
	Channel          string     `db:"channel" json:"channel"`
	Status           string     `db:"status" json:"status"`
	AIActive         bool       `db:"ai_active" json:"aiActive"`
	UnreadCount      int        `db:"unread_count" json:"unreadCount"`
	LastMessageAt    *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
	LastAIResponseAt *time.Time `db:"last_ai_response_at" json:"lastAiResponseAt,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updatedAt"`
}

// ConversationSummary is a list row with the contact inlined.
type ConversationSummary struct {
	Conversation
	ContactName  string `db:"contact_name" json:"contactName"`
	ContactPhone string `db:"contact_phone" json:"contactPhone"`
}

// IsConversationStatus reports whether s is a known conversation status.
func IsConversationStatus(s string) bool {
	switch s {
	case ConversationOpen, ConversationPending, ConversationClosed:
		return true
	}
	return false
}

type Message struct {
	ID             string    `db:"id" json:"id"`
	ClientID       string    `db:"client_id" json:"clientId"`
	ConversationID string    `db:"conversation_id" json:"conversationId"`
	Role           string    `db:"role" json:"role"`
	Content        string    `db:"content" json:"content"`
	ExternalID     *string   `db:"external_id" json:"externalId,omitempty"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}
