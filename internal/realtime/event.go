package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event types published on realtime channels.
const (
	EventMessageCreated      = "message.created"
	EventMessageUpdated      = "message.updated"
	EventConversationCreated = "conversation.created"
	EventConversationUpdated = "conversation.updated"
	EventOpportunityUpdated  = "opportunity.updated"
	EventNotificationCreated = "notification.created"
	EventInstanceStatus      = "instance.status"
)

// Event is one message on a realtime channel.
type Event struct {
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler receives events for one subscription.
type Handler func(Event)

// Publisher is the write side of the realtime layer used by domain services.
type Publisher interface {
	Publish(ctx context.Context, channel, eventType string, payload interface{}) error
}

// ConversationChannel carries message events for a single conversation.
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// ClientConversationsChannel carries conversation list updates for a tenant.
func ClientConversationsChannel(clientID string) string {
	return fmt.Sprintf("client:%s:conversations", clientID)
}

// ClientOpportunitiesChannel carries pipeline board updates for a tenant.
func ClientOpportunitiesChannel(clientID string) string {
	return fmt.Sprintf("client:%s:opportunities", clientID)
}

// NotificationsChannel carries notifications for a single user.
func NotificationsChannel(userID string) string {
	return "notifications:" + userID
}

// InstanceChannel carries gateway connection status for one WhatsApp instance.
func InstanceChannel(clientID, instanceName string) string {
	return fmt.Sprintf("instance:%s:%s", clientID, instanceName)
}
