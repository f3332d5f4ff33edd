// internal/evolution/webhook.go
package evolution

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/validation"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/notifications"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Webhook events handled by the receiver
const (
	EventMessagesUpsert   = "messages.upsert"
	EventConnectionUpdate = "connection.update"
)

// Processing outcomes
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

var envelopeSchema = validation.MustCompile("evolution_webhook", `{
	"type": "object",
	"required": ["event", "instance"],
	"properties": {
		"event":    {"type": "string", "minLength": 1},
		"instance": {"type": "string", "minLength": 1},
		"data":     {"type": "object"},
		"apikey":   {"type": "string"}
	}
}`)

type WebhookStore interface {
	UpsertContactByPhone(ctx context.Context, clientID, phone, name, source string) (*models.Contact, bool, error)
	FindOrCreateOpenConversation(ctx context.Context, clientID, contactID string, instanceID *string, channel string) (*models.Conversation, bool, error)
	InsertMessage(ctx context.Context, m models.Message) (bool, error)
	RecordInbound(ctx context.Context, id string, at time.Time) error
	UpdateInstanceStatus(ctx context.Context, name, status string) (*models.Instance, error)
}

// ContactIndexer keeps the search index in step with new contacts.
type ContactIndexer interface {
	Index(ctx context.Context, c models.Contact) error
}

type Notifier interface {
	Notify(ctx context.Context, req notifications.Request) (*notifications.Result, error)
	NotifyClientAdmins(ctx context.Context, clientID string, req notifications.Request) error
}

// ReplyTrigger starts an AI reply for an inbound message. Implementations
// must not block the caller.
type ReplyTrigger interface {
	TriggerReply(clientID, conversationID, messageID, content string)
}

// WebhookResult is the receiver's answer for one delivery.
type WebhookResult struct {
	Status         string `json:"status"`
	Event          string `json:"event"`
	Reason         string `json:"reason,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
}

// WebhookHandler receives Evolution API webhooks.
type WebhookHandler struct {
	access    *AccessResolver
	store     WebhookStore
	publisher realtime.Publisher
	index     ContactIndexer
	notifier  Notifier
	replies   ReplyTrigger
	logger    logger.Logger
	now       func() time.Time
}

func NewWebhookHandler(access *AccessResolver, st WebhookStore, publisher realtime.Publisher, index ContactIndexer, notifier Notifier, replies ReplyTrigger, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		access:    access,
		store:     st,
		publisher: publisher,
		index:     index,
		notifier:  notifier,
		replies:   replies,
		logger:    logger.WithComponent(log, "evolution.webhook"),
		now:       time.Now,
	}
}

// Handle serves POST /api/webhook/evolution.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.NewBadRequestError("unreadable body")})
		return
	}

	result, err := h.Process(c.Request.Context(), body, c.GetHeader("apikey"))
	if err != nil {
		stdErr := apperrors.From(err)
		c.JSON(apperrors.HTTPStatus(stdErr.Code), gin.H{"error": stdErr})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Process validates, authorizes and applies one webhook body. headerKey is
// the apikey header; the body's apikey field is used when it is empty.
func (h *WebhookHandler) Process(ctx context.Context, body []byte, headerKey string) (*WebhookResult, error) {
	if res := envelopeSchema.ValidateBytes(body); !res.Valid {
		metrics.WebhookEvents.WithLabelValues("unknown", OutcomeRejected).Inc()
		return nil, apperrors.NewValidationFailedError(res.Summary())
	}

	doc := gjson.ParseBytes(body)
	event := normalizeEvent(doc.Get("event").String())
	instance := doc.Get("instance").String()
	apiKey := headerKey
	if apiKey == "" {
		apiKey = doc.Get("apikey").String()
	}

	decision, err := h.access.Resolve(ctx, instance, apiKey)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(event, OutcomeFailed).Inc()
		return nil, err
	}
	if !decision.Allowed {
		metrics.WebhookEvents.WithLabelValues(event, OutcomeRejected).Inc()
		h.logger.Warn("Webhook rejected", map[string]interface{}{
			"instance": instance,
			"event":    event,
			"reason":   decision.Reason,
		})
		return nil, apperrors.NewWebhookRejectedError(decision.Reason)
	}

	var result *WebhookResult
	switch event {
	case EventMessagesUpsert:
		result, err = h.handleMessage(ctx, decision, doc.Get("data"))
	case EventConnectionUpdate:
		result, err = h.handleConnection(ctx, decision, doc.Get("data"))
	default:
		result = &WebhookResult{Status: OutcomeIgnored, Reason: "unsupported event"}
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(event, OutcomeFailed).Inc()
		h.logger.Error("Webhook processing failed", map[string]interface{}{
			"instance": instance,
			"event":    event,
			"error":    err.Error(),
		})
		return nil, err
	}
	result.Event = event
	metrics.WebhookEvents.WithLabelValues(event, result.Status).Inc()
	return result, nil
}

// inboundMessage holds the fields read from a messages.upsert payload.
type inboundMessage struct {
	remoteJID  string
	fromMe     bool
	externalID string
	pushName   string
	text       string
	sentAt     time.Time
}

func parseInbound(data gjson.Result) inboundMessage {
	in := inboundMessage{
		remoteJID:  data.Get("key.remoteJid").String(),
		fromMe:     data.Get("key.fromMe").Bool(),
		externalID: data.Get("key.id").String(),
		pushName:   strings.TrimSpace(data.Get("pushName").String()),
	}

	for _, path := range []string{
		"message.conversation",
		"message.extendedTextMessage.text",
		"message.imageMessage.caption",
		"message.videoMessage.caption",
		"message.documentMessage.caption",
	} {
		if v := data.Get(path).String(); v != "" {
			in.text = v
			break
		}
	}
	if in.text == "" {
		if mt := data.Get("messageType").String(); mt != "" {
			in.text = fmt.Sprintf("[%s]", mt)
		}
	}

	if ts := data.Get("messageTimestamp").Int(); ts > 0 {
		in.sentAt = time.Unix(ts, 0).UTC()
	}
	return in
}

func (h *WebhookHandler) handleMessage(ctx context.Context, decision AccessDecision, data gjson.Result) (*WebhookResult, error) {
	in := parseInbound(data)
	switch {
	case in.fromMe:
		return &WebhookResult{Status: OutcomeIgnored, Reason: "outbound echo"}, nil
	case strings.HasSuffix(in.remoteJID, "@g.us"), strings.HasSuffix(in.remoteJID, "@broadcast"):
		return &WebhookResult{Status: OutcomeIgnored, Reason: "group message"}, nil
	case in.remoteJID == "" || in.text == "":
		return &WebhookResult{Status: OutcomeIgnored, Reason: "empty message"}, nil
	}
	if in.sentAt.IsZero() {
		in.sentAt = h.now().UTC()
	}

	phone := NormalizeNumber(in.remoteJID)
	name := in.pushName
	if name == "" {
		name = phone
	}

	contact, createdContact, err := h.store.UpsertContactByPhone(ctx, decision.ClientID, phone, name, models.ContactSourceWhatsApp)
	if err != nil {
		return nil, err
	}
	if createdContact && h.index != nil {
		if err := h.index.Index(ctx, *contact); err != nil {
			h.logger.Warn("Failed to index contact", map[string]interface{}{
				"contactId": contact.ID,
				"error":     err.Error(),
			})
		}
	}

	instanceID := decision.InstanceID
	conv, createdConv, err := h.store.FindOrCreateOpenConversation(ctx, decision.ClientID, contact.ID, &instanceID, models.ChannelWhatsApp)
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ClientID:       decision.ClientID,
		ConversationID: conv.ID,
		Role:           models.RoleContact,
		Content:        in.text,
		Status:         models.MessageReceived,
		CreatedAt:      in.sentAt,
	}
	if in.externalID != "" {
		msg.ExternalID = &in.externalID
	}
	inserted, err := h.store.InsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return &WebhookResult{Status: OutcomeDuplicate, ConversationID: conv.ID}, nil
	}
	if err := h.store.RecordInbound(ctx, conv.ID, in.sentAt); err != nil {
		return nil, err
	}

	h.publish(ctx, realtime.ConversationChannel(conv.ID), realtime.EventMessageCreated, msg)
	convEvent := realtime.EventConversationUpdated
	if createdConv {
		convEvent = realtime.EventConversationCreated
	}
	h.publish(ctx, realtime.ClientConversationsChannel(decision.ClientID), convEvent, conv)

	h.notifyNewMessage(ctx, conv, contact, msg, createdConv)

	if conv.AIActive && conv.AgentID != nil && h.replies != nil {
		h.replies.TriggerReply(decision.ClientID, conv.ID, msg.ID, msg.Content)
	}

	h.logger.Info("Inbound message stored", map[string]interface{}{
		"clientId":       decision.ClientID,
		"conversationId": conv.ID,
		"messageId":      msg.ID,
		"newContact":     createdContact,
	})
	return &WebhookResult{Status: OutcomeProcessed, ConversationID: conv.ID, MessageID: msg.ID}, nil
}

func (h *WebhookHandler) notifyNewMessage(ctx context.Context, conv *models.Conversation, contact *models.Contact, msg models.Message, created bool) {
	if h.notifier == nil {
		return
	}
	req := notifications.Request{
		ClientID: conv.ClientID,
		Type:     models.NotificationNewMessage,
		Title:    fmt.Sprintf("New message from %s", contact.Name),
		Body:     truncate(msg.Content, 140),
		Priority: models.PriorityNormal,
		Data: map[string]interface{}{
			"conversationId": conv.ID,
			"messageId":      msg.ID,
			"contactId":      contact.ID,
		},
	}

	var err error
	switch {
	case conv.AssignedUserID != nil:
		req.UserID = *conv.AssignedUserID
		_, err = h.notifier.Notify(ctx, req)
	case created:
		err = h.notifier.NotifyClientAdmins(ctx, conv.ClientID, req)
	}
	if err != nil {
		h.logger.Warn("Failed to notify about inbound message", map[string]interface{}{
			"conversationId": conv.ID,
			"error":          err.Error(),
		})
	}
}

func (h *WebhookHandler) handleConnection(ctx context.Context, decision AccessDecision, data gjson.Result) (*WebhookResult, error) {
	status, ok := instanceStatus(data.Get("state").String())
	if !ok {
		return &WebhookResult{Status: OutcomeIgnored, Reason: "unknown state"}, nil
	}

	instance, err := h.store.UpdateInstanceStatus(ctx, decision.InstanceName, status)
	if err != nil {
		return nil, err
	}
	h.access.Invalidate(decision.InstanceName)
	h.publish(ctx, realtime.InstanceChannel(decision.ClientID, decision.InstanceName), realtime.EventInstanceStatus, instance)

	if status == models.InstanceClosed && h.notifier != nil {
		err := h.notifier.NotifyClientAdmins(ctx, decision.ClientID, notifications.Request{
			ClientID: decision.ClientID,
			Type:     models.NotificationInstanceStatus,
			Title:    fmt.Sprintf("WhatsApp instance %s disconnected", decision.InstanceName),
			Body:     "Scan the QR code again to reconnect the instance.",
			Priority: models.PriorityHigh,
			Data:     map[string]interface{}{"instanceId": decision.InstanceID, "state": status},
		})
		if err != nil {
			h.logger.Warn("Failed to notify about instance status", map[string]interface{}{
				"instance": decision.InstanceName,
				"error":    err.Error(),
			})
		}
	}

	h.logger.Info("Instance status updated", map[string]interface{}{
		"instance": decision.InstanceName,
		"status":   status,
	})
	return &WebhookResult{Status: OutcomeProcessed}, nil
}

func (h *WebhookHandler) publish(ctx context.Context, channel, eventType string, payload interface{}) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(ctx, channel, eventType, payload); err != nil {
		h.logger.Warn("Failed to publish realtime event", map[string]interface{}{
			"channel": channel,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

// normalizeEvent accepts both "messages.upsert" and "MESSAGES_UPSERT".
func normalizeEvent(event string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(event)), "_", ".")
}

func instanceStatus(state string) (string, bool) {
	switch strings.ToLower(state) {
	case "open":
		return models.InstanceOpen, true
	case "connecting":
		return models.InstanceConnecting, true
	case "close", "closed":
		return models.InstanceClosed, true
	default:
		return "", false
	}
}
