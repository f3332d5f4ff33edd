// internal/evolution/dispatcher.go
package evolution

import (
	"context"
	"fmt"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"
)

// Sender is the outbound side of the gateway client.
type Sender interface {
	SendText(ctx context.Context, instance, number, text string) (*SentMessage, error)
}

type DispatchStore interface {
	GetMessage(ctx context.Context, clientID, id string) (*models.Message, error)
	GetConversation(ctx context.Context, clientID, id string) (*models.ConversationSummary, error)
	GetInstance(ctx context.Context, clientID, id string) (*models.Instance, error)
	UpdateMessageStatus(ctx context.Context, clientID, id, status string) error
}

// DispatchResult reports the delivery of one stored message.
type DispatchResult struct {
	MessageID  string `json:"messageId"`
	Status     string `json:"status"`
	ExternalID string `json:"externalId,omitempty"`
}

// Dispatcher delivers stored outbound messages to WhatsApp.
type Dispatcher struct {
	store     DispatchStore
	sender    Sender
	publisher realtime.Publisher
	logger    logger.Logger
}

func NewDispatcher(st DispatchStore, sender Sender, publisher realtime.Publisher, log logger.Logger) *Dispatcher {
	return &Dispatcher{
		store:     st,
		sender:    sender,
		publisher: publisher,
		logger:    logger.WithComponent(log, "evolution.dispatch"),
	}
}

// Dispatch sends the message to the conversation's contact through the
// conversation's instance and records SENT or FAILED on the message.
func (d *Dispatcher) Dispatch(ctx context.Context, clientID, messageID string) (*DispatchResult, error) {
	msg, err := d.store.GetMessage(ctx, clientID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Status == models.MessageSent {
		return &DispatchResult{MessageID: msg.ID, Status: msg.Status}, nil
	}

	conv, err := d.store.GetConversation(ctx, clientID, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Channel != models.ChannelWhatsApp || conv.InstanceID == nil {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("conversation %s has no WhatsApp instance", conv.ID))
	}
	instance, err := d.store.GetInstance(ctx, clientID, *conv.InstanceID)
	if err != nil {
		return nil, err
	}

	sent, sendErr := d.sender.SendText(ctx, instance.Name, conv.ContactPhone, msg.Content)
	status := models.MessageSent
	if sendErr != nil {
		status = models.MessageFailed
	}
	if err := d.store.UpdateMessageStatus(ctx, clientID, msg.ID, status); err != nil {
		d.logger.Error("Failed to record dispatch status", map[string]interface{}{
			"messageId": msg.ID,
			"status":    status,
			"error":     err.Error(),
		})
	}
	msg.Status = status
	d.publish(ctx, conv.ID, msg)

	if sendErr != nil {
		d.logger.Warn("Message dispatch failed", map[string]interface{}{
			"messageId":      msg.ID,
			"conversationId": conv.ID,
			"instance":       instance.Name,
			"error":          sendErr.Error(),
		})
		if apperrors.Is(sendErr, apperrors.ErrCodeEvolutionAPIFailed) {
			return nil, sendErr
		}
		return nil, apperrors.NewDispatchFailedError(sendErr)
	}

	d.logger.Info("Message dispatched", map[string]interface{}{
		"messageId":      msg.ID,
		"conversationId": conv.ID,
		"instance":       instance.Name,
	})
	return &DispatchResult{MessageID: msg.ID, Status: status, ExternalID: sent.ID}, nil
}

func (d *Dispatcher) publish(ctx context.Context, conversationID string, msg *models.Message) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, realtime.ConversationChannel(conversationID), realtime.EventMessageUpdated, msg); err != nil {
		d.logger.Warn("Failed to publish message status", map[string]interface{}{
			"messageId": msg.ID,
			"error":     err.Error(),
		})
	}
}
