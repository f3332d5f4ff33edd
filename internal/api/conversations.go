// internal/api/conversations.go
package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/notifications"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const defaultMessageWindow = 100

type conversationDetail struct {
	models.ConversationSummary
	Messages []models.Message `json:"messages"`
}

type createConversationRequest struct {
	ContactID string  `json:"contactId" binding:"required,uuid"`
	AgentID   *string `json:"agentId"`
	AIActive  bool    `json:"aiActive"`
}

type sendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

func (s *Server) listConversations(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page := pageFromQuery(c)
	convs, err := s.deps.Store.ListConversations(c.Request.Context(), clientID, store.ConversationFilter{
		Status:         c.Query("status"),
		AssignedUserID: c.Query("assignedUserId"),
		Channel:        c.Query("channel"),
		Page:           page,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: convs, Limit: page.Limit, Offset: page.Offset})
}

func (s *Server) getConversation(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	conv, err := s.deps.Store.GetConversation(ctx, clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("messages"))
	if limit <= 0 || limit > store.MaxPageSize {
		limit = defaultMessageWindow
	}
	msgs, err := s.deps.Store.ListMessages(ctx, clientID, conv.ID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, conversationDetail{ConversationSummary: *conv, Messages: msgs})
}

func (s *Server) createConversation(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req createConversationRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if _, err := s.deps.Store.GetContact(ctx, clientID, req.ContactID); err != nil {
		respondError(c, err)
		return
	}
	if req.AgentID != nil {
		if _, err := s.deps.Store.GetAgent(ctx, clientID, *req.AgentID); err != nil {
			respondError(c, err)
			return
		}
	}
	conv, err := s.deps.Store.CreateConversation(ctx, models.Conversation{
		ClientID:  clientID,
		ContactID: req.ContactID,
		AgentID:   req.AgentID,
		Channel:   models.ChannelWebChat,
		AIActive:  req.AIActive,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	s.publish(ctx, realtime.ClientConversationsChannel(clientID), realtime.EventConversationCreated, conv)
	respondCreated(c, conv)
}

func (s *Server) updateConversation(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var patch store.ConversationPatch
	if !bind(c, &patch) {
		return
	}
	if patch.Status != nil && !models.IsConversationStatus(*patch.Status) {
		respondError(c, apperrors.NewBadRequestError("unknown conversation status "+*patch.Status))
		return
	}
	if (patch.ClearAssignedUser && patch.AssignedUserID != nil) || (patch.ClearAgent && patch.AgentID != nil) {
		respondError(c, apperrors.NewBadRequestError("a field cannot be set and cleared in one update"))
		return
	}

	ctx := c.Request.Context()
	before, err := s.deps.Store.GetConversation(ctx, clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if patch.AssignedUserID != nil {
		if err := s.requireTenantUser(ctx, clientID, *patch.AssignedUserID); err != nil {
			respondError(c, err)
			return
		}
	}
	if patch.AgentID != nil {
		if _, err := s.deps.Store.GetAgent(ctx, clientID, *patch.AgentID); err != nil {
			respondError(c, err)
			return
		}
	}

	conv, err := s.deps.Store.UpdateConversation(ctx, clientID, before.ID, patch)
	if err != nil {
		respondError(c, err)
		return
	}
	s.publish(ctx, realtime.ClientConversationsChannel(clientID), realtime.EventConversationUpdated, conv)
	s.publish(ctx, realtime.ConversationChannel(conv.ID), realtime.EventConversationUpdated, conv)

	newAssignee := patch.AssignedUserID != nil &&
		(before.AssignedUserID == nil || *before.AssignedUserID != *patch.AssignedUserID)
	if newAssignee && *patch.AssignedUserID != principal(c).UserID {
		s.notify(ctx, notifications.Request{
			ClientID: clientID,
			UserID:   *patch.AssignedUserID,
			Type:     models.NotificationConversationAssigned,
			Title:    "Conversation assigned",
			Body:     fmt.Sprintf("You were assigned the conversation with %s", before.ContactName),
			Priority: models.PriorityNormal,
			Data:     map[string]interface{}{"conversationId": conv.ID},
		})
	}
	respondOK(c, conv)
}

// sendMessage stores an operator reply and pushes it to WhatsApp when the
// conversation lives there.
func (s *Server) sendMessage(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req sendMessageRequest
	if !bind(c, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		respondError(c, apperrors.NewBadRequestError("content is empty"))
		return
	}

	ctx := c.Request.Context()
	conv, err := s.deps.Store.GetConversation(ctx, clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if conv.Channel == models.ChannelWhatsApp && s.deps.Messages == nil {
		respondError(c, apperrors.NewBadRequestError("WhatsApp delivery is not configured"))
		return
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ClientID:       clientID,
		ConversationID: conv.ID,
		Role:           models.RoleAgent,
		Content:        content,
		Status:         models.MessageSent,
		CreatedAt:      time.Now().UTC(),
	}
	if conv.Channel == models.ChannelWhatsApp {
		msg.Status = models.MessagePending
	}
	if _, err := s.deps.Store.InsertMessage(ctx, msg); err != nil {
		respondError(c, err)
		return
	}
	if err := s.deps.Store.RecordOutbound(ctx, conv.ID); err != nil {
		respondError(c, err)
		return
	}
	s.publish(ctx, realtime.ConversationChannel(conv.ID), realtime.EventMessageCreated, msg)
	s.publish(ctx, realtime.ClientConversationsChannel(clientID), realtime.EventConversationUpdated,
		map[string]interface{}{"id": conv.ID, "lastMessageAt": msg.CreatedAt})

	if conv.Channel == models.ChannelWhatsApp {
		result, err := s.deps.Messages.Dispatch(ctx, clientID, msg.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		msg.Status = result.Status
		if result.ExternalID != "" {
			ext := result.ExternalID
			msg.ExternalID = &ext
		}
	}
	respondCreated(c, msg)
}

func (s *Server) markConversationRead(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.deps.Store.MarkConversationRead(ctx, clientID, id); err != nil {
		respondError(c, err)
		return
	}
	s.publish(ctx, realtime.ClientConversationsChannel(clientID), realtime.EventConversationUpdated,
		map[string]interface{}{"id": id, "unreadCount": 0})
	respondNoContent(c)
}

// requireTenantUser refuses user ids that do not belong to clientID.
func (s *Server) requireTenantUser(ctx context.Context, clientID, userID string) error {
	user, err := s.deps.Store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.ClientID == nil || *user.ClientID != clientID {
		return apperrors.NewBadRequestError("user does not belong to this client")
	}
	return nil
}

func (s *Server) publish(ctx context.Context, channel, eventType string, payload interface{}) {
	if s.deps.Publisher == nil {
		return
	}
	if err := s.deps.Publisher.Publish(ctx, channel, eventType, payload); err != nil {
		s.log.Warn("Failed to publish realtime event", map[string]interface{}{
			"channel": channel,
			"event":   eventType,
			"error":   err.Error(),
		})
	}
}

func (s *Server) notify(ctx context.Context, req notifications.Request) {
	if s.deps.Notifier == nil {
		return
	}
	if _, err := s.deps.Notifier.Notify(ctx, req); err != nil {
		s.log.Warn("Failed to notify user", map[string]interface{}{
			"userId": req.UserID,
			"type":   req.Type,
			"error":  err.Error(),
		})
	}
}
