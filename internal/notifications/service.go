// internal/notifications/service.go
// Package notifications persists user notifications and fans them out to
// the realtime layer, email and SMS.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"
)

// Delivery statuses per channel
const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, text, html string) (string, error)
}

type SMSSender interface {
	SendSMS(ctx context.Context, phone, message string) (string, error)
}

// Store is the persistence the service needs.
type Store interface {
	InsertNotification(ctx context.Context, n models.Notification) (*models.Notification, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListClientAdmins(ctx context.Context, clientID string) ([]models.User, error)
}

type Config struct {
	EmailEnabled       bool
	SMSEnabled         bool
	SMSPriorityMinimum string
}

// Request describes one notification for one user.
type Request struct {
	ClientID string                 `json:"clientId,omitempty"`
	UserID   string                 `json:"userId"`
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Body     string                 `json:"body"`
	Priority string                 `json:"priority,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Result reports what happened on each delivery channel.
type Result struct {
	Notification *models.Notification `json:"notification"`
	Email        string               `json:"email"`
	SMS          string               `json:"sms"`
}

type Service struct {
	config    Config
	store     Store
	publisher realtime.Publisher
	email     EmailSender
	sms       SMSSender
	logger    logger.Logger
}

// NewService wires the service. Nil senders disable their channel.
func NewService(cfg Config, store Store, publisher realtime.Publisher, email EmailSender, sms SMSSender, log logger.Logger) *Service {
	if cfg.SMSPriorityMinimum == "" {
		cfg.SMSPriorityMinimum = models.PriorityHigh
	}
	return &Service{
		config:    cfg,
		store:     store,
		publisher: publisher,
		email:     email,
		sms:       sms,
		logger:    logger.WithComponent(log, "notifications"),
	}
}

// Notify persists the notification, pushes it on the user's realtime channel
// and, for high priority, emails and texts the user when those channels are on.
// Only persistence failures are returned; delivery failures are reported in Result.
func (s *Service) Notify(ctx context.Context, req Request) (*Result, error) {
	if req.UserID == "" || req.Type == "" || req.Title == "" {
		return nil, apperrors.NewBadRequestError("userId, type and title are required")
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if models.PriorityRank(req.Priority) == 0 {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("unknown priority %q", req.Priority))
	}

	data := json.RawMessage(`{}`)
	if len(req.Data) > 0 {
		raw, err := json.Marshal(req.Data)
		if err != nil {
			return nil, apperrors.NewBadRequestError(fmt.Sprintf("encode data: %v", err))
		}
		data = raw
	}

	n := models.Notification{
		UserID:   req.UserID,
		Type:     req.Type,
		Title:    req.Title,
		Body:     req.Body,
		Priority: req.Priority,
		Data:     data,
	}
	if req.ClientID != "" {
		clientID := req.ClientID
		n.ClientID = &clientID
	}

	saved, err := s.store.InsertNotification(ctx, n)
	if err != nil {
		return nil, err
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, realtime.NotificationsChannel(saved.UserID), realtime.EventNotificationCreated, saved); err != nil {
			s.logger.Warn("Failed to publish notification", map[string]interface{}{
				"notificationId": saved.ID,
				"userId":         saved.UserID,
				"error":          err.Error(),
			})
		}
	}

	result := &Result{Notification: saved, Email: StatusDisabled, SMS: StatusDisabled}
	if !s.wantsEmail(saved.Priority) && !s.wantsSMS(saved.Priority) {
		return result, nil
	}

	user, err := s.store.GetUser(ctx, saved.UserID)
	if err != nil {
		s.logger.Warn("Notification recipient not found", map[string]interface{}{
			"userId": saved.UserID,
			"error":  err.Error(),
		})
		return result, nil
	}

	if s.wantsEmail(saved.Priority) && user.NotifyEmail && user.Email != "" {
		result.Email = s.deliver("email", saved, func() error {
			_, err := s.email.SendEmail(ctx, user.Email, saved.Title, saved.Body, "")
			return err
		})
	}
	if s.wantsSMS(saved.Priority) && user.Phone != nil && *user.Phone != "" {
		result.SMS = s.deliver("sms", saved, func() error {
			_, err := s.sms.SendSMS(ctx, *user.Phone, fmt.Sprintf("%s: %s", saved.Title, saved.Body))
			return err
		})
	}
	return result, nil
}

// NotifyClientAdmins sends req to every active admin of the tenant.
func (s *Service) NotifyClientAdmins(ctx context.Context, clientID string, req Request) error {
	admins, err := s.store.ListClientAdmins(ctx, clientID)
	if err != nil {
		return err
	}
	for _, admin := range admins {
		r := req
		r.ClientID = clientID
		r.UserID = admin.ID
		if _, err := s.Notify(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) wantsEmail(priority string) bool {
	return s.config.EmailEnabled && s.email != nil && priority == models.PriorityHigh
}

func (s *Service) wantsSMS(priority string) bool {
	return s.config.SMSEnabled && s.sms != nil &&
		models.PriorityRank(priority) >= models.PriorityRank(s.config.SMSPriorityMinimum)
}

func (s *Service) deliver(channel string, n *models.Notification, send func() error) string {
	if err := send(); err != nil {
		stdErr := apperrors.NewNotificationSendFailedError(channel, err)
		s.logger.Error("Notification delivery failed", map[string]interface{}{
			"notificationId": n.ID,
			"channel":        channel,
			"error":          stdErr.Details,
		})
		return StatusFailed
	}
	return StatusSent
}
