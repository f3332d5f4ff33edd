// internal/workers/communication/notification-send/handler.go
package notificationsend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/camunda"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/notifications"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "notification-send"
)

type Notifier interface {
	Notify(ctx context.Context, req notifications.Request) (*notifications.Result, error)
	NotifyClientAdmins(ctx context.Context, clientID string, req notifications.Request) error
}

type Handler struct {
	config       *Config
	notifier     Notifier
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, notifier Notifier, log logger.Logger) *Handler {
	if config == nil || config.Timeout <= 0 {
		config = LoadConfig()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		notifier:     notifier,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	started := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := camunda.DecodeVariables(job, &input); err != nil {
		camunda.FailJob(ctx, h.errorHandler, client, job, err, started)
		return nil
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		camunda.FailJob(ctx, h.errorHandler, client, job, err, started)
		return nil
	}
	return camunda.CompleteJob(ctx, client, job, output, started)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	req := notifications.Request{
		ClientID: input.ClientID,
		UserID:   input.UserID,
		Type:     input.Type,
		Title:    renderTemplate(input.Title, input.Data),
		Body:     renderTemplate(input.Body, input.Data),
		Priority: strings.ToLower(input.Priority),
		Data:     input.Data,
	}

	switch input.Audience {
	case AudienceClientAdmins:
		if input.ClientID == "" {
			return nil, apperrors.NewValidationFailedError("clientId is required for client_admins")
		}
		if err := h.notifier.NotifyClientAdmins(ctx, input.ClientID, req); err != nil {
			return nil, err
		}
		return &Output{Audience: AudienceClientAdmins}, nil

	case AudienceUser, "":
		result, err := h.notifier.Notify(ctx, req)
		if err != nil {
			return nil, err
		}
		if result.Email == notifications.StatusFailed || result.SMS == notifications.StatusFailed {
			h.logger.Warn("notification stored with failed delivery", map[string]interface{}{
				"notificationId": result.Notification.ID,
				"email":          result.Email,
				"sms":            result.SMS,
			})
		}
		return &Output{
			NotificationID: result.Notification.ID,
			EmailStatus:    result.Email,
			SMSStatus:      result.SMS,
			Audience:       AudienceUser,
		}, nil

	default:
		return nil, apperrors.NewValidationFailedError(fmt.Sprintf("unknown audience %q", input.Audience))
	}
}

// renderTemplate fills {{key}} placeholders from data and drops unknown ones.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl
	for k, v := range data {
		value := ""
		if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+k+"}}", value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		result = result[:start] + result[start+end+2:]
	}
	return strings.TrimSpace(result)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
