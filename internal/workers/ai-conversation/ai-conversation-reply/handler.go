// internal/workers/ai-conversation/ai-conversation-reply/handler.go
package aiconversationreply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/ai"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/camunda"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const (
	TaskType = "ai-conversation-reply"
)

// Runner is the conversation pipeline.
type Runner interface {
	Run(ctx context.Context, req ai.Request) (*ai.Response, error)
}

type Handler struct {
	config       *Config
	runner       Runner
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, runner Runner, log logger.Logger) *Handler {
	if config == nil || config.Timeout <= 0 {
		config = LoadConfig()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		runner:       runner,
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

	output, err := h.execute(ctx, &input, fmt.Sprintf("job-%d", job.Key))
	if err != nil {
		camunda.FailJob(ctx, h.errorHandler, client, job, err, started)
		return nil
	}
	return camunda.CompleteJob(ctx, client, job, output, started)
}

func (h *Handler) execute(ctx context.Context, input *Input, requestID string) (*Output, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	resp, err := h.runner.Run(ctx, ai.Request{
		RequestID:         requestID,
		ClientID:          input.ClientID,
		ConversationID:    input.ConversationID,
		MessageID:         input.MessageID,
		Content:           strings.TrimSpace(input.Content),
		ResponseMessageID: input.ResponseMessageID,
	})
	if err != nil {
		return nil, err
	}

	h.logger.Info("conversation reply generated", map[string]interface{}{
		"conversationId":    input.ConversationID,
		"responseMessageId": resp.MessageID,
		"totalTokens":       resp.Usage.TotalTokens,
	})
	return &Output{
		ResponseMessageID: resp.MessageID,
		Content:           resp.Content,
		TotalTokens:       resp.Usage.TotalTokens,
		DurationMs:        resp.DurationMs,
	}, nil
}

func validateInput(input *Input) error {
	var missing []string
	if input.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if input.ConversationID == "" {
		missing = append(missing, "conversationId")
	}
	if input.MessageID == "" {
		missing = append(missing, "messageId")
	}
	if strings.TrimSpace(input.Content) == "" {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		return apperrors.NewValidationFailedError("missing " + strings.Join(missing, ", "))
	}
	for field, v := range map[string]string{"messageId": input.MessageID, "responseMessageId": input.ResponseMessageID} {
		if v == "" {
			continue
		}
		if _, err := uuid.Parse(v); err != nil {
			return apperrors.NewValidationFailedError(fmt.Sprintf("%s must be a UUID", field))
		}
	}
	return nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input, uuid.NewString())
}
