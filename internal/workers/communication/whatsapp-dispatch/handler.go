// internal/workers/communication/whatsapp-dispatch/handler.go
package whatsappdispatch

import (
	"context"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/camunda"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/evolution"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "whatsapp-dispatch"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, clientID, messageID string) (*evolution.DispatchResult, error)
}

type Handler struct {
	config       *Config
	dispatcher   Dispatcher
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, dispatcher Dispatcher, log logger.Logger) *Handler {
	if config == nil || config.Timeout <= 0 {
		config = LoadConfig()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		dispatcher:   dispatcher,
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
	if input.ClientID == "" || input.MessageID == "" {
		return nil, apperrors.NewValidationFailedError("clientId and messageId are required")
	}

	result, err := h.dispatcher.Dispatch(ctx, input.ClientID, input.MessageID)
	if err != nil {
		return nil, err
	}
	return &Output{
		MessageID:  result.MessageID,
		Status:     result.Status,
		ExternalID: result.ExternalID,
	}, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
