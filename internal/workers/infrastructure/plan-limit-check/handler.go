// internal/workers/infrastructure/plan-limit-check/handler.go
package planlimitcheck

import (
	"context"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/camunda"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "plan-limit-check"
)

type StatusReader interface {
	Status(ctx context.Context, clientID string) (*plans.Status, error)
}

type Handler struct {
	config       *Config
	plans        StatusReader
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, checker StatusReader, log logger.Logger) *Handler {
	if config == nil || config.Timeout <= 0 {
		config = LoadConfig()
	}
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		plans:        checker,
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

// execute completes with allowed=false at the limit so the process can
// branch on it; only lookup failures fail the job.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.ClientID == "" {
		return nil, apperrors.NewValidationFailedError("clientId is required")
	}
	resource, err := plans.ParseResource(input.Resource)
	if err != nil {
		return nil, apperrors.NewValidationFailedError(apperrors.From(err).Details)
	}

	status, err := h.plans.Status(ctx, input.ClientID)
	if err != nil {
		return nil, err
	}

	limit := plans.LimitFor(status.Limits, resource)
	usage := plans.UsageFor(status.Usage, resource)
	out := &Output{
		Allowed:  limit == 0 || usage < limit,
		Plan:     status.Limits.Plan,
		Resource: string(resource),
		Limit:    limit,
		Usage:    usage,
	}
	if limit > 0 && usage < limit {
		out.Remaining = limit - usage
	}
	if !out.Allowed {
		h.logger.Info("plan limit reached", map[string]interface{}{
			"clientId": input.ClientID,
			"resource": resource,
			"limit":    limit,
			"usage":    usage,
		})
	}
	return out, nil
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
