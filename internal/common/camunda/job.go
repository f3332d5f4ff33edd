// internal/common/camunda/job.go
package camunda

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// DecodeVariables unmarshals the job variables into v.
func DecodeVariables(job entities.Job, v interface{}) error {
	if err := json.Unmarshal([]byte(job.Variables), v); err != nil {
		return apperrors.NewBadRequestError(fmt.Sprintf("parse job variables: %v", err))
	}
	return nil
}

// CompleteJob sends the output variables and records the job metrics.
func CompleteJob(ctx context.Context, client worker.JobClient, job entities.Job, output interface{}, started time.Time) error {
	metrics.WorkerJobDuration.WithLabelValues(job.Type).Observe(time.Since(started).Seconds())

	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		return fmt.Errorf("create complete job command: %w", err)
	}
	if _, err := cmd.Send(ctx); err != nil {
		return fmt.Errorf("send complete job command: %w", err)
	}
	metrics.WorkerJobsCompleted.WithLabelValues(job.Type).Inc()
	return nil
}

// FailJob hands err to the shared error handler, which retries or throws a
// BPMN error depending on its code.
func FailJob(ctx context.Context, handler *apperrors.ErrorHandler, client worker.JobClient, job entities.Job, err error, started time.Time) {
	stdErr := apperrors.From(err)
	metrics.WorkerJobDuration.WithLabelValues(job.Type).Observe(time.Since(started).Seconds())
	metrics.WorkerJobsFailed.WithLabelValues(job.Type, string(stdErr.Code)).Inc()
	handler.HandleJobError(ctx, client, job, stdErr)
}
