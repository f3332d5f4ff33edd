// internal/workers/registry.go
// Package workers registers the workflow job workers on a Zeebe client.
package workers

import (
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/camunda"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/config"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	acr "github.com/josecentenodev/crm-aurelia-sub005/internal/workers/ai-conversation/ai-conversation-reply"
	ns "github.com/josecentenodev/crm-aurelia-sub005/internal/workers/communication/notification-send"
	wd "github.com/josecentenodev/crm-aurelia-sub005/internal/workers/communication/whatsapp-dispatch"
	plc "github.com/josecentenodev/crm-aurelia-sub005/internal/workers/infrastructure/plan-limit-check"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Deps are the domain services behind the workers.
type Deps struct {
	Replies       acr.Runner
	Dispatcher    wd.Dispatcher
	Notifications ns.Notifier
	Plans         plc.StatusReader
}

// Registration pairs a task type with its handler.
type Registration struct {
	TaskType string
	Handler  camunda.JobHandler
}

// Registrations builds every handler with its per-worker timeout.
func Registrations(cfg *config.Config, deps Deps, log logger.Logger) []Registration {
	timeout := func(taskType string) time.Duration {
		return config.GetDuration(config.GetWorkerConfig(cfg, taskType).Timeout)
	}
	return []Registration{
		{
			TaskType: acr.TaskType,
			Handler:  acr.NewHandler(&acr.Config{Timeout: timeout(acr.TaskType)}, deps.Replies, log),
		},
		{
			TaskType: wd.TaskType,
			Handler:  wd.NewHandler(&wd.Config{Timeout: timeout(wd.TaskType)}, deps.Dispatcher, log),
		},
		{
			TaskType: ns.TaskType,
			Handler:  ns.NewHandler(&ns.Config{Timeout: timeout(ns.TaskType)}, deps.Notifications, log),
		},
		{
			TaskType: plc.TaskType,
			Handler:  plc.NewHandler(&plc.Config{Timeout: timeout(plc.TaskType)}, deps.Plans, log),
		},
	}
}

// Start opens a job worker for every enabled registration.
func Start(client zbc.Client, cfg *config.Config, deps Deps, log logger.Logger) []*camunda.CamundaWorker {
	var started []*camunda.CamundaWorker
	for _, reg := range Registrations(cfg, deps, log) {
		if !config.IsWorkerEnabled(cfg, reg.TaskType) {
			log.Info("Worker disabled", map[string]interface{}{"taskType": reg.TaskType})
			continue
		}
		wc := config.GetWorkerConfig(cfg, reg.TaskType)
		started = append(started, camunda.NewWorker(client, camunda.WorkerOptions{
			TaskType:      reg.TaskType,
			MaxJobsActive: wc.MaxJobsActive,
			Timeout:       config.GetDuration(wc.Timeout),
		}, reg.Handler, log))
	}
	return started
}

// Stop closes every worker.
func Stop(workers []*camunda.CamundaWorker) {
	for _, w := range workers {
		w.Stop()
	}
}
