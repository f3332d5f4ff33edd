// cmd/aurelia-server/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/ai"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/api"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/app"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/camunda"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/config"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/ratelimit"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/evolution"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/scheduler"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/search"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/workers"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer func() { _ = zapLog.Sync() }()
	log := logger.NewZapAdapter(zapLog)

	if err := run(cfg, log); err != nil {
		zapLog.Fatal("aurelia server stopped", zap.Error(err))
	}
	zapLog.Info("Aurelia server stopped gracefully")
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting Aurelia CRM", map[string]interface{}{
		"version":     cfg.App.Version,
		"environment": cfg.App.Environment,
	})
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	playground := ai.NewPlayground(a.Store, a.LLM, a.Plans, a.Encryptor, cfg.AI.DefaultModel, cfg.AI.HistoryLimit, log)
	webhook := evolution.NewWebhookHandler(a.Access, a.Store, a.Channels, a.ContactIndex, a.Notifier, a.Orchestrator, log)
	gateway := realtime.NewGateway(a.Channels, a.Tokens, realtime.NewAuthorizer(a.Store.ConversationClientID),
		cfg.Security.AllowedOrigins, cfg.Realtime.SendBuffer, log)

	// --- Workflow workers ---
	if cfg.Camunda.Enabled {
		zb, err := camunda.NewClient(cfg.Camunda.BrokerAddress, config.GetDuration(cfg.Camunda.RequestTimeout))
		if err != nil {
			return err
		}
		defer zb.Close()
		started := workers.Start(zb.GetClient(), cfg, a.WorkerDeps(), log)
		defer workers.Stop(started)
		log.Info("Workflow workers started", map[string]interface{}{"count": len(started)})
	}

	// --- Scheduler ---
	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler, a.Store, log)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	server := api.New(cfg.Server, cfg.Security.AllowedOrigins, api.Deps{
		Store:          a.Store,
		Tokens:         a.Tokens,
		Plans:          a.Plans,
		Search:         search.NewContactSearch(a.ContactIndex, a.Store),
		Index:          a.ContactIndex,
		Publisher:      a.Channels,
		Notifier:       a.Notifier,
		Encryptor:      a.Encryptor,
		Provisioner:    a.Evolution,
		Messages:       a.Dispatcher,
		Access:         a.Access,
		Playground:     playground,
		Limiter:        ratelimit.NewKeyed(cfg.Security.RateLimit.RequestsPerSecond, cfg.Security.RateLimit.Burst),
		DefaultModel:   cfg.AI.DefaultModel,
		AIConversation: ai.NewHandler(a.Orchestrator, cfg.AI.WebhookSecret, cfg.Security.AllowedOrigins, log).Handle,
		Webhook:        webhook.Handle,
		Dispatch:       evolution.NewDispatchHandler(a.Dispatcher, cfg.AI.DispatchSecret).Handle,
		Realtime:       gateway.Handle,
		Ready:          a.Ready,
	}, log)

	return server.Run(ctx)
}
