// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/app"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/camunda"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/config"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/workers"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// worker-manager runs only the workflow job workers, for deployments that
// scale them apart from the HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.NewWithOutput(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer func() { _ = zapLog.Sync() }()
	log := logger.WithComponent(logger.NewZapAdapter(zapLog), "worker-manager")

	zapLog.Info("Starting worker manager...")
	if !cfg.Camunda.Enabled {
		zapLog.Fatal("camunda.enabled must be true for the worker manager")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("component setup failed", zap.Error(err))
	}
	defer a.Close()

	// --- Init Zeebe Client with retry ---
	var zb *camunda.Client
	err = app.RetryWithBackoff(func() error {
		var err error
		zb, err = camunda.NewClient(cfg.Camunda.BrokerAddress, config.GetDuration(cfg.Camunda.RequestTimeout))
		return err
	}, 10, 2*time.Second, log, "Zeebe client initialization")
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	defer zb.Close()
	zapLog.Info("Zeebe client connected successfully")

	started := workers.Start(zb.GetClient(), cfg, a.WorkerDeps(), log)
	zapLog.Info("Workers registered", zap.Int("count", len(started)))

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Ready(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		if err := zb.HealthCheck(r.Context()); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, "broker unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.Server.Address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	workers.Stop(started)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}
