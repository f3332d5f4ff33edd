// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/ai"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	awsclients "github.com/josecentenodev/crm-aurelia-sub005/internal/common/aws"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/config"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/database"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/observability"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/security"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/evolution"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/notifications"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/search"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/workers"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/redis/go-redis/v9"
)

// App holds the shared component graph used by both the HTTP server and the
// standalone worker process.
type App struct {
	Config *config.Config
	Log    logger.Logger

	DB    *database.PostgresClient
	Redis *redis.Client
	Store *store.Store
	Obs   *observability.Observability

	Channels     *realtime.Manager
	Tokens       *auth.TokenService
	Encryptor    *security.Encryptor
	Plans        *plans.Checker
	Notifier     *notifications.Service
	ContactIndex *search.ContactIndex
	Evolution    *evolution.Client
	Access       *evolution.AccessResolver
	Dispatcher   *evolution.Dispatcher
	LLM          *ai.Streamer
	Orchestrator *ai.Orchestrator

	closers []func()
}

// RetryWithBackoff attempts to execute a function with exponential backoff
func RetryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":       err.Error(),
				"attempt":     i + 1,
				"maxRetries":  maxRetries,
				"nextRetryIn": delay.String(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// Build connects backing services and constructs every shared component.
// Background loops are bound to ctx. Close releases everything in reverse order.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	shutdownTracing, err := observability.InitTracing(cfg.Observability)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = shutdownTracing(context.Background()) })

	a.Obs = observability.New(cfg.Observability.ServiceName, log)
	a.onClose(func() { _ = a.Obs.Shutdown(context.Background()) })

	// --- PostgreSQL ---
	err = RetryWithBackoff(func() error {
		pg, err := database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		if err := pg.Ping(ctx); err != nil {
			_ = pg.Close()
			return err
		}
		a.DB = pg
		return nil
	}, 15, 2*time.Second, log, "PostgreSQL connection")
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = a.DB.Close() })
	log.Info("PostgreSQL connected successfully", nil)

	if cfg.Database.Postgres.AutoMigrate {
		if err := a.DB.Migrate(); err != nil {
			return nil, err
		}
		log.Info("Database migrations applied", nil)
	}
	a.Store = store.New(a.DB.DB)

	// --- Redis ---
	if cfg.Database.Redis.Address != "" {
		rc, err := database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = rc.Close() })
		err = RetryWithBackoff(func() error { return rc.Ping(ctx) }, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			return nil, err
		}
		a.Redis = rc.GetClient()
		log.Info("Redis connected successfully", nil)
	}

	// --- Elasticsearch ---
	var esClient *elasticsearch.Client
	if cfg.Database.Elasticsearch.Enabled {
		ec, err := database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return nil, err
		}
		if err := ec.Ping(ctx); err != nil {
			log.Warn("Elasticsearch unreachable, contact search falls back to SQL", map[string]interface{}{"error": err.Error()})
		} else {
			esClient = ec.Client
			log.Info("Elasticsearch connected successfully", nil)
		}
	}
	a.ContactIndex = search.NewContactIndex(esClient, cfg.Database.Elasticsearch.Index, log)
	if err := a.ContactIndex.EnsureIndex(ctx); err != nil {
		log.Warn("Contact index setup failed", map[string]interface{}{"error": err.Error()})
	}

	// --- Realtime ---
	var transport realtime.Transport = realtime.NewMemoryTransport()
	if cfg.Realtime.Transport == "redis" && a.Redis != nil {
		transport = realtime.NewRedisTransport(a.Redis, log)
	}
	a.Channels = realtime.NewManager(transport, realtime.Options{
		IdleTimeout:   config.GetDuration(cfg.Realtime.IdleTimeout),
		SweepInterval: config.GetDuration(cfg.Realtime.SweepInterval),
	}, log)
	a.Channels.Start(ctx)
	a.onClose(func() { _ = a.Channels.Close() })

	// --- Security ---
	a.Tokens = auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, config.GetDuration(cfg.Auth.TokenTTL))
	a.Encryptor, err = security.NewEncryptor(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}

	// --- Plans ---
	var planCache redis.Cmdable
	if a.Redis != nil {
		planCache = a.Redis
	}
	a.Plans = plans.NewChecker(a.Store, planCache, config.GetDuration(cfg.Cache.PlanTTL), log)

	// --- Notifications ---
	var emailSender notifications.EmailSender
	if cfg.Notifications.Email.Enabled {
		ses, err := awsclients.NewSESClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.Email.FromEmail)
		if err != nil {
			return nil, err
		}
		emailSender = ses
	}
	var smsSender notifications.SMSSender
	if cfg.Notifications.SMS.Enabled {
		sns, err := awsclients.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			return nil, err
		}
		smsSender = sns
	}
	a.Notifier = notifications.NewService(notifications.Config{
		EmailEnabled:       cfg.Notifications.Email.Enabled,
		SMSEnabled:         cfg.Notifications.SMS.Enabled,
		SMSPriorityMinimum: cfg.Notifications.SMS.PriorityThreshold,
	}, a.Store, a.Channels, emailSender, smsSender, log)

	// --- WhatsApp gateway ---
	a.Evolution = evolution.NewClient(evolution.ClientConfig{
		BaseURL:           cfg.Evolution.BaseURL,
		APIKey:            cfg.Evolution.APIKey,
		WebhookURL:        cfg.Evolution.WebhookURL,
		Timeout:           config.GetDuration(cfg.Evolution.Timeout),
		RequestsPerSecond: cfg.Evolution.RequestsPerSecond,
		Burst:             cfg.Evolution.Burst,
	}, log)
	a.Access = evolution.NewAccessResolver(a.Store, evolution.AccessOptions{
		TTL:             config.GetDuration(cfg.Cache.AccessTTL),
		MaxEntries:      cfg.Cache.MaxEntries,
		CleanupInterval: config.GetDuration(cfg.Cache.CleanupInterval),
		GlobalAPIKey:    cfg.Evolution.APIKey,
	}, log)
	a.Access.Start(ctx)
	a.onClose(a.Access.Close)
	a.Dispatcher = evolution.NewDispatcher(a.Store, a.Evolution, a.Channels, log)

	// --- AI ---
	a.LLM = ai.NewStreamer(ai.StreamerConfig{
		BaseURL:     cfg.AI.BaseURL,
		Timeout:     config.GetDuration(cfg.AI.Timeout),
		MaxFailures: cfg.AI.Breaker.MaxFailures,
		OpenTimeout: config.GetDuration(cfg.AI.Breaker.OpenTimeout),
	}, log)
	var replyDispatcher ai.ReplyDispatcher
	if cfg.AI.DispatchURL != "" {
		replyDispatcher = ai.NewHTTPDispatcher(cfg.AI.DispatchURL, cfg.AI.DispatchSecret, config.GetDuration(cfg.AI.DispatchTimeout), log)
	}
	a.Orchestrator = ai.NewOrchestrator(ai.OrchestratorConfig{
		DefaultModel: cfg.AI.DefaultModel,
		HistoryLimit: cfg.AI.HistoryLimit,
		AsyncTimeout: 2 * config.GetDuration(cfg.AI.Timeout),
	}, a.Store, a.LLM, a.Plans, a.Encryptor, a.Channels, replyDispatcher, a.Notifier, a.Obs, log)
	a.onClose(a.Orchestrator.Wait)

	built = true
	return a, nil
}

// Ready reports whether the database and cache answer.
func (a *App) Ready(ctx context.Context) error {
	if err := a.DB.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// WorkerDeps exposes the components workflow workers call into.
func (a *App) WorkerDeps() workers.Deps {
	return workers.Deps{
		Replies:       a.Orchestrator,
		Dispatcher:    a.Dispatcher,
		Notifications: a.Notifier,
		Plans:         a.Plans,
	}
}

// Close releases components in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}
