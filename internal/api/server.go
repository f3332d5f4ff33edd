// internal/api/server.go
// Package api serves the tenant-scoped REST API, the back office and the
// inbound webhooks over gin.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/ai"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/config"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/ratelimit"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/evolution"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/notifications"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PlanChecker enforces and reports plan limits.
type PlanChecker interface {
	Check(ctx context.Context, clientID string, resource plans.Resource) error
	Status(ctx context.Context, clientID string) (*plans.Status, error)
	Invalidate(ctx context.Context, clientIDs ...string)
}

type ContactSearcher interface {
	Search(ctx context.Context, clientID, q string, size int) ([]models.Contact, error)
}

// ContactIndexer mirrors contact writes into the search index.
type ContactIndexer interface {
	Index(ctx context.Context, c models.Contact) error
	Delete(ctx context.Context, id string) error
}

type Notifier interface {
	Notify(ctx context.Context, req notifications.Request) (*notifications.Result, error)
}

type Encryptor interface {
	Encrypt(plaintext string) (string, error)
}

// Provisioner manages instances on the WhatsApp gateway.
type Provisioner interface {
	CreateInstance(ctx context.Context, instance, webhookKey string) (*evolution.CreatedInstance, error)
	DeleteInstance(ctx context.Context, instance string) error
	InstanceState(ctx context.Context, instance string) (*evolution.InstanceState, error)
}

// MessageDispatcher sends a stored outbound message to WhatsApp.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, clientID, messageID string) (*evolution.DispatchResult, error)
}

type AccessInvalidator interface {
	Invalidate(instance string)
}

type PlaygroundRunner interface {
	Send(ctx context.Context, clientID, sessionID, content string) (*ai.PlaygroundReply, error)
}

// Deps is everything the routes call into. Nil webhook handlers leave their
// route unregistered.
type Deps struct {
	Store       *store.Store
	Tokens      *auth.TokenService
	Plans       PlanChecker
	Search      ContactSearcher
	Index       ContactIndexer
	Publisher   realtime.Publisher
	Notifier    Notifier
	Encryptor   Encryptor
	Provisioner Provisioner
	Messages    MessageDispatcher
	Access      AccessInvalidator
	Playground  PlaygroundRunner
	Limiter     *ratelimit.Keyed

	// DefaultModel fills agents created without a model.
	DefaultModel string

	AIConversation gin.HandlerFunc
	Webhook        gin.HandlerFunc
	Dispatch       gin.HandlerFunc
	Realtime       gin.HandlerFunc

	// Ready reports whether backing services are reachable.
	Ready func(ctx context.Context) error
}

// Server wraps the gin engine with graceful shutdown helpers.
type Server struct {
	cfg    config.ServerConfig
	engine *gin.Engine
	deps   Deps
	log    logger.Logger
}

func New(cfg config.ServerConfig, allowedOrigins []string, deps Deps, log logger.Logger) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestID(), Tracing(), Metrics(), CORS(allowedOrigins), RequestLogger(log))

	s := &Server{
		cfg:    cfg,
		engine: engine,
		deps:   deps,
		log:    logger.WithComponent(log, "api"),
	}
	s.registerRoutes()
	return s
}

// Handler exposes the engine for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the listener and shuts down gracefully when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.engine,
		ReadTimeout:  config.GetDuration(s.cfg.ReadTimeout),
		WriteTimeout: config.GetDuration(s.cfg.WriteTimeout),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", map[string]interface{}{"address": s.cfg.Address})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Shutting down HTTP server", nil)
	case err := <-errCh:
		return err
	}

	timeout := config.GetDuration(s.cfg.ShutdownTimeout)
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/auth/login", RateLimit(s.deps.Limiter), s.login)
	if s.deps.AIConversation != nil {
		api.POST("/ai/conversation", s.deps.AIConversation)
	}
	if s.deps.Webhook != nil {
		api.POST("/webhook/evolution", s.deps.Webhook)
	}
	if s.deps.Dispatch != nil {
		api.POST("/webhook/evolution/dispatch", s.deps.Dispatch)
	}
	if s.deps.Realtime != nil {
		api.GET("/realtime/ws", s.deps.Realtime)
	}

	v1 := api.Group("/v1", Authenticate(s.deps.Tokens), RateLimit(s.deps.Limiter))
	v1.GET("/me", s.me)
	v1.GET("/usage", s.tenantUsage)

	contacts := v1.Group("/contacts")
	contacts.GET("", s.listContacts)
	contacts.GET("/search", s.searchContacts)
	contacts.GET("/:id", s.getContact)
	contacts.POST("", s.createContact)
	contacts.PATCH("/:id", s.updateContact)
	contacts.DELETE("/:id", s.deleteContact)

	conversations := v1.Group("/conversations")
	conversations.GET("", s.listConversations)
	conversations.POST("", s.createConversation)
	conversations.GET("/:id", s.getConversation)
	conversations.PATCH("/:id", s.updateConversation)
	conversations.POST("/:id/messages", s.sendMessage)
	conversations.POST("/:id/read", s.markConversationRead)

	opportunities := v1.Group("/opportunities")
	opportunities.GET("", s.listOpportunities)
	opportunities.GET("/:id", s.getOpportunity)
	opportunities.POST("", s.createOpportunity)
	opportunities.PATCH("/:id", s.updateOpportunity)
	opportunities.POST("/:id/move", s.moveOpportunity)
	opportunities.DELETE("/:id", s.deleteOpportunity)

	pipelines := v1.Group("/pipelines")
	pipelines.GET("", s.listPipelines)
	pipelines.GET("/:id", s.getPipeline)
	pipelines.POST("", s.createPipeline)
	pipelines.PATCH("/:id", s.updatePipeline)
	pipelines.DELETE("/:id", s.deletePipeline)
	pipelines.POST("/:id/stages", s.addStage)
	pipelines.PUT("/:id/stages/order", s.reorderStages)
	v1.DELETE("/stages/:id", s.deleteStage)

	agents := v1.Group("/agents")
	agents.GET("", s.listAgents)
	agents.GET("/:id", s.getAgent)
	agents.POST("", s.createAgent)
	agents.POST("/from-template", s.createAgentFromTemplate)
	agents.PATCH("/:id", s.updateAgent)
	agents.DELETE("/:id", s.deleteAgent)
	v1.GET("/templates", s.listTemplates)

	notes := v1.Group("/notifications")
	notes.GET("", s.listNotifications)
	notes.POST("/read-all", s.markAllNotificationsRead)
	notes.POST("/:id/read", s.markNotificationRead)

	instances := v1.Group("/instances")
	instances.GET("", s.listInstances)
	instances.POST("", s.createInstance)
	instances.GET("/:id/state", s.instanceState)
	instances.DELETE("/:id", s.deleteInstance)

	playground := v1.Group("/playground/sessions")
	playground.POST("", s.createPlaygroundSession)
	playground.GET("/:id", s.getPlaygroundSession)
	playground.DELETE("/:id", s.deletePlaygroundSession)
	playground.POST("/:id/messages", s.sendPlaygroundMessage)

	admin := v1.Group("/admin", RequireRole(auth.RoleSuperAdmin))
	admin.GET("/clients", s.listClients)
	admin.GET("/clients/:id", s.getClient)
	admin.POST("/clients", s.createClient)
	admin.PATCH("/clients/:id", s.updateClient)
	admin.DELETE("/clients/:id", s.deleteClient)
	admin.PUT("/clients/:id/ai-key", s.setClientAIKey)
	admin.GET("/clients/:id/usage", s.clientUsage)

	admin.GET("/users", s.listUsers)
	admin.POST("/users", s.createUser)
	admin.PATCH("/users/:id", s.updateUser)
	admin.DELETE("/users/:id", s.deleteUser)

	admin.GET("/templates", s.listTemplates)
	admin.POST("/templates", s.createTemplate)
	admin.PATCH("/templates/:id", s.updateTemplate)
	admin.DELETE("/templates/:id", s.deleteTemplate)

	admin.GET("/plan-limits", s.listPlanLimits)
	admin.GET("/plan-limits/:plan", s.getPlanLimits)
	admin.PUT("/plan-limits/:plan", s.updatePlanLimits)
}

func (s *Server) ready(c *gin.Context) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
