// internal/plans/checker.go
// Package plans enforces the per-plan resource limits of each tenant.
package plans

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/redis/go-redis/v9"
)

// Resource is a countable thing a plan caps.
type Resource string

const (
	ResourceUsers      Resource = "users"
	ResourceContacts   Resource = "contacts"
	ResourceAgents     Resource = "agents"
	ResourceInstances  Resource = "instances"
	ResourceAIMessages Resource = "ai_messages"
)

const DefaultCacheTTL = 5 * time.Minute

// ParseResource validates a resource name coming from a job or request.
func ParseResource(s string) (Resource, error) {
	switch r := Resource(s); r {
	case ResourceUsers, ResourceContacts, ResourceAgents, ResourceInstances, ResourceAIMessages:
		return r, nil
	}
	return "", apperrors.NewBadRequestError(fmt.Sprintf("unknown plan resource %q", s))
}

// Store is the part of the repository layer the checker reads.
type Store interface {
	GetClientPlanLimits(ctx context.Context, clientID string) (*models.PlanLimits, error)
	GetUsage(ctx context.Context, clientID string) (*models.Usage, error)
}

// Status pairs a client's limits with its current usage.
type Status struct {
	Limits models.PlanLimits `json:"limits"`
	Usage  models.Usage      `json:"usage"`
}

// Checker answers whether a tenant may create one more of a resource.
type Checker struct {
	store  Store
	redis  redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewChecker(store Store, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *Checker {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Checker{
		store:  store,
		redis:  rdb,
		ttl:    ttl,
		logger: logger.WithComponent(log, "plans"),
	}
}

func cacheKey(clientID string) string {
	return "plan:" + clientID
}

// Limits returns the client's plan limits, cache-aside through Redis.
func (c *Checker) Limits(ctx context.Context, clientID string) (*models.PlanLimits, error) {
	if c.redis != nil {
		val, err := c.redis.Get(ctx, cacheKey(clientID)).Result()
		switch {
		case err == nil:
			var limits models.PlanLimits
			if jsonErr := json.Unmarshal([]byte(val), &limits); jsonErr == nil {
				metrics.CacheOperations.WithLabelValues("plan", "hit").Inc()
				return &limits, nil
			}
		case err != redis.Nil:
			c.logger.Warn("Plan cache read failed", map[string]interface{}{
				"clientId": clientID,
				"error":    err.Error(),
			})
		}
		metrics.CacheOperations.WithLabelValues("plan", "miss").Inc()
	}

	limits, err := c.store.GetClientPlanLimits(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if c.redis != nil {
		data, _ := json.Marshal(limits)
		if err := c.redis.Set(ctx, cacheKey(clientID), data, c.ttl).Err(); err != nil {
			c.logger.Warn("Plan cache write failed", map[string]interface{}{
				"clientId": clientID,
				"error":    err.Error(),
			})
		}
	}
	return limits, nil
}

// Check returns PLAN_LIMIT_EXCEEDED when usage has reached the limit. A zero limit is unlimited.
func (c *Checker) Check(ctx context.Context, clientID string, resource Resource) error {
	limits, err := c.Limits(ctx, clientID)
	if err != nil {
		return err
	}
	limit := LimitFor(*limits, resource)
	if limit == 0 {
		return nil
	}

	usage, err := c.store.GetUsage(ctx, clientID)
	if err != nil {
		return err
	}
	used := UsageFor(*usage, resource)
	if used >= limit {
		c.logger.Info("Plan limit reached", map[string]interface{}{
			"clientId": clientID,
			"plan":     limits.Plan,
			"resource": string(resource),
			"limit":    limit,
			"usage":    used,
		})
		return apperrors.NewPlanLimitExceededError(string(resource), limit, used)
	}
	return nil
}

// Status reports limits and usage together for the admin usage view.
func (c *Checker) Status(ctx context.Context, clientID string) (*Status, error) {
	limits, err := c.Limits(ctx, clientID)
	if err != nil {
		return nil, err
	}
	usage, err := c.store.GetUsage(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &Status{Limits: *limits, Usage: *usage}, nil
}

// Invalidate drops cached limits after a plan or limit change.
func (c *Checker) Invalidate(ctx context.Context, clientIDs ...string) {
	if c.redis == nil || len(clientIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(clientIDs))
	for _, id := range clientIDs {
		keys = append(keys, cacheKey(id))
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Plan cache invalidation failed", map[string]interface{}{
			"clients": len(clientIDs),
			"error":   err.Error(),
		})
	}
}

func LimitFor(l models.PlanLimits, r Resource) int {
	switch r {
	case ResourceUsers:
		return l.MaxUsers
	case ResourceContacts:
		return l.MaxContacts
	case ResourceAgents:
		return l.MaxAgents
	case ResourceInstances:
		return l.MaxInstances
	case ResourceAIMessages:
		return l.MaxMonthlyAIMessages
	}
	return 0
}

func UsageFor(u models.Usage, r Resource) int {
	switch r {
	case ResourceUsers:
		return u.Users
	case ResourceContacts:
		return u.Contacts
	case ResourceAgents:
		return u.Agents
	case ResourceInstances:
		return u.Instances
	case ResourceAIMessages:
		return u.AIMessagesMonth
	}
	return 0
}
