// internal/api/middleware.go
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/httpclient"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/observability"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const requestIDHeader = "X-Request-ID"

// RequestID propagates or generates X-Request-ID and carries it on the
// request context for outbound HTTP calls.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), httpclient.RequestIDKey, id))
		c.Next()
	}
}

// RequestLogger logs every request once it completes.
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	log = logger.WithComponent(log, "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		p := principal(c)
		status := c.Writer.Status()
		fields := map[string]interface{}{
			"requestId": requestID(c),
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    status,
			"latencyMs": time.Since(start).Milliseconds(),
			"clientId":  p.ClientID,
			"userId":    p.UserID,
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.Last().Error()
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Error("HTTP request", fields)
		case status >= http.StatusBadRequest:
			log.Warn("HTTP request", fields)
		default:
			log.Info("HTTP request", fields)
		}
	}
}

// Metrics records request counts and latency per route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// CORS echoes allowed origins. An empty list allows any origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			if ok || len(allowed) == 0 {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				h.Set("Access-Control-Expose-Headers", requestIDHeader)
				h.Set("Access-Control-Max-Age", "43200")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// TokenVerifier turns a bearer token into a principal.
type TokenVerifier interface {
	Verify(raw string) (*auth.Principal, error)
}

// Authenticate requires a valid bearer token.
func Authenticate(tokens TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondError(c, apperrors.NewUnauthorizedError("missing bearer token"))
			return
		}
		p, err := tokens.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			respondError(c, err)
			return
		}
		c.Set(principalKey, *p)
		c.Next()
	}
}

// RequireRole admits only the listed roles.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		respondError(c, apperrors.NewForbiddenError("insufficient role"))
	}
}

// RateLimit throttles per tenant, per superadmin user, or per remote address
// for anonymous calls.
func RateLimit(limiter *ratelimit.Keyed) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if p := principal(c); p.ClientID != "" {
			key = "client:" + p.ClientID
		} else if p.UserID != "" {
			key = "user:" + p.UserID
		}
		if !limiter.Allow(key) {
			c.Header("Retry-After", "1")
			respondError(c, apperrors.NewTooManyRequestsError(key))
			return
		}
		c.Next()
	}
}

// Tracing opens one span per request named after the route template.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := observability.StartSpan(c.Request.Context(), c.Request.Method+" "+route,
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.String("request.id", requestID(c)),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
