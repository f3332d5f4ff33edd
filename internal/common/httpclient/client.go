// internal/common/httpclient/client.go
package httpclient

import (
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/go-resty/resty/v2"
)

type requestIDKey struct{}

// RequestIDKey is the context key whose string value is forwarded as X-Request-ID.
var RequestIDKey = requestIDKey{}

// New returns a resty client that logs every outbound call at debug level
// and every transport error at warn level.
func New(clientName string, timeout time.Duration, log logger.Logger) *resty.Client {
	log = log.WithFields(map[string]interface{}{"client": clientName})

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "aurelia-crm/"+clientName)

	client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		if id, ok := r.Context().Value(RequestIDKey).(string); ok && id != "" {
			r.SetHeader("X-Request-ID", id)
		}
		return nil
	})

	client.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		log.Debug("HTTP client request", map[string]interface{}{
			"method":    r.Request.Method,
			"url":       r.Request.URL,
			"status":    r.StatusCode(),
			"latencyMs": r.Time().Milliseconds(),
		})
		return nil
	})

	client.OnError(func(r *resty.Request, err error) {
		log.Warn("HTTP client request failed", map[string]interface{}{
			"method": r.Method,
			"url":    r.URL,
			"error":  err.Error(),
		})
	})

	return client
}
