// internal/evolution/client.go
// Package evolution talks to the Evolution API WhatsApp gateway and receives its webhooks.
package evolution

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/httpclient"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/ratelimit"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultTimeout     = 15 * time.Second
	breakerMaxFailures = 5
	breakerOpenTimeout = 30 * time.Second
)

type ClientConfig struct {
	BaseURL           string
	APIKey            string
	WebhookURL        string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// SentMessage is the gateway's acknowledgement of an outbound text.
type SentMessage struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	Status    string `json:"status"`
}

// InstanceState is the connection state reported by the gateway.
type InstanceState struct {
	Instance string `json:"instance"`
	State    string `json:"state"`
}

// CreatedInstance carries the pairing data of a freshly provisioned instance.
type CreatedInstance struct {
	InstanceName string `json:"instanceName"`
	InstanceID   string `json:"instanceId"`
	Status       string `json:"status"`
	QRCode       string `json:"qrcode,omitempty"`
}

// Client is the Evolution API client. Calls are rate limited per instance and
// share one circuit breaker.
type Client struct {
	http       *resty.Client
	breaker    *gobreaker.CircuitBreaker[*resty.Response]
	limiter    *ratelimit.Keyed
	webhookURL string
	logger     logger.Logger
}

func NewClient(cfg ClientConfig, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	log = logger.WithComponent(log, "evolution")

	httpClient := httpclient.New("evolution", cfg.Timeout, log).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "evolution",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     breakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Client{
		http:       httpClient,
		breaker:    breaker,
		limiter:    ratelimit.NewKeyed(cfg.RequestsPerSecond, cfg.Burst),
		webhookURL: cfg.WebhookURL,
		logger:     log,
	}
}

// call runs one request through the limiter and breaker. Gateway 5xx responses
// count as breaker failures; 4xx responses do not.
func (c *Client) call(ctx context.Context, op, instance string, build func(r *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx, instance); err != nil {
		return nil, apperrors.NewEvolutionAPIFailedError(op, fmt.Errorf("rate limit wait: %w", err))
	}

	var clientErr error
	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		resp, err := build(c.http.R().SetContext(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= 500 {
			return nil, fmt.Errorf("gateway status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		}
		if resp.IsError() {
			clientErr = fmt.Errorf("gateway status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		}
		return resp, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, apperrors.NewEvolutionAPIFailedError(op, err).WithMetadata("circuit", "open")
		}
		return nil, apperrors.NewEvolutionAPIFailedError(op, err)
	}
	if clientErr != nil {
		if resp.StatusCode() == 404 {
			return nil, apperrors.NewNotFoundError("instance", instance)
		}
		stdErr := apperrors.NewEvolutionAPIFailedError(op, clientErr)
		stdErr.Retryable = false
		return nil, stdErr
	}
	return resp, nil
}

// SendText sends a plain text to number through instance.
func (c *Client) SendText(ctx context.Context, instance, number, text string) (*SentMessage, error) {
	var out struct {
		Key struct {
			ID        string `json:"id"`
			RemoteJID string `json:"remoteJid"`
		} `json:"key"`
		Status string `json:"status"`
	}
	_, err := c.call(ctx, "send_text", instance, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(map[string]interface{}{
			"number": NormalizeNumber(number),
			"text":   text,
		}).SetResult(&out).Post("/message/sendText/" + url.PathEscape(instance))
	})
	if err != nil {
		return nil, err
	}
	return &SentMessage{ID: out.Key.ID, RemoteJID: out.Key.RemoteJID, Status: out.Status}, nil
}

// InstanceState fetches the connection state of instance.
func (c *Client) InstanceState(ctx context.Context, instance string) (*InstanceState, error) {
	var out struct {
		Instance struct {
			InstanceName string `json:"instanceName"`
			State        string `json:"state"`
		} `json:"instance"`
	}
	_, err := c.call(ctx, "connection_state", instance, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/instance/connectionState/" + url.PathEscape(instance))
	})
	if err != nil {
		return nil, err
	}
	return &InstanceState{Instance: out.Instance.InstanceName, State: out.Instance.State}, nil
}

// CreateInstance provisions instance and points its webhook at this service,
// authenticated with webhookKey.
func (c *Client) CreateInstance(ctx context.Context, instance, webhookKey string) (*CreatedInstance, error) {
	var out struct {
		Instance struct {
			InstanceName string `json:"instanceName"`
			InstanceID   string `json:"instanceId"`
			Status       string `json:"status"`
		} `json:"instance"`
		QRCode struct {
			Base64 string `json:"base64"`
		} `json:"qrcode"`
	}
	body := map[string]interface{}{
		"instanceName": instance,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}
	if c.webhookURL != "" {
		body["webhook"] = map[string]interface{}{
			"url":      c.webhookURL,
			"byEvents": false,
			"base64":   false,
			"headers":  map[string]string{"apikey": webhookKey},
			"events":   []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE"},
		}
	}
	_, err := c.call(ctx, "create_instance", instance, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).SetResult(&out).Post("/instance/create")
	})
	if err != nil {
		return nil, err
	}
	return &CreatedInstance{
		InstanceName: out.Instance.InstanceName,
		InstanceID:   out.Instance.InstanceID,
		Status:       out.Instance.Status,
		QRCode:       out.QRCode.Base64,
	}, nil
}

// DeleteInstance removes instance from the gateway. A missing instance is not an error.
func (c *Client) DeleteInstance(ctx context.Context, instance string) error {
	_, err := c.call(ctx, "delete_instance", instance, func(r *resty.Request) (*resty.Response, error) {
		return r.Delete("/instance/delete/" + url.PathEscape(instance))
	})
	if apperrors.Is(err, apperrors.ErrCodeNotFound) {
		return nil
	}
	return err
}

// NormalizeNumber strips a WhatsApp JID suffix and every non-digit.
func NormalizeNumber(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		jid = jid[:i]
	}
	if i := strings.IndexByte(jid, ':'); i >= 0 {
		jid = jid[:i]
	}
	var b strings.Builder
	for _, r := range jid {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
