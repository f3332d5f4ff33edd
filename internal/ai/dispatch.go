// internal/ai/dispatch.go
package ai

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/httpclient"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/go-resty/resty/v2"
)

// ReplyDispatcher hands a stored reply to the WhatsApp sender.
type ReplyDispatcher interface {
	DispatchReply(ctx context.Context, clientID, conversationID, messageID string) error
}

// HTTPDispatcher posts replies to the dispatch webhook.
type HTTPDispatcher struct {
	http *resty.Client
	url  string
}

func NewHTTPDispatcher(url, secret string, timeout time.Duration, log logger.Logger) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDispatcher{
		http: httpclient.New("dispatch", timeout, logger.WithComponent(log, "ai.dispatch")).
			SetAuthToken(secret).
			SetHeader("Content-Type", "application/json"),
		url: url,
	}
}

func (d *HTTPDispatcher) DispatchReply(ctx context.Context, clientID, conversationID, messageID string) error {
	resp, err := d.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"clientId":       clientID,
			"conversationId": conversationID,
			"messageId":      messageID,
		}).
		Post(d.url)
	if err != nil {
		return apperrors.NewDispatchFailedError(err)
	}
	if resp.IsError() {
		return apperrors.NewDispatchFailedError(fmt.Errorf("dispatch status %d: %s", resp.StatusCode(), resp.String()))
	}
	return nil
}
