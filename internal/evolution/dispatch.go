// internal/evolution/dispatch.go
package evolution

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/validation"

	"github.com/gin-gonic/gin"
)

var dispatchSchema = validation.MustCompile("evolution_dispatch", `{
	"type": "object",
	"required": ["clientId", "messageId"],
	"properties": {
		"clientId":       {"type": "string", "format": "uuid"},
		"messageId":      {"type": "string", "format": "uuid"},
		"conversationId": {"type": "string"}
	}
}`)

// DispatchRequest is the body of the dispatch hop.
type DispatchRequest struct {
	ClientID       string `json:"clientId"`
	ConversationID string `json:"conversationId,omitempty"`
	MessageID      string `json:"messageId"`
}

// DispatchHandler serves POST /api/webhook/evolution/dispatch.
type DispatchHandler struct {
	dispatcher *Dispatcher
	secret     []byte
}

func NewDispatchHandler(dispatcher *Dispatcher, secret string) *DispatchHandler {
	return &DispatchHandler{dispatcher: dispatcher, secret: []byte(secret)}
}

func (h *DispatchHandler) Handle(c *gin.Context) {
	if !bearerMatches(c.GetHeader("Authorization"), h.secret) {
		metrics.WebhookEvents.WithLabelValues("dispatch", OutcomeRejected).Inc()
		abort(c, apperrors.NewUnauthorizedError("invalid dispatch secret"))
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		abort(c, apperrors.NewBadRequestError("unreadable body"))
		return
	}
	if res := dispatchSchema.ValidateBytes(body); !res.Valid {
		abort(c, apperrors.NewValidationFailedError(res.Summary()))
		return
	}
	var req DispatchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		abort(c, apperrors.NewBadRequestError(err.Error()))
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), req.ClientID, req.MessageID)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("dispatch", OutcomeFailed).Inc()
		abort(c, err)
		return
	}
	metrics.WebhookEvents.WithLabelValues("dispatch", OutcomeProcessed).Inc()
	c.JSON(http.StatusOK, result)
}

func abort(c *gin.Context, err error) {
	stdErr := apperrors.From(err)
	c.AbortWithStatusJSON(apperrors.HTTPStatus(stdErr.Code), gin.H{"error": stdErr})
}

// bearerMatches compares an Authorization header against secret in constant time.
// An empty secret never matches.
func bearerMatches(header string, secret []byte) bool {
	if len(secret) == 0 || !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	token := []byte(strings.TrimPrefix(header, "Bearer "))
	return subtle.ConstantTimeCompare(token, secret) == 1
}
