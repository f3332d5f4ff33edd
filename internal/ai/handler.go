// internal/ai/handler.go
package ai

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var conversationSchema = validation.MustCompile("ai_conversation", `{
	"type": "object",
	"required": ["clientId", "conversationId", "messageId", "content"],
	"properties": {
		"clientId":          {"type": "string", "format": "uuid"},
		"conversationId":    {"type": "string", "format": "uuid"},
		"messageId":         {"type": "string", "format": "uuid"},
		"content":           {"type": "string", "minLength": 1, "maxLength": 8000},
		"responseMessageId": {"type": "string", "format": "uuid"}
	}
}`)

// Handler serves POST /api/ai/conversation.
type Handler struct {
	orchestrator *Orchestrator
	secret       []byte
	origins      map[string]struct{}
	logger       logger.Logger
}

func NewHandler(orchestrator *Orchestrator, webhookSecret string, allowedOrigins []string, log logger.Logger) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Handler{
		orchestrator: orchestrator,
		secret:       []byte(webhookSecret),
		origins:      origins,
		logger:       logger.WithComponent(log, "ai.handler"),
	}
}

func (h *Handler) Handle(c *gin.Context) {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if !h.authorized(c.GetHeader("Authorization")) {
		h.fail(c, requestID, apperrors.NewUnauthorizedError("invalid webhook secret"))
		return
	}
	if origin := c.GetHeader("Origin"); origin != "" && len(h.origins) > 0 {
		if _, ok := h.origins[origin]; !ok {
			h.fail(c, requestID, apperrors.NewForbiddenError("origin not allowed: "+origin))
			return
		}
	}

	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, requestID, apperrors.NewBadRequestError("unreadable body"))
		return
	}
	if res := conversationSchema.ValidateBytes(body); !res.Valid {
		h.fail(c, requestID, apperrors.NewValidationFailedError(res.Summary()))
		return
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		h.fail(c, requestID, apperrors.NewBadRequestError(err.Error()))
		return
	}
	req.RequestID = requestID

	resp, err := h.orchestrator.Run(c.Request.Context(), req)
	if err != nil {
		h.fail(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) authorized(header string) bool {
	if len(h.secret) == 0 || !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, "Bearer ")), h.secret) == 1
}

func (h *Handler) fail(c *gin.Context, requestID string, err error) {
	stdErr := apperrors.From(err)
	status := apperrors.HTTPStatus(stdErr.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("AI conversation request failed", map[string]interface{}{
			"requestId": requestID,
			"code":      string(stdErr.Code),
			"error":     stdErr.Details,
		})
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": stdErr, "requestId": requestID})
}
