// internal/api/auth.go
package api

import (
	"strings"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      models.User `json:"user"`
}

// login exchanges email and password for an API token. Every failure reads
// the same so callers cannot probe for accounts.
func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	invalid := apperrors.NewUnauthorizedError("invalid email or password")

	user, err := s.deps.Store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeNotFound) {
			respondError(c, invalid)
			return
		}
		respondError(c, err)
		return
	}
	if !user.Active || !auth.CheckPassword(user.PasswordHash, req.Password) {
		respondError(c, invalid)
		return
	}

	p := auth.Principal{UserID: user.ID, Role: auth.Role(user.Role), Email: user.Email}
	if user.ClientID != nil {
		p.ClientID = *user.ClientID
		client, err := s.deps.Store.GetClient(ctx, p.ClientID)
		if err != nil {
			respondError(c, err)
			return
		}
		if client.Status != models.ClientStatusActive {
			respondError(c, apperrors.NewForbiddenError("client is suspended"))
			return
		}
	}

	token, exp, err := s.deps.Tokens.Issue(p)
	if err != nil {
		respondError(c, apperrors.NewInternalError(err))
		return
	}
	s.log.Info("User logged in", map[string]interface{}{"userId": user.ID, "clientId": p.ClientID})
	respondOK(c, loginResponse{Token: token, ExpiresAt: exp, User: *user})
}

type meResponse struct {
	User   models.User    `json:"user"`
	Client *models.Client `json:"client,omitempty"`
}

func (s *Server) me(c *gin.Context) {
	ctx := c.Request.Context()
	user, err := s.deps.Store.GetUser(ctx, principal(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := meResponse{User: *user}
	if user.ClientID != nil {
		client, err := s.deps.Store.GetClient(ctx, *user.ClientID)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Client = client
	}
	respondOK(c, resp)
}

func (s *Server) tenantUsage(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	status, err := s.deps.Plans.Status(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, status)
}
