// internal/api/admin.go
package api

import (
	"context"
	"regexp"
	"strings"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/gin-gonic/gin"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// ==========================
// Clients
// ==========================

type createClientRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug"`
	Plan string `json:"plan"`
}

type setAIKeyRequest struct {
	APIKey string `json:"apiKey" binding:"required"`
}

func slugify(s string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

func (s *Server) listClients(c *gin.Context) {
	clients, err := s.deps.Store.ListClients(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: clients})
}

func (s *Server) getClient(c *gin.Context) {
	client, err := s.deps.Store.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, client)
}

func (s *Server) createClient(c *gin.Context) {
	var req createClientRequest
	if !bind(c, &req) {
		return
	}
	plan := strings.ToUpper(req.Plan)
	if plan == "" {
		plan = models.PlanFree
	}
	if !models.IsPlan(plan) {
		respondError(c, apperrors.NewBadRequestError("unknown plan "+req.Plan))
		return
	}
	slug := slugify(req.Slug)
	if slug == "" {
		slug = slugify(req.Name)
	}
	if slug == "" {
		respondError(c, apperrors.NewBadRequestError("slug is empty"))
		return
	}
	client, err := s.deps.Store.CreateClient(c.Request.Context(), strings.TrimSpace(req.Name), slug, plan)
	if err != nil {
		respondError(c, err)
		return
	}
	s.log.Info("Client created", map[string]interface{}{"clientId": client.ID, "plan": plan})
	respondCreated(c, client)
}

func (s *Server) updateClient(c *gin.Context) {
	var patch store.ClientPatch
	if !bind(c, &patch) {
		return
	}
	if patch.Plan != nil {
		plan := strings.ToUpper(*patch.Plan)
		if !models.IsPlan(plan) {
			respondError(c, apperrors.NewBadRequestError("unknown plan "+*patch.Plan))
			return
		}
		patch.Plan = &plan
	}
	if patch.Status != nil && *patch.Status != models.ClientStatusActive && *patch.Status != models.ClientStatusSuspended {
		respondError(c, apperrors.NewBadRequestError("unknown client status "+*patch.Status))
		return
	}
	ctx := c.Request.Context()
	client, err := s.deps.Store.UpdateClient(ctx, c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	if patch.Plan != nil {
		s.deps.Plans.Invalidate(ctx, client.ID)
	}
	if patch.Status != nil {
		s.invalidateInstanceAccess(ctx, client.ID)
	}
	respondOK(c, client)
}

func (s *Server) deleteClient(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	s.invalidateInstanceAccess(ctx, id)
	if err := s.deps.Store.DeleteClient(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	s.deps.Plans.Invalidate(ctx, id)
	respondNoContent(c)
}

// invalidateInstanceAccess drops the cached webhook decisions of every
// instance the client owns.
func (s *Server) invalidateInstanceAccess(ctx context.Context, clientID string) {
	if s.deps.Access == nil {
		return
	}
	instances, err := s.deps.Store.ListInstances(ctx, clientID)
	if err != nil {
		s.log.Warn("Failed to list instances for access cache invalidation", map[string]interface{}{
			"clientId": clientID,
			"error":    err.Error(),
		})
		return
	}
	for _, in := range instances {
		s.deps.Access.Invalidate(in.Name)
	}
}

// setClientAIKey stores the tenant's LLM key encrypted at rest.
func (s *Server) setClientAIKey(c *gin.Context) {
	var req setAIKeyRequest
	if !bind(c, &req) {
		return
	}
	sealed, err := s.deps.Encryptor.Encrypt(strings.TrimSpace(req.APIKey))
	if err != nil {
		respondError(c, apperrors.NewInternalError(err))
		return
	}
	if err := s.deps.Store.SetClientAIKey(c.Request.Context(), c.Param("id"), sealed); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}

func (s *Server) clientUsage(c *gin.Context) {
	status, err := s.deps.Plans.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, status)
}

// ==========================
// Users
// ==========================

type createUserRequest struct {
	ClientID    *string `json:"clientId"`
	Email       string  `json:"email" binding:"required,email"`
	Name        string  `json:"name" binding:"required"`
	Phone       *string `json:"phone"`
	Password    string  `json:"password" binding:"required"`
	Role        string  `json:"role" binding:"required"`
	NotifyEmail bool    `json:"notifyEmail"`
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.deps.Store.ListUsers(c.Request.Context(), c.Query("clientId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: users})
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if !bind(c, &req) {
		return
	}
	role := auth.Role(strings.ToUpper(req.Role))
	if !role.Valid() {
		respondError(c, apperrors.NewBadRequestError("unknown role "+req.Role))
		return
	}
	hasClient := req.ClientID != nil && *req.ClientID != ""
	switch {
	case role == auth.RoleSuperAdmin && hasClient:
		respondError(c, apperrors.NewBadRequestError("superadmins are not bound to a client"))
		return
	case role != auth.RoleSuperAdmin && !hasClient:
		respondError(c, apperrors.NewBadRequestError("clientId is required for tenant users"))
		return
	}

	ctx := c.Request.Context()
	if hasClient {
		if _, err := s.deps.Store.GetClient(ctx, *req.ClientID); err != nil {
			respondError(c, err)
			return
		}
		if err := s.deps.Plans.Check(ctx, *req.ClientID, plans.ResourceUsers); err != nil {
			respondError(c, err)
			return
		}
	} else {
		req.ClientID = nil
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondError(c, apperrors.NewBadRequestError(err.Error()))
		return
	}
	user, err := s.deps.Store.CreateUser(ctx, models.User{
		ClientID:     req.ClientID,
		Email:        strings.TrimSpace(req.Email),
		Name:         strings.TrimSpace(req.Name),
		Phone:        req.Phone,
		PasswordHash: hash,
		Role:         string(role),
		Active:       true,
		NotifyEmail:  req.NotifyEmail,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, user)
}

func (s *Server) updateUser(c *gin.Context) {
	var patch store.UserPatch
	if !bind(c, &patch) {
		return
	}
	if patch.Role != nil {
		role := auth.Role(strings.ToUpper(*patch.Role))
		if !role.Valid() || role == auth.RoleSuperAdmin {
			respondError(c, apperrors.NewBadRequestError("role must be ADMIN or USER"))
			return
		}
		r := string(role)
		patch.Role = &r
	}
	user, err := s.deps.Store.UpdateUser(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, user)
}

func (s *Server) deleteUser(c *gin.Context) {
	id := c.Param("id")
	if id == principal(c).UserID {
		respondError(c, apperrors.NewBadRequestError("cannot delete yourself"))
		return
	}
	if err := s.deps.Store.DeleteUser(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}

// ==========================
// Agent templates
// ==========================

type templateRequest struct {
	Name         string  `json:"name" binding:"required"`
	Description  string  `json:"description"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"systemPrompt" binding:"required"`
	Temperature  float32 `json:"temperature" binding:"gte=0,lte=2"`
	MaxTokens    int     `json:"maxTokens" binding:"gte=0"`
}

func (s *Server) createTemplate(c *gin.Context) {
	var req templateRequest
	if !bind(c, &req) {
		return
	}
	model := req.Model
	if model == "" {
		model = s.deps.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	tpl, err := s.deps.Store.CreateTemplate(c.Request.Context(), models.AgentTemplate{
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Model:        model,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, tpl)
}

func (s *Server) updateTemplate(c *gin.Context) {
	var patch store.TemplatePatch
	if !bind(c, &patch) {
		return
	}
	tpl, err := s.deps.Store.UpdateTemplate(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, tpl)
}

func (s *Server) deleteTemplate(c *gin.Context) {
	if err := s.deps.Store.DeleteTemplate(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}

// ==========================
// Plan limits
// ==========================

type planLimitsRequest struct {
	MaxUsers             int `json:"maxUsers" binding:"gte=0"`
	MaxContacts          int `json:"maxContacts" binding:"gte=0"`
	MaxAgents            int `json:"maxAgents" binding:"gte=0"`
	MaxInstances         int `json:"maxInstances" binding:"gte=0"`
	MaxMonthlyAIMessages int `json:"maxMonthlyAiMessages" binding:"gte=0"`
}

func (s *Server) listPlanLimits(c *gin.Context) {
	limits, err := s.deps.Store.ListPlanLimits(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: limits})
}

func (s *Server) getPlanLimits(c *gin.Context) {
	limits, err := s.deps.Store.GetPlanLimits(c.Request.Context(), strings.ToUpper(c.Param("plan")))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, limits)
}

// updatePlanLimits replaces a plan's limits and drops the cached limits of
// every client on it.
func (s *Server) updatePlanLimits(c *gin.Context) {
	plan := strings.ToUpper(c.Param("plan"))
	if !models.IsPlan(plan) {
		respondError(c, apperrors.NewBadRequestError("unknown plan "+c.Param("plan")))
		return
	}
	var req planLimitsRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	limits, err := s.deps.Store.UpdatePlanLimits(ctx, models.PlanLimits{
		Plan:                 plan,
		MaxUsers:             req.MaxUsers,
		MaxContacts:          req.MaxContacts,
		MaxAgents:            req.MaxAgents,
		MaxInstances:         req.MaxInstances,
		MaxMonthlyAIMessages: req.MaxMonthlyAIMessages,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	ids, err := s.deps.Store.ClientIDsOnPlan(ctx, plan)
	if err != nil {
		s.log.Warn("Failed to list clients for plan cache invalidation", map[string]interface{}{"plan": plan, "error": err.Error()})
	} else {
		s.deps.Plans.Invalidate(ctx, ids...)
	}
	respondOK(c, limits)
}
