// internal/api/agents.go
package api

import (
	"strings"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/gin-gonic/gin"
)

// Agent defaults
const (
	defaultTemperature  = 0.7
	defaultMaxTokens    = 500
	defaultHistoryLimit = 20
	maxTemperature      = 2
)

type createAgentRequest struct {
	Name         string   `json:"name" binding:"required"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"systemPrompt"`
	Temperature  *float32 `json:"temperature"`
	MaxTokens    int      `json:"maxTokens" binding:"gte=0"`
	HistoryLimit int      `json:"historyLimit" binding:"gte=0"`
	Active       *bool    `json:"active"`
}

type agentFromTemplateRequest struct {
	TemplateID string `json:"templateId" binding:"required,uuid"`
	Name       string `json:"name"`
}

func (s *Server) listAgents(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	agents, err := s.deps.Store.ListAgents(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: agents})
}

func (s *Server) getAgent(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	agent, err := s.deps.Store.GetAgent(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, agent)
}

func (s *Server) createAgent(c *gin.Context) {
	clientID, err := managedTenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req createAgentRequest
	if !bind(c, &req) {
		return
	}
	agent := models.Agent{
		ClientID:     clientID,
		Name:         strings.TrimSpace(req.Name),
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Temperature:  defaultTemperature,
		MaxTokens:    req.MaxTokens,
		HistoryLimit: req.HistoryLimit,
		Active:       true,
	}
	if req.Temperature != nil {
		agent.Temperature = *req.Temperature
	}
	if req.Active != nil {
		agent.Active = *req.Active
	}
	s.insertAgent(c, agent)
}

func (s *Server) createAgentFromTemplate(c *gin.Context) {
	clientID, err := managedTenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req agentFromTemplateRequest
	if !bind(c, &req) {
		return
	}
	tpl, err := s.deps.Store.GetTemplate(c.Request.Context(), req.TemplateID)
	if err != nil {
		respondError(c, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = tpl.Name
	}
	templateID := tpl.ID
	s.insertAgent(c, models.Agent{
		ClientID:     clientID,
		TemplateID:   &templateID,
		Name:         name,
		Model:        tpl.Model,
		SystemPrompt: tpl.SystemPrompt,
		Temperature:  tpl.Temperature,
		MaxTokens:    tpl.MaxTokens,
		Active:       true,
	})
}

// insertAgent applies defaults, validates and enforces the agent limit.
func (s *Server) insertAgent(c *gin.Context, agent models.Agent) {
	if agent.Model == "" {
		agent.Model = s.deps.DefaultModel
	}
	if agent.MaxTokens == 0 {
		agent.MaxTokens = defaultMaxTokens
	}
	if agent.HistoryLimit == 0 {
		agent.HistoryLimit = defaultHistoryLimit
	}
	if agent.Temperature < 0 || agent.Temperature > maxTemperature {
		respondError(c, apperrors.NewBadRequestError("temperature must be between 0 and 2"))
		return
	}

	ctx := c.Request.Context()
	if err := s.deps.Plans.Check(ctx, agent.ClientID, plans.ResourceAgents); err != nil {
		respondError(c, err)
		return
	}
	created, err := s.deps.Store.CreateAgent(ctx, agent)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, created)
}

func (s *Server) updateAgent(c *gin.Context) {
	clientID, err := managedTenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var patch store.AgentPatch
	if !bind(c, &patch) {
		return
	}
	if patch.Temperature != nil && (*patch.Temperature < 0 || *patch.Temperature > maxTemperature) {
		respondError(c, apperrors.NewBadRequestError("temperature must be between 0 and 2"))
		return
	}
	agent, err := s.deps.Store.UpdateAgent(c.Request.Context(), clientID, c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, agent)
}

func (s *Server) deleteAgent(c *gin.Context) {
	clientID, err := managedTenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.deps.Store.DeleteAgent(c.Request.Context(), clientID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}

func (s *Server) listTemplates(c *gin.Context) {
	templates, err := s.deps.Store.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: templates})
}
