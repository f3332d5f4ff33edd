// internal/api/opportunities.go
package api

import (
	"strings"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type createOpportunityRequest struct {
	ContactID       string          `json:"contactId" binding:"required,uuid"`
	PipelineID      string          `json:"pipelineId" binding:"required,uuid"`
	StageID         string          `json:"stageId"`
	AssignedUserID  *string         `json:"assignedUserId"`
	Title           string          `json:"title" binding:"required"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	ExpectedCloseAt *time.Time      `json:"expectedCloseAt"`
}

type moveOpportunityRequest struct {
	StageID string `json:"stageId" binding:"required,uuid"`
}

type opportunityEvent struct {
	Action      string              `json:"action"`
	Opportunity *models.Opportunity `json:"opportunity,omitempty"`
	ID          string              `json:"id,omitempty"`
}

func (s *Server) listOpportunities(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page := pageFromQuery(c)
	opps, err := s.deps.Store.ListOpportunities(c.Request.Context(), clientID, store.OpportunityFilter{
		PipelineID: c.Query("pipelineId"),
		StageID:    c.Query("stageId"),
		Status:     c.Query("status"),
		Page:       page,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: opps, Limit: page.Limit, Offset: page.Offset})
}

func (s *Server) getOpportunity(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	opp, err := s.deps.Store.GetOpportunity(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, opp)
}

func (s *Server) createOpportunity(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req createOpportunityRequest
	if !bind(c, &req) {
		return
	}
	if req.Amount.IsNegative() {
		respondError(c, apperrors.NewBadRequestError("amount must not be negative"))
		return
	}
	ctx := c.Request.Context()
	if req.AssignedUserID != nil {
		if err := s.requireTenantUser(ctx, clientID, *req.AssignedUserID); err != nil {
			respondError(c, err)
			return
		}
	}
	opp, err := s.deps.Store.CreateOpportunity(ctx, models.Opportunity{
		ClientID:        clientID,
		ContactID:       req.ContactID,
		PipelineID:      req.PipelineID,
		StageID:         req.StageID,
		AssignedUserID:  req.AssignedUserID,
		Title:           strings.TrimSpace(req.Title),
		Amount:          req.Amount,
		Currency:        strings.ToUpper(req.Currency),
		ExpectedCloseAt: req.ExpectedCloseAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	s.publish(ctx, realtime.ClientOpportunitiesChannel(clientID), realtime.EventOpportunityUpdated,
		opportunityEvent{Action: "created", Opportunity: opp})
	respondCreated(c, opp)
}

func (s *Server) updateOpportunity(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var patch store.OpportunityPatch
	if !bind(c, &patch) {
		return
	}
	if patch.Status != nil && !models.IsOpportunityStatus(*patch.Status) {
		respondError(c, apperrors.NewBadRequestError("unknown opportunity status "+*patch.Status))
		return
	}
	if patch.Amount != nil && patch.Amount.IsNegative() {
		respondError(c, apperrors.NewBadRequestError("amount must not be negative"))
		return
	}
	ctx := c.Request.Context()
	if patch.AssignedUserID != nil {
		if err := s.requireTenantUser(ctx, clientID, *patch.AssignedUserID); err != nil {
			respondError(c, err)
			return
		}
	}
	opp, err := s.deps.Store.UpdateOpportunity(ctx, clientID, c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	s.publish(ctx, realtime.ClientOpportunitiesChannel(clientID), realtime.EventOpportunityUpdated,
		opportunityEvent{Action: "updated", Opportunity: opp})
	respondOK(c, opp)
}

func (s *Server) moveOpportunity(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req moveOpportunityRequest
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	opp, err := s.deps.Store.MoveOpportunity(ctx, clientID, c.Param("id"), req.StageID)
	if err != nil {
		respondError(c, err)
		return
	}
	s.publish(ctx, realtime.ClientOpportunitiesChannel(clientID), realtime.EventOpportunityUpdated,
		opportunityEvent{Action: "moved", Opportunity: opp})
	respondOK(c, opp)
}

func (s *Server) deleteOpportunity(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := s.deps.Store.DeleteOpportunity(ctx, clientID, id); err != nil {
		respondError(c, err)
		return
	}
	s.publish(ctx, realtime.ClientOpportunitiesChannel(clientID), realtime.EventOpportunityUpdated,
		opportunityEvent{Action: "deleted", ID: id})
	respondNoContent(c)
}
