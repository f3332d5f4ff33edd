// internal/api/playground.go
package api

import (
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"

	"github.com/gin-gonic/gin"
)

type createPlaygroundRequest struct {
	AgentID string `json:"agentId" binding:"required,uuid"`
}

type playgroundMessageRequest struct {
	Content string `json:"content" binding:"required,max=8000"`
}

func (s *Server) createPlaygroundSession(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req createPlaygroundRequest
	if !bind(c, &req) {
		return
	}
	session, err := s.deps.Store.CreatePlaygroundSession(c.Request.Context(), clientID, req.AgentID, principal(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, session)
}

func (s *Server) getPlaygroundSession(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	session, err := s.deps.Store.GetPlaygroundSession(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, session)
}

func (s *Server) deletePlaygroundSession(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.deps.Store.DeletePlaygroundSession(c.Request.Context(), clientID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}

func (s *Server) sendPlaygroundMessage(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if s.deps.Playground == nil {
		respondError(c, apperrors.NewBadRequestError("playground is not configured"))
		return
	}
	var req playgroundMessageRequest
	if !bind(c, &req) {
		return
	}
	reply, err := s.deps.Playground.Send(c.Request.Context(), clientID, c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, reply)
}
