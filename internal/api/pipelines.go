// internal/api/pipelines.go
package api

import (
	"strings"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/gin-gonic/gin"
)

type createPipelineRequest struct {
	Name      string   `json:"name" binding:"required"`
	IsDefault bool     `json:"isDefault"`
	Stages    []string `json:"stages"`
}

type addStageRequest struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color"`
}

type reorderStagesRequest struct {
	StageIDs []string `json:"stageIds" binding:"required,min=1,dive,uuid"`
}

func (s *Server) listPipelines(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	pipelines, err := s.deps.Store.ListPipelines(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: pipelines})
}

func (s *Server) getPipeline(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	p, err := s.deps.Store.GetPipeline(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, p)
}

func (s *Server) createPipeline(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req createPipelineRequest
	if !bind(c, &req) {
		return
	}
	stages := make([]string, 0, len(req.Stages))
	for _, st := range req.Stages {
		if st = strings.TrimSpace(st); st != "" {
			stages = append(stages, st)
		}
	}
	p, err := s.deps.Store.CreatePipeline(c.Request.Context(), clientID, strings.TrimSpace(req.Name), req.IsDefault, stages)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, p)
}

func (s *Server) updatePipeline(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var patch store.PipelinePatch
	if !bind(c, &patch) {
		return
	}
	p, err := s.deps.Store.UpdatePipeline(c.Request.Context(), clientID, c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, p)
}

func (s *Server) deletePipeline(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.deps.Store.DeletePipeline(c.Request.Context(), clientID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}

func (s *Server) addStage(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req addStageRequest
	if !bind(c, &req) {
		return
	}
	st, err := s.deps.Store.AddStage(c.Request.Context(), clientID, c.Param("id"), strings.TrimSpace(req.Name), req.Color)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, st)
}

func (s *Server) reorderStages(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req reorderStagesRequest
	if !bind(c, &req) {
		return
	}
	p, err := s.deps.Store.ReorderStages(c.Request.Context(), clientID, c.Param("id"), req.StageIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, p)
}

func (s *Server) deleteStage(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.deps.Store.DeleteStage(c.Request.Context(), clientID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondNoContent(c)
}
