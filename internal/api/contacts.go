// internal/api/contacts.go
package api

import (
	"context"
	"strconv"
	"strings"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
)

const defaultSearchSize = 20

type createContactRequest struct {
	Name   string   `json:"name" binding:"required"`
	Phone  string   `json:"phone" binding:"required"`
	Email  *string  `json:"email"`
	Status string   `json:"status"`
	Source string   `json:"source"`
	Tags   []string `json:"tags"`
	Notes  string   `json:"notes"`
}

func (s *Server) listContacts(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	page := pageFromQuery(c)
	contacts, total, err := s.deps.Store.ListContacts(c.Request.Context(), clientID, store.ContactFilter{
		Status: c.Query("status"),
		Query:  c.Query("q"),
		Page:   page,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: contacts, Total: total, Limit: page.Limit, Offset: page.Offset})
}

func (s *Server) searchContacts(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		respondError(c, apperrors.NewBadRequestError("q is required"))
		return
	}
	size, _ := strconv.Atoi(c.Query("size"))
	if size <= 0 || size > store.MaxPageSize {
		size = defaultSearchSize
	}
	contacts, err := s.deps.Search.Search(c.Request.Context(), clientID, q, size)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: contacts})
}

func (s *Server) getContact(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	contact, err := s.deps.Store.GetContact(c.Request.Context(), clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, contact)
}

func (s *Server) createContact(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var req createContactRequest
	if !bind(c, &req) {
		return
	}
	if req.Status != "" && !models.IsContactStatus(req.Status) {
		respondError(c, apperrors.NewBadRequestError("unknown contact status "+req.Status))
		return
	}

	ctx := c.Request.Context()
	if err := s.deps.Plans.Check(ctx, clientID, plans.ResourceContacts); err != nil {
		respondError(c, err)
		return
	}
	contact, err := s.deps.Store.CreateContact(ctx, models.Contact{
		ClientID: clientID,
		Name:     strings.TrimSpace(req.Name),
		Phone:    strings.TrimSpace(req.Phone),
		Email:    req.Email,
		Status:   req.Status,
		Source:   req.Source,
		Tags:     pq.StringArray(req.Tags),
		Notes:    req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	s.indexContact(ctx, *contact)
	respondCreated(c, contact)
}

func (s *Server) updateContact(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var patch store.ContactPatch
	if !bind(c, &patch) {
		return
	}
	if patch.Status != nil && !models.IsContactStatus(*patch.Status) {
		respondError(c, apperrors.NewBadRequestError("unknown contact status "+*patch.Status))
		return
	}
	ctx := c.Request.Context()
	contact, err := s.deps.Store.UpdateContact(ctx, clientID, c.Param("id"), patch)
	if err != nil {
		respondError(c, err)
		return
	}
	s.indexContact(ctx, *contact)
	respondOK(c, contact)
}

func (s *Server) deleteContact(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()
	if err := s.deps.Store.DeleteContact(ctx, clientID, id); err != nil {
		respondError(c, err)
		return
	}
	if s.deps.Index != nil {
		if err := s.deps.Index.Delete(ctx, id); err != nil {
			s.log.Warn("Failed to remove contact from index", map[string]interface{}{"contactId": id, "error": err.Error()})
		}
	}
	respondNoContent(c)
}

// indexContact keeps search in step with SQL. Index failures never fail the write.
func (s *Server) indexContact(ctx context.Context, contact models.Contact) {
	if s.deps.Index == nil {
		return
	}
	if err := s.deps.Index.Index(ctx, contact); err != nil {
		s.log.Warn("Failed to index contact", map[string]interface{}{"contactId": contact.ID, "error": err.Error()})
	}
}
