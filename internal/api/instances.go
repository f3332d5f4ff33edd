// internal/api/instances.go
package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/evolution"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var instanceNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,38}[a-z0-9]$`)

type createInstanceRequest struct {
	Name  string  `json:"name" binding:"required"`
	Phone *string `json:"phone"`
}

type createInstanceResponse struct {
	Instance *models.Instance           `json:"instance"`
	Gateway  *evolution.CreatedInstance `json:"gateway"`
}

func (s *Server) listInstances(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	instances, err := s.deps.Store.ListInstances(c.Request.Context(), clientID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, listResponse{Data: instances})
}

// createInstance stores the instance, then provisions it on the gateway.
// The row is removed again when provisioning fails.
func (s *Server) createInstance(c *gin.Context) {
	clientID, err := managedTenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if s.deps.Provisioner == nil {
		respondError(c, apperrors.NewBadRequestError("WhatsApp gateway is not configured"))
		return
	}
	var req createInstanceRequest
	if !bind(c, &req) {
		return
	}
	base := strings.ToLower(strings.TrimSpace(req.Name))
	if !instanceNamePattern.MatchString(base) {
		respondError(c, apperrors.NewBadRequestError("name must be 3-40 lowercase letters, digits or dashes"))
		return
	}

	ctx := c.Request.Context()
	if err := s.deps.Plans.Check(ctx, clientID, plans.ResourceInstances); err != nil {
		respondError(c, err)
		return
	}

	key, err := webhookKey()
	if err != nil {
		respondError(c, apperrors.NewInternalError(err))
		return
	}
	instance, err := s.deps.Store.CreateInstance(ctx, models.Instance{
		ClientID:      clientID,
		Name:          fmt.Sprintf("%s-%s", base, strings.Split(uuid.NewString(), "-")[0]),
		Phone:         req.Phone,
		WebhookAPIKey: key,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	created, err := s.deps.Provisioner.CreateInstance(ctx, instance.Name, key)
	if err != nil {
		if delErr := s.deps.Store.DeleteInstance(ctx, clientID, instance.ID); delErr != nil {
			s.log.Error("Failed to roll back instance", map[string]interface{}{
				"instance": instance.Name,
				"error":    delErr.Error(),
			})
		}
		respondError(c, err)
		return
	}
	s.deps.Plans.Invalidate(ctx, clientID)
	s.log.Info("Provisioned WhatsApp instance", map[string]interface{}{"clientId": clientID, "instance": instance.Name})
	respondCreated(c, createInstanceResponse{Instance: instance, Gateway: created})
}

func (s *Server) instanceState(c *gin.Context) {
	clientID, err := tenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if s.deps.Provisioner == nil {
		respondError(c, apperrors.NewBadRequestError("WhatsApp gateway is not configured"))
		return
	}
	ctx := c.Request.Context()
	instance, err := s.deps.Store.GetInstance(ctx, clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	state, err := s.deps.Provisioner.InstanceState(ctx, instance.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, state)
}

func (s *Server) deleteInstance(c *gin.Context) {
	clientID, err := managedTenantID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	ctx := c.Request.Context()
	instance, err := s.deps.Store.GetInstance(ctx, clientID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if s.deps.Provisioner != nil {
		if err := s.deps.Provisioner.DeleteInstance(ctx, instance.Name); err != nil {
			respondError(c, err)
			return
		}
	}
	if err := s.deps.Store.DeleteInstance(ctx, clientID, instance.ID); err != nil {
		respondError(c, err)
		return
	}
	if s.deps.Access != nil {
		s.deps.Access.Invalidate(instance.Name)
	}
	respondNoContent(c)
}

// webhookKey returns the random per-instance secret the gateway sends back as apikey.
func webhookKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
