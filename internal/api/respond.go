// internal/api/respond.go
package api

import (
	"net/http"
	"strconv"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/gin-gonic/gin"
)

const (
	principalKey = "principal"
	requestIDKey = "request_id"
)

type errorBody struct {
	Code    apperrors.ErrorCode    `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Meta    map[string]interface{} `json:"metadata,omitempty"`
}

// respondError writes {"error": {...}, "requestId"} with the status of the error code.
func respondError(c *gin.Context, err error) {
	stdErr := apperrors.From(err)
	c.AbortWithStatusJSON(apperrors.HTTPStatus(stdErr.Code), gin.H{
		"error": errorBody{
			Code:    stdErr.Code,
			Message: stdErr.Message,
			Details: stdErr.Details,
			Meta:    stdErr.Metadata,
		},
		"requestId": requestID(c),
	})
	_ = c.Error(stdErr)
}

func respondOK(c *gin.Context, v interface{}) {
	c.JSON(http.StatusOK, v)
}

func respondCreated(c *gin.Context, v interface{}) {
	c.JSON(http.StatusCreated, v)
}

func respondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// bind decodes the JSON body into v and reports a BAD_REQUEST on failure.
func bind(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		respondError(c, apperrors.NewBadRequestError(err.Error()))
		return false
	}
	return true
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func principal(c *gin.Context) auth.Principal {
	if p, ok := c.Get(principalKey); ok {
		if pr, ok := p.(auth.Principal); ok {
			return pr
		}
	}
	return auth.Principal{}
}

// tenantID resolves the client a request acts on. Superadmins name it with
// ?clientId; everyone else is pinned to their own client.
func tenantID(c *gin.Context) (string, error) {
	p := principal(c)
	requested := c.Query("clientId")
	if p.IsSuperAdmin() {
		if requested == "" {
			return "", apperrors.NewBadRequestError("clientId query parameter is required for superadmin requests")
		}
		return requested, nil
	}
	if requested != "" && requested != p.ClientID {
		return "", apperrors.NewForbiddenError("cannot access another client")
	}
	if p.ClientID == "" {
		return "", apperrors.NewForbiddenError("user is not bound to a client")
	}
	return p.ClientID, nil
}

// managedTenantID is tenantID restricted to ADMIN and SUPERADMIN callers.
func managedTenantID(c *gin.Context) (string, error) {
	clientID, err := tenantID(c)
	if err != nil {
		return "", err
	}
	if !principal(c).CanManageClient(clientID) {
		return "", apperrors.NewForbiddenError("client administrator role required")
	}
	return clientID, nil
}

func pageFromQuery(c *gin.Context) store.Page {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return store.Page{Limit: limit, Offset: offset}.Normalize()
}

type listResponse struct {
	Data   interface{} `json:"data"`
	Total  int         `json:"total,omitempty"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}
