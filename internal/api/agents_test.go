// internal/api/agents_test.go
package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTemplateID = "5c6d7e8f-9a0b-4c1d-8e2f-3a4b5c6d7e8f"
	testAgentID    = "6d7e8f9a-0b1c-4d2e-9f3a-4b5c6d7e8f9a"
	templatePrompt = "Sos el asistente comercial de la empresa. Respondé breve y en español."
)

var (
	templateColumns = []string{"id", "name", "description", "model", "system_prompt", "temperature", "max_tokens", "created_at", "updated_at"}
	agentColumns    = []string{
		"id", "client_id", "template_id", "name", "model", "system_prompt", "temperature",
		"max_tokens", "history_limit", "active", "created_at", "updated_at",
	}
)

func templateRows() *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(templateColumns).
		AddRow(testTemplateID, "Ventas", "Calificá leads entrantes", "gpt-4o", templatePrompt, 0.5, 400, now, now)
}

func agentRows(name string) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(agentColumns).
		AddRow(testAgentID, testClientID, testTemplateID, name, "gpt-4o", templatePrompt, 0.5, 400, 20, true, now, now)
}

func TestAgents_CreateFromTemplate(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]string
		wantName string
	}{
		{name: "template name", body: map[string]string{"templateId": testTemplateID}, wantName: "Ventas"},
		{name: "custom name", body: map[string]string{"templateId": testTemplateID, "name": " Ventas Norte "}, wantName: "Ventas Norte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.mock.ExpectQuery(`SELECT \* FROM agent_templates WHERE id = \$1`).
				WithArgs(testTemplateID).
				WillReturnRows(templateRows())
			ts.mock.ExpectQuery(`INSERT INTO agents`).
				WithArgs(testClientID, testTemplateID, tt.wantName, "gpt-4o", templatePrompt, 0.5, 400, defaultHistoryLimit, true).
				WillReturnRows(agentRows(tt.wantName))

			w := ts.do(t, http.MethodPost, "/api/v1/agents/from-template", ts.token(t, auth.RoleAdmin, testClientID), tt.body)

			require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
			var agent models.Agent
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &agent))
			assert.Equal(t, tt.wantName, agent.Name)
			require.NotNil(t, agent.TemplateID)
			assert.Equal(t, testTemplateID, *agent.TemplateID)
			assert.Equal(t, []plans.Resource{plans.ResourceAgents}, ts.plans.checked)
			assert.NoError(t, ts.mock.ExpectationsWereMet())
		})
	}
}

func TestAgents_CreateFromTemplateAtPlanLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.plans.err = apperrors.NewPlanLimitExceededError("agents", 1, 1)
	ts.mock.ExpectQuery(`SELECT \* FROM agent_templates WHERE id = \$1`).
		WithArgs(testTemplateID).
		WillReturnRows(templateRows())

	w := ts.do(t, http.MethodPost, "/api/v1/agents/from-template", ts.token(t, auth.RoleAdmin, testClientID),
		map[string]string{"templateId": testTemplateID})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(apperrors.ErrCodePlanLimitExceeded), errorCode(t, w))
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestAgents_CreateFromUnknownTemplate(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`SELECT \* FROM agent_templates WHERE id = \$1`).
		WithArgs(testTemplateID).
		WillReturnRows(sqlmock.NewRows(templateColumns))

	w := ts.do(t, http.MethodPost, "/api/v1/agents/from-template", ts.token(t, auth.RoleAdmin, testClientID),
		map[string]string{"templateId": testTemplateID})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, ts.plans.checked)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestAgents_CreateFromTemplateRequiresClientAdmin(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/agents/from-template", ts.token(t, auth.RoleUser, testClientID),
		map[string]string{"templateId": testTemplateID})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}
