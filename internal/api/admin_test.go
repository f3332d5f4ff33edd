// internal/api/admin_test.go
package api

import (
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

func TestAdmin_UpdatePlanLimitsInvalidatesClients(t *testing.T) {
	ts := newTestServer(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ts.mock.ExpectQuery(`UPDATE plan_limits SET`).
		WithArgs(models.PlanPro, 10, 5000, 5, 3, 20000).
		WillReturnRows(sqlmock.NewRows([]string{"plan", "max_users", "max_contacts", "max_agents", "max_instances", "max_monthly_ai_messages", "updated_at"}).
			AddRow(models.PlanPro, 10, 5000, 5, 3, 20000, now))
	ts.mock.ExpectQuery(`SELECT id FROM clients WHERE plan = \$1`).
		WithArgs(models.PlanPro).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testClientID).AddRow(otherClient))

	w := ts.do(t, http.MethodPut, "/api/v1/admin/plan-limits/pro", ts.token(t, auth.RoleSuperAdmin, ""),
		map[string]int{"maxUsers": 10, "maxContacts": 5000, "maxAgents": 5, "maxInstances": 3, "maxMonthlyAiMessages": 20000})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{testClientID, otherClient}, ts.plans.invalidated)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestAdmin_UpdatePlanLimitsUnknownPlan(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPut, "/api/v1/admin/plan-limits/gold", ts.token(t, auth.RoleSuperAdmin, ""),
		map[string]int{"maxUsers": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdmin_CreateUser(t *testing.T) {
	client := testClientID
	tests := []struct {
		name       string
		body       map[string]interface{}
		setup      func(ts *testServer)
		wantStatus int
		wantCheck  bool
	}{
		{
			name:       "superadmin bound to client",
			body:       map[string]interface{}{"clientId": client, "email": "root@aurelia.io", "name": "Root", "password": "longenough", "role": "SUPERADMIN"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "tenant user without client",
			body:       map[string]interface{}{"email": "ana@acme.io", "name": "Ana", "password": "longenough", "role": "USER"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown role",
			body:       map[string]interface{}{"clientId": client, "email": "ana@acme.io", "name": "Ana", "password": "longenough", "role": "OWNER"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "plan limit",
			body: map[string]interface{}{"clientId": client, "email": "ana@acme.io", "name": "Ana", "password": "longenough", "role": "user"},
			setup: func(ts *testServer) {
				ts.mock.ExpectQuery(`SELECT \* FROM clients WHERE id = \$1`).WillReturnRows(clientRows(client, models.ClientStatusActive))
				ts.plans.err = apperrors.NewPlanLimitExceededError("users", 3, 3)
			},
			wantStatus: http.StatusTooManyRequests,
			wantCheck:  true,
		},
		{
			name: "short password",
			body: map[string]interface{}{"clientId": client, "email": "ana@acme.io", "name": "Ana", "password": "short", "role": "USER"},
			setup: func(ts *testServer) {
				ts.mock.ExpectQuery(`SELECT \* FROM clients WHERE id = \$1`).WillReturnRows(clientRows(client, models.ClientStatusActive))
			},
			wantStatus: http.StatusBadRequest,
			wantCheck:  true,
		},
		{
			name: "created",
			body: map[string]interface{}{"clientId": client, "email": "ana@acme.io", "name": "Ana", "password": "longenough", "role": "admin"},
			setup: func(ts *testServer) {
				ts.mock.ExpectQuery(`SELECT \* FROM clients WHERE id = \$1`).WillReturnRows(clientRows(client, models.ClientStatusActive))
				ts.mock.ExpectQuery(`INSERT INTO users`).
					WithArgs(client, "ana@acme.io", "Ana", nil, sqlmock.AnyArg(), "ADMIN", true, false).
					WillReturnRows(userRows(assigneeID, client, "ADMIN", "hash", true))
			},
			wantStatus: http.StatusCreated,
			wantCheck:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			if tt.setup != nil {
				tt.setup(ts)
			}
			w := ts.do(t, http.MethodPost, "/api/v1/admin/users", ts.token(t, auth.RoleSuperAdmin, ""), tt.body)

			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantCheck {
				assert.Equal(t, []plans.Resource{plans.ResourceUsers}, ts.plans.checked)
			} else {
				assert.Empty(t, ts.plans.checked)
			}
			assert.NotContains(t, w.Body.String(), "hash")
			assert.NoError(t, ts.mock.ExpectationsWereMet())
		})
	}
}

func TestAdmin_SetClientAIKeyEncrypts(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectExec(`UPDATE clients SET ai_api_key_encrypted = \$2`).
		WithArgs(testClientID, "enc:v1:sk-live-123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := ts.do(t, http.MethodPut, "/api/v1/admin/clients/"+testClientID+"/ai-key", ts.token(t, auth.RoleSuperAdmin, ""),
		map[string]string{"apiKey": " sk-live-123 "})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestAdmin_UpdateClientPlanInvalidates(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`UPDATE clients SET`).
		WithArgs(testClientID, nil, models.PlanEnterprise, nil).
		WillReturnRows(clientRows(testClientID, models.ClientStatusActive))

	w := ts.do(t, http.MethodPatch, "/api/v1/admin/clients/"+testClientID, ts.token(t, auth.RoleSuperAdmin, ""),
		map[string]string{"plan": "enterprise"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{testClientID}, ts.plans.invalidated)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestAdmin_UpdateClientStatusInvalidatesInstanceAccess(t *testing.T) {
	ts := newTestServer(t)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ts.mock.ExpectQuery(`UPDATE clients SET`).
		WithArgs(testClientID, nil, nil, models.ClientStatusSuspended).
		WillReturnRows(clientRows(testClientID, models.ClientStatusSuspended))
	ts.mock.ExpectQuery(`SELECT \* FROM evolution_instances WHERE client_id = \$1`).
		WithArgs(testClientID).
		WillReturnRows(sqlmock.NewRows(instanceColumns).
			AddRow(testInstanceID, testClientID, "acme-ventas", nil, models.InstanceOpen, true, "k", now, now).
			AddRow("7e6d5c4b-3a29-4810-9f8e-7d6c5b4a3928", testClientID, "acme-soporte", nil, models.InstanceOpen, true, "k2", now, now))

	w := ts.do(t, http.MethodPatch, "/api/v1/admin/clients/"+testClientID, ts.token(t, auth.RoleSuperAdmin, ""),
		map[string]string{"status": models.ClientStatusSuspended})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"acme-ventas", "acme-soporte"}, ts.access.invalidated)
	assert.Empty(t, ts.plans.invalidated)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestAdmin_CreateClientDerivesSlug(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectBegin()
	ts.mock.ExpectQuery(`INSERT INTO clients`).
		WithArgs("Acme S.A.", "acme-s-a", models.PlanFree).
		WillReturnRows(clientRows(testClientID, models.ClientStatusActive))
	ts.mock.ExpectExec(`INSERT INTO client_usage`).WillReturnResult(sqlmock.NewResult(0, 1))
	ts.mock.ExpectExec(`UPDATE pipelines SET is_default = FALSE`).WillReturnResult(sqlmock.NewResult(0, 0))
	ts.mock.ExpectQuery(`INSERT INTO pipelines`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "name", "is_default"}).AddRow("p-1", testClientID, "Sales", true))
	for range models.DefaultStages {
		ts.mock.ExpectQuery(`INSERT INTO pipeline_stages`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "pipeline_id"}).AddRow("s", "p-1"))
	}
	ts.mock.ExpectCommit()

	w := ts.do(t, http.MethodPost, "/api/v1/admin/clients", ts.token(t, auth.RoleSuperAdmin, ""),
		map[string]string{"name": "Acme S.A."})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestAdmin_CannotDeleteSelf(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodDelete, "/api/v1/admin/users/"+testUserID, ts.token(t, auth.RoleSuperAdmin, ""), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
