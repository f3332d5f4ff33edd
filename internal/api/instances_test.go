// internal/api/instances_test.go
package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInstanceID = "1d2c3b4a-5e6f-4a7b-8c9d-0e1f2a3b4c5d"

var instanceColumns = []string{"id", "client_id", "name", "phone", "status", "active", "webhook_api_key", "created_at", "updated_at"}

func instanceRows(name string) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(instanceColumns).AddRow(testInstanceID, testClientID, name, nil, models.InstanceCreated, true, "k", now, now)
}

func TestInstances_Create(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`INSERT INTO evolution_instances`).
		WithArgs(testClientID, sqlmock.AnyArg(), nil, models.InstanceCreated, sqlmock.AnyArg()).
		WillReturnRows(instanceRows("ventas-1a2b3c4d"))

	w := ts.do(t, http.MethodPost, "/api/v1/instances", ts.token(t, auth.RoleAdmin, testClientID),
		map[string]string{"name": "Ventas"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, ts.provisioner.created, 1)
	assert.Equal(t, "ventas-1a2b3c4d", ts.provisioner.created[0])
	assert.Equal(t, []string{testClientID}, ts.plans.invalidated)
	assert.NotContains(t, w.Body.String(), "webhook_api_key")
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestInstances_CreateRollsBackOnGatewayFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.provisioner.createErr = apperrors.NewEvolutionAPIFailedError("create_instance", errors.New("503"))
	ts.mock.ExpectQuery(`INSERT INTO evolution_instances`).WillReturnRows(instanceRows("ventas-1a2b3c4d"))
	ts.mock.ExpectExec(`DELETE FROM evolution_instances WHERE id = \$1 AND client_id = \$2`).
		WithArgs(testInstanceID, testClientID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := ts.do(t, http.MethodPost, "/api/v1/instances", ts.token(t, auth.RoleAdmin, testClientID),
		map[string]string{"name": "ventas"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, string(apperrors.ErrCodeEvolutionAPIFailed), errorCode(t, w))
	assert.Empty(t, ts.plans.invalidated)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestInstances_CreateValidation(t *testing.T) {
	tests := []struct {
		name string
		role auth.Role
		body map[string]string
		want int
	}{
		{name: "user role", role: auth.RoleUser, body: map[string]string{"name": "ventas"}, want: http.StatusForbidden},
		{name: "bad name", role: auth.RoleAdmin, body: map[string]string{"name": "ventas en línea!"}, want: http.StatusBadRequest},
		{name: "too short", role: auth.RoleAdmin, body: map[string]string{"name": "v"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(t, http.MethodPost, "/api/v1/instances", ts.token(t, tt.role, testClientID), tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Empty(t, ts.provisioner.created)
		})
	}
}

func TestInstances_DeleteInvalidatesAccess(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`SELECT \* FROM evolution_instances WHERE id = \$1 AND client_id = \$2`).
		WithArgs(testInstanceID, testClientID).
		WillReturnRows(instanceRows("ventas-1a2b3c4d"))
	ts.mock.ExpectExec(`DELETE FROM evolution_instances`).WillReturnResult(sqlmock.NewResult(0, 1))

	w := ts.do(t, http.MethodDelete, "/api/v1/instances/"+testInstanceID, ts.token(t, auth.RoleAdmin, testClientID), nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"ventas-1a2b3c4d"}, ts.provisioner.deleted)
	assert.Equal(t, []string{"ventas-1a2b3c4d"}, ts.access.invalidated)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestWebhookKey(t *testing.T) {
	a, err := webhookKey()
	require.NoError(t, err)
	b, err := webhookKey()
	require.NoError(t, err)
	assert.Len(t, a, 48)
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.ToLower(a), a)
}

func TestPlayground_SendMessage(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/playground/sessions/sess-1/messages", ts.token(t, auth.RoleUser, testClientID),
		map[string]string{"content": "¿Qué horarios tienen?"})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "sess-1", ts.playground.sessionID)
	assert.Equal(t, "¿Qué horarios tienen?", ts.playground.content)
	assert.Contains(t, w.Body.String(), "Hola")
}
