// internal/api/contacts_test.go
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

const testContactID = "9f8e7d6c-5b4a-4392-8170-6f5e4d3c2b1a"

var contactColumns = []string{"id", "client_id", "name", "phone", "email", "status", "source", "tags", "notes", "created_at", "updated_at"}

func contactRows(id, name, phone string) *sqlmock.Rows {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(contactColumns).AddRow(id, testClientID, name, phone, nil, "NEW", "MANUAL", "{}", "", now, now)
}

func TestContacts_Create(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`INSERT INTO contacts`).
		WithArgs(testClientID, "Lucía Pérez", "5491155550001", nil, "NEW", "MANUAL", sqlmock.AnyArg(), "").
		WillReturnRows(contactRows(testContactID, "Lucía Pérez", "5491155550001"))

	w := ts.do(t, http.MethodPost, "/api/v1/contacts", ts.token(t, auth.RoleUser, testClientID),
		map[string]interface{}{"name": " Lucía Pérez ", "phone": "5491155550001"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []plans.Resource{plans.ResourceContacts}, ts.plans.checked)
	assert.Equal(t, []string{testContactID}, ts.index.indexed)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestContacts_CreateRejected(t *testing.T) {
	tests := []struct {
		name       string
		planErr    error
		body       map[string]interface{}
		wantStatus int
		wantCode   apperrors.ErrorCode
	}{
		{
			name:       "plan limit reached",
			planErr:    apperrors.NewPlanLimitExceededError("contacts", 100, 100),
			body:       map[string]interface{}{"name": "Lucía", "phone": "5491155550001"},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   apperrors.ErrCodePlanLimitExceeded,
		},
		{
			name:       "missing phone",
			body:       map[string]interface{}{"name": "Lucía"},
			wantStatus: http.StatusBadRequest,
			wantCode:   apperrors.ErrCodeBadRequest,
		},
		{
			name:       "unknown status",
			body:       map[string]interface{}{"name": "Lucía", "phone": "1", "status": "VIP"},
			wantStatus: http.StatusBadRequest,
			wantCode:   apperrors.ErrCodeBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.plans.err = tt.planErr

			w := ts.do(t, http.MethodPost, "/api/v1/contacts", ts.token(t, auth.RoleUser, testClientID), tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, string(tt.wantCode), errorCode(t, w))
			assert.Empty(t, ts.index.indexed)
			assert.NoError(t, ts.mock.ExpectationsWereMet())
		})
	}
}

func TestContacts_GetNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`SELECT \* FROM contacts WHERE id = \$1 AND client_id = \$2`).
		WithArgs(testContactID, testClientID).
		WillReturnRows(sqlmock.NewRows(contactColumns))

	w := ts.do(t, http.MethodGet, "/api/v1/contacts/"+testContactID, ts.token(t, auth.RoleUser, testClientID), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperrors.ErrCodeNotFound), errorCode(t, w))
}

func TestContacts_List(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`SELECT count\(\*\) FROM contacts WHERE client_id = \$1 AND status = \$2`).
		WithArgs(testClientID, "NEW").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	ts.mock.ExpectQuery(`SELECT \* FROM contacts WHERE .* LIMIT \$3 OFFSET \$4`).
		WithArgs(testClientID, "NEW", 10, 0).
		WillReturnRows(contactRows(testContactID, "Lucía", "5491155550001"))

	w := ts.do(t, http.MethodGet, "/api/v1/contacts?status=NEW&limit=10", ts.token(t, auth.RoleUser, testClientID), nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"total":1`)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestContacts_Search(t *testing.T) {
	ts := newTestServer(t)
	ts.search.contacts = []models.Contact{{ID: testContactID, Name: "Lucía"}}

	w := ts.do(t, http.MethodGet, "/api/v1/contacts/search?q=luc", ts.token(t, auth.RoleUser, testClientID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "luc", ts.search.query)
	assert.Contains(t, w.Body.String(), testContactID)

	w = ts.do(t, http.MethodGet, "/api/v1/contacts/search", ts.token(t, auth.RoleUser, testClientID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestContacts_Delete(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectExec(`DELETE FROM contacts WHERE id = \$1 AND client_id = \$2`).
		WithArgs(testContactID, testClientID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := ts.do(t, http.MethodDelete, "/api/v1/contacts/"+testContactID, ts.token(t, auth.RoleAdmin, testClientID), nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{testContactID}, ts.index.deleted)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}
