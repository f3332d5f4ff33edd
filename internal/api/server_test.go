// internal/api/server_test.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/ai"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/auth"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/config"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/ratelimit"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/evolution"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/notifications"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "0b6f7a52-4c1e-4f57-9d2b-6d5c8f3a1e01"
	otherClient  = "7c3d9e10-2a4b-4c6d-8e0f-1a2b3c4d5e6f"
	testUserID   = "5a1e2b3c-4d5e-4f60-8a9b-0c1d2e3f4a5b"
)

// ==========================
// Test Helper Functions
// ==========================

type fakePlans struct {
	err         error
	checked     []plans.Resource
	invalidated []string
	status      *plans.Status
}

func (f *fakePlans) Check(_ context.Context, _ string, r plans.Resource) error {
	f.checked = append(f.checked, r)
	return f.err
}

func (f *fakePlans) Status(_ context.Context, clientID string) (*plans.Status, error) {
	if f.status != nil {
		return f.status, nil
	}
	return &plans.Status{Usage: models.Usage{ClientID: clientID}}, nil
}

func (f *fakePlans) Invalidate(_ context.Context, clientIDs ...string) {
	f.invalidated = append(f.invalidated, clientIDs...)
}

type fakeIndex struct {
	indexed []string
	deleted []string
}

func (f *fakeIndex) Index(_ context.Context, c models.Contact) error {
	f.indexed = append(f.indexed, c.ID)
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeSearch struct {
	query    string
	contacts []models.Contact
}

func (f *fakeSearch) Search(_ context.Context, _ string, q string, _ int) ([]models.Contact, error) {
	f.query = q
	return f.contacts, nil
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) Publish(_ context.Context, channel, eventType string, _ interface{}) error {
	f.events = append(f.events, channel+"|"+eventType)
	return nil
}

type fakeNotifier struct {
	sent []notifications.Request
}

func (f *fakeNotifier) Notify(_ context.Context, req notifications.Request) (*notifications.Result, error) {
	f.sent = append(f.sent, req)
	return &notifications.Result{}, nil
}

type fakeEncryptor struct{}

func (fakeEncryptor) Encrypt(plaintext string) (string, error) {
	return "enc:v1:" + plaintext, nil
}

type fakeProvisioner struct {
	createErr error
	created   []string
	deleted   []string
}

func (f *fakeProvisioner) CreateInstance(_ context.Context, instance, _ string) (*evolution.CreatedInstance, error) {
	f.created = append(f.created, instance)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &evolution.CreatedInstance{InstanceName: instance, Status: "created", QRCode: "data:image/png;base64,AAA"}, nil
}

func (f *fakeProvisioner) DeleteInstance(_ context.Context, instance string) error {
	f.deleted = append(f.deleted, instance)
	return nil
}

func (f *fakeProvisioner) InstanceState(_ context.Context, instance string) (*evolution.InstanceState, error) {
	return &evolution.InstanceState{Instance: instance, State: "open"}, nil
}

type fakeMessages struct {
	dispatched []string
}

func (f *fakeMessages) Dispatch(_ context.Context, _ string, messageID string) (*evolution.DispatchResult, error) {
	f.dispatched = append(f.dispatched, messageID)
	return &evolution.DispatchResult{MessageID: messageID, Status: models.MessageSent, ExternalID: "3EB0C767D71D"}, nil
}

type fakeAccess struct {
	invalidated []string
}

func (f *fakeAccess) Invalidate(instance string) {
	f.invalidated = append(f.invalidated, instance)
}

type fakePlayground struct {
	sessionID string
	content   string
}

func (f *fakePlayground) Send(_ context.Context, _ string, sessionID, content string) (*ai.PlaygroundReply, error) {
	f.sessionID, f.content = sessionID, content
	return &ai.PlaygroundReply{Reply: models.PlaygroundMessage{Role: "assistant", Content: "Hola"}}, nil
}

type testServer struct {
	server      *Server
	mock        sqlmock.Sqlmock
	tokens      *auth.TokenService
	plans       *fakePlans
	index       *fakeIndex
	search      *fakeSearch
	publisher   *fakePublisher
	notifier    *fakeNotifier
	provisioner *fakeProvisioner
	messages    *fakeMessages
	access      *fakeAccess
	playground  *fakePlayground
}

func newTestServer(t *testing.T, mutate ...func(*Deps)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ts := &testServer{
		mock:        mock,
		tokens:      auth.NewTokenService("test-secret", "aurelia", time.Hour),
		plans:       &fakePlans{},
		index:       &fakeIndex{},
		search:      &fakeSearch{},
		publisher:   &fakePublisher{},
		notifier:    &fakeNotifier{},
		provisioner: &fakeProvisioner{},
		messages:    &fakeMessages{},
		access:      &fakeAccess{},
		playground:  &fakePlayground{},
	}
	deps := Deps{
		Store:        store.New(sqlx.NewDb(db, "postgres")),
		Tokens:       ts.tokens,
		Plans:        ts.plans,
		Search:       ts.search,
		Index:        ts.index,
		Publisher:    ts.publisher,
		Notifier:     ts.notifier,
		Encryptor:    fakeEncryptor{},
		Provisioner:  ts.provisioner,
		Messages:     ts.messages,
		Access:       ts.access,
		Playground:   ts.playground,
		DefaultModel: "gpt-4o-mini",
	}
	for _, m := range mutate {
		m(&deps)
	}
	ts.server = New(config.ServerConfig{Address: ":0"}, []string{"https://app.aurelia.io"}, deps, logger.NewTestLogger(t))
	return ts
}

func (ts *testServer) token(t *testing.T, role auth.Role, clientID string) string {
	t.Helper()
	raw, _, err := ts.tokens.Issue(auth.Principal{UserID: testUserID, ClientID: clientID, Role: role, Email: "ana@acme.io"})
	require.NoError(t, err)
	return raw
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
		RequestID string `json:"requestId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	assert.NotEmpty(t, body.RequestID)
	return body.Error.Code
}

// ==========================
// Core routes
// ==========================

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_Ready(t *testing.T) {
	tests := []struct {
		name       string
		ready      func(context.Context) error
		wantStatus int
	}{
		{name: "no probe", wantStatus: http.StatusOK},
		{name: "healthy", ready: func(context.Context) error { return nil }, wantStatus: http.StatusOK},
		{name: "database down", ready: func(context.Context) error { return errors.New("dial tcp: refused") }, wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, func(d *Deps) { d.Ready = tt.ready })
			w := ts.do(t, http.MethodGet, "/ready", "", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/health", "", nil)
	w := ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestServer_WebhookRoutesOptional(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/webhook/evolution", "", map[string]string{})
	assert.Equal(t, http.StatusNotFound, w.Code)

	called := false
	ts = newTestServer(t, func(d *Deps) {
		d.Webhook = func(c *gin.Context) {
			called = true
			c.Status(http.StatusOK)
		}
	})
	w = ts.do(t, http.MethodPost, "/api/webhook/evolution", "", map[string]string{})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

// ==========================
// Authentication and scoping
// ==========================

func TestServer_RequiresToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/contacts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(apperrors.ErrCodeUnauthorized), errorCode(t, w))

	w = ts.do(t, http.MethodGet, "/api/v1/contacts", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServer_TenantScoping(t *testing.T) {
	tests := []struct {
		name       string
		role       auth.Role
		clientID   string
		path       string
		wantStatus int
		wantCode   apperrors.ErrorCode
	}{
		{
			name: "user asking for another client", role: auth.RoleUser, clientID: testClientID,
			path: "/api/v1/agents?clientId=" + otherClient, wantStatus: http.StatusForbidden, wantCode: apperrors.ErrCodeForbidden,
		},
		{
			name: "superadmin without client", role: auth.RoleSuperAdmin,
			path: "/api/v1/agents", wantStatus: http.StatusBadRequest, wantCode: apperrors.ErrCodeBadRequest,
		},
		{
			name: "admin on back office", role: auth.RoleAdmin, clientID: testClientID,
			path: "/api/v1/admin/clients", wantStatus: http.StatusForbidden, wantCode: apperrors.ErrCodeForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(t, http.MethodGet, tt.path, ts.token(t, tt.role, tt.clientID), nil)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, string(tt.wantCode), errorCode(t, w))
			assert.NoError(t, ts.mock.ExpectationsWereMet())
		})
	}
}

func TestServer_SuperadminActsOnNamedClient(t *testing.T) {
	ts := newTestServer(t)
	ts.mock.ExpectQuery(`SELECT \* FROM agents WHERE client_id = \$1`).
		WithArgs(otherClient).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	w := ts.do(t, http.MethodGet, "/api/v1/agents?clientId="+otherClient, ts.token(t, auth.RoleSuperAdmin, ""), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, ts.mock.ExpectationsWereMet())
}

func TestServer_UserCannotManageAgents(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/agents", ts.token(t, auth.RoleUser, testClientID),
		map[string]interface{}{"name": "Ventas"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, ts.plans.checked)
}

// ==========================
// Middleware
// ==========================

func TestServer_RateLimit(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) { d.Limiter = ratelimit.NewKeyed(0.001, 1) })
	ts.mock.ExpectQuery(`SELECT \* FROM agents`).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	token := ts.token(t, auth.RoleUser, testClientID)

	first := ts.do(t, http.MethodGet, "/api/v1/agents", token, nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := ts.do(t, http.MethodGet, "/api/v1/agents", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, string(apperrors.ErrCodeTooManyRequests), errorCode(t, second))
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestServer_CORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		origin    string
		wantAllow string
	}{
		{origin: "https://app.aurelia.io", wantAllow: "https://app.aurelia.io"},
		{origin: "https://evil.example", wantAllow: ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/contacts", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		ts.server.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestRequestID_Propagates(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "req-abc", w.Header().Get("X-Request-ID"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "req-abc", body["requestId"])
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "acme-s-a", slugify("  ACME S.A. "))
	assert.Equal(t, "cl-nica-sonrisa", slugify("Clínica Sonrisa"))
	assert.Equal(t, "", slugify("***"))
}
