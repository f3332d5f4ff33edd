package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDispatcher_DispatchReply(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer dispatch-secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL+"/api/webhook/evolution/dispatch", "dispatch-secret", time.Second, logger.NewTestLogger(t))
	require.NoError(t, d.DispatchReply(context.Background(), testClientID, testConversationID, testReplyID))
	assert.Equal(t, testReplyID, got["messageId"])
	assert.Equal(t, testClientID, got["clientId"])
}

func TestHTTPDispatcher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, "dispatch-secret", time.Second, logger.NewTestLogger(t))
	err := d.DispatchReply(context.Background(), testClientID, testConversationID, testReplyID)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeDispatchFailed))
}
