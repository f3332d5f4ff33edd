// internal/workers/communication/whatsapp-dispatch/handler_test.go
package whatsappdispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/evolution"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	calls  []string
	result *evolution.DispatchResult
	err    error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, clientID, messageID string) (*evolution.DispatchResult, error) {
	f.calls = append(f.calls, clientID+"/"+messageID)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func createTestHandler(t *testing.T, d Dispatcher) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second}, d, logger.NewTestLogger(t))
}

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name       string
		input      *Input
		dispatcher *fakeDispatcher
		wantCode   apperrors.ErrorCode
		wantStatus string
		wantCalls  int
	}{
		{
			name:  "sent",
			input: &Input{ClientID: "client-1", MessageID: "msg-1"},
			dispatcher: &fakeDispatcher{result: &evolution.DispatchResult{
				MessageID: "msg-1", Status: models.MessageSent, ExternalID: "3EB0C767D71D",
			}},
			wantStatus: models.MessageSent,
			wantCalls:  1,
		},
		{
			name:       "missing message id",
			input:      &Input{ClientID: "client-1"},
			dispatcher: &fakeDispatcher{},
			wantCode:   apperrors.ErrCodeValidationFailed,
		},
		{
			name:       "gateway down",
			input:      &Input{ClientID: "client-1", MessageID: "msg-1"},
			dispatcher: &fakeDispatcher{err: apperrors.NewEvolutionAPIFailedError("send_text", errors.New("502 bad gateway"))},
			wantCode:   apperrors.ErrCodeEvolutionAPIFailed,
			wantCalls:  1,
		},
		{
			name:       "message of another tenant",
			input:      &Input{ClientID: "client-2", MessageID: "msg-1"},
			dispatcher: &fakeDispatcher{err: apperrors.NewNotFoundError("message", "msg-1")},
			wantCode:   apperrors.ErrCodeNotFound,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createTestHandler(t, tt.dispatcher)

			output, err := h.Execute(context.Background(), tt.input)

			assert.Len(t, tt.dispatcher.calls, tt.wantCalls)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, tt.wantCode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, output.Status)
			assert.Equal(t, "3EB0C767D71D", output.ExternalID)
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	assert.Equal(t, 3, apperrors.GetRetryCount(apperrors.ErrCodeEvolutionAPIFailed))
	assert.Equal(t, 0, apperrors.GetRetryCount(apperrors.ErrCodeNotFound))
}
