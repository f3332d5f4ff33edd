// internal/workers/infrastructure/plan-limit-check/handler_test.go
package planlimitcheck

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStatus struct {
	status *plans.Status
	err    error
}

func (f *fakeStatus) Status(_ context.Context, _ string) (*plans.Status, error) {
	return f.status, f.err
}

func basicStatus() *plans.Status {
	return &plans.Status{
		Limits: models.PlanLimits{Plan: models.PlanBasic, MaxUsers: 5, MaxContacts: 1000, MaxAgents: 2, MaxInstances: 1, MaxMonthlyAIMessages: 0},
		Usage:  models.Usage{ClientID: "client-1", Users: 5, Contacts: 420, Agents: 1, Instances: 1, AIMessagesMonth: 9000},
	}
}

func createTestHandler(t *testing.T, s StatusReader) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second}, s, logger.NewTestLogger(t))
}

func TestHandler_Execute(t *testing.T) {
	tests := []struct {
		name          string
		resource      string
		wantAllowed   bool
		wantLimit     int
		wantUsage     int
		wantRemaining int
	}{
		{name: "under limit", resource: "contacts", wantAllowed: true, wantLimit: 1000, wantUsage: 420, wantRemaining: 580},
		{name: "at limit", resource: "users", wantAllowed: false, wantLimit: 5, wantUsage: 5},
		{name: "instances full", resource: "instances", wantAllowed: false, wantLimit: 1, wantUsage: 1},
		{name: "unlimited", resource: "ai_messages", wantAllowed: true, wantLimit: 0, wantUsage: 9000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createTestHandler(t, &fakeStatus{status: basicStatus()})

			output, err := h.Execute(context.Background(), &Input{ClientID: "client-1", Resource: tt.resource})

			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, output.Allowed)
			assert.Equal(t, tt.wantLimit, output.Limit)
			assert.Equal(t, tt.wantUsage, output.Usage)
			assert.Equal(t, tt.wantRemaining, output.Remaining)
			assert.Equal(t, models.PlanBasic, output.Plan)
		})
	}
}

func TestHandler_Execute_Errors(t *testing.T) {
	tests := []struct {
		name   string
		input  *Input
		status *fakeStatus
		code   apperrors.ErrorCode
	}{
		{name: "missing client", input: &Input{Resource: "contacts"}, status: &fakeStatus{}, code: apperrors.ErrCodeValidationFailed},
		{name: "unknown resource", input: &Input{ClientID: "client-1", Resource: "seats"}, status: &fakeStatus{}, code: apperrors.ErrCodeValidationFailed},
		{name: "client missing", input: &Input{ClientID: "ghost", Resource: "users"}, status: &fakeStatus{err: apperrors.NewNotFoundError("client", "ghost")}, code: apperrors.ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createTestHandler(t, tt.status)
			_, err := h.Execute(context.Background(), tt.input)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.code))
		})
	}
}
