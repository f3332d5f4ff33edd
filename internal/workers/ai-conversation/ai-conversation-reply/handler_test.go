// internal/workers/ai-conversation/ai-conversation-reply/handler_test.go
package aiconversationreply

import (
	"context"
	"testing"
	"time"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/ai"
	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeRunner struct {
	requests []ai.Request
	resp     *ai.Response
	err      error
}

func (f *fakeRunner) Run(_ context.Context, req ai.Request) (*ai.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func createTestHandler(t *testing.T, runner Runner) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second}, runner, logger.NewTestLogger(t))
}

func createInput() *Input {
	return &Input{
		ClientID:          "client-1",
		ConversationID:    "conv-1",
		MessageID:         "7b6f3c8e-2f4a-4b7e-9a51-0c1d2e3f4a5b",
		Content:           "  Hola, ¿tienen envíos a Córdoba?  ",
		ResponseMessageID: "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b",
	}
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	runner := &fakeRunner{resp: &ai.Response{
		Success:    true,
		MessageID:  "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b",
		Content:    "Sí, enviamos a todo el país.",
		Usage:      ai.Usage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52},
		DurationMs: 830,
	}}
	h := createTestHandler(t, runner)

	output, err := h.Execute(context.Background(), createInput())

	require.NoError(t, err)
	assert.Equal(t, "9e8d7c6b-5a4f-4e3d-8c2b-1a0f9e8d7c6b", output.ResponseMessageID)
	assert.Equal(t, "Sí, enviamos a todo el país.", output.Content)
	assert.Equal(t, 52, output.TotalTokens)
	assert.Equal(t, int64(830), output.DurationMs)

	require.Len(t, runner.requests, 1)
	req := runner.requests[0]
	assert.Equal(t, "Hola, ¿tienen envíos a Córdoba?", req.Content)
	assert.Equal(t, "client-1", req.ClientID)
	assert.NotEmpty(t, req.RequestID)
}

func TestHandler_Execute_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Input)
		want   string
	}{
		{name: "missing client", mutate: func(in *Input) { in.ClientID = "" }, want: "clientId"},
		{name: "blank content", mutate: func(in *Input) { in.Content = "   " }, want: "content"},
		{name: "message id not uuid", mutate: func(in *Input) { in.MessageID = "wamid.123" }, want: "messageId must be a UUID"},
		{name: "response id not uuid", mutate: func(in *Input) { in.ResponseMessageID = "reply-1" }, want: "responseMessageId must be a UUID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			h := createTestHandler(t, runner)
			input := createInput()
			tt.mutate(input)

			_, err := h.Execute(context.Background(), input)

			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeValidationFailed))
			assert.Contains(t, apperrors.From(err).Details, tt.want)
			assert.Empty(t, runner.requests)
		})
	}
}

func TestHandler_Execute_PipelineErrorPassesThrough(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      apperrors.ErrorCode
		retryable bool
	}{
		{name: "plan limit", err: apperrors.NewPlanLimitExceededError("ai_messages", 500, 500), code: apperrors.ErrCodePlanLimitExceeded, retryable: false},
		{name: "llm timeout", err: apperrors.NewLLMTimeoutError(30 * time.Second), code: apperrors.ErrCodeLLMTimeout, retryable: true},
		{name: "circuit open", err: apperrors.NewLLMCircuitOpenError(nil), code: apperrors.ErrCodeLLMCircuitOpen, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := createTestHandler(t, &fakeRunner{err: tt.err})

			_, err := h.Execute(context.Background(), createInput())

			require.Error(t, err)
			assert.True(t, apperrors.Is(err, tt.code))
			assert.Equal(t, tt.retryable, apperrors.IsRetryableErrorCode(tt.code))
		})
	}
}
