package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseChunk(w http.ResponseWriter, payload string) {
	_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func newFakeProvider(t *testing.T, handler http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func streamingHandler(t *testing.T, seen *map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-tenant", r.Header.Get("Authorization"))
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		sseChunk(w, `{"id":"c1","object":"chat.completion.chunk","model":"gpt-4o-mini-2024","choices":[{"index":0,"delta":{"role":"assistant","content":"Hola"}}]}`)
		sseChunk(w, `{"id":"c1","object":"chat.completion.chunk","model":"gpt-4o-mini-2024","choices":[{"index":0,"delta":{"content":", ¿en qué te ayudo?"}}]}`)
		sseChunk(w, `{"id":"c1","object":"chat.completion.chunk","model":"gpt-4o-mini-2024","choices":[],"usage":{"prompt_tokens":42,"completion_tokens":7,"total_tokens":49}}`)
		sseChunk(w, `[DONE]`)
	}
}

func TestStreamer_Complete(t *testing.T) {
	var seen map[string]interface{}
	s := NewStreamer(StreamerConfig{BaseURL: newFakeProvider(t, streamingHandler(t, &seen))}, logger.NewTestLogger(t))

	out, err := s.Complete(context.Background(), CompletionRequest{
		APIKey:       "sk-tenant",
		Model:        "gpt-4o-mini",
		SystemPrompt: "Sos un asistente de ventas.",
		Temperature:  0.3,
		MaxTokens:    256,
		Messages:     []ChatMessage{{Role: "user", Content: "hola"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hola, ¿en qué te ayudo?", out.Content)
	assert.Equal(t, "gpt-4o-mini-2024", out.Model)
	assert.Equal(t, Usage{PromptTokens: 42, CompletionTokens: 7, TotalTokens: 49}, out.Usage)

	assert.Equal(t, true, seen["stream"])
	assert.Equal(t, "gpt-4o-mini", seen["model"])
	messages := seen["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
}

func TestStreamer_ClientErrorDoesNotTripBreaker(t *testing.T) {
	var calls int32
	url := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	})
	s := NewStreamer(StreamerConfig{BaseURL: url, MaxFailures: 2}, logger.NewTestLogger(t))

	for i := 0; i < 4; i++ {
		_, err := s.Complete(context.Background(), CompletionRequest{APIKey: "bad", Model: "m", Messages: []ChatMessage{{Role: "user", Content: "x"}}})
		require.Error(t, err)
		stdErr := apperrors.From(err)
		assert.Equal(t, apperrors.ErrCodeLLMRequestFailed, stdErr.Code)
		assert.False(t, stdErr.Retryable)
	}
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestStreamer_ServerErrorsOpenBreaker(t *testing.T) {
	var calls int32
	url := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})
	s := NewStreamer(StreamerConfig{BaseURL: url, MaxFailures: 2, OpenTimeout: time.Minute}, logger.NewTestLogger(t))

	req := CompletionRequest{APIKey: "sk", Model: "m", Messages: []ChatMessage{{Role: "user", Content: "x"}}}
	for i := 0; i < 2; i++ {
		_, err := s.Complete(context.Background(), req)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeLLMRequestFailed))
	}

	_, err := s.Complete(context.Background(), req)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeLLMCircuitOpen))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStreamer_CanceledCallsDoNotTripBreaker(t *testing.T) {
	url := newFakeProvider(t, streamingHandler(t, nil))
	s := NewStreamer(StreamerConfig{BaseURL: url, MaxFailures: 1, OpenTimeout: time.Minute}, logger.NewTestLogger(t))
	req := CompletionRequest{APIKey: "sk-tenant", Model: "m", Messages: []ChatMessage{{Role: "user", Content: "x"}}}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := s.Complete(canceled, req)
		require.Error(t, err)
		assert.False(t, apperrors.Is(err, apperrors.ErrCodeLLMCircuitOpen))
	}

	out, err := s.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Hola, ¿en qué te ayudo?", out.Content)
}

func TestStreamer_Timeout(t *testing.T) {
	url := newFakeProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	s := NewStreamer(StreamerConfig{BaseURL: url, Timeout: 50 * time.Millisecond}, logger.NewTestLogger(t))

	_, err := s.Complete(context.Background(), CompletionRequest{APIKey: "sk", Model: "m", Messages: []ChatMessage{{Role: "user", Content: "x"}}})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeLLMTimeout))
}
