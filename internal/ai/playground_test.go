package ai

import (
	"context"
	"encoding/json"
	"testing"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlaygroundStore struct {
	session  *models.PlaygroundSession
	agent    *models.Agent
	client   *models.Client
	appended []models.PlaygroundMessage
}

func (f *fakePlaygroundStore) GetPlaygroundSession(_ context.Context, _, id string) (*models.PlaygroundSession, error) {
	if f.session == nil || f.session.ID != id {
		return nil, apperrors.NewNotFoundError("playground session", id)
	}
	return f.session, nil
}

func (f *fakePlaygroundStore) AppendPlaygroundMessages(_ context.Context, _, _ string, msgs ...models.PlaygroundMessage) error {
	f.appended = append(f.appended, msgs...)
	return nil
}

func (f *fakePlaygroundStore) GetAgent(_ context.Context, _, _ string) (*models.Agent, error) {
	return f.agent, nil
}

func (f *fakePlaygroundStore) GetClient(_ context.Context, _ string) (*models.Client, error) {
	return f.client, nil
}

func planLimitErr() error {
	return apperrors.NewPlanLimitExceededError("ai_messages", 100, 100)
}

func newPlaygroundFixture(t *testing.T, transcript []models.PlaygroundMessage) (*Playground, *fakePlaygroundStore, *fakeLLM, *fakePlans) {
	t.Helper()
	raw, err := json.Marshal(transcript)
	require.NoError(t, err)
	st := &fakePlaygroundStore{
		session: &models.PlaygroundSession{ID: "pg-1", ClientID: testClientID, AgentID: "agent-1", Messages: raw},
		agent:   &models.Agent{ID: "agent-1", Model: "gpt-4o", SystemPrompt: "Probando", HistoryLimit: 2, Active: true},
		client:  &models.Client{ID: testClientID, AIAPIKeyEncrypted: strPtr("enc:v1:sealed")},
	}
	llm := &fakeLLM{reply: "Respuesta de prueba"}
	pl := &fakePlans{}
	return NewPlayground(st, llm, pl, fakeDecrypter{}, "gpt-4o-mini", 10, logger.NewTestLogger(t)), st, llm, pl
}

func TestPlayground_Send(t *testing.T) {
	p, st, llm, _ := newPlaygroundFixture(t, []models.PlaygroundMessage{
		{Role: "user", Content: "uno"},
		{Role: "assistant", Content: "dos"},
		{Role: "user", Content: "tres"},
	})

	out, err := p.Send(context.Background(), testClientID, "pg-1", "  cuatro ")
	require.NoError(t, err)
	assert.Equal(t, "Respuesta de prueba", out.Reply.Content)
	assert.Len(t, out.Transcript, 5)

	require.Len(t, llm.requests, 1)
	assert.Equal(t, "gpt-4o", llm.requests[0].Model)
	assert.Equal(t, []ChatMessage{
		{Role: "assistant", Content: "dos"},
		{Role: "user", Content: "tres"},
		{Role: "user", Content: "cuatro"},
	}, llm.requests[0].Messages)

	require.Len(t, st.appended, 2)
	assert.Equal(t, "user", st.appended[0].Role)
	assert.Equal(t, "assistant", st.appended[1].Role)
}

func TestPlayground_Send_Errors(t *testing.T) {
	t.Run("empty content", func(t *testing.T) {
		p, _, _, _ := newPlaygroundFixture(t, nil)
		_, err := p.Send(context.Background(), testClientID, "pg-1", "   ")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeBadRequest))
	})

	t.Run("unknown session", func(t *testing.T) {
		p, _, _, _ := newPlaygroundFixture(t, nil)
		_, err := p.Send(context.Background(), testClientID, "pg-404", "hola")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotFound))
	})

	t.Run("plan limit", func(t *testing.T) {
		p, st, llm, pl := newPlaygroundFixture(t, nil)
		pl.err = planLimitErr()
		_, err := p.Send(context.Background(), testClientID, "pg-1", "hola")
		assert.True(t, apperrors.Is(err, apperrors.ErrCodePlanLimitExceeded))
		assert.Empty(t, llm.requests)
		assert.Empty(t, st.appended)
	})
}
