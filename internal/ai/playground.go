// internal/ai/playground.go
package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"

	"github.com/sashabaranov/go-openai"
)

type PlaygroundStore interface {
	GetPlaygroundSession(ctx context.Context, clientID, id string) (*models.PlaygroundSession, error)
	AppendPlaygroundMessages(ctx context.Context, clientID, id string, msgs ...models.PlaygroundMessage) error
	GetAgent(ctx context.Context, clientID, id string) (*models.Agent, error)
	GetClient(ctx context.Context, id string) (*models.Client, error)
}

// PlaygroundReply is the assistant turn plus the updated transcript.
type PlaygroundReply struct {
	Reply      models.PlaygroundMessage   `json:"reply"`
	Usage      Usage                      `json:"usage"`
	Transcript []models.PlaygroundMessage `json:"transcript"`
}

// Playground runs an agent against a scratch transcript. Nothing reaches
// conversations, usage counters or WhatsApp.
type Playground struct {
	store        PlaygroundStore
	llm          LLM
	plans        PlanChecker
	decrypter    Decrypter
	defaultModel string
	historyLimit int
	logger       logger.Logger
	now          func() time.Time
}

func NewPlayground(st PlaygroundStore, llm LLM, planChecker PlanChecker, decrypter Decrypter, defaultModel string, historyLimit int, log logger.Logger) *Playground {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Playground{
		store:        st,
		llm:          llm,
		plans:        planChecker,
		decrypter:    decrypter,
		defaultModel: defaultModel,
		historyLimit: historyLimit,
		logger:       logger.WithComponent(log, "ai.playground"),
		now:          time.Now,
	}
}

func (p *Playground) Send(ctx context.Context, clientID, sessionID, content string) (*PlaygroundReply, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewBadRequestError("content is required")
	}

	session, err := p.store.GetPlaygroundSession(ctx, clientID, sessionID)
	if err != nil {
		return nil, err
	}
	agent, err := p.store.GetAgent(ctx, clientID, session.AgentID)
	if err != nil {
		return nil, err
	}
	if p.plans != nil {
		if err := p.plans.Check(ctx, clientID, plans.ResourceAIMessages); err != nil {
			return nil, err
		}
	}

	client, err := p.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.HasAIKey() {
		return nil, apperrors.NewBadRequestError("client has no AI credentials")
	}
	apiKey, err := p.decrypter.Decrypt(*client.AIAPIKeyEncrypted)
	if err != nil {
		return nil, apperrors.NewDecryptionFailedError(err)
	}

	var transcript []models.PlaygroundMessage
	if len(session.Messages) > 0 {
		if err := json.Unmarshal(session.Messages, &transcript); err != nil {
			return nil, apperrors.NewInternalError(err)
		}
	}

	limit := agent.HistoryLimit
	if limit <= 0 {
		limit = p.historyLimit
	}
	recent := transcript
	if len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	history := make([]ChatMessage, 0, len(recent)+1)
	for _, m := range recent {
		history = append(history, ChatMessage{Role: m.Role, Content: m.Content})
	}
	history = append(history, ChatMessage{Role: openai.ChatMessageRoleUser, Content: content})

	model := agent.Model
	if model == "" {
		model = p.defaultModel
	}
	userTurn := models.PlaygroundMessage{Role: openai.ChatMessageRoleUser, Content: content, CreatedAt: p.now().UTC()}
	completion, err := p.llm.Complete(ctx, CompletionRequest{
		APIKey:       apiKey,
		Model:        model,
		SystemPrompt: agent.SystemPrompt,
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxTokens,
		Messages:     history,
	})
	if err != nil {
		return nil, err
	}
	reply := models.PlaygroundMessage{Role: openai.ChatMessageRoleAssistant, Content: completion.Content, CreatedAt: p.now().UTC()}

	if err := p.store.AppendPlaygroundMessages(ctx, clientID, sessionID, userTurn, reply); err != nil {
		return nil, err
	}

	p.logger.Debug("Playground turn completed", map[string]interface{}{
		"sessionId":   sessionID,
		"agentId":     agent.ID,
		"totalTokens": completion.Usage.TotalTokens,
	})
	return &PlaygroundReply{
		Reply:      reply,
		Usage:      completion.Usage,
		Transcript: append(transcript, userTurn, reply),
	}, nil
}
