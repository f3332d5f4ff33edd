// internal/ai/orchestrator.go
package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/observability"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/notifications"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/plans"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/realtime"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/store"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultHistoryLimit = 20
	defaultAsyncTimeout = 2 * time.Minute
)

// Pipeline outcomes
const (
	OutcomeSuccess = "success"
	OutcomeReplay  = "replay"
	OutcomeFailed  = "failed"
)

type Store interface {
	GetConversation(ctx context.Context, clientID, id string) (*models.ConversationSummary, error)
	GetAgent(ctx context.Context, clientID, id string) (*models.Agent, error)
	GetClient(ctx context.Context, id string) (*models.Client, error)
	GetMessage(ctx context.Context, clientID, id string) (*models.Message, error)
	ListMessages(ctx context.Context, clientID, conversationID string, limit int) ([]models.Message, error)
	RecordAIExchange(ctx context.Context, ex store.AIExchange) (*store.AIExchangeResult, error)
}

type PlanChecker interface {
	Check(ctx context.Context, clientID string, resource plans.Resource) error
}

// Decrypter opens a client's stored LLM API key.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

type FailureNotifier interface {
	NotifyClientAdmins(ctx context.Context, clientID string, req notifications.Request) error
}

// Request is one inbound message to answer.
type Request struct {
	RequestID         string `json:"-"`
	ClientID          string `json:"clientId"`
	ConversationID    string `json:"conversationId"`
	MessageID         string `json:"messageId"`
	Content           string `json:"content"`
	ResponseMessageID string `json:"responseMessageId,omitempty"`
}

type Response struct {
	Success    bool   `json:"success"`
	RequestID  string `json:"requestId"`
	MessageID  string `json:"messageId"`
	Content    string `json:"content"`
	Usage      Usage  `json:"usage"`
	DurationMs int64  `json:"durationMs"`
}

type OrchestratorConfig struct {
	DefaultModel string
	HistoryLimit int
	AsyncTimeout time.Duration
}

// Orchestrator answers inbound conversation messages with the conversation's agent.
type Orchestrator struct {
	config     OrchestratorConfig
	store      Store
	llm        LLM
	plans      PlanChecker
	decrypter  Decrypter
	publisher  realtime.Publisher
	dispatcher ReplyDispatcher
	notifier   FailureNotifier
	obs        *observability.Observability
	logger     logger.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	st Store,
	llm LLM,
	planChecker PlanChecker,
	decrypter Decrypter,
	publisher realtime.Publisher,
	dispatcher ReplyDispatcher,
	notifier FailureNotifier,
	obs *observability.Observability,
	log logger.Logger,
) *Orchestrator {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = defaultAsyncTimeout
	}
	return &Orchestrator{
		config:     cfg,
		store:      st,
		llm:        llm,
		plans:      planChecker,
		decrypter:  decrypter,
		publisher:  publisher,
		dispatcher: dispatcher,
		notifier:   notifier,
		obs:        obs,
		logger:     logger.WithComponent(log, "ai.orchestrator"),
		now:        time.Now,
	}
}

// Run answers req.Content, stores both messages, publishes them and hands the
// reply to the WhatsApp dispatcher when the conversation is on WhatsApp.
func (o *Orchestrator) Run(ctx context.Context, req Request) (resp *Response, err error) {
	start := o.now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	log := o.logger.WithFields(map[string]interface{}{
		"requestId":      req.RequestID,
		"clientId":       req.ClientID,
		"conversationId": req.ConversationID,
	})

	ctx, span := observability.StartSpan(ctx, "ai.pipeline",
		attribute.String("client.id", req.ClientID),
		attribute.String("conversation.id", req.ConversationID),
	)
	outcome := OutcomeFailed
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		metrics.AIPipelineRuns.WithLabelValues(outcome).Inc()
		o.obs.RecordRun(ctx, "ai_pipeline", outcome, o.now().Sub(start))
	}()

	conv, agent, apiKey, err := o.load(ctx, req)
	if err != nil {
		log.Warn("AI pipeline rejected", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	if req.ResponseMessageID != "" {
		stored, err := o.storedReply(ctx, req, conv)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			resp, err = o.replay(ctx, req, conv, stored, start, log)
			if err == nil {
				outcome = OutcomeReplay
			}
			return resp, err
		}
	}

	if o.plans != nil {
		if err := o.plans.Check(ctx, req.ClientID, plans.ResourceAIMessages); err != nil {
			return nil, err
		}
	}

	history, err := o.history(ctx, req, agent)
	if err != nil {
		return nil, err
	}

	model := agent.Model
	if model == "" {
		model = o.config.DefaultModel
	}
	llmStart := o.now()
	completion, err := o.llm.Complete(ctx, CompletionRequest{
		APIKey:       apiKey,
		Model:        model,
		SystemPrompt: agent.SystemPrompt,
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxTokens,
		Messages:     history,
	})
	metrics.AIPipelineDuration.WithLabelValues("llm").Observe(o.now().Sub(llmStart).Seconds())
	if err != nil {
		log.Error("LLM call failed", map[string]interface{}{"error": err.Error(), "model": model})
		return nil, err
	}

	replyID := req.ResponseMessageID
	if replyID == "" {
		replyID = uuid.NewString()
	}
	replyStatus := models.MessageSent
	if conv.Channel == models.ChannelWhatsApp {
		replyStatus = models.MessagePending
	}
	inbound := models.Message{
		ID:             req.MessageID,
		ClientID:       req.ClientID,
		ConversationID: conv.ID,
		Role:           models.RoleContact,
		Content:        req.Content,
		Status:         models.MessageReceived,
		CreatedAt:      start.UTC(),
	}
	reply := models.Message{
		ID:             replyID,
		ClientID:       req.ClientID,
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        completion.Content,
		Status:         replyStatus,
		CreatedAt:      o.now().UTC(),
	}

	persistStart := o.now()
	written, err := o.store.RecordAIExchange(ctx, store.AIExchange{Inbound: inbound, Reply: reply})
	metrics.AIPipelineDuration.WithLabelValues("persist").Observe(o.now().Sub(persistStart).Seconds())
	if err != nil {
		log.Error("Failed to persist AI exchange", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	resp = &Response{
		Success:   true,
		RequestID: req.RequestID,
		MessageID: replyID,
		Content:   completion.Content,
		Usage:     completion.Usage,
	}
	// A concurrent run recorded the same reply first and owns its dispatch.
	if !written.ReplyInserted {
		outcome = OutcomeReplay
		resp.DurationMs = o.now().Sub(start).Milliseconds()
		log.Info("AI reply already recorded", map[string]interface{}{"messageId": replyID})
		return resp, nil
	}

	if written.InboundInserted {
		o.publish(ctx, realtime.ConversationChannel(conv.ID), realtime.EventMessageCreated, inbound)
	}
	o.publish(ctx, realtime.ConversationChannel(conv.ID), realtime.EventMessageCreated, reply)
	conv.LastMessageAt = &reply.CreatedAt
	conv.LastAIResponseAt = &reply.CreatedAt
	conv.UpdatedAt = reply.CreatedAt
	o.publish(ctx, realtime.ClientConversationsChannel(req.ClientID), realtime.EventConversationUpdated, conv)

	if conv.Channel == models.ChannelWhatsApp {
		if err := o.dispatch(ctx, req.ClientID, conv.ID, replyID, log); err != nil {
			return nil, err
		}
	}

	outcome = OutcomeSuccess
	resp.DurationMs = o.now().Sub(start).Milliseconds()
	log.Info("AI reply generated", map[string]interface{}{
		"messageId":   replyID,
		"model":       completion.Model,
		"totalTokens": completion.Usage.TotalTokens,
		"durationMs":  resp.DurationMs,
	})
	return resp, nil
}

// storedReply returns the reply already recorded under req.ResponseMessageID,
// or nil when this is the first attempt.
func (o *Orchestrator) storedReply(ctx context.Context, req Request, conv *models.ConversationSummary) (*models.Message, error) {
	msg, err := o.store.GetMessage(ctx, req.ClientID, req.ResponseMessageID)
	if apperrors.Is(err, apperrors.ErrCodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if msg.ConversationID != conv.ID || msg.Role != models.RoleAssistant {
		return nil, apperrors.NewConflictError(fmt.Sprintf("message %s is not a reply in conversation %s", msg.ID, conv.ID))
	}
	return msg, nil
}

// replay answers a retried request with the stored reply. A WhatsApp reply
// that never reached SENT is handed to the dispatcher again.
func (o *Orchestrator) replay(ctx context.Context, req Request, conv *models.ConversationSummary, msg *models.Message, start time.Time, log logger.Logger) (*Response, error) {
	redispatch := conv.Channel == models.ChannelWhatsApp &&
		(msg.Status == models.MessagePending || msg.Status == models.MessageFailed)
	if redispatch {
		if err := o.dispatch(ctx, req.ClientID, conv.ID, msg.ID, log); err != nil {
			return nil, err
		}
	}
	resp := &Response{
		Success:    true,
		RequestID:  req.RequestID,
		MessageID:  msg.ID,
		Content:    msg.Content,
		DurationMs: o.now().Sub(start).Milliseconds(),
	}
	log.Info("AI reply replayed", map[string]interface{}{
		"messageId":    msg.ID,
		"status":       msg.Status,
		"redispatched": redispatch,
	})
	return resp, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, clientID, conversationID, messageID string, log logger.Logger) error {
	if o.dispatcher == nil {
		return nil
	}
	dispatchStart := o.now()
	err := o.dispatcher.DispatchReply(ctx, clientID, conversationID, messageID)
	metrics.AIPipelineDuration.WithLabelValues("dispatch").Observe(o.now().Sub(dispatchStart).Seconds())
	if err != nil {
		log.Error("Reply dispatch failed", map[string]interface{}{"messageId": messageID, "error": err.Error()})
	}
	return err
}

// load resolves the conversation, its agent and the client's decrypted API key.
func (o *Orchestrator) load(ctx context.Context, req Request) (*models.ConversationSummary, *models.Agent, string, error) {
	conv, err := o.store.GetConversation(ctx, req.ClientID, req.ConversationID)
	if err != nil {
		return nil, nil, "", err
	}
	if conv.AgentID == nil {
		return nil, nil, "", apperrors.NewBadRequestError(fmt.Sprintf("conversation %s has no agent", conv.ID))
	}
	agent, err := o.store.GetAgent(ctx, req.ClientID, *conv.AgentID)
	if err != nil {
		return nil, nil, "", err
	}
	if !agent.Active {
		return nil, nil, "", apperrors.NewBadRequestError(fmt.Sprintf("agent %s is inactive", agent.ID))
	}
	apiKey, err := o.apiKey(ctx, req.ClientID)
	if err != nil {
		return nil, nil, "", err
	}
	return conv, agent, apiKey, nil
}

func (o *Orchestrator) apiKey(ctx context.Context, clientID string) (string, error) {
	client, err := o.store.GetClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if !client.HasAIKey() {
		return "", apperrors.NewBadRequestError(fmt.Sprintf("client %s has no AI credentials", clientID))
	}
	key, err := o.decrypter.Decrypt(*client.AIAPIKeyEncrypted)
	if err != nil {
		return "", apperrors.NewDecryptionFailedError(err)
	}
	return key, nil
}

// history returns the recent conversation as model turns, ending with the
// inbound content. The inbound message itself is skipped if already stored.
func (o *Orchestrator) history(ctx context.Context, req Request, agent *models.Agent) ([]ChatMessage, error) {
	limit := agent.HistoryLimit
	if limit <= 0 {
		limit = o.config.HistoryLimit
	}
	stored, err := o.store.ListMessages(ctx, req.ClientID, req.ConversationID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ChatMessage, 0, len(stored)+1)
	for _, m := range stored {
		if m.ID == req.MessageID {
			continue
		}
		out = append(out, ChatMessage{Role: chatRole(m.Role), Content: m.Content})
	}
	return append(out, ChatMessage{Role: openai.ChatMessageRoleUser, Content: req.Content}), nil
}

func chatRole(role string) string {
	if role == models.RoleContact {
		return openai.ChatMessageRoleUser
	}
	return openai.ChatMessageRoleAssistant
}

func (o *Orchestrator) publish(ctx context.Context, channel, eventType string, payload interface{}) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, channel, eventType, payload); err != nil {
		o.logger.Warn("Failed to publish realtime event", map[string]interface{}{
			"channel": channel,
			"type":    eventType,
			"error":   err.Error(),
		})
	}
}

// TriggerReply runs the pipeline in the background with its own deadline.
func (o *Orchestrator) TriggerReply(clientID, conversationID, messageID, content string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.config.AsyncTimeout)
		defer cancel()

		_, err := o.Run(ctx, Request{
			ClientID:       clientID,
			ConversationID: conversationID,
			MessageID:      messageID,
			Content:        content,
		})
		if err == nil {
			return
		}
		o.logger.Error("Background AI reply failed", map[string]interface{}{
			"clientId":       clientID,
			"conversationId": conversationID,
			"messageId":      messageID,
			"error":          err.Error(),
		})
		o.notifyFailure(ctx, clientID, conversationID, err)
	}()
}

func (o *Orchestrator) notifyFailure(ctx context.Context, clientID, conversationID string, cause error) {
	if o.notifier == nil {
		return
	}
	stdErr := apperrors.From(cause)
	req := notifications.Request{
		ClientID: clientID,
		Type:     models.NotificationAIFailure,
		Title:    "AI agent could not reply",
		Body:     stdErr.Message,
		Priority: models.PriorityNormal,
		Data: map[string]interface{}{
			"conversationId": conversationID,
			"code":           string(stdErr.Code),
		},
	}
	if stdErr.Code == apperrors.ErrCodePlanLimitExceeded {
		req.Type = models.NotificationPlanLimit
		req.Title = "Monthly AI message limit reached"
		req.Priority = models.PriorityHigh
	}
	if err := o.notifier.NotifyClientAdmins(ctx, clientID, req); err != nil {
		o.logger.Warn("Failed to notify AI failure", map[string]interface{}{"error": err.Error()})
	}
}

// Wait blocks until background replies finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
