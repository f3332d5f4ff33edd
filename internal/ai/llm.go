// internal/ai/llm.go
// Package ai runs the LLM conversation pipeline behind agents.
package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/josecentenodev/crm-aurelia-sub005/internal/common/errors"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/logger"
	"github.com/josecentenodev/crm-aurelia-sub005/internal/common/metrics"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

const (
	DefaultTimeout            = 30 * time.Second
	defaultBreakerMaxFailures = 5
	defaultBreakerOpenTimeout = 30 * time.Second
)

// ChatMessage is one turn sent to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type CompletionRequest struct {
	APIKey       string
	Model        string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
	Messages     []ChatMessage
}

type Completion struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   Usage  `json:"usage"`
}

// LLM produces one assistant reply.
type LLM interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

type StreamerConfig struct {
	BaseURL     string
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Streamer calls an OpenAI-compatible chat completions endpoint in streaming
// mode and accumulates the deltas. All calls share one circuit breaker.
type Streamer struct {
	baseURL string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[*Completion]
	logger  logger.Logger
}

func NewStreamer(cfg StreamerConfig, log logger.Logger) *Streamer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultBreakerMaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultBreakerOpenTimeout
	}
	log = logger.WithComponent(log, "ai.llm")

	breaker := gobreaker.NewCircuitBreaker[*Completion](gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// Client errors and caller cancellations say nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Streamer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		breaker: breaker,
		logger:  log,
	}
}

// Complete streams one completion bounded by the configured timeout.
func (s *Streamer) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.breaker.Execute(func() (*Completion, error) {
		return s.stream(ctx, req)
	})
	if err == nil {
		metrics.LLMTokens.WithLabelValues(out.Model, "prompt").Add(float64(out.Usage.PromptTokens))
		metrics.LLMTokens.WithLabelValues(out.Model, "completion").Add(float64(out.Usage.CompletionTokens))
		return out, nil
	}

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, apperrors.NewLLMCircuitOpenError(err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, apperrors.NewLLMTimeoutError(s.timeout)
	case isClientError(err):
		stdErr := apperrors.NewLLMRequestFailedError(err)
		stdErr.Retryable = false
		return nil, stdErr
	default:
		return nil, apperrors.NewLLMRequestFailedError(err)
	}
}

func (s *Streamer) stream(ctx context.Context, req CompletionRequest) (*Completion, error) {
	cfg := openai.DefaultConfig(req.APIKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      messages,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	out := &Completion{Model: req.Model}
	var content strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		for _, choice := range chunk.Choices {
			content.WriteString(choice.Delta.Content)
		}
		if chunk.Usage != nil {
			out.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
	}

	out.Content = strings.TrimSpace(content.String())
	if out.Content == "" {
		return nil, errors.New("model returned an empty reply")
	}
	return out, nil
}

// isClientError reports a 4xx answer other than 429 from the provider.
func isClientError(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}
