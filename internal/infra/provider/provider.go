// Package provider implements the outbound LLM clients. Both vendors speak
// the OpenAI chat-completions protocol, so a single client type backed by
// the official SDK covers them; DeepSeek only differs in base URL and model.
//
// This is the HTTP boundary: every failure leaving this package is a typed
// domain error (ErrProvider tagged retryable/non-retryable from the response
// status, or ErrCancelled for user aborts), never a raw transport error.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("provider")

// Client calls one LLM provider service.
type Client struct {
	api          openai.Client
	service      string
	defaultModel string
	timeout      time.Duration
	logger       *zap.Logger
}

// NewDeepSeek creates the DeepSeek client (OpenAI-compatible endpoint).
func NewDeepSeek(apiKey, baseURL, model string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		// The SDK retries on its own by default; retry policy lives in the
		// resilience layer, so the SDK's must be off.
		api: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithMaxRetries(0),
		),
		service:      domain.ServiceDeepSeek,
		defaultModel: model,
		timeout:      timeout,
		logger:       logger,
	}
}

// NewOpenAI creates the OpenAI client.
func NewOpenAI(apiKey, model string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		api: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		service:      domain.ServiceOpenAI,
		defaultModel: model,
		timeout:      timeout,
		logger:       logger,
	}
}

// Invoke performs one chat completion for the given persona. Each call gets
// its own hard timeout, independent of the caller's cancellation; timeout
// expiry classifies as retryable while a cancelled parent context wins and
// classifies as ErrCancelled.
func (c *Client) Invoke(ctx context.Context, inv *domain.AgentInvocation) (*domain.ProviderResult, error) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("Provider.Invoke/%s", c.service))
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", inv.Agent.ID),
		attribute.String("provider.service", c.service),
	)

	model := inv.Agent.Model
	if model == "" {
		model = c.defaultModel
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(inv.Agent.SystemPrompt),
			openai.UserMessage(userPrompt(inv)),
		},
	}
	if inv.Agent.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(inv.Agent.MaxTokens))
	}
	if inv.Agent.Temperature > 0 {
		params.Temperature = openai.Float(inv.Agent.Temperature)
	}

	completion, err := c.api.Chat.Completions.New(callCtx, params)
	if err != nil {
		classified := c.classify(ctx, err)
		c.logger.Warn("provider call failed",
			zap.String("service", c.service),
			zap.String("agent_id", inv.Agent.ID),
			zap.Error(classified),
		)
		return nil, classified
	}

	if len(completion.Choices) == 0 {
		return nil, &domain.ErrProvider{
			Service:   c.service,
			Message:   "empty completion",
			Retryable: true,
		}
	}

	return &domain.ProviderResult{
		Content:          completion.Choices[0].Message.Content,
		PromptTokens:     int(completion.Usage.PromptTokens),
		CompletionTokens: int(completion.Usage.CompletionTokens),
		TotalTokens:      int(completion.Usage.TotalTokens),
	}, nil
}

// userPrompt assembles the user message from the prompt and the attached
// file summaries.
func userPrompt(inv *domain.AgentInvocation) string {
	if len(inv.Files) == 0 {
		return inv.Prompt
	}

	var b strings.Builder
	b.WriteString(inv.Prompt)
	b.WriteString("\n\nAttached documents:\n")
	for _, f := range inv.Files {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", f.Name, f.Summary)
	}
	return b.String()
}

// classify maps an SDK error to the typed taxonomy. The parent context is
// checked first: a user abort beats any concurrent failure.
func (c *Client) classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return &domain.ErrCancelled{Err: parent.Err()}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &domain.ErrProvider{
			Service:   c.service,
			Status:    apiErr.StatusCode,
			Message:   apiErr.Message,
			Retryable: retryableStatus(apiErr.StatusCode),
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrProvider{
			Service:   c.service,
			Message:   "request timed out",
			Retryable: true,
		}
	}

	// Connection-level failures: no status to classify on, treat as transient.
	return &domain.ErrProvider{
		Service:   c.service,
		Message:   err.Error(),
		Retryable: true,
	}
}

// retryableStatus: 429 and 5xx are transient; auth, quota and
// malformed-request classes are final.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
