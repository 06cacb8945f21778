package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/infra/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testAgent() domain.Agent {
	return domain.Agent{
		ID:           "financial-analyst",
		Service:      domain.ServiceDeepSeek,
		Model:        "deepseek-chat",
		MaxTokens:    256,
		Temperature:  0.3,
		SystemPrompt: "You are a financial analyst.",
	}
}

func newClientAgainst(t *testing.T, handler http.HandlerFunc) *provider.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return provider.NewDeepSeek("test-key", srv.URL, "deepseek-chat", 2*time.Second, zap.NewNop())
}

func TestInvoke_Success(t *testing.T) {
	c := newClientAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Revenue is up 12%."}}],
			"usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
		}`))
	})

	agent := testAgent()
	result, err := c.Invoke(context.Background(), &domain.AgentInvocation{
		Agent:  agent,
		Prompt: "How is revenue trending?",
	})

	require.NoError(t, err)
	assert.Equal(t, "Revenue is up 12%.", result.Content)
	assert.Equal(t, 49, result.TotalTokens)
}

func TestInvoke_ClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantRetryable bool
	}{
		{"auth failure", http.StatusUnauthorized, false},
		{"forbidden", http.StatusForbidden, false},
		{"malformed request", http.StatusBadRequest, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClientAgainst(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": {"message": "nope", "type": "test"}}`))
			})

			_, err := c.Invoke(context.Background(), &domain.AgentInvocation{
				Agent:  testAgent(),
				Prompt: "hi",
			})

			var provErr *domain.ErrProvider
			require.ErrorAs(t, err, &provErr)
			assert.Equal(t, tt.status, provErr.Status)
			assert.Equal(t, tt.wantRetryable, provErr.Retryable)
			assert.Equal(t, tt.wantRetryable, domain.IsRetryable(err))
		})
	}
}

func TestInvoke_TimeoutIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	c := provider.NewDeepSeek("test-key", srv.URL, "deepseek-chat", 50*time.Millisecond, zap.NewNop())

	_, err := c.Invoke(context.Background(), &domain.AgentInvocation{
		Agent:  testAgent(),
		Prompt: "hi",
	})

	var provErr *domain.ErrProvider
	require.ErrorAs(t, err, &provErr)
	assert.True(t, provErr.Retryable, "per-call timeout must classify as transient")
	assert.False(t, domain.IsCancelled(err))
}

func TestInvoke_UserCancelWinsOverFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	c := provider.NewDeepSeek("test-key", srv.URL, "deepseek-chat", 2*time.Second, zap.NewNop())

	_, err := c.Invoke(ctx, &domain.AgentInvocation{
		Agent:  testAgent(),
		Prompt: "hi",
	})

	require.Error(t, err)
	assert.True(t, domain.IsCancelled(err))
}
