package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/infra/cache"
	"github.com/lumenbi/insight-agents-go/internal/infra/observability"
	"github.com/lumenbi/insight-agents-go/internal/infra/resilience"
	"github.com/lumenbi/insight-agents-go/internal/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeInvoker scripts per-agent outcomes and records call order.
type fakeInvoker struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
	handler  func(ctx context.Context, inv *domain.AgentInvocation) (*domain.ProviderResult, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, inv *domain.AgentInvocation) (*domain.ProviderResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv.Agent.ID)
	f.mu.Unlock()

	if f.handler != nil {
		return f.handler(ctx, inv)
	}
	if err, ok := f.failures[inv.Agent.ID]; ok {
		return nil, err
	}
	return &domain.ProviderResult{
		Content:          "analysis for " + inv.Agent.ID,
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
	}, nil
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testAgents(service string, ids ...string) []domain.Agent {
	agents := make([]domain.Agent, 0, len(ids))
	for _, id := range ids {
		agents = append(agents, domain.Agent{ID: id, Service: service, MaxTokens: 256})
	}
	return agents
}

func newTestOrchestrator(t *testing.T, inv port.AgentInvoker, batch int) (*Orchestrator, *resilience.Registry) {
	t.Helper()
	registry := resilience.NewRegistry(resilience.Options{
		Services:       []string{domain.ServiceDeepSeek, domain.ServiceOpenAI},
		Window:         time.Second,
		MaxRequests:    100,
		QueueCapacity:  10,
		DispatchTick:   5 * time.Millisecond,
		MaxAttempts:    2,
		RetryBaseDelay: time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(registry.Close)

	responses := cache.New[domain.AgentResult](time.Minute, 50)
	o := NewOrchestrator(
		map[string]port.AgentInvoker{
			domain.ServiceDeepSeek: inv,
			domain.ServiceOpenAI:   inv,
		},
		registry,
		responses,
		observability.NewMetrics(),
		zap.NewNop(),
		time.Millisecond,
		batch,
	)
	return o, registry
}

func TestRunAgents_AllComplete(t *testing.T) {
	inv := &fakeInvoker{}
	o, _ := newTestOrchestrator(t, inv, 0)

	req := &domain.RunRequest{
		RunID:  "run-1",
		Prompt: "analyze Q3 revenue",
		Agents: testAgents(domain.ServiceDeepSeek, "financial-analyst", "market-researcher"),
	}
	results := o.RunAgents(context.Background(), req)

	require.Len(t, results, 2)
	assert.Equal(t, "financial-analyst", results[0].AgentID)
	assert.Equal(t, "market-researcher", results[1].AgentID)
	for _, r := range results {
		assert.Equal(t, domain.StatusComplete, r.Status)
		assert.Equal(t, 150, r.TokensUsed)
		assert.False(t, r.FromCache)
	}
	assert.Equal(t, []string{"financial-analyst", "market-researcher"}, inv.calls)
}

func TestRunAgents_OneFailureDoesNotStopOthers(t *testing.T) {
	inv := &fakeInvoker{failures: map[string]error{
		"market-researcher": &domain.ErrProvider{
			Service: domain.ServiceDeepSeek, Status: 401,
			Message: "invalid api key", Retryable: false,
		},
	}}
	o, _ := newTestOrchestrator(t, inv, 0)

	req := &domain.RunRequest{
		RunID:  "run-2",
		Prompt: "analyze Q3 revenue",
		Agents: testAgents(domain.ServiceDeepSeek,
			"financial-analyst", "market-researcher", "data-analyst"),
	}
	results := o.RunAgents(context.Background(), req)

	require.Len(t, results, 3)
	assert.Equal(t, domain.StatusComplete, results[0].Status)
	assert.Equal(t, domain.StatusError, results[1].Status)
	assert.Contains(t, results[1].Error, "401")
	assert.Equal(t, domain.StatusComplete, results[2].Status)
	// Auth failures are final: one call, no retries.
	assert.Equal(t, 3, inv.callCount())
}

func TestRunAgents_TransientFailureRetried(t *testing.T) {
	var attempts int
	inv := &fakeInvoker{handler: func(ctx context.Context, in *domain.AgentInvocation) (*domain.ProviderResult, error) {
		attempts++
		if attempts == 1 {
			return nil, &domain.ErrProvider{
				Service: in.Agent.Service, Status: 500,
				Message: "upstream error", Retryable: true,
			}
		}
		return &domain.ProviderResult{Content: "ok", TotalTokens: 10}, nil
	}}
	o, _ := newTestOrchestrator(t, inv, 0)

	req := &domain.RunRequest{
		RunID:  "run-3",
		Prompt: "p",
		Agents: testAgents(domain.ServiceDeepSeek, "financial-analyst"),
	}
	results := o.RunAgents(context.Background(), req)

	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusComplete, results[0].Status)
	assert.Equal(t, 2, attempts)
}

func TestRunAgents_CacheHitSkipsProvider(t *testing.T) {
	inv := &fakeInvoker{}
	o, _ := newTestOrchestrator(t, inv, 0)

	req := &domain.RunRequest{
		RunID:  "run-4a",
		Prompt: "same question",
		Files: []domain.FileSummary{
			{Name: "q3.xlsx", ContentHash: "abc123", Summary: "revenue table"},
		},
		Agents: testAgents(domain.ServiceDeepSeek, "financial-analyst"),
	}
	first := o.RunAgents(context.Background(), req)
	require.Len(t, first, 1)
	assert.False(t, first[0].FromCache)

	req.RunID = "run-4b"
	second := o.RunAgents(context.Background(), req)
	require.Len(t, second, 1)
	assert.True(t, second[0].FromCache)
	assert.Equal(t, first[0].Content, second[0].Content)
	assert.Equal(t, 1, inv.callCount())
}

func TestRunAgents_CacheKeyedByAgentAndPrompt(t *testing.T) {
	inv := &fakeInvoker{}
	o, _ := newTestOrchestrator(t, inv, 0)

	base := &domain.RunRequest{
		RunID:  "run-5a",
		Prompt: "question one",
		Agents: testAgents(domain.ServiceDeepSeek, "financial-analyst"),
	}
	o.RunAgents(context.Background(), base)

	// Different agent, same prompt: miss.
	other := &domain.RunRequest{
		RunID:  "run-5b",
		Prompt: "question one",
		Agents: testAgents(domain.ServiceDeepSeek, "market-researcher"),
	}
	res := o.RunAgents(context.Background(), other)
	assert.False(t, res[0].FromCache)

	// Same agent, different prompt: miss.
	changed := &domain.RunRequest{
		RunID:  "run-5c",
		Prompt: "question two",
		Agents: testAgents(domain.ServiceDeepSeek, "financial-analyst"),
	}
	res = o.RunAgents(context.Background(), changed)
	assert.False(t, res[0].FromCache)

	assert.Equal(t, 3, inv.callCount())
}

func TestRunAgents_CancelStopsRemainingAgents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	inv := &fakeInvoker{handler: func(callCtx context.Context, in *domain.AgentInvocation) (*domain.ProviderResult, error) {
		if in.Agent.ID == "market-researcher" {
			cancel()
			return nil, &domain.ErrCancelled{Err: context.Canceled}
		}
		return &domain.ProviderResult{Content: "done", TotalTokens: 5}, nil
	}}
	o, _ := newTestOrchestrator(t, inv, 0)

	req := &domain.RunRequest{
		RunID:  "run-6",
		Prompt: "p",
		Agents: testAgents(domain.ServiceDeepSeek,
			"financial-analyst", "market-researcher", "data-analyst"),
	}
	results := o.RunAgents(ctx, req)

	require.Len(t, results, 2)
	assert.Equal(t, domain.StatusComplete, results[0].Status)
	assert.Equal(t, domain.StatusError, results[1].Status)
	assert.Equal(t, domain.StoppedByUser, results[1].Error)
	// data-analyst was never dispatched.
	assert.Equal(t, 2, inv.callCount())
}

func TestRunAgents_CancelBeatsConcurrentFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	inv := &fakeInvoker{handler: func(callCtx context.Context, in *domain.AgentInvocation) (*domain.ProviderResult, error) {
		// The provider call both fails and observes the user cancel.
		cancel()
		return nil, &domain.ErrProvider{
			Service: in.Agent.Service, Status: 500,
			Message: "upstream error", Retryable: true,
		}
	}}
	o, _ := newTestOrchestrator(t, inv, 0)

	req := &domain.RunRequest{
		RunID:  "run-7",
		Prompt: "p",
		Agents: testAgents(domain.ServiceDeepSeek, "financial-analyst"),
	}
	results := o.RunAgents(ctx, req)

	require.Len(t, results, 1)
	assert.Equal(t, domain.StoppedByUser, results[0].Error)
}

func TestRunAgents_BreakerRejectionReachesMonitor(t *testing.T) {
	inv := &fakeInvoker{failures: map[string]error{
		"financial-analyst": &domain.ErrProvider{
			Service: domain.ServiceDeepSeek, Status: 500,
			Message: "upstream error", Retryable: false,
		},
	}}
	registry := resilience.NewRegistry(resilience.Options{
		Services:         []string{domain.ServiceDeepSeek},
		Window:           time.Second,
		MaxRequests:      100,
		DispatchTick:     5 * time.Millisecond,
		FailureThreshold: 1,
		MaxAttempts:      1,
		RetryBaseDelay:   time.Millisecond,
	}, zap.NewNop())
	t.Cleanup(registry.Close)
	o := NewOrchestrator(
		map[string]port.AgentInvoker{domain.ServiceDeepSeek: inv},
		registry,
		cache.New[domain.AgentResult](time.Minute, 50),
		observability.NewMetrics(),
		zap.NewNop(),
		time.Millisecond,
		0,
	)

	req := &domain.RunRequest{
		RunID:  "run-10",
		Prompt: "p",
		Agents: testAgents(domain.ServiceDeepSeek, "financial-analyst"),
	}
	o.RunAgents(context.Background(), req)
	require.EqualValues(t, 1, registry.Monitor().Status(domain.ServiceDeepSeek).TotalRequests)

	// The breaker is open now. The rejected attempt never reaches the
	// provider but must still count against the service's health.
	results := o.RunAgents(context.Background(), req)
	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusError, results[0].Status)
	assert.Equal(t, 1, inv.callCount())
	assert.EqualValues(t, 2, registry.Monitor().Status(domain.ServiceDeepSeek).TotalRequests)
	assert.Equal(t, domain.HealthDown, registry.Monitor().Status(domain.ServiceDeepSeek).Status)
}

func TestRunAgents_UnknownService(t *testing.T) {
	inv := &fakeInvoker{}
	o, _ := newTestOrchestrator(t, inv, 0)

	req := &domain.RunRequest{
		RunID:  "run-8",
		Prompt: "p",
		Agents: []domain.Agent{{ID: "rogue", Service: "nonexistent"}},
	}
	results := o.RunAgents(context.Background(), req)

	require.Len(t, results, 1)
	assert.Equal(t, domain.StatusError, results[0].Status)
	assert.Contains(t, results[0].Error, "unknown provider service")
	assert.Equal(t, 0, inv.callCount())
}

func TestRunAgentsParallel_PreservesRequestOrder(t *testing.T) {
	inv := &fakeInvoker{handler: func(ctx context.Context, in *domain.AgentInvocation) (*domain.ProviderResult, error) {
		// Make earlier agents finish later.
		if in.Agent.ID == "financial-analyst" {
			time.Sleep(30 * time.Millisecond)
		}
		return &domain.ProviderResult{Content: "from " + in.Agent.ID, TotalTokens: 1}, nil
	}}
	o, _ := newTestOrchestrator(t, inv, 4)

	req := &domain.RunRequest{
		RunID:  "run-9",
		Prompt: "p",
		Agents: testAgents(domain.ServiceDeepSeek,
			"financial-analyst", "market-researcher", "data-analyst"),
	}
	results := o.Run(context.Background(), req)

	require.Len(t, results, 3)
	assert.Equal(t, "financial-analyst", results[0].AgentID)
	assert.Equal(t, "market-researcher", results[1].AgentID)
	assert.Equal(t, "data-analyst", results[2].AgentID)
	for _, r := range results {
		assert.Equal(t, domain.StatusComplete, r.Status)
	}
}

func TestGenerateTitle_FallsBackOnProviderError(t *testing.T) {
	inv := &fakeInvoker{handler: func(ctx context.Context, in *domain.AgentInvocation) (*domain.ProviderResult, error) {
		return nil, errors.New("connection refused")
	}}
	o, _ := newTestOrchestrator(t, inv, 0)

	title := o.GenerateTitle(context.Background(),
		"please analyze the attached quarterly statement and flag risks")
	assert.Equal(t, "please analyze the attached quarterly statement", title)
}

func TestGenerateTitle_UsesProviderResponse(t *testing.T) {
	inv := &fakeInvoker{handler: func(ctx context.Context, in *domain.AgentInvocation) (*domain.ProviderResult, error) {
		return &domain.ProviderResult{Content: "  Q3 Revenue Review\n"}, nil
	}}
	o, _ := newTestOrchestrator(t, inv, 0)

	title := o.GenerateTitle(context.Background(), "what happened to revenue in Q3?")
	assert.Equal(t, "Q3 Revenue Review", title)
}
