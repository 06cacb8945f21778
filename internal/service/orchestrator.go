package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/infra/observability"
	"github.com/lumenbi/insight-agents-go/internal/infra/resilience"
	"github.com/lumenbi/insight-agents-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/orchestrator")

// Orchestrator fans one user prompt out to the selected agents, one
// provider call per agent. The canonical path is strictly sequential: one
// outstanding network call at a time bounds provider-side load and keeps a
// single cancel per run. Per agent, the call composition is
// retry(breaker(limiter(invoke))), with the response cache short-circuiting
// the whole chain on a hit.
type Orchestrator struct {
	invokers      map[string]port.AgentInvoker
	registry      *resilience.Registry
	cache         port.Cache[domain.AgentResult]
	metrics       *observability.Metrics
	logger        *zap.Logger
	agentDelay    time.Duration
	parallelBatch int
}

// NewOrchestrator creates the orchestrator with all dependencies injected.
// invokers maps provider service IDs to their clients. parallelBatch > 0
// switches Run to the batch-parallel strategy.
func NewOrchestrator(
	invokers map[string]port.AgentInvoker,
	registry *resilience.Registry,
	cache port.Cache[domain.AgentResult],
	metrics *observability.Metrics,
	logger *zap.Logger,
	agentDelay time.Duration,
	parallelBatch int,
) *Orchestrator {
	return &Orchestrator{
		invokers:      invokers,
		registry:      registry,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		agentDelay:    agentDelay,
		parallelBatch: parallelBatch,
	}
}

// Run executes the configured strategy.
func (o *Orchestrator) Run(ctx context.Context, req *domain.RunRequest) []domain.AgentResult {
	if o.parallelBatch > 0 {
		return o.RunAgentsParallel(ctx, req, o.parallelBatch)
	}
	return o.RunAgents(ctx, req)
}

// RunAgents processes the agents sequentially, in request order. Every
// processed agent yields exactly one result; a failure for one agent never
// stops the others, except user cancellation which ends the batch. The
// returned slice holds between 1 and len(req.Agents) entries.
func (o *Orchestrator) RunAgents(ctx context.Context, req *domain.RunRequest) []domain.AgentResult {
	ctx, span := tracer.Start(ctx, "Orchestrator.RunAgents")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", req.RunID),
		attribute.Int("run.agents", len(req.Agents)),
	)

	results := make([]domain.AgentResult, 0, len(req.Agents))
	for i, agent := range req.Agents {
		if ctx.Err() != nil {
			results = append(results, cancelledResult(agent.ID))
			break
		}

		res := o.runOne(ctx, req, agent)
		results = append(results, res)

		if res.Status == domain.StatusError && res.Error == domain.StoppedByUser {
			break
		}

		// Fixed pause between provider calls to respect vendor-side limits.
		// A cache hit made no call, and after the last agent there is
		// nothing to pace.
		if i < len(req.Agents)-1 && !res.FromCache {
			select {
			case <-ctx.Done():
			case <-time.After(o.agentDelay):
			}
		}
	}
	return results
}

// runOne performs the full resilient call chain for a single agent.
func (o *Orchestrator) runOne(ctx context.Context, req *domain.RunRequest, agent domain.Agent) domain.AgentResult {
	ctx, span := tracer.Start(ctx, "Orchestrator.runOne")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agent.ID))

	key := cacheKey(agent.ID, req.Prompt, req.Files)
	if cached, ok := o.cache.Get(key); ok {
		o.metrics.IncrCacheHit("responses")
		o.logger.Debug("response cache hit", zap.String("agent_id", agent.ID))
		cached.FromCache = true
		cached.CompletedAt = time.Now()
		return cached
	}
	o.metrics.IncrCacheMiss("responses")

	policy, okPolicy := o.registry.Policy(agent.Service)
	invoker, okInvoker := o.invokers[agent.Service]
	if !okPolicy || !okInvoker {
		o.metrics.RecordAgentCall(agent.ID, domain.StatusError, 0)
		return errorResult(agent.ID, fmt.Sprintf("unknown provider service: %s", agent.Service))
	}

	inv := &domain.AgentInvocation{
		Agent:  agent,
		Prompt: req.Prompt,
		Files:  req.Files,
		UserID: req.UserID,
	}

	start := time.Now()
	var provResult *domain.ProviderResult
	err := policy.Retry.Do(ctx, func() error {
		_, berr := policy.Breaker.Execute(func() (any, error) {
			return nil, policy.Limiter.Do(ctx, req.Priority, func(callCtx context.Context) error {
				attemptStart := time.Now()
				r, ierr := invoker.Invoke(callCtx, inv)
				o.registry.Monitor().RecordCall(agent.Service, ierr == nil, time.Since(attemptStart))
				if ierr != nil {
					o.metrics.IncrProviderError(agent.Service)
					return ierr
				}
				provResult = r
				return nil
			})
		})
		return berr
	})
	latency := time.Since(start)

	if err != nil {
		o.metrics.RecordAgentCall(agent.ID, domain.StatusError, latency)
		if domain.IsCancelled(err) || ctx.Err() != nil {
			o.logger.Info("agent call stopped by user",
				zap.String("run_id", req.RunID),
				zap.String("agent_id", agent.ID),
			)
			return cancelledResult(agent.ID)
		}
		// Breaker and admission-queue rejections never reach the invoke
		// closure, so the monitor has not seen this attempt yet.
		var open *domain.ErrCircuitOpen
		var full *domain.ErrQueueFull
		if errors.As(err, &open) || errors.As(err, &full) {
			o.registry.Monitor().RecordCall(agent.Service, false, latency)
		}
		o.logger.Error("agent call failed",
			zap.String("run_id", req.RunID),
			zap.String("agent_id", agent.ID),
			zap.String("service", agent.Service),
			zap.Error(err),
		)
		return errorResult(agent.ID, userMessage(err))
	}

	o.metrics.RecordTokens(provResult.PromptTokens, provResult.CompletionTokens)
	o.metrics.RecordAgentCall(agent.ID, domain.StatusComplete, latency)

	result := domain.AgentResult{
		AgentID:     agent.ID,
		Content:     provResult.Content,
		Status:      domain.StatusComplete,
		TokensUsed:  provResult.TotalTokens,
		LatencyMs:   latency.Milliseconds(),
		CompletedAt: time.Now(),
	}
	o.cache.Set(key, result)
	return result
}

// GenerateTitle produces a short chat title from the first prompt. It runs
// at background priority with no retry budget; any failure falls back to a
// prefix of the prompt so chat creation is never blocked on a provider.
func (o *Orchestrator) GenerateTitle(ctx context.Context, prompt string) string {
	const fallbackWords = 6
	fallback := titleFallback(prompt, fallbackWords)

	policy, okPolicy := o.registry.Policy(domain.ServiceDeepSeek)
	invoker, okInvoker := o.invokers[domain.ServiceDeepSeek]
	if !okPolicy || !okInvoker {
		return fallback
	}

	inv := &domain.AgentInvocation{
		Agent: domain.Agent{
			ID:          "title-generator",
			Service:     domain.ServiceDeepSeek,
			MaxTokens:   24,
			Temperature: 0.2,
			SystemPrompt: "Reply with a short title (at most six words) for a conversation " +
				"that starts with the user's message. No quotes, no trailing punctuation.",
		},
		Prompt: prompt,
	}

	var title string
	err := policy.Limiter.Do(ctx, domain.PriorityBackground, func(callCtx context.Context) error {
		r, ierr := invoker.Invoke(callCtx, inv)
		if ierr != nil {
			return ierr
		}
		title = strings.TrimSpace(r.Content)
		return nil
	})
	if err != nil || title == "" {
		return fallback
	}
	return title
}

func cancelledResult(agentID string) domain.AgentResult {
	return domain.AgentResult{
		AgentID:     agentID,
		Status:      domain.StatusError,
		Error:       domain.StoppedByUser,
		CompletedAt: time.Now(),
	}
}

func errorResult(agentID, msg string) domain.AgentResult {
	return domain.AgentResult{
		AgentID:     agentID,
		Status:      domain.StatusError,
		Error:       msg,
		CompletedAt: time.Now(),
	}
}

// cacheKey fingerprints a call by persona, prompt and attachment hashes.
// File order must not matter, so hashes are sorted before digesting.
func cacheKey(agentID, prompt string, files []domain.FileSummary) string {
	h := sha256.New()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	h.Write([]byte{0})

	hashes := make([]string, 0, len(files))
	for _, f := range files {
		hashes = append(hashes, f.ContentHash)
	}
	sort.Strings(hashes)
	for _, fh := range hashes {
		h.Write([]byte(fh))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// userMessage maps internal errors to what the chat UI shows for a failed
// agent.
func userMessage(err error) string {
	var (
		open      *domain.ErrCircuitOpen
		queueFull *domain.ErrQueueFull
		exhausted *domain.ErrRetryExhausted
		provider  *domain.ErrProvider
	)
	switch {
	case errors.As(err, &open):
		return "service temporarily unavailable"
	case errors.As(err, &queueFull):
		return "service busy, try again later"
	case errors.As(err, &exhausted):
		if errors.As(exhausted.Err, &provider) {
			return provider.Error()
		}
		return exhausted.Error()
	case errors.As(err, &provider):
		return provider.Error()
	default:
		return err.Error()
	}
}

// titleFallback returns the first n words of the prompt.
func titleFallback(prompt string, n int) string {
	words := strings.Fields(prompt)
	if len(words) > n {
		words = words[:n]
	}
	if len(words) == 0 {
		return "New chat"
	}
	return strings.Join(words, " ")
}
