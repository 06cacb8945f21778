package service

import (
	"context"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// RunAgentsParallel processes the agents in batches of at most batchSize,
// concurrent within a batch and sequential across batches. Results keep the
// request order regardless of per-call completion order. The per-service
// limiter still bounds the actual provider call rate, so a batch only
// overlaps calls that target different services.
func (o *Orchestrator) RunAgentsParallel(ctx context.Context, req *domain.RunRequest, batchSize int) []domain.AgentResult {
	ctx, span := tracer.Start(ctx, "Orchestrator.RunAgentsParallel")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", req.RunID),
		attribute.Int("run.agents", len(req.Agents)),
		attribute.Int("run.batch_size", batchSize),
	)

	if batchSize < 1 {
		batchSize = 1
	}

	results := make([]domain.AgentResult, 0, len(req.Agents))
	for offset := 0; offset < len(req.Agents); offset += batchSize {
		if ctx.Err() != nil {
			results = append(results, cancelledResult(req.Agents[offset].ID))
			break
		}

		end := offset + batchSize
		if end > len(req.Agents) {
			end = len(req.Agents)
		}
		batch := req.Agents[offset:end]

		slots := make([]domain.AgentResult, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, agent := range batch {
			i, agent := i, agent
			g.Go(func() error {
				slots[i] = o.runOne(gctx, req, agent)
				return nil
			})
		}
		_ = g.Wait()
		results = append(results, slots...)

		stopped := false
		for _, r := range slots {
			if r.Status == domain.StatusError && r.Error == domain.StoppedByUser {
				stopped = true
				break
			}
		}
		if stopped {
			break
		}

		if end < len(req.Agents) {
			select {
			case <-ctx.Done():
			case <-time.After(o.agentDelay):
			}
		}
	}
	return results
}
