// Package supabase provides a client for the managed Supabase backend
// (PostgREST). It is the persistence adapter for chats and messages; auth
// itself lives in Supabase and this service only verifies the tokens it
// issues.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
	"github.com/lumenbi/insight-agents-go/internal/infra/resilience"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase PostgREST API. Every request runs
// through the store's breaker and retry policy from the shared registry.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	policy         *resilience.Policy
	monitor        *resilience.Monitor
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, policy *resilience.Policy, monitor *resilience.Monitor, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		policy:         policy,
		monitor:        monitor,
		logger:         logger,
	}
}

// do executes one authenticated PostgREST request. method and path are the
// raw REST pieces; payload (may be nil) is JSON-encoded as the body.
// 404/204 return (nil, nil).
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)

	var bodyReader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, string(body))
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	return body, nil
}

// resilient runs the request through retry(breaker(do)) and records the
// outcome in the health monitor.
func (c *Client) resilient(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body []byte
	err := c.policy.Retry.Do(ctx, func() error {
		_, berr := c.policy.Breaker.Execute(func() (any, error) {
			start := time.Now()
			b, derr := c.do(ctx, method, path, payload)
			c.monitor.RecordCall(domain.ServiceSupabase, derr == nil, time.Since(start))
			if derr == nil {
				body = b
			}
			return nil, derr
		})
		return berr
	})
	return body, err
}
