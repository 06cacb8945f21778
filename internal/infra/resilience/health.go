package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/lumenbi/insight-agents-go/internal/domain"
)

// Health classification thresholds.
const (
	downErrorRatePct     = 50.0
	degradedErrorRatePct = 20.0
	degradedLatency      = 10 * time.Second
)

// Monitor keeps rolling success and latency bookkeeping per service and
// derives a health classification from it. It is advisory telemetry: reads
// never block, never fail, and never gate a call.
type Monitor struct {
	mu    sync.RWMutex
	stats map[string]*serviceStats
}

type serviceStats struct {
	total       int64
	successful  int64
	lastLatency time.Duration
	lastChecked time.Time
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{stats: make(map[string]*serviceStats)}
}

// RecordCall records the outcome of one call attempt against a service.
func (m *Monitor) RecordCall(service string, success bool, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[service]
	if !ok {
		s = &serviceStats{}
		m.stats[service] = s
	}
	s.total++
	if success {
		s.successful++
	}
	s.lastLatency = latency
	s.lastChecked = time.Now()
}

// Status returns the current snapshot for one service. Unknown services
// report healthy with zero counts.
func (m *Monitor) Status(service string) domain.ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked(service)
}

// IsAvailable reports whether the service is not classified down.
func (m *Monitor) IsAvailable(service string) bool {
	return m.Status(service).Status != domain.HealthDown
}

// Snapshot returns the health of every recorded service, sorted by name.
func (m *Monitor) Snapshot() []domain.ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ServiceHealth, 0, len(m.stats))
	for name := range m.stats {
		out = append(out, m.statusLocked(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Monitor) statusLocked(service string) domain.ServiceHealth {
	s, ok := m.stats[service]
	if !ok || s.total == 0 {
		return domain.ServiceHealth{Name: service, Status: domain.HealthHealthy}
	}

	errorRate := float64(s.total-s.successful) / float64(s.total) * 100

	status := domain.HealthHealthy
	switch {
	case errorRate > downErrorRatePct:
		status = domain.HealthDown
	case errorRate > degradedErrorRatePct || s.lastLatency > degradedLatency:
		status = domain.HealthDegraded
	}

	return domain.ServiceHealth{
		Name:          service,
		Status:        status,
		ErrorRatePct:  errorRate,
		LastLatencyMs: s.lastLatency.Milliseconds(),
		TotalRequests: s.total,
		LastChecked:   s.lastChecked.Format(time.RFC3339),
	}
}
