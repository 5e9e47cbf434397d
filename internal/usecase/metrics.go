package usecase

import (
	"sort"
	"sync"
	"time"
)

// ModelMetrics aggregates prediction outcomes for one model.
type ModelMetrics struct {
	Model                string           `json:"model"`
	TotalRequests        int64            `json:"total_requests"`
	FailedRequests       int64            `json:"failed_requests"`
	Classes              map[string]int64 `json:"classes"`
	Failures             map[string]int64 `json:"failures"`
	AverageLatencyMillis float64          `json:"average_latency_ms"`
}

// MetricsSummary represents aggregated prediction insights since startup.
type MetricsSummary struct {
	TotalRequests  int64          `json:"total_requests"`
	FailedRequests int64          `json:"failed_requests"`
	SuccessRate    float64        `json:"success_rate"`
	Models         []ModelMetrics `json:"models"`
}

type modelCounters struct {
	total   int64
	failed  int64
	classes map[string]int64
	kinds   map[string]int64
	latency time.Duration
}

// Metrics keeps in-process prediction counters.
type Metrics struct {
	mu     sync.Mutex
	models map[string]*modelCounters
}

// NewMetrics prepares counters for the given model keys.
func NewMetrics(keys []string) *Metrics {
	m := &Metrics{models: make(map[string]*modelCounters, len(keys))}
	for _, key := range keys {
		m.models[key] = newModelCounters()
	}
	return m
}

func newModelCounters() *modelCounters {
	return &modelCounters{classes: map[string]int64{}, kinds: map[string]int64{}}
}

func (m *Metrics) counters(key string) *modelCounters {
	c, ok := m.models[key]
	if !ok {
		c = newModelCounters()
		m.models[key] = c
	}
	return c
}

// Observe records a successful prediction.
func (m *Metrics) Observe(key, class string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters(key)
	c.total++
	c.classes[class]++
	c.latency += latency
}

// Fail records a failed prediction of the given failure kind.
func (m *Metrics) Fail(key, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.counters(key)
	c.total++
	c.failed++
	c.kinds[kind]++
}

// Summary snapshots the counters.
func (m *Metrics) Summary() *MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := &MetricsSummary{Models: make([]ModelMetrics, 0, len(m.models))}
	for key, c := range m.models {
		mm := ModelMetrics{
			Model:          key,
			TotalRequests:  c.total,
			FailedRequests: c.failed,
			Classes:        make(map[string]int64, len(c.classes)),
			Failures:       make(map[string]int64, len(c.kinds)),
		}
		for class, n := range c.classes {
			mm.Classes[class] = n
		}
		for kind, n := range c.kinds {
			mm.Failures[kind] = n
		}
		if succeeded := c.total - c.failed; succeeded > 0 {
			mm.AverageLatencyMillis = float64(c.latency.Microseconds()) / 1000 / float64(succeeded)
		}
		summary.TotalRequests += c.total
		summary.FailedRequests += c.failed
		summary.Models = append(summary.Models, mm)
	}
	sort.Slice(summary.Models, func(i, j int) bool { return summary.Models[i].Model < summary.Models[j].Model })

	if summary.TotalRequests > 0 {
		summary.SuccessRate = float64(summary.TotalRequests-summary.FailedRequests) / float64(summary.TotalRequests)
	}
	return summary
}

// GetMetricsSummary aggregates prediction metrics recorded since startup.
func (uc *PredictionUseCase) GetMetricsSummary() *MetricsSummary {
	return uc.metrics.Summary()
}
