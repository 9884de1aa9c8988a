package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

const maxSamples = 500

// MetricsManager is the global metrics registry. Paths are "topic/function",
// e.g. "resolver/input_box" or "session/turn".
type MetricsManager struct {
	mu          sync.RWMutex
	timings     map[string]*TimingMetric
	hitMiss     map[string]*HitMissMetric
	counters    map[string]*CounterMetric
	gauges      map[string]*GaugeMetric
	successFail map[string]*SuccessFailMetric
	outcomes    map[string]*OutcomeMetric
}

var (
	instance *MetricsManager
	once     sync.Once
)

// GetInstance returns the singleton metrics manager
func GetInstance() *MetricsManager {
	once.Do(func() {
		instance = newManager()
	})
	return instance
}

func newManager() *MetricsManager {
	return &MetricsManager{
		timings:     make(map[string]*TimingMetric),
		hitMiss:     make(map[string]*HitMissMetric),
		counters:    make(map[string]*CounterMetric),
		gauges:      make(map[string]*GaugeMetric),
		successFail: make(map[string]*SuccessFailMetric),
		outcomes:    make(map[string]*OutcomeMetric),
	}
}

// Reset drops every metric. Tests use it to isolate assertions.
func (m *MetricsManager) Reset() {
	fresh := newManager()
	m.mu.Lock()
	m.timings = fresh.timings
	m.hitMiss = fresh.hitMiss
	m.counters = fresh.counters
	m.gauges = fresh.gauges
	m.successFail = fresh.successFail
	m.outcomes = fresh.outcomes
	m.mu.Unlock()
}

// buildPath creates a normalized path from topic and function
func buildPath(topic, function string) string {
	if function == "" {
		return topic
	}
	return fmt.Sprintf("%s/%s", topic, function)
}

// lookup returns the metric at path in registry, creating it with mk.
func lookup[T any](m *MetricsManager, registry map[string]*T, path string, mk func() *T) *T {
	m.mu.RLock()
	metric, ok := registry[path]
	m.mu.RUnlock()
	if ok {
		return metric
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if metric, ok = registry[path]; !ok {
		metric = mk()
		registry[path] = metric
	}
	return metric
}

// RecordDuration records a duration directly
func (m *MetricsManager) RecordDuration(topic, function string, duration time.Duration) {
	metric := lookup(m, m.timings, buildPath(topic, function), func() *TimingMetric {
		return &TimingMetric{samples: make([]time.Duration, 0, 16), Min: duration, Max: duration}
	})

	metric.mu.Lock()
	defer metric.mu.Unlock()

	metric.Count++
	metric.Total += duration
	metric.Last = duration
	if duration < metric.Min {
		metric.Min = duration
	}
	if duration > metric.Max {
		metric.Max = duration
	}

	if len(metric.samples) < maxSamples {
		metric.samples = append(metric.samples, duration)
	} else {
		metric.samples[metric.sampleIdx] = duration
		metric.sampleIdx = (metric.sampleIdx + 1) % maxSamples
	}
}

// RecordHit records a cache hit
func (m *MetricsManager) RecordHit(topic, function string) {
	metric := lookup(m, m.hitMiss, buildPath(topic, function), func() *HitMissMetric { return &HitMissMetric{} })
	metric.mu.Lock()
	metric.Hits++
	metric.mu.Unlock()
}

// RecordMiss records a cache miss
func (m *MetricsManager) RecordMiss(topic, function string) {
	metric := lookup(m, m.hitMiss, buildPath(topic, function), func() *HitMissMetric { return &HitMissMetric{} })
	metric.mu.Lock()
	metric.Misses++
	metric.mu.Unlock()
}

// IncrementCounter increments a counter
func (m *MetricsManager) IncrementCounter(topic, function string) {
	m.AddCounter(topic, function, 1)
}

// AddCounter adds to a counter
func (m *MetricsManager) AddCounter(topic, function string, delta int64) {
	metric := lookup(m, m.counters, buildPath(topic, function), func() *CounterMetric { return &CounterMetric{} })
	metric.mu.Lock()
	metric.Value += delta
	metric.Last = time.Now()
	metric.mu.Unlock()
}

// SetGauge sets a gauge value
func (m *MetricsManager) SetGauge(topic, function string, value int64) {
	metric := lookup(m, m.gauges, buildPath(topic, function), func() *GaugeMetric {
		return &GaugeMetric{Min: value, Max: value}
	})
	metric.mu.Lock()
	defer metric.mu.Unlock()
	metric.Value = value
	metric.Last = time.Now()
	if value < metric.Min {
		metric.Min = value
	}
	if value > metric.Max {
		metric.Max = value
	}
}

// RecordSuccess records a successful operation
func (m *MetricsManager) RecordSuccess(topic, function string) {
	metric := lookup(m, m.successFail, buildPath(topic, function), newSuccessFail)
	metric.mu.Lock()
	metric.Success++
	metric.mu.Unlock()
}

// RecordFailure records a failed operation, bucketed by reason
func (m *MetricsManager) RecordFailure(topic, function, reason string) {
	metric := lookup(m, m.successFail, buildPath(topic, function), newSuccessFail)
	metric.mu.Lock()
	metric.Failures++
	if reason != "" {
		metric.FailureReasons[reason]++
	}
	metric.mu.Unlock()
}

func newSuccessFail() *SuccessFailMetric {
	return &SuccessFailMetric{FailureReasons: make(map[string]int64)}
}

// RecordOutcome records a specific outcome
func (m *MetricsManager) RecordOutcome(topic, function, outcome string) {
	metric := lookup(m, m.outcomes, buildPath(topic, function), func() *OutcomeMetric {
		return &OutcomeMetric{Outcomes: make(map[string]int64)}
	})
	metric.mu.Lock()
	metric.Outcomes[outcome]++
	metric.Total++
	metric.LastOutcome = outcome
	metric.mu.Unlock()
}

// GetSnapshot returns a snapshot of all metrics keyed by path
func (m *MetricsManager) GetSnapshot() map[string]*MetricSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshots := make(map[string]*MetricSnapshot)

	for path, metric := range m.timings {
		metric.mu.Lock()
		avg := float64(0)
		if metric.Count > 0 {
			avg = ms(metric.Total) / float64(metric.Count)
		}
		snapshots[path] = &MetricSnapshot{Path: path, Type: TypeTiming, Data: TimingSnapshot{
			Count:  metric.Count,
			AvgMs:  avg,
			MinMs:  ms(metric.Min),
			MaxMs:  ms(metric.Max),
			LastMs: ms(metric.Last),
			P95Ms:  calculatePercentile(metric.samples, 95),
		}}
		metric.mu.Unlock()
	}

	for path, metric := range m.hitMiss {
		metric.mu.Lock()
		total := metric.Hits + metric.Misses
		hitRate := float64(0)
		if total > 0 {
			hitRate = float64(metric.Hits) / float64(total) * 100
		}
		snapshots[path] = &MetricSnapshot{Path: path, Type: TypeHitMiss, Data: HitMissSnapshot{
			Hits: metric.Hits, Misses: metric.Misses, HitRate: hitRate,
		}}
		metric.mu.Unlock()
	}

	for path, metric := range m.counters {
		metric.mu.Lock()
		snapshots[path] = &MetricSnapshot{Path: path, Type: TypeCounter, Data: CounterSnapshot{Value: metric.Value}}
		metric.mu.Unlock()
	}

	for path, metric := range m.gauges {
		metric.mu.Lock()
		snapshots[path] = &MetricSnapshot{Path: path, Type: TypeGauge, Data: GaugeSnapshot{
			Value: metric.Value, Min: metric.Min, Max: metric.Max,
		}}
		metric.mu.Unlock()
	}

	for path, metric := range m.successFail {
		metric.mu.Lock()
		total := metric.Success + metric.Failures
		rate := float64(0)
		if total > 0 {
			rate = float64(metric.Success) / float64(total) * 100
		}
		reasons := make(map[string]int64, len(metric.FailureReasons))
		for k, v := range metric.FailureReasons {
			reasons[k] = v
		}
		snapshots[path] = &MetricSnapshot{Path: path, Type: TypeSuccessFail, Data: SuccessFailSnapshot{
			Success: metric.Success, Failures: metric.Failures, SuccessRate: rate, FailureReasons: reasons,
		}}
		metric.mu.Unlock()
	}

	for path, metric := range m.outcomes {
		metric.mu.Lock()
		outcomes := make(map[string]int64, len(metric.Outcomes))
		for k, v := range metric.Outcomes {
			outcomes[k] = v
		}
		snapshots[path] = &MetricSnapshot{Path: path, Type: TypeOutcome, Data: OutcomeSnapshot{
			Outcomes: outcomes, Total: metric.Total, LastOutcome: metric.LastOutcome,
		}}
		metric.mu.Unlock()
	}

	return snapshots
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// calculatePercentile calculates the Nth percentile from samples
func calculatePercentile(samples []time.Duration, percentile int) float64 {
	if len(samples) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := (len(sorted) * percentile) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return ms(sorted[idx])
}
