package metrics

import (
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	TypeTiming      MetricType = "timing"
	TypeHitMiss     MetricType = "hit_miss"
	TypeCounter     MetricType = "counter"
	TypeGauge       MetricType = "gauge"
	TypeSuccessFail MetricType = "success_fail"
	TypeOutcome     MetricType = "outcome"
)

// TimingMetric tracks timing statistics
type TimingMetric struct {
	mu        sync.Mutex
	Count     int64
	Total     time.Duration
	Min       time.Duration
	Max       time.Duration
	Last      time.Duration
	samples   []time.Duration // ring buffer for percentiles
	sampleIdx int
}

// HitMissMetric tracks locator cache hits and misses
type HitMissMetric struct {
	mu     sync.Mutex
	Hits   int64
	Misses int64
}

// CounterMetric tracks incrementing values
type CounterMetric struct {
	mu    sync.Mutex
	Value int64
	Last  time.Time
}

// GaugeMetric tracks values that can go up or down
type GaugeMetric struct {
	mu    sync.Mutex
	Value int64
	Min   int64
	Max   int64
	Last  time.Time
}

// SuccessFailMetric tracks success and failure counts
type SuccessFailMetric struct {
	mu             sync.Mutex
	Success        int64
	Failures       int64
	FailureReasons map[string]int64
}

// OutcomeMetric tracks how often each named outcome happened
type OutcomeMetric struct {
	mu          sync.Mutex
	Outcomes    map[string]int64
	LastOutcome string
	Total       int64
}

// MetricSnapshot is a point-in-time view of one metric
type MetricSnapshot struct {
	Path string      `json:"path"`
	Type MetricType  `json:"type"`
	Data interface{} `json:"data"`
}

// TimingSnapshot for JSON serialization
type TimingSnapshot struct {
	Count  int64   `json:"count"`
	AvgMs  float64 `json:"avg_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	LastMs float64 `json:"last_ms"`
	P95Ms  float64 `json:"p95_ms,omitempty"`
}

// HitMissSnapshot for JSON serialization
type HitMissSnapshot struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// CounterSnapshot for JSON serialization
type CounterSnapshot struct {
	Value int64 `json:"value"`
}

// GaugeSnapshot for JSON serialization
type GaugeSnapshot struct {
	Value int64 `json:"value"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// SuccessFailSnapshot for JSON serialization
type SuccessFailSnapshot struct {
	Success        int64            `json:"success"`
	Failures       int64            `json:"failures"`
	SuccessRate    float64          `json:"success_rate"`
	FailureReasons map[string]int64 `json:"failure_reasons,omitempty"`
}

// OutcomeSnapshot for JSON serialization
type OutcomeSnapshot struct {
	Outcomes    map[string]int64 `json:"outcomes"`
	Total       int64            `json:"total"`
	LastOutcome string           `json:"last_outcome"`
}
