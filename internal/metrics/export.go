package metrics

import (
	"time"
)

// Global functions for dot-import usage

// MetricDuration records a duration directly
func MetricDuration(topic, function string, duration time.Duration) {
	GetInstance().RecordDuration(topic, function, duration)
}

// MetricSince records the time elapsed since start
func MetricSince(topic, function string, start time.Time) {
	GetInstance().RecordDuration(topic, function, time.Since(start))
}

// MetricHit records a cache hit
func MetricHit(topic, function string) {
	GetInstance().RecordHit(topic, function)
}

// MetricMiss records a cache miss
func MetricMiss(topic, function string) {
	GetInstance().RecordMiss(topic, function)
}

// MetricInc increments a counter by 1
func MetricInc(topic, function string) {
	GetInstance().IncrementCounter(topic, function)
}

// MetricSet sets a gauge value
func MetricSet(topic, function string, value int64) {
	GetInstance().SetGauge(topic, function, value)
}

// MetricSuccess records a successful operation
func MetricSuccess(topic, operation string) {
	GetInstance().RecordSuccess(topic, operation)
}

// MetricFailWithReason records a failed operation with a specific reason
func MetricFailWithReason(topic, operation, reason string) {
	GetInstance().RecordFailure(topic, operation, reason)
}

// MetricOutcome records a specific outcome
func MetricOutcome(topic, operation, outcome string) {
	GetInstance().RecordOutcome(topic, operation, outcome)
}
