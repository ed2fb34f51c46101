// Package usage keeps per-provider rolling request, token and latency counters.
package usage

import (
	"sync"
	"time"
)

// Stats is a point-in-time copy of one provider's usage counters.
type Stats struct {
	Provider              string    `json:"provider"`
	TotalRequests         int64     `json:"total_requests"`
	SuccessfulRequests    int64     `json:"successful_requests"`
	FailedRequests        int64     `json:"failed_requests"`
	InputTokens           int64     `json:"input_tokens"`
	OutputTokens          int64     `json:"output_tokens"`
	TotalTokens           int64     `json:"total_tokens"`
	AverageResponseTimeMs float64   `json:"average_response_time_ms"`
	EstimatedCostUSD      float64   `json:"estimated_cost_usd"`
	FirstRequestTime      time.Time `json:"first_request_time"`
	LastRequestTime       time.Time `json:"last_request_time"`
}

// SuccessRate returns successful requests as a percentage of all requests.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return 100.0 * float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

// FailureRate returns failed requests as a percentage of all requests.
func (s Stats) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return 100.0 * float64(s.FailedRequests) / float64(s.TotalRequests)
}

// Tracker owns the mutable Stats for one provider.
// Counters are only updated when an attempt completes, so
// SuccessfulRequests+FailedRequests == TotalRequests holds in every snapshot.
type Tracker struct {
	mu    sync.Mutex
	stats Stats
}

// NewTracker returns an empty tracker for the named provider.
func NewTracker(provider string) *Tracker {
	return &Tracker{stats: Stats{Provider: provider}}
}

// RecordSuccess counts one successful attempt that started at start.
func (t *Tracker) RecordSuccess(start time.Time, latency time.Duration, inputTokens, outputTokens int, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.begin(start)
	t.stats.SuccessfulRequests++
	in, out := nonNegative(inputTokens), nonNegative(outputTokens)
	t.stats.InputTokens += in
	t.stats.OutputTokens += out
	t.stats.TotalTokens += in + out
	if costUSD > 0 {
		t.stats.EstimatedCostUSD += costUSD
	}

	sample := float64(latency) / float64(time.Millisecond)
	t.stats.AverageResponseTimeMs += (sample - t.stats.AverageResponseTimeMs) / float64(t.stats.SuccessfulRequests)
}

// RecordFailure counts one failed attempt that started at start.
func (t *Tracker) RecordFailure(start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.begin(start)
	t.stats.FailedRequests++
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Reset clears all counters, keeping the provider name.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = Stats{Provider: t.stats.Provider}
}

func (t *Tracker) begin(start time.Time) {
	if start.IsZero() {
		start = time.Now()
	}
	t.stats.TotalRequests++
	if t.stats.FirstRequestTime.IsZero() || start.Before(t.stats.FirstRequestTime) {
		t.stats.FirstRequestTime = start
	}
	if start.After(t.stats.LastRequestTime) {
		t.stats.LastRequestTime = start
	}
}

func nonNegative(v int) int64 {
	if v < 0 {
		return 0
	}
	return int64(v)
}
