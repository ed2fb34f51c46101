package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/neoclaw-ai/interviewer/internal/costs"
	"github.com/neoclaw-ai/interviewer/internal/logging"
	"github.com/neoclaw-ai/interviewer/internal/metrics"
	"github.com/neoclaw-ai/interviewer/internal/providererr"
	"github.com/neoclaw-ai/interviewer/internal/usage"
)

// UsageSink receives one record per successful generation.
type UsageSink interface {
	Append(ctx context.Context, rec costs.Record) error
}

// RouterOptions configures a Router. All fields are optional.
type RouterOptions struct {
	// Timeout applies when a request carries no Timeout of its own.
	Timeout time.Duration
	Metrics *metrics.Collector
	Sink    UsageSink
	Logger  *slog.Logger
}

// Router wraps exactly one provider and accounts every call attempt against it.
// It never retries; callers compose routers for fallback.
type Router struct {
	provider Provider
	tracker  *usage.Tracker
	timeout  time.Duration
	metrics  *metrics.Collector
	sink     UsageSink
	logger   *slog.Logger
}

// NewRouter returns a router for p.
func NewRouter(p Provider, opts RouterOptions) *Router {
	return &Router{
		provider: p,
		tracker:  usage.NewTracker(p.Name()),
		timeout:  opts.Timeout,
		metrics:  opts.Metrics,
		sink:     opts.Sink,
		logger:   logging.Component(opts.Logger, "router").With("provider", p.Name()),
	}
}

// Name returns the wrapped provider's name.
func (r *Router) Name() string { return r.provider.Name() }

// ModelInfo returns the wrapped provider's model description.
func (r *Router) ModelInfo() ModelInfo { return r.provider.ModelInfo() }

// Generate runs one generation and records it as one request attempt.
func (r *Router) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	results, err := r.dispatch(ctx, req, func(ctx context.Context) ([]GenerationResult, error) {
		res, err := r.provider.GenerateText(ctx, req)
		if err != nil {
			return nil, err
		}
		return []GenerationResult{*res}, nil
	})
	if err != nil {
		return nil, err
	}
	return &results[0], nil
}

// GenerateList runs count sequential generations as one request attempt.
func (r *Router) GenerateList(ctx context.Context, req GenerationRequest, count int) ([]GenerationResult, error) {
	if count <= 0 {
		start := time.Now()
		err := providererr.Newf(providererr.KindInvalidRequest, r.Name(), "count must be > 0, got %d", count)
		r.recordFailure(start, err)
		return nil, err
	}
	return r.dispatch(ctx, req, func(ctx context.Context) ([]GenerationResult, error) {
		return r.provider.GenerateTextList(ctx, req, count)
	})
}

// IsAvailable probes the provider. It never fails and is not counted as a request.
func (r *Router) IsAvailable(ctx context.Context) bool {
	ctx, cancel := r.withTimeout(ctx, 0)
	defer cancel()
	return r.provider.IsAvailable(ctx)
}

// UsageStats returns a snapshot of the router's counters.
func (r *Router) UsageStats() usage.Stats {
	return r.tracker.Snapshot()
}

func (r *Router) dispatch(ctx context.Context, req GenerationRequest, call func(context.Context) ([]GenerationResult, error)) ([]GenerationResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		classified := providererr.Classify(r.Name(), err)
		r.recordFailure(start, classified)
		return nil, classified
	}

	callCtx, cancel := r.withTimeout(ctx, req.Timeout)
	defer cancel()

	results, err := call(callCtx)
	latency := time.Since(start)
	if err != nil {
		classified := providererr.Classify(r.Name(), err)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && classified.Kind != providererr.KindNetworkError {
			classified = &providererr.Error{
				Kind:     providererr.KindNetworkError,
				Provider: r.Name(),
				Message:  "request timed out: " + classified.Message,
				Cause:    err,
			}
		}
		r.recordFailure(start, classified)
		return nil, classified
	}

	var in, out int
	var costUSD float64
	model := r.provider.ModelInfo().Model
	for _, res := range results {
		in += res.InputTokens
		out += res.OutputTokens
		if res.Model != "" {
			model = res.Model
		}
		if res.CostUSD != nil {
			costUSD += *res.CostUSD
		} else if est, ok := costs.EstimateUSD(r.Name(), model, res.InputTokens, res.OutputTokens); ok {
			costUSD += est
		}
	}

	r.tracker.RecordSuccess(start, latency, in, out, costUSD)
	r.metrics.ObserveGeneration(r.Name(), latency, "", in, out)
	r.logger.Info("generation complete",
		"model", model,
		"latency", latency.Round(time.Millisecond),
		"input_tokens", in,
		"output_tokens", out,
		"results", len(results),
	)

	if r.sink != nil {
		rec := costs.Record{
			Timestamp:    start,
			Kind:         costs.KindGeneration,
			Provider:     r.Name(),
			Model:        model,
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
			CostUSD:      costUSD,
		}
		if err := r.sink.Append(context.WithoutCancel(ctx), rec); err != nil {
			r.logger.Warn("record usage", "error", err)
		}
	}
	return results, nil
}

func (r *Router) recordFailure(start time.Time, err *providererr.Error) {
	latency := time.Since(start)
	r.tracker.RecordFailure(start)
	r.metrics.ObserveGeneration(r.Name(), latency, string(err.Kind), 0, 0)
	r.logger.Warn("generation failed",
		"kind", err.Kind,
		"latency", latency.Round(time.Millisecond),
		"error", err.Message,
	)
}

func (r *Router) withTimeout(ctx context.Context, requested time.Duration) (context.Context, context.CancelFunc) {
	timeout := requested
	if timeout <= 0 {
		timeout = r.timeout
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
