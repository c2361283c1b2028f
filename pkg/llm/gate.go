package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate serializes access to a completion client. A loaded generation
// context serves one request at a time, so concurrent callers queue on a
// weighted semaphore sized to the number of independently-loaded contexts
// (1 unless the deployment runs a pool). An optional rate limiter and a
// per-call wall-clock timeout bound outbound pressure; a timed-out call is
// surfaced as ErrUpstream and leaves no residual state.
type Gate struct {
	inner       Client
	slots       *semaphore.Weighted
	limiter     *rate.Limiter
	callTimeout time.Duration
}

// GateConfig tunes the exclusive-access gate.
type GateConfig struct {
	// MaxConcurrent is the number of completion calls allowed in flight,
	// matching the number of loaded model contexts. Default: 1.
	MaxConcurrent int64

	// RequestsPerMinute caps outbound call rate. 0 disables limiting.
	RequestsPerMinute int

	// CallTimeout bounds the wall-clock time of one completion call.
	// 0 disables the bound.
	CallTimeout time.Duration
}

// NewGate wraps client in an exclusive-access gate.
func NewGate(client Client, cfg GateConfig) *Gate {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return &Gate{
		inner:       client,
		slots:       semaphore.NewWeighted(maxConcurrent),
		limiter:     limiter,
		callTimeout: cfg.CallTimeout,
	}
}

// Complete acquires a generation slot, then delegates to the wrapped client.
// The in-flight call runs under its own timeout context rather than being
// interrupted mid-generation by the caller's cancellation.
func (g *Gate) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrap(ErrUpstream, "llm: waiting for generation slot")
	}
	defer g.slots.Release(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(ErrUpstream, "llm: waiting for rate limit")
		}
	}

	callCtx := ctx
	if g.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), g.callTimeout)
		defer cancel()
	}

	return g.inner.Complete(callCtx, req)
}
