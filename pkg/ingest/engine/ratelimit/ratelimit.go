// Package ratelimit paces calls to external sources with token buckets. One
// limiter exists per source name; waiting is bounded so a starved job fails
// fast instead of hanging on a saturated bucket.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	config "github.com/pagecliff/ingest/pkg/ingest/core/config"
	metrics "github.com/pagecliff/ingest/pkg/ingest/core/metrics"
	"github.com/pagecliff/ingest/pkg/ingest/support/util/logger"
)

// WaitTimeoutError is returned when a token could not be obtained within the
// source's configured wait budget.
type WaitTimeoutError struct {
	Source  string
	Timeout time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("rate limit wait for source '%s' exceeded %s", e.Source, e.Timeout)
}

// Limiter paces one external source.
type Limiter struct {
	source      string
	limiter     *rate.Limiter
	waitTimeout time.Duration
	recorder    metrics.MetricRecorder
}

// Wait blocks until a token is available, the wait budget expires or ctx is
// canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	waitCtx := ctx
	if l.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.waitTimeout)
		defer cancel()
	}
	if err := l.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.recorder.RecordCallRejected(ctx, l.source, "rate_limit_timeout")
		return &WaitTimeoutError{Source: l.source, Timeout: l.waitTimeout}
	}
	return nil
}

// Registry hands out the per-source limiters of one process.
type Registry struct {
	cfg      *config.Config
	recorder metrics.MetricRecorder

	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates a Registry.
func NewRegistry(cfg *config.Config, recorder metrics.MetricRecorder) *Registry {
	return &Registry{
		cfg:      cfg,
		recorder: recorder,
		limiters: make(map[string]*Limiter),
	}
}

// ForSource returns the limiter of a source, creating it on first use from
// the source's configured pacing. A source with no positive rate gets an
// unlimited limiter.
func (r *Registry) ForSource(source string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[source]; ok {
		return l
	}

	lc := r.cfg.LimiterSettingsFor(source)
	limit := rate.Inf
	burst := 1
	if lc.RequestsPerSecond > 0 {
		limit = rate.Limit(lc.RequestsPerSecond)
		burst = lc.Burst
		if burst < 1 {
			burst = 1
		}
	}

	l := &Limiter{
		source:      source,
		limiter:     rate.NewLimiter(limit, burst),
		waitTimeout: time.Duration(lc.WaitTimeoutSeconds) * time.Second,
		recorder:    r.recorder,
	}
	r.limiters[source] = l
	logger.Debugf("Created rate limiter for source '%s' (%.2f rps, burst %d).", source, lc.RequestsPerSecond, burst)
	return l
}
