// Package ratelimit throttles and supervises calls to external citation
// sources. Each source gets a shared token bucket, exhausted-retry backoff,
// and a per-batch circuit breaker. The limiter is injected wherever source
// calls are made so tests can use isolated instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"prct/prct/api"
	"prct/prct/monitoring"
	"prct/prct/sources"

	"golang.org/x/time/rate"
)

type Config struct {
	// Backoff schedule for retryable failures.
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	// Consecutive failed calls before a source is marked unavailable for the
	// rest of the batch.
	BreakAfter int

	// Hard per-call timeout, separate from the backoff schedule. Expiry
	// counts as one unreachable failure.
	CallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		Multiplier:  2,
		BreakAfter:  3,
		CallTimeout: 30 * time.Second,
	}
}

// Documented source limits: OpenAlex ~10 req/s, Semantic Scholar 1 req/3s
// unauthenticated, OpenCitations unthrottled, CrossRef polite pool ~50 req/s.
func DefaultRates() map[string]rate.Limit {
	return map[string]rate.Limit{
		api.OpenAlexSource:        rate.Limit(10),
		api.SemanticScholarSource: rate.Limit(1.0 / 3.0),
		api.OpenCitationsSource:   rate.Inf,
		api.CrossRefSource:        rate.Limit(50),
	}
}

type sourceState struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	failures int
	broken   bool
}

// Limiter is shared by every concurrent fetch in a batch. The token buckets
// and breaker counters are the only cross-fetch mutable state in the
// pipeline.
type Limiter struct {
	config Config

	mu     sync.Mutex
	states map[string]*sourceState
}

func NewLimiter(config Config, rates map[string]rate.Limit) *Limiter {
	states := make(map[string]*sourceState, len(rates))
	for source, limit := range rates {
		states[source] = &sourceState{limiter: rate.NewLimiter(limit, 1)}
	}
	return &Limiter{config: config, states: states}
}

func (l *Limiter) state(source string) *sourceState {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.states[source]
	if !ok {
		// Unknown sources run unthrottled rather than failing; the breaker
		// still applies.
		state = &sourceState{limiter: rate.NewLimiter(rate.Inf, 1)}
		l.states[source] = state
	}
	return state
}

func (s *sourceState) available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.broken
}

func (s *sourceState) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

func (s *sourceState) recordFailure(source string, breakAfter int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	if !s.broken && s.failures >= breakAfter {
		s.broken = true
		monitoring.CircuitBreaks.WithLabelValues(source).Inc()
		slog.Warn("source marked unavailable for remainder of batch", "source", source, "consecutive_failures", s.failures)
	}
}

// Reset closes all breakers and clears failure counts, called between
// batches.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, state := range l.states {
		state.mu.Lock()
		state.failures = 0
		state.broken = false
		state.mu.Unlock()
	}
}

func retryable(err error) bool {
	return errors.Is(err, sources.ErrRateLimited) || errors.Is(err, sources.ErrUnreachable)
}

// Do runs one rate-limited source call with retry, backoff, timeout, and
// circuit breaking. It returns the call result, the number of attempts made
// (zero when the call was fast-failed by an open breaker), and the final
// error.
func Do[T any](l *Limiter, ctx context.Context, source string, call func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T

	state := l.state(source)
	delay := l.config.BaseDelay

	for attempt := 1; ; attempt++ {
		// Checked per attempt: a concurrent fetch can open the breaker while
		// this call is between retries.
		if !state.available() {
			return zero, attempt - 1, sources.ErrSourceUnavailable
		}

		if err := state.limiter.Wait(ctx); err != nil {
			return zero, attempt - 1, fmt.Errorf("rate limiter: %w", err)
		}

		callCtx := ctx
		cancel := context.CancelFunc(func() {})
		if l.config.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, l.config.CallTimeout)
		}
		result, err := call(callCtx)
		timedOut := callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if timedOut {
			err = fmt.Errorf("%w: call timed out", sources.ErrUnreachable)
		}

		if err == nil || errors.Is(err, sources.ErrNotFound) {
			state.recordSuccess()
			return result, attempt, err
		}

		if ctx.Err() != nil {
			return zero, attempt, ctx.Err()
		}

		if retryable(err) && attempt < l.config.MaxAttempts {
			slog.Info("retrying source call", "source", source, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, attempt, ctx.Err()
			}
			delay = time.Duration(float64(delay) * l.config.Multiplier)
			continue
		}

		// Either a non-retryable failure (malformed, bad identifier) or the
		// retry budget is spent. Both count toward the breaker.
		monitoring.SourceFailures.WithLabelValues(source).Inc()
		state.recordFailure(source, l.config.BreakAfter)
		return zero, attempt, err
	}
}
