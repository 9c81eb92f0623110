// Package dogs defines the adapter port every CYNIC dog implements (C5),
// a self-registration registry for adapters (grounded on the teacher's
// contrib plugin-scorer convention), and the dog committee that fans
// votes out concurrently and joins them (C6).
package dogs

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/zeyxx/cynic/internal/axiom"
	"github.com/zeyxx/cynic/internal/cynicerr"
	"github.com/zeyxx/cynic/internal/judgment"
)

// Vote is what a dog's adapter produces for one cell: a score per
// requested dimension, plus the self-reported cost/latency/confidence.
type Vote struct {
	DogID      string
	Scores     map[axiom.DimensionID]float64
	Confidence float64
	CostUSD    float64
	DurationMS int64
}

// Adapter is the polymorphic capability set every dog backend implements,
// per spec.md §4.5: score_dimensions(cell, dims) and name().
type Adapter interface {
	// Name returns the adapter's stable identifier.
	Name() string

	// ScoreDimensions scores cell against dims, returning a score in
	// [0,1] for every requested dimension. It must return a value for
	// every element of dims or return an AdapterError.
	ScoreDimensions(ctx context.Context, cell *judgment.Cell, dims []axiom.DimensionID) (Vote, error)
}

// RetryPolicy configures the capped-exponential backoff applied around
// an Adapter call, grounded on the teacher's executor.RetryPolicy
// (smilemakc-mbflow's NodeExecutor retry wrapper).
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryPolicy retries a failed call up to 3 times after the first
// attempt, with a 200ms initial delay doubling up to 5s, jittered.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryingAdapter wraps an Adapter with capped-exponential-backoff
// retries. On final failure it returns an AdapterError-kinded
// *cynicerr.Error; the caller (the dog committee) drops the vote and
// continues, per spec.md §4.9's "individual dog error → drop that vote".
type RetryingAdapter struct {
	inner  Adapter
	policy RetryPolicy
}

// NewRetryingAdapter wraps inner with policy (DefaultRetryPolicy() if the
// zero value is passed).
func NewRetryingAdapter(inner Adapter, policy RetryPolicy) *RetryingAdapter {
	if policy.MaxAttempts == 0 && policy.InitialDelay == 0 {
		policy = DefaultRetryPolicy()
	}
	return &RetryingAdapter{inner: inner, policy: policy}
}

func (r *RetryingAdapter) Name() string { return r.inner.Name() }

func (r *RetryingAdapter) ScoreDimensions(ctx context.Context, cell *judgment.Cell, dims []axiom.DimensionID) (Vote, error) {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return Vote{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		vote, err := r.inner.ScoreDimensions(ctx, cell, dims)
		if err == nil {
			vote.Confidence = clampConfidence(vote.Confidence)
			return vote, nil
		}
		lastErr = err

		var perm errPermanent
		if errors.As(err, &perm) {
			break
		}
	}
	return Vote{}, cynicerr.Wrap(cynicerr.KindAdapterError, "dogs."+r.inner.Name(), lastErr, time.Now())
}

func (r *RetryingAdapter) calculateDelay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	delay := time.Duration(d)
	if r.policy.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
	}
	return delay
}

// errPermanent marks an adapter error as non-retryable (e.g. a malformed
// cell). Adapters may wrap errors with this to skip the retry loop.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// Permanent wraps err so RetryingAdapter will not retry it.
func Permanent(err error) error { return errPermanent{err: err} }

func clampConfidence(c float64) float64 {
	if c > axiom.MaxConfidence {
		return axiom.MaxConfidence
	}
	if c < 0 {
		return 0
	}
	return c
}
