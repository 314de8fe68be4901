package extract

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"
)

// retryOpts parameterizes the centralized retry helper every remote call
// in this package goes through.
type retryOpts struct {
	MaxRetries int
	BaseWait   time.Duration
	MaxWait    time.Duration
	Factor     float64
}

// defaultHTTPRetry is the policy for individual HTTP calls: up to 2
// retries, base 0.5s, cap 8s, factor 2.
var defaultHTTPRetry = retryOpts{MaxRetries: 2, BaseWait: 500 * time.Millisecond, MaxWait: 8 * time.Second, Factor: 2}

// isRetryableHTTP reports whether err represents a connection error,
// timeout, or one of {408, 409, 429, >=500}. Non-retryable 4xx errors
// return false so they propagate immediately.
func isRetryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		switch se.Code {
		case 408, 409, 429:
			return true
		default:
			return se.Code >= 500
		}
	}
	// Of the remaining errors only a context deadline is treated as
	// transient; anything else is not retried.
	return errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs f, retrying on isRetryable(err) up to opts.MaxRetries
// additional times with exponential backoff. Non-retryable errors and
// context cancellation return immediately.
func withRetry(ctx context.Context, opts retryOpts, isRetryable func(error) bool, f func(context.Context) error) error {
	wait := opts.BaseWait
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		err := f(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == opts.MaxRetries || !isRetryable(err) {
			return err
		}
		sleep := time.Duration(float64(wait) * (0.75 + 0.5*rand.Float64()))
		if sleep > opts.MaxWait {
			sleep = opts.MaxWait
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		wait = time.Duration(math.Min(float64(wait)*opts.Factor, float64(opts.MaxWait)))
	}
	return lastErr
}

// pollBackoff computes successive job-poll wait durations: initial 1.0s,
// factor 1.5, cap 8.0s.
type pollBackoff struct {
	wait   time.Duration
	cap    time.Duration
	factor float64
}

func newPollBackoff() *pollBackoff {
	return &pollBackoff{wait: time.Second, cap: 8 * time.Second, factor: 1.5}
}

func (p *pollBackoff) next() time.Duration {
	cur := p.wait
	p.wait = time.Duration(math.Min(float64(p.wait)*p.factor, float64(p.cap)))
	return cur
}
