// Package retry wraps operations with bounded, jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrExhausted marks a retryable operation that failed on every
// attempt. Callers distinguish it from terminal failures with
// errors.Is so they can choose cycle-level logging over escalation.
var ErrExhausted = errors.New("retry attempts exhausted")

// Terminal wraps err so Do returns it immediately without consuming
// remaining attempts.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// A Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay randomized, 0..1
}

// DefaultPolicy matches conservative feed-polling etiquette.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   2 * time.Second,
	Factor:      2,
	MaxDelay:    time.Minute,
}

// sleepFunc is overridable in tests.
var sleepFunc = sleepCtx

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op up to p.MaxAttempts times. Errors marked Terminal return
// immediately; everything else is retried with backoff. When attempts
// run out the last error is wrapped with ErrExhausted.
func Do(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsTerminal(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		if attempt == p.MaxAttempts {
			break
		}
		if err := sleepFunc(ctx, p.delay(attempt)); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}

// delay computes base * factor^(attempt-1), jittered and capped.
func (p Policy) delay(attempt int) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= factor
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		// Randomize within ±Jitter of the computed delay.
		d += d * p.Jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retryable classifies transport-level failures: timeouts, connection
// resets, 5xx, and 429 are worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusTooManyRequests || httpErr.Status >= 500
	}

	s := err.Error()
	return strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "no such host") ||
		strings.Contains(s, "timeout")
}

// HTTPError carries a non-2xx response status and a body excerpt.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Classify wraps err for Do: retryable errors pass through, anything
// else is marked Terminal.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if Retryable(err) {
		return err
	}
	return Terminal(err)
}
