package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

// captureSleeps replaces the backoff sleep and records requested delays.
func captureSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleepFunc
	sleepFunc = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { sleepFunc = orig })
	return &delays
}

func TestDoBackoffSequence(t *testing.T) {
	delays := captureSleeps(t)

	p := Policy{MaxAttempts: 4, BaseDelay: time.Second, Factor: 2, MaxDelay: time.Minute}
	attempts := 0
	err := Do(context.Background(), p, func(context.Context) error {
		attempts++
		return errors.New("transient")
	})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", attempts)
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(*delays))
	}
	for i, d := range want {
		if (*delays)[i] != d {
			t.Fatalf("sleep %d: expected %s, got %s", i, d, (*delays)[i])
		}
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	captureSleeps(t)

	attempts := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoTerminalStopsImmediately(t *testing.T) {
	captureSleeps(t)

	sentinel := errors.New("bad payload")
	attempts := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(context.Context) error {
		attempts++
		return Terminal(sentinel)
	})

	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Fatalf("terminal error must not look exhausted")
	}
}

func TestDoExhaustedKeepsLastError(t *testing.T) {
	captureSleeps(t)

	last := &HTTPError{Status: http.StatusBadGateway}
	err := Do(context.Background(), Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		return fmt.Errorf("send: %w", last)
	})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadGateway {
		t.Fatalf("expected last error preserved in chain, got %v", err)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour}, func(context.Context) error {
		attempts++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestDelayCappedAndJittered(t *testing.T) {
	p := Policy{BaseDelay: time.Second, Factor: 10, MaxDelay: 5 * time.Second}
	if d := p.delay(4); d != 5*time.Second {
		t.Fatalf("expected cap at 5s, got %s", d)
	}

	p.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := p.delay(1)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %s", d)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &HTTPError{Status: http.StatusTooManyRequests}, true},
		{"500", &HTTPError{Status: http.StatusInternalServerError}, true},
		{"wrapped 503", fmt.Errorf("send: %w", &HTTPError{Status: 503}), true},
		{"404", &HTTPError{Status: http.StatusNotFound}, false},
		{"401", &HTTPError{Status: http.StatusUnauthorized}, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if err := Classify(nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := Classify(&HTTPError{Status: 503}); IsTerminal(err) {
		t.Fatalf("503 must stay retryable")
	}
	if err := Classify(&HTTPError{Status: 400}); !IsTerminal(err) {
		t.Fatalf("400 must be terminal")
	}
}
