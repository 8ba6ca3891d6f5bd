package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errBoom     = errors.New("boom")
	errRejected = errors.New("rejected")
)

func failing(context.Context) error    { return errBoom }
func succeeding(context.Context) error { return nil }

// frozenBreaker returns a breaker whose clock only moves through advance.
func frozenBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, func(time.Duration)) {
	now := time.Unix(1_700_000_000, 0)
	cb := NewCircuitBreaker(cfg)
	cb.now = func() time.Time { return now }
	return cb, func(d time.Duration) { now = now.Add(d) }
}

func TestCircuitBreakerOpensOnConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "node-a", FailureThreshold: 3, OpenTimeout: time.Minute})

	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), succeeding)
	_ = cb.Execute(context.Background(), failing)
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("a success must reset the streak, state %s", got)
	}

	_ = cb.Execute(context.Background(), failing)
	_ = cb.Execute(context.Background(), failing)
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("expected open after three in a row, got %s", got)
	}

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Fatalf("open breaker must reject without calling, err=%v called=%v", err, called)
	}
}

func TestCircuitBreakerSingleProbe(t *testing.T) {
	cb, advance := frozenBreaker(CircuitBreakerConfig{FailureThreshold: 1, OpenTimeout: time.Second})

	_ = cb.Execute(context.Background(), failing)
	advance(2 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(context.Background(), succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second call during probe should be rejected, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("successful probe should close, got %s", got)
	}
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	cb, advance := frozenBreaker(CircuitBreakerConfig{Name: "node-a:2333", FailureThreshold: 1, OpenTimeout: time.Second})

	_ = cb.Execute(context.Background(), failing)
	advance(time.Second)
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("expected half-open once the timeout passed, got %s", got)
	}

	_ = cb.Execute(context.Background(), failing)
	advance(400 * time.Millisecond)

	err := cb.Execute(context.Background(), succeeding)
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError, got %T", err)
	}
	if openErr.Name != "node-a:2333" || openErr.RetryAfter != 600*time.Millisecond {
		t.Fatalf("unexpected open error %+v", openErr)
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errRejected) },
	})

	for range 3 {
		if err := cb.Execute(context.Background(), func(context.Context) error { return errRejected }); !errors.Is(err, errRejected) {
			t.Fatalf("caller error must pass through, got %v", err)
		}
	}
	_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })

	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("expected circuit to stay closed, got %s", got)
	}
}

func TestCircuitBreakerReportsTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	cb, advance := frozenBreaker(CircuitBreakerConfig{
		Name:             "node-b",
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		OnStateChange: func(name string, from, to CircuitBreakerState) {
			mu.Lock()
			seen = append(seen, name+":"+string(from)+">"+string(to))
			mu.Unlock()
		},
	})

	_ = cb.Execute(context.Background(), failing)
	advance(time.Second)
	_ = cb.Execute(context.Background(), failing)
	cb.Reset()
	cb.Reset()

	want := []string{
		"node-b:closed>open",
		"node-b:open>half_open",
		"node-b:half_open>open",
		"node-b:open>closed",
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("unexpected transitions: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d: got %s, want %s", i, seen[i], want[i])
		}
	}
}
