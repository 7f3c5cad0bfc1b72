package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gatherly/syncstore/internal/cache"
	"github.com/gatherly/syncstore/internal/store"
	"github.com/gatherly/syncstore/pkg/errors"
	"github.com/gatherly/syncstore/pkg/types"
)

// stubQuality serves a fixed tier.
type stubQuality struct {
	tier types.ConnectionQuality
}

func (s stubQuality) State() types.NetworkQuality {
	return types.NetworkQuality{
		IsConnected:       s.tier != types.QualityOffline,
		ConnectionQuality: s.tier,
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = false
	return cfg
}

func newTestCache(t *testing.T) *cache.Manager {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "exec.db")}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	m, err := cache.NewManager(s, cache.GeneralConfig(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestAttemptTimeoutScalesWithTier(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseTimeout = 10 * time.Second
	cfg.MaxTimeout = 25 * time.Second
	e := New(cfg, nil, nil)

	tests := []struct {
		tier types.ConnectionQuality
		want time.Duration
	}{
		{types.QualityExcellent, 10 * time.Second},
		{types.QualityGood, 10 * time.Second},
		{types.QualityFair, 15 * time.Second},
		{types.QualityPoor, 20 * time.Second},
		{types.QualityOffline, 25 * time.Second}, // 30s capped at max
	}
	for _, tt := range tests {
		if got := e.AttemptTimeout(tt.tier); got != tt.want {
			t.Errorf("AttemptTimeout(%s) = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestAttemptBudgetScalesWithTier(t *testing.T) {
	e := New(DefaultConfig(), nil, nil)

	tests := []struct {
		tier types.ConnectionQuality
		want int
	}{
		{types.QualityExcellent, 3},
		{types.QualityGood, 3},
		{types.QualityFair, 4},
		{types.QualityPoor, 5},
		{types.QualityOffline, 0},
	}
	for _, tt := range tests {
		if got := e.AttemptBudget(tt.tier, 0); got != tt.want {
			t.Errorf("AttemptBudget(%s) = %d, want %d", tt.tier, got, tt.want)
		}
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	e := New(fastConfig(), stubQuality{types.QualityGood}, nil)
	got, err := Do(context.Background(), e, func(ctx context.Context) (string, error) {
		return "ok", nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ok" {
		t.Errorf("result = %q", got)
	}
}

func TestDoRetriesTransientFailure(t *testing.T) {
	e := New(fastConfig(), stubQuality{types.QualityGood}, nil)
	var calls atomic.Int32
	got, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		if calls.Add(1) < 3 {
			return 0, fmt.Errorf("transient")
		}
		return 42, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 || calls.Load() != 3 {
		t.Errorf("got %d after %d calls", got, calls.Load())
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	e := New(fastConfig(), stubQuality{types.QualityPoor}, nil)
	var calls atomic.Int32
	_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, errors.NewError(errors.ErrCodeOperationFailed, "bad request").WithRetryable(false)
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 for non-retryable error", calls.Load())
	}
	if errors.CodeOf(err) != errors.ErrCodeOperationFailed {
		t.Errorf("code = %s", errors.CodeOf(err))
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	e := New(fastConfig(), stubQuality{types.QualityGood}, nil)
	var calls atomic.Int32
	_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, fmt.Errorf("always failing")
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want the full budget of 3", calls.Load())
	}
}

func TestOfflineWithCachedValue(t *testing.T) {
	m := newTestCache(t)
	m.Set("events:feed", []string{"cached-event"}, nil)
	e := New(fastConfig(), stubQuality{types.QualityOffline}, nil)

	var calls atomic.Int32
	got, err := Do(context.Background(), e, func(ctx context.Context) ([]string, error) {
		calls.Add(1)
		return nil, fmt.Errorf("should not run")
	}, &Options{Cache: m, CacheKey: "events:feed"})
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 0 {
		t.Errorf("operation ran %d times while offline with a cached value", calls.Load())
	}
	if len(got) != 1 || got[0] != "cached-event" {
		t.Errorf("got %v", got)
	}
}

func TestOfflineWithoutCacheFailsFast(t *testing.T) {
	e := New(fastConfig(), stubQuality{types.QualityOffline}, nil)

	start := time.Now()
	_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		return 0, fmt.Errorf("should not run")
	}, nil)
	elapsed := time.Since(start)

	if !errors.IsOffline(err) {
		t.Fatalf("err = %v, want offline error", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("offline failure took %v, want fast fail", elapsed)
	}
}

func TestSuccessWritesBackToCache(t *testing.T) {
	m := newTestCache(t)
	e := New(fastConfig(), stubQuality{types.QualityGood}, nil)

	_, err := Do(context.Background(), e, func(ctx context.Context) (string, error) {
		return "fresh", nil
	}, &Options{Cache: m, CacheKey: "greeting"})
	if err != nil {
		t.Fatal(err)
	}

	got, ok := cache.Get[string](m, "greeting")
	if !ok || got != "fresh" {
		t.Errorf("cached = %q, ok=%v", got, ok)
	}
}

func TestCacheHitShortCircuitsNetwork(t *testing.T) {
	m := newTestCache(t)
	m.Set("greeting", "cached", nil)
	e := New(fastConfig(), stubQuality{types.QualityExcellent}, nil)

	var calls atomic.Int32
	got, err := Do(context.Background(), e, func(ctx context.Context) (string, error) {
		calls.Add(1)
		return "fresh", nil
	}, &Options{Cache: m, CacheKey: "greeting"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "cached" || calls.Load() != 0 {
		t.Errorf("got %q after %d calls, want cached value with no network", got, calls.Load())
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := fastConfig()
	cfg.BreakerThreshold = 2
	e := New(cfg, stubQuality{types.QualityGood}, nil)

	var calls atomic.Int32
	_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, fmt.Errorf("remote down")
	}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	// The third attempt finds the circuit open and is never executed.
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 before the circuit opened", calls.Load())
	}
	if errors.CodeOf(err) != errors.ErrCodeCircuitOpen {
		t.Errorf("code = %s, want CIRCUIT_OPEN", errors.CodeOf(err))
	}
}

func TestAttemptTimeoutAbandonsSlowOperation(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseTimeout = 20 * time.Millisecond
	cfg.MaxAttempts = 1
	e := New(cfg, stubQuality{types.QualityGood}, nil)

	_, err := Do(context.Background(), e, func(ctx context.Context) (int, error) {
		select {
		case <-time.After(time.Second):
			return 1, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}, nil)
	if errors.CodeOf(err) != errors.ErrCodeOperationTimeout {
		t.Errorf("err = %v, want OPERATION_TIMEOUT", err)
	}
}

func TestProgressIsMonotonicAndCompletes(t *testing.T) {
	e := New(fastConfig(), stubQuality{types.QualityGood}, nil)
	var reported []int
	var calls atomic.Int32

	_, err := Do(context.Background(), e, func(ctx context.Context) (string, error) {
		if calls.Add(1) < 2 {
			return "", fmt.Errorf("transient")
		}
		return "done", nil
	}, &Options{Progress: func(pct int) { reported = append(reported, pct) }})
	if err != nil {
		t.Fatal(err)
	}

	if len(reported) == 0 {
		t.Fatal("no progress reported")
	}
	for i := 1; i < len(reported); i++ {
		if reported[i] < reported[i-1] {
			t.Errorf("progress regressed: %v", reported)
		}
	}
	if reported[len(reported)-1] != 100 {
		t.Errorf("final progress = %d, want 100", reported[len(reported)-1])
	}
}

func TestNoQualitySourceDefaultsToHealthyPolicy(t *testing.T) {
	e := New(fastConfig(), nil, nil)
	got, err := Do(context.Background(), e, func(ctx context.Context) (bool, error) {
		return true, nil
	}, nil)
	if err != nil || !got {
		t.Fatalf("got %v, err %v", got, err)
	}
}
