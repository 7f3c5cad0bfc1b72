// Package executor wraps network operations with connection-aware
// timeout and retry policy. Timeouts stretch and retry budgets grow as
// the link degrades, because failures on a poor link are usually
// transient; a fully offline device gets no retries at all, just the
// cache or a fast offline error.
package executor

import (
	"context"
	stderr "errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/gatherly/syncstore/internal/cache"
	"github.com/gatherly/syncstore/pkg/errors"
	"github.com/gatherly/syncstore/pkg/types"
)

// Config defines executor behavior configuration.
type Config struct {
	// BaseTimeout is the per-attempt timeout on a healthy link.
	BaseTimeout time.Duration `yaml:"base_timeout"`

	// MaxTimeout caps the tier-scaled per-attempt timeout.
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// MaxAttempts is the attempt budget on a healthy link, including the
	// initial attempt. Degraded tiers get more, offline gets none.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter adds randomness to delay to prevent thundering herd.
	Jitter bool `yaml:"jitter"`

	// BreakerThreshold is how many consecutive failures open the circuit.
	BreakerThreshold uint32 `yaml:"breaker_threshold"`

	// BreakerCooldown is how long the circuit stays open before probing.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// DefaultConfig returns a sensible default executor configuration.
func DefaultConfig() Config {
	return Config{
		BaseTimeout:      10 * time.Second,
		MaxTimeout:       60 * time.Second,
		MaxAttempts:      3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		Multiplier:       2.0,
		Jitter:           true,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// MetricsRecorder receives executor observability events. A nil
// recorder disables reporting.
type MetricsRecorder interface {
	ObserveOperation(duration time.Duration, outcome string)
}

// Options adjusts a single Do call.
type Options struct {
	// Cache plus CacheKey enable read-through caching: a fresh cached
	// value short-circuits the network entirely, and a successful result
	// is written back.
	Cache    *cache.Manager
	CacheKey string
	CacheTTL time.Duration

	// Progress receives a monotonically non-decreasing 0-100 value for
	// UI feedback. It never influences control flow.
	Progress func(pct int)

	// MaxAttempts overrides the configured healthy-link budget.
	MaxAttempts int
}

// Executor runs operations under the current connection tier's policy.
type Executor struct {
	cfg     Config
	quality types.QualitySource
	breaker *gobreaker.CircuitBreaker
	metrics MetricsRecorder
	logger  *zap.Logger
	mu      sync.Mutex
}

// New creates an executor reading the connection tier from quality.
func New(cfg Config, quality types.QualitySource, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = def.BaseTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = def.MaxTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}

	logger = logger.With(zap.String("component", "executor"))
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "remote-operations",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Executor{
		cfg:     cfg,
		quality: quality,
		breaker: breaker,
		logger:  logger,
	}
}

// SetMetrics attaches an observability recorder. Call once during wiring.
func (e *Executor) SetMetrics(rec MetricsRecorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = rec
}

func (e *Executor) recorder() MetricsRecorder {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// tier returns the current connection quality, defaulting to good when
// no quality source is wired.
func (e *Executor) tier() types.ConnectionQuality {
	if e.quality == nil {
		return types.QualityGood
	}
	return e.quality.State().ConnectionQuality
}

// AttemptTimeout is the per-attempt timeout for the given tier: the
// baseline stretched on degraded links and capped at MaxTimeout.
func (e *Executor) AttemptTimeout(tier types.ConnectionQuality) time.Duration {
	multiplier := 1.0
	switch tier {
	case types.QualityFair:
		multiplier = 1.5
	case types.QualityPoor:
		multiplier = 2.0
	case types.QualityOffline:
		multiplier = 3.0
	}
	timeout := time.Duration(float64(e.cfg.BaseTimeout) * multiplier)
	if timeout > e.cfg.MaxTimeout {
		timeout = e.cfg.MaxTimeout
	}
	return timeout
}

// AttemptBudget is the attempt count for the given tier. Poor links get
// extra attempts since their failures are more likely transient;
// offline gets zero because retrying with no link is pointless.
func (e *Executor) AttemptBudget(tier types.ConnectionQuality, base int) int {
	if base <= 0 {
		base = e.cfg.MaxAttempts
	}
	switch tier {
	case types.QualityOffline:
		return 0
	case types.QualityPoor:
		return base + 2
	case types.QualityFair:
		return base + 1
	default:
		return base
	}
}

// progressReporter clamps progress to a non-decreasing 0-100 sequence.
type progressReporter struct {
	fn   func(int)
	last int
}

func (p *progressReporter) report(pct int) {
	if p == nil || p.fn == nil {
		return
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}

// Do runs op under the current tier's timeout and retry policy, with
// optional read-through caching. Offline with a cached value returns
// the cached value without touching the network; offline without one
// fails fast instead of waiting out a timeout.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error), opts *Options) (T, error) {
	var zero T
	if opts == nil {
		opts = &Options{}
	}
	progress := &progressReporter{fn: opts.Progress}
	start := time.Now()

	tier := e.tier()
	cached, haveCached := cachedValue[T](opts)
	if haveCached {
		// A fresh cache entry short-circuits the network on every tier.
		progress.report(100)
		e.observe(start, "cache_hit")
		return cached, nil
	}
	if tier == types.QualityOffline {
		e.observe(start, "offline")
		return zero, errors.NewError(errors.ErrCodeOffline, "device is offline and no cached value is available").
			WithComponent("executor")
	}

	attempts := e.AttemptBudget(tier, opts.MaxAttempts)
	timeout := e.AttemptTimeout(tier)
	progress.report(5)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			e.observe(start, "cancelled")
			return zero, errors.Wrap(errors.ErrCodeOperationTimeout, "operation cancelled", ctx.Err()).
				WithComponent("executor")
		default:
		}

		result, err := e.attempt(ctx, timeout, func(ctx context.Context) (any, error) {
			return op(ctx)
		})
		if err == nil {
			value, ok := result.(T)
			if !ok {
				return zero, errors.NewError(errors.ErrCodeInternalError, "operation returned unexpected type").
					WithComponent("executor")
			}
			writeBack(opts, value)
			progress.report(100)
			e.observe(start, "success")
			return value, nil
		}
		lastErr = err

		if !e.shouldRetry(err, attempt, attempts) {
			break
		}
		// Scale reported progress across the attempt budget, leaving
		// headroom so completion is always the only 100.
		progress.report(5 + attempt*90/attempts)

		delay := e.calculateDelay(attempt)
		e.logger.Debug("operation attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			e.observe(start, "cancelled")
			return zero, errors.Wrap(errors.ErrCodeOperationTimeout, "operation cancelled during backoff", ctx.Err()).
				WithComponent("executor")
		case <-time.After(delay):
		}
	}

	e.observe(start, "failure")
	if stderr.Is(lastErr, gobreaker.ErrOpenState) {
		return zero, errors.Wrap(errors.ErrCodeCircuitOpen, "remote operations suspended after repeated failures", lastErr).
			WithComponent("executor")
	}
	var syncErr *errors.SyncError
	if stderr.As(lastErr, &syncErr) {
		return zero, lastErr
	}
	return zero, errors.Wrap(errors.ErrCodeOperationFailed, "operation failed", lastErr).
		WithComponent("executor")
}

// attempt runs one try through the circuit breaker with the tier's
// timeout. The timeout races the operation; it does not abort work the
// executor does not own.
func (e *Executor) attempt(ctx context.Context, timeout time.Duration, op func(context.Context) (any, error)) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	result, err := e.breaker.Execute(func() (any, error) {
		go func() {
			v, err := op(attemptCtx)
			done <- outcome{value: v, err: err}
		}()
		select {
		case out := <-done:
			return out.value, out.err
		case <-attemptCtx.Done():
			return nil, errors.Wrap(errors.ErrCodeOperationTimeout, "attempt timed out", attemptCtx.Err()).
				WithComponent("executor")
		}
	})
	return result, err
}

// shouldRetry mirrors the error policy: breaker-open and explicitly
// non-retryable errors abort immediately; everything else is presumed
// transient on a network path.
func (e *Executor) shouldRetry(err error, attempt, attempts int) bool {
	if attempt >= attempts {
		return false
	}
	if stderr.Is(err, gobreaker.ErrOpenState) || stderr.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var syncErr *errors.SyncError
	if stderr.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return true
}

// calculateDelay computes exponential backoff with optional ±20% jitter.
func (e *Executor) calculateDelay(attempt int) time.Duration {
	delay := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.Multiplier, float64(attempt-1))
	if delay > float64(e.cfg.MaxDelay) {
		delay = float64(e.cfg.MaxDelay)
	}
	if e.cfg.Jitter {
		delay += delay * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(delay)
}

func (e *Executor) observe(start time.Time, outcome string) {
	if rec := e.recorder(); rec != nil {
		rec.ObserveOperation(time.Since(start), outcome)
	}
}

func cachedValue[T any](opts *Options) (T, bool) {
	var zero T
	if opts.Cache == nil || opts.CacheKey == "" {
		return zero, false
	}
	return cache.Get[T](opts.Cache, opts.CacheKey)
}

func writeBack[T any](opts *Options, value T) {
	if opts.Cache == nil || opts.CacheKey == "" {
		return
	}
	var cacheOpts *cache.Options
	if opts.CacheTTL != 0 {
		cacheOpts = &cache.Options{TTL: opts.CacheTTL}
	}
	opts.Cache.Set(opts.CacheKey, value, cacheOpts)
}
