package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/taskforge/taskforge/internal/registry"
)

// RetryConfig configures per-step retry behavior. Only errors the step's
// executable flags as transient (registry.Transient) are retried.
type RetryConfig struct {
	MaxAttempts         int           // Total attempts including the first (default 3)
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:         3,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = d.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = d.MaxInterval
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.RandomizationFactor < 0 {
		c.RandomizationFactor = d.RandomizationFactor
	}
	return c
}

// breakerRegistry manages per-step-key circuit breakers. A step that
// keeps failing across runs trips its breaker and fails fast until the
// cool-down elapses.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// get returns the circuit breaker for the step key, creating it on
// first use.
func (r *breakerRegistry) get(stepKey string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[stepKey]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        stepKey,
		MaxRequests: 3,                // Test requests allowed half-open
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not a step failure.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})
	r.breakers[stepKey] = cb
	return cb
}

// runBounded executes the step body in its own goroutine so the attempt
// deadline holds even for steps that never look at their context. On
// expiry the step is abandoned, not terminated: the goroutine keeps
// running to completion and its late result is discarded through the
// buffered channel.
func runBounded(ctx context.Context, step *registry.Runnable, values map[string]string) (map[string]string, error) {
	type stepResult struct {
		outputs map[string]string
		err     error
	}
	done := make(chan stepResult, 1)
	go func() {
		outputs, err := step.Execute(ctx, values)
		done <- stepResult{outputs: outputs, err: err}
	}()

	select {
	case res := <-done:
		return res.outputs, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// executeStep runs one step with a bounded per-attempt timeout, an
// exponential-backoff retry policy, and circuit breaker protection.
// It returns the step outputs, the number of attempts made, and the
// final error if the step did not succeed.
func executeStep(ctx context.Context, step *registry.Runnable, values map[string]string, cb *gobreaker.CircuitBreaker, retryCfg RetryConfig, stepTimeout time.Duration) (map[string]string, int, error) {
	var outputs map[string]string
	attempts := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempts++

		attemptCtx := ctx
		cancel := func() {}
		if stepTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, stepTimeout)
		}
		result, err := cb.Execute(func() (interface{}, error) {
			return runBounded(attemptCtx, step, values)
		})
		cancel()

		if err != nil {
			// Circuit open: fail fast, no local retry.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			// Caller cancelled: stop retrying.
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			// Attempt timeout is not retried: the step had its bounded
			// window and did not come back.
			if errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(&StepTimeoutError{Key: step.Key(), Timeout: stepTimeout})
			}
			// Only executable-flagged transient errors are retried.
			if registry.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if result != nil {
			outputs, _ = result.(map[string]string)
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryCfg.InitialInterval
	policy.MaxInterval = retryCfg.MaxInterval
	policy.MaxElapsedTime = 0 // Bounded by attempt count, not wall clock
	policy.Multiplier = retryCfg.Multiplier
	policy.RandomizationFactor = retryCfg.RandomizationFactor

	bounded := backoff.WithMaxRetries(policy, uint64(retryCfg.MaxAttempts-1))
	err := backoff.Retry(operation, backoff.WithContext(bounded, ctx))
	if err != nil {
		return nil, attempts, err
	}
	return outputs, attempts, nil
}
