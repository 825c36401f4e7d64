package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/hanko-field/orders/internal/platform/tasks"

// Func is a unit of best-effort work.
type Func func(ctx context.Context) error

// Logger receives task failures. It mirrors the service logger signature used across the codebase.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Policy bounds retries for a task. A zero MaxRetries runs the task once.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
}

// NoRetry runs the task once.
var NoRetry = Policy{}

// Runner executes best-effort tasks: failures are logged and never propagated to the caller, since the
// primary state change they follow has already been committed.
type Runner struct {
	logger   Logger
	detached bool
	sleep    func(time.Duration)
	outcomes metric.Int64Counter
	inflight sync.WaitGroup
}

// Option customises Runner construction.
type Option func(*Runner)

// WithLogger sets the failure logger.
func WithLogger(logger Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDetached runs tasks on their own goroutine with a context detached from request cancellation.
// Callers must Wait before releasing the clients those tasks use.
func WithDetached(detached bool) Option {
	return func(r *Runner) {
		r.detached = detached
	}
}

// WithSleep replaces the wait between retries, which otherwise uses a real timer. Intended for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(r *Runner) {
		r.sleep = sleep
	}
}

// NewRunner constructs a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if counter, err := otel.Meter(meterName).Int64Counter("best_effort_task.outcomes",
		metric.WithDescription("Best-effort task completions by outcome")); err == nil {
		r.outcomes = counter
	}
	return r
}

// Run executes fn under policy. It returns once the task finished, unless the runner is detached.
func (r *Runner) Run(ctx context.Context, name string, policy Policy, fn Func) {
	if r == nil || fn == nil {
		return
	}
	if r.detached {
		detachedCtx := context.WithoutCancel(ctx)
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.execute(detachedCtx, name, policy, fn)
		}()
		return
	}
	r.execute(ctx, name, policy, fn)
}

// Wait blocks until every detached task has finished or ctx is done. Inline runners return at once.
func (r *Runner) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	drained := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) execute(ctx context.Context, name string, policy Policy, fn Func) {
	attempts := 0
	operation := func() error {
		attempts++
		callCtx := ctx
		if policy.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
			defer cancel()
		}
		err := fn(callCtx)
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	err := r.retry(ctx, policy, operation)
	outcome := "succeeded"
	if err != nil {
		outcome = "failed"
		r.logger(ctx, "task.failed", map[string]any{
			"task":     name,
			"attempts": attempts,
			"error":    err.Error(),
		})
	}
	if r.outcomes != nil {
		r.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("task", name),
			attribute.String("outcome", outcome),
		))
	}
}

func (r *Runner) retry(ctx context.Context, policy Policy, operation backoff.Operation) error {
	expo := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		expo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		expo.MaxInterval = policy.MaxInterval
	}
	expo.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(expo, policy.MaxRetries), ctx)
	var timer backoff.Timer
	if r.sleep != nil {
		timer = &sleepTimer{sleep: r.sleep, fired: make(chan time.Time, 1)}
	}
	return backoff.RetryNotifyWithTimer(operation, b, nil, timer)
}

// sleepTimer adapts a sleep function to backoff.Timer. It fires as soon as sleep returns.
type sleepTimer struct {
	sleep func(time.Duration)
	fired chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	t.sleep(d)
	t.fired <- time.Time{}
}

func (t *sleepTimer) Stop() {}

func (t *sleepTimer) C() <-chan time.Time { return t.fired }
