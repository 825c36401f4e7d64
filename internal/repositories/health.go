package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/orders/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyCheck is a named readiness probe, e.g. a Postgres ping.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthProbeOption customises a HealthProbe.
type HealthProbeOption func(*HealthProbe)

// WithProbeTimeout sets the timeout used by checks that do not declare their own.
func WithProbeTimeout(timeout time.Duration) HealthProbeOption {
	return func(p *HealthProbe) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithProbeClock injects a clock for tests.
func WithProbeClock(clock func() time.Time) HealthProbeOption {
	return func(p *HealthProbe) {
		if clock != nil {
			p.now = clock
		}
	}
}

// HealthProbe runs dependency checks concurrently and folds them into one report.
type HealthProbe struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

// NewHealthProbe validates the check set. An empty set is allowed and always reports ok, which is
// what the in-memory configuration uses.
func NewHealthProbe(checks []DependencyCheck, opts ...HealthProbeOption) (*HealthProbe, error) {
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" {
			return nil, errors.New("health probe: dependency check missing name")
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health probe: dependency %s missing check function", check.Name)
		}
	}
	probe := &HealthProbe{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(probe)
		}
	}
	return probe, nil
}

// Collect runs every check. Errors are reported per check rather than returned.
func (p *HealthProbe) Collect(ctx context.Context) domain.HealthReport {
	results := make(map[string]domain.HealthCheck, len(p.checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range p.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := p.run(ctx, check)
			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		switch result.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}
	return domain.HealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: p.now().UTC(),
	}
}

func (p *HealthProbe) run(ctx context.Context, check DependencyCheck) domain.HealthCheck {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	err := check.Check(checkCtx)
	end := p.now()

	result := domain.HealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end.UTC(),
	}
	switch {
	case err == nil && checkCtx.Err() != nil:
		// The check ignored its deadline.
		result.Status = domain.HealthStatusError
		result.Detail = checkCtx.Err().Error()
	case err == nil:
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	default:
		result.Status = domain.HealthStatusDegraded
		result.Detail = err.Error()
	}
	return result
}
