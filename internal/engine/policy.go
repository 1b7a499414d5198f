package engine

import (
	"context"
	"math"
	"time"

	"wavectl/internal/component"
)

// Backoff is an exponential delay schedule.
type Backoff struct {
	Initial time.Duration `yaml:"initial" mapstructure:"initial"`
	Factor  float64       `yaml:"factor" mapstructure:"factor"`
	Max     time.Duration `yaml:"max" mapstructure:"max"`
}

// Delay returns the wait before retry n (1-based).
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(b.Initial) * math.Pow(factor, float64(n-1)))
	if b.Max > 0 && (d > b.Max || d < 0) {
		d = b.Max
	}
	return d
}

// ApplyPolicy bounds executor retries.
type ApplyPolicy struct {
	Attempts int     `yaml:"attempts" mapstructure:"attempts"`
	Backoff  Backoff `yaml:"backoff" mapstructure:"backoff"`
}

// VerifyPolicy bounds health verification. Each probe cycle runs until its
// own deadline; unhealthy answers are re-probed sooner than timeouts.
type VerifyPolicy struct {
	Deadline         time.Duration `yaml:"deadline" mapstructure:"deadline"`
	Cycles           int           `yaml:"cycles" mapstructure:"cycles"`
	UnhealthyBackoff time.Duration `yaml:"unhealthyBackoff" mapstructure:"unhealthyBackoff"`
	TimeoutBackoff   Backoff       `yaml:"timeoutBackoff" mapstructure:"timeoutBackoff"`
}

// Policy is the engine's retry configuration.
type Policy struct {
	Apply  ApplyPolicy  `yaml:"apply" mapstructure:"apply"`
	Verify VerifyPolicy `yaml:"verify" mapstructure:"verify"`
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		Apply: ApplyPolicy{
			Attempts: 3,
			Backoff:  Backoff{Initial: 5 * time.Second, Factor: 2, Max: 60 * time.Second},
		},
		Verify: VerifyPolicy{
			Deadline:         300 * time.Second,
			Cycles:           5,
			UnhealthyBackoff: 5 * time.Second,
			TimeoutBackoff:   Backoff{Initial: 15 * time.Second, Factor: 2, Max: 60 * time.Second},
		},
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Apply.Attempts <= 0 {
		p.Apply.Attempts = d.Apply.Attempts
	}
	if p.Apply.Backoff.Initial <= 0 {
		p.Apply.Backoff = d.Apply.Backoff
	}
	if p.Verify.Deadline <= 0 {
		p.Verify.Deadline = d.Verify.Deadline
	}
	if p.Verify.Cycles <= 0 {
		p.Verify.Cycles = d.Verify.Cycles
	}
	if p.Verify.UnhealthyBackoff <= 0 {
		p.Verify.UnhealthyBackoff = d.Verify.UnhealthyBackoff
	}
	if p.Verify.TimeoutBackoff.Initial <= 0 {
		p.Verify.TimeoutBackoff = d.Verify.TimeoutBackoff
	}
	return p
}

// forComponent applies the component's retry override on top of p.
func (p Policy) forComponent(c component.Component) Policy {
	r := c.Retry
	if r.ApplyAttempts > 0 {
		p.Apply.Attempts = r.ApplyAttempts
	}
	if r.ApplyInitialBackoff > 0 {
		p.Apply.Backoff.Initial = r.ApplyInitialBackoff
	}
	if r.ApplyMaxBackoff > 0 {
		p.Apply.Backoff.Max = r.ApplyMaxBackoff
	}
	if r.VerifyCycles > 0 {
		p.Verify.Cycles = r.VerifyCycles
	}
	return p
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
