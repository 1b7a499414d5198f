package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavectl/internal/component"
)

type factoryFunc func(hc component.HealthCheck) (Checker, error)

func (f factoryFunc) For(hc component.HealthCheck) (Checker, error) { return f(hc) }

// scripted returns a checker that yields the given errors in order and then
// repeats the last one.
func scripted(results ...error) (Checker, *atomic.Int32) {
	var calls atomic.Int32
	return CheckerFunc(func(ctx context.Context) error {
		n := int(calls.Add(1)) - 1
		if n >= len(results) {
			n = len(results) - 1
		}
		return results[n]
	}), &calls
}

func proberWith(c Checker) *Prober {
	return NewProber(factoryFunc(func(component.HealthCheck) (Checker, error) { return c, nil }))
}

func comp(threshold int) component.Component {
	return component.Component{
		Name: "vault",
		Health: component.HealthCheck{
			Kind:             component.CheckCommand,
			Interval:         time.Millisecond,
			Timeout:          50 * time.Millisecond,
			SuccessThreshold: threshold,
		},
	}
}

func TestProbe_HealthyAfterConsecutiveSuccesses(t *testing.T) {
	failing := errors.New("sealed")
	checker, calls := scripted(failing, nil, failing, nil, nil, nil)

	res := proberWith(checker).Probe(context.Background(), comp(3), time.Now().Add(5*time.Second))

	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, 3, res.Consecutive)
	assert.Equal(t, 6, res.Checks)
	assert.EqualValues(t, 6, calls.Load())
	assert.NoError(t, res.Err)
}

func TestProbe_UnhealthyWhenRespondingButFailing(t *testing.T) {
	checker, _ := scripted(errors.New("503 from /health"))

	res := proberWith(checker).Probe(context.Background(), comp(1), time.Now().Add(30*time.Millisecond))

	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Greater(t, res.Checks, 1)
	assert.ErrorContains(t, res.Err, "503")
}

func TestProbe_TimeoutWhenUnreachable(t *testing.T) {
	checker, _ := scripted(Unreachable(errors.New("connection refused")))

	res := proberWith(checker).Probe(context.Background(), comp(1), time.Now().Add(30*time.Millisecond))

	assert.Equal(t, StatusTimeout, res.Status)
	assert.True(t, IsUnreachable(res.Err))
}

func TestProbe_LastCheckDecidesClassification(t *testing.T) {
	checker, _ := scripted(errors.New("degraded"), Unreachable(errors.New("no route")))

	res := proberWith(checker).Probe(context.Background(), comp(1), time.Now().Add(30*time.Millisecond))
	assert.Equal(t, StatusTimeout, res.Status)
}

func TestProbe_CheckTimeoutCountsAsUnreachable(t *testing.T) {
	slow := CheckerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := comp(1)
	c.Health.Timeout = 5 * time.Millisecond

	res := proberWith(slow).Probe(context.Background(), c, time.Now().Add(40*time.Millisecond))
	assert.Equal(t, StatusTimeout, res.Status)
}

func TestProbe_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	checker := CheckerFunc(func(context.Context) error {
		cancel()
		return errors.New("not yet")
	})

	res := proberWith(checker).Probe(ctx, comp(1), time.Now().Add(5*time.Second))
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.NotEqual(t, StatusHealthy, res.Status)
}

func TestProbe_FactoryError(t *testing.T) {
	p := NewProber(factoryFunc(func(component.HealthCheck) (Checker, error) {
		return nil, errors.New("unsupported")
	}))
	res := p.Probe(context.Background(), comp(1), time.Now().Add(time.Second))
	assert.Equal(t, StatusUnhealthy, res.Status)
	require.Error(t, res.Err)
	assert.Equal(t, 0, res.Checks)
}

func TestUnreachable(t *testing.T) {
	assert.Nil(t, Unreachable(nil))
	base := errors.New("dial tcp: refused")
	wrapped := Unreachable(base)
	assert.True(t, IsUnreachable(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Same(t, wrapped, Unreachable(wrapped))
	assert.True(t, IsUnreachable(context.DeadlineExceeded))
	assert.False(t, IsUnreachable(base))
}
