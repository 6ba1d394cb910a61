package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestBreakerLifecycle(t *testing.T) {
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Cooldown: time.Minute})
	b.now = clk.now

	boom := errors.New("boom")
	fail := func() error { return boom }
	ok := func() error { return nil }

	// a success resets the failure count
	_ = b.Call(fail)
	_ = b.Call(fail)
	_ = b.Call(ok)
	_ = b.Call(fail)
	_ = b.Call(fail)
	if got := b.State(); got != CircuitClosed {
		t.Fatalf("state = %s, want CLOSED", got)
	}

	if err := b.Call(fail); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if got := b.State(); got != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}

	called := false
	if err := b.Call(func() error { called = true; return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open circuit ran the call")
	}

	// cooldown elapses: one probe fails and reopens the circuit
	clk.t = clk.t.Add(time.Minute)
	_ = b.Call(fail)
	if got := b.State(); got != CircuitOpen {
		t.Fatalf("state = %s, want OPEN after failed probe", got)
	}

	clk.t = clk.t.Add(time.Minute)
	_ = b.Call(ok)
	if got := b.State(); got != CircuitHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", got)
	}
	_ = b.Call(ok)
	if got := b.State(); got != CircuitClosed {
		t.Fatalf("state = %s, want CLOSED", got)
	}

	stats := b.Stats()
	if stats.Rejected != 1 || stats.Failed != 6 || stats.LastFailure != "boom" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBreakerClampsThresholds(t *testing.T) {
	b := NewBreaker("zero", BreakerConfig{})
	_ = b.Call(func() error { return errors.New("x") })
	if got := b.State(); got != CircuitOpen {
		t.Errorf("state = %s, want OPEN after one failure", got)
	}
}

func TestCheckerWorstStatusWins(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("db", DatabaseHealthCheck(func(context.Context) error { return nil }, 0))

	h := c.Check(context.Background())
	if h.Status != HealthStatusHealthy || len(h.Components) != 1 || h.Components[0].Name != "db" {
		t.Fatalf("health = %+v", h)
	}

	open := NewBreaker("nats", BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	_ = open.Call(func() error { return errors.New("refused") })
	c.Register("nats", BreakerHealthCheck(open))
	if h := c.Check(context.Background()); h.Status != HealthStatusDegraded {
		t.Errorf("status = %s, want DEGRADED", h.Status)
	}

	c.Register("db", DatabaseHealthCheck(func(context.Context) error { return errors.New("locked") }, 0))
	h = c.Check(context.Background())
	if h.Status != HealthStatusUnhealthy {
		t.Errorf("status = %s, want UNHEALTHY", h.Status)
	}
	if h.Components[0].Name != "db" || h.Components[1].Name != "nats" {
		t.Errorf("components not sorted: %+v", h.Components)
	}
}

func TestCheckerRecoversPanics(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("bad", func(context.Context) ComponentHealth { panic("nope") })
	h := c.Check(context.Background())
	if h.Status != HealthStatusUnhealthy || h.Components[0].Name != "bad" {
		t.Errorf("health = %+v", h)
	}
}
