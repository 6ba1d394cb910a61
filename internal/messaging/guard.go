package messaging

import (
	"errors"

	"github.com/rs/zerolog"

	"fib-targets/internal/resilience"
)

// GuardedPublisher stops calling a failing publisher once its breaker
// opens, so a dead broker costs one rejected call per event instead of a
// network timeout.
type GuardedPublisher struct {
	pub     Publisher
	breaker *resilience.Breaker
	logger  zerolog.Logger
}

// NewGuardedPublisher wraps pub with breaker.
func NewGuardedPublisher(pub Publisher, breaker *resilience.Breaker, logger zerolog.Logger) *GuardedPublisher {
	return &GuardedPublisher{pub: pub, breaker: breaker, logger: logger}
}

// Publish forwards to the wrapped publisher while the circuit allows it.
func (g *GuardedPublisher) Publish(subject string, data []byte) error {
	before := g.breaker.State()
	err := g.breaker.Call(func() error {
		return g.pub.Publish(subject, data)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return err
	}
	if after := g.breaker.State(); after != before {
		g.logger.Warn().
			Str("breaker", g.breaker.Name()).
			Str("from", string(before)).
			Str("to", string(after)).
			Msg("Publish circuit changed state")
	}
	return err
}

// Breaker returns the breaker guarding the publisher.
func (g *GuardedPublisher) Breaker() *resilience.Breaker {
	return g.breaker
}
