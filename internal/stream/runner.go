package stream

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fib-targets/internal/analysis/fib"
	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/logging"
	"fib-targets/internal/models"
	"fib-targets/internal/series"
)

// Tap observes one symbol's engine: it receives the zones the engine draws
// and every signal it publishes.
type Tap interface {
	fib.ZoneSink
	// Advance is called with each bar's time before the engine sees the bar.
	Advance(barTime time.Time)
	RecordSignal(sig models.Signal) error
}

// TapFactory opens the tap for a symbol when its engine starts.
type TapFactory func(ctx context.Context, symbol string) (Tap, error)

// SinkTap adapts a plain zone sink to a Tap that ignores signals.
type SinkTap struct {
	fib.ZoneSink
}

func (SinkTap) Advance(time.Time)                {}
func (SinkTap) RecordSignal(models.Signal) error { return nil }

// MultiTap fans out to several taps and returns the first error.
type MultiTap []Tap

func (m MultiTap) Draw(zone models.Zone) error {
	var first error
	for _, t := range m {
		if err := t.Draw(zone); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiTap) Remove(id string) error {
	var first error
	for _, t := range m {
		if err := t.Remove(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m MultiTap) Advance(barTime time.Time) {
	for _, t := range m {
		t.Advance(barTime)
	}
}

func (m MultiTap) RecordSignal(sig models.Signal) error {
	var first error
	for _, t := range m {
		if err := t.RecordSignal(sig); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// SymbolResult summarises one symbol's run.
type SymbolResult struct {
	Symbol     string        `json:"symbol"`
	Bars       int           `json:"bars"`
	Rejected   int           `json:"rejected"` // out-of-order bars
	Signals    int           `json:"signals"`  // bars with a retrace
	Zones      int           `json:"zones"`
	LastSignal models.Signal `json:"last_signal"`
	Err        error         `json:"-"`
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithTaps sets how each symbol's tap is opened.
func WithTaps(open TapFactory) RunnerOption {
	return func(r *Runner) {
		r.open = open
	}
}

// WithSessionFunc sets the session split handed to every engine.
func WithSessionFunc(fn series.SessionFunc) RunnerOption {
	return func(r *Runner) {
		r.session = fn
	}
}

// Runner drives one engine per symbol, each in its own goroutine, from a
// hub subscription.
type Runner struct {
	hub     *Hub
	cfg     fib.Config
	logger  zerolog.Logger
	open    TapFactory
	session series.SessionFunc

	wg      sync.WaitGroup
	mu      sync.Mutex
	results map[string]*SymbolResult
}

// NewRunner creates a runner over hub. cfg is validated here so a bad
// configuration fails before any goroutine starts.
func NewRunner(hub *Hub, cfg fib.Config, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, "runner config")
	}
	r := &Runner{
		hub:     hub,
		cfg:     cfg,
		logger:  zerolog.Nop(),
		results: make(map[string]*SymbolResult),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.WithComponent(r.logger, "runner")
	return r, nil
}

// Start subscribes every symbol and launches its engine. It must be called
// before bars are published.
func (r *Runner) Start(ctx context.Context, symbols []string) error {
	for _, symbol := range symbols {
		r.mu.Lock()
		_, dup := r.results[symbol]
		if !dup {
			r.results[symbol] = &SymbolResult{Symbol: symbol}
		}
		r.mu.Unlock()
		if dup {
			continue
		}

		tap := Tap(SinkTap{fib.NopSink{}})
		if r.open != nil {
			t, err := r.open(ctx, symbol)
			if err != nil {
				return apperrors.Wrapf(err, "opening tap for %s", symbol)
			}
			tap = t
		}

		opts := []fib.Option{
			fib.WithSymbol(symbol),
			fib.WithLogger(r.logger),
			fib.WithSink(&countingTap{Tap: tap, runner: r, symbol: symbol}),
		}
		if r.session != nil {
			opts = append(opts, fib.WithSession(r.session))
		}
		engine, err := fib.NewEngine(r.cfg, opts...)
		if err != nil {
			return apperrors.Wrapf(err, "engine for %s", symbol)
		}

		bars := r.hub.SubscribeWithID(symbol, "engine:"+symbol)
		r.wg.Add(1)
		go r.drive(ctx, symbol, engine, tap, bars)
	}
	return nil
}

func (r *Runner) drive(ctx context.Context, symbol string, engine *fib.Engine, tap Tap, bars <-chan models.Bar) {
	defer r.wg.Done()
	defer engine.Close()

	logger := logging.WithSymbol(r.logger, symbol)
	failed := false

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("Runner stopped by context")
			return
		case bar, ok := <-bars:
			if !ok {
				return
			}
			if failed {
				// keep draining so the hub never blocks on this subscriber
				continue
			}

			tap.Advance(bar.Timestamp)
			sig, err := engine.Update(bar)
			switch {
			case errors.Is(err, apperrors.ErrOutOfOrder):
				logger.Warn().Err(err).Msg("Dropping out-of-order bar")
				r.update(symbol, func(res *SymbolResult) { res.Rejected++ })
				continue
			case err != nil:
				logger.Error().Err(err).Msg("Engine failed")
				r.update(symbol, func(res *SymbolResult) { res.Err = err })
				failed = true
				continue
			}

			if err := tap.RecordSignal(sig); err != nil {
				logger.Warn().Err(err).Int("bar", sig.BarIndex).Msg("Failed to record signal")
			}
			r.update(symbol, func(res *SymbolResult) {
				res.Bars++
				res.LastSignal = sig
				if sig.HasAny() {
					res.Signals++
				}
			})
		}
	}
}

func (r *Runner) update(symbol string, fn func(*SymbolResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.results[symbol]; ok {
		fn(res)
	}
}

// Wait blocks until every engine goroutine has exited and returns the
// per-symbol results sorted by symbol.
func (r *Runner) Wait() []SymbolResult {
	r.wg.Wait()
	return r.Results()
}

// Results returns a snapshot of the per-symbol results sorted by symbol.
func (r *Runner) Results() []SymbolResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SymbolResult, 0, len(r.results))
	for _, res := range r.results {
		out = append(out, *res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// countingTap counts draws into the runner's result for a symbol.
type countingTap struct {
	Tap
	runner *Runner
	symbol string
}

func (c *countingTap) Draw(zone models.Zone) error {
	c.runner.update(c.symbol, func(res *SymbolResult) { res.Zones++ })
	return c.Tap.Draw(zone)
}
