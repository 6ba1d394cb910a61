package fib

import (
	"github.com/rs/zerolog"

	"fib-targets/internal/analysis/swing"
	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/logging"
	"fib-targets/internal/models"
	"fib-targets/internal/series"
)

// noAnchor marks a track that has not acted on any swing yet.
const noAnchor = -1

// State is the engine's memory between bars. Each track remembers only the
// single most recent swing it acted on.
type State struct {
	ConfirmedHighBar  int // bear dedup key
	ConfirmedLowBar   int // bull dedup key
	PredictiveHighBar int
	PredictiveLowBar  int
	LiveBear          *models.Zone // live predictive bear zone
	LiveBull          *models.Zone // live predictive bull zone
}

func newState() State {
	return State{
		ConfirmedHighBar:  noAnchor,
		ConfirmedLowBar:   noAnchor,
		PredictiveHighBar: noAnchor,
		PredictiveLowBar:  noAnchor,
	}
}

func (s State) clone() State {
	out := s
	if s.LiveBear != nil {
		z := *s.LiveBear
		out.LiveBear = &z
	}
	if s.LiveBull != nil {
		z := *s.LiveBull
		out.LiveBull = &z
	}
	return out
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSink sets where zones are drawn.
func WithSink(sink ZoneSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithSymbol names the instrument the engine runs on.
func WithSymbol(symbol string) Option {
	return func(e *Engine) {
		e.symbol = symbol
	}
}

// WithSession sets how bars are split into trading sessions. Swings from a
// previous session are never paired.
func WithSession(fn series.SessionFunc) Option {
	return func(e *Engine) {
		e.session = fn
	}
}

// Engine runs the retracement state machine for one bar stream. It is not
// safe for concurrent use; run one engine per goroutine.
type Engine struct {
	cfg        Config
	symbol     string
	logger     zerolog.Logger
	sink       ZoneSink
	session    series.SessionFunc
	gate       TrendGate
	bars       *series.Series
	primary    *swing.Detector
	predictive *swing.Detector // nil unless predictive retracements are on
	state      State
	signals    []models.Signal
	terminated bool
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, "building retracement engine")
	}

	e := &Engine{
		cfg:    cfg,
		logger: zerolog.Nop(),
		sink:   NopSink{},
		gate:   NewTrendGate(cfg.RequireSwingTrend),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.WithComponent(e.logger, "fib_engine")
	if e.symbol != "" {
		e.logger = logging.WithSymbol(e.logger, e.symbol)
	}

	if err := e.init(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) init() error {
	e.bars = series.New(e.cfg.MaxBarsLookBack, e.session)

	primary, err := swing.NewDetector(e.cfg.SwingStrength, e.bars)
	if err != nil {
		return apperrors.Wrap(err, "primary swing detector")
	}
	e.primary = primary

	e.predictive = nil
	if e.cfg.UsePredictiveRetracements {
		predictive, err := swing.NewDetector(e.cfg.PredictiveSwingStrength, e.bars)
		if err != nil {
			return apperrors.Wrap(err, "predictive swing detector")
		}
		e.predictive = predictive
	}

	e.state = newState()
	e.signals = nil
	return nil
}

// Config returns the engine parameters.
func (e *Engine) Config() Config {
	return e.cfg
}

// Symbol returns the instrument name.
func (e *Engine) Symbol() string {
	return e.symbol
}

// CurrentBar returns the index of the last processed bar, or -1.
func (e *Engine) CurrentBar() int {
	return e.bars.CurrentBar()
}

// State returns a snapshot of the engine state.
func (e *Engine) State() State {
	return e.state.clone()
}

// Update processes one closed bar and returns the signal published for it.
func (e *Engine) Update(bar models.Bar) (models.Signal, error) {
	if e.terminated {
		return models.Signal{}, apperrors.ErrEngineTerminated
	}
	if bar.Symbol == "" {
		bar.Symbol = e.symbol
	}

	appended, err := e.bars.Append(bar)
	if err != nil {
		return models.Signal{}, err
	}
	e.primary.Update()
	if e.predictive != nil {
		e.predictive.Update()
	}

	sig := models.Signal{
		Symbol:    appended.Symbol,
		BarIndex:  appended.Index,
		Timestamp: appended.Timestamp,
	}
	if appended.Index >= e.cfg.SwingStrength {
		e.evaluate(&sig)
	}
	e.record(sig)

	return sig, nil
}

// Close terminates the engine. Later updates fail with ErrEngineTerminated.
func (e *Engine) Close() {
	e.terminated = true
}

// Reset starts a new stream session: history, swings and state are dropped
// and the live predictive zones are removed from the sink.
func (e *Engine) Reset() error {
	if e.terminated {
		return apperrors.ErrEngineTerminated
	}
	e.removeLive(models.Bear)
	e.removeLive(models.Bull)
	return e.init()
}

// Signals returns the retained signal history, oldest first.
func (e *Engine) Signals() []models.Signal {
	out := make([]models.Signal, len(e.signals))
	copy(out, e.signals)
	return out
}

// SignalAt returns the signal published barsAgo bars back.
func (e *Engine) SignalAt(barsAgo int) (models.Signal, error) {
	pos := len(e.signals) - 1 - barsAgo
	if barsAgo < 0 || pos < 0 {
		return models.Signal{}, apperrors.NewLookupError("signal", barsAgo, len(e.signals))
	}
	return e.signals[pos], nil
}

func (e *Engine) record(sig models.Signal) {
	e.signals = append(e.signals, sig)
	if d := e.cfg.MaxBarsLookBack; d > 0 && len(e.signals) > d {
		e.signals = e.signals[len(e.signals)-d:]
	}
}

// point is a swing resolved against the bar series.
type point struct {
	ok      bool
	barsAgo int
	bar     int
	price   float64
}

func (e *Engine) resolve(kind models.SwingKind, barsAgo int) (point, error) {
	if barsAgo == swing.NoSwing {
		return point{}, nil
	}
	var (
		price float64
		err   error
	)
	if kind == models.SwingHigh {
		price, err = e.bars.High(barsAgo)
	} else {
		price, err = e.bars.Low(barsAgo)
	}
	if err != nil {
		return point{}, err
	}
	return point{ok: true, barsAgo: barsAgo, bar: e.bars.CurrentBar() - barsAgo, price: price}, nil
}

// snapshot is everything one evaluation needs from the detectors.
type snapshot struct {
	trendHigh, trendLow point // occurrence 2 of the primary detector
	high, low           point // occurrence 1 of the primary detector
	predHigh, predLow   point // occurrence 1 of the predictive detector
}

func (e *Engine) take(d *swing.Detector, occurrence, lookback int) (high, low point, err error) {
	high, err = e.resolve(models.SwingHigh, d.SwingBar(models.SwingHigh, occurrence, lookback))
	if err != nil {
		return point{}, point{}, err
	}
	low, err = e.resolve(models.SwingLow, d.SwingBar(models.SwingLow, occurrence, lookback))
	if err != nil {
		return point{}, point{}, err
	}
	return high, low, nil
}

// candidate is a swing pair that passed every filter.
type candidate struct {
	polarity models.Polarity
	kind     models.ZoneKind
	high     point
	low      point
}

func (c candidate) anchor() point {
	if c.polarity == models.Bear {
		return c.low
	}
	return c.high
}

func (e *Engine) evaluate(sig *models.Signal) {
	lookback := e.bars.BarsSinceSession()
	cur := e.bars.CurrentBar()

	var snap snapshot
	var err error
	if snap.trendHigh, snap.trendLow, err = e.take(e.primary, 2, lookback); err != nil {
		logging.LogLookupFault(e.logger, cur, err)
		return
	}
	if !snap.trendHigh.ok || !snap.trendLow.ok {
		return
	}
	if snap.high, snap.low, err = e.take(e.primary, 1, lookback); err != nil {
		logging.LogLookupFault(e.logger, cur, err)
		return
	}
	if e.predictive != nil {
		if snap.predHigh, snap.predLow, err = e.take(e.predictive, 1, lookback); err != nil {
			logging.LogLookupFault(e.logger, cur, err)
			snap.predHigh, snap.predLow = point{}, point{}
		}
	}

	ref := TrendReference{
		LatestHigh: snap.high.price,
		LatestLow:  snap.low.price,
		PriorHigh:  snap.trendHigh.price,
		PriorLow:   snap.trendLow.price,
	}
	sig.Bias = ref.Bias()

	e.emit(sig, models.Bear, e.predictiveBear(snap), e.confirmedBear(snap))
	e.emit(sig, models.Bull, e.predictiveBull(snap), e.confirmedBull(snap))
}

// spanOK applies the magnitude filter. A zero span can never produce a band.
func (e *Engine) spanOK(high, low float64) bool {
	span := high - low
	return span > 0 && span >= e.cfg.MinSwingLength
}

func (e *Engine) predictiveBear(s snapshot) *candidate {
	if e.predictive == nil || !s.predLow.ok {
		return nil
	}
	if s.high.barsAgo <= s.predLow.barsAgo || !e.spanOK(s.high.price, s.predLow.price) {
		return nil
	}
	if s.high.bar == e.state.ConfirmedHighBar || s.predLow.bar <= e.state.PredictiveLowBar {
		return nil
	}
	if !e.gate.BearOK(s.predLow.price, s.low.price) {
		e.logger.Debug().Float64("candidate_low", s.predLow.price).Float64("reference_low", s.low.price).
			Msg("Predictive bear rejected by trend gate")
		return nil
	}
	return &candidate{polarity: models.Bear, kind: models.Predictive, high: s.high, low: s.predLow}
}

func (e *Engine) confirmedBear(s snapshot) *candidate {
	if s.high.barsAgo <= s.low.barsAgo || !e.spanOK(s.high.price, s.low.price) {
		return nil
	}
	if s.high.bar == e.state.ConfirmedHighBar {
		return nil
	}
	if !e.gate.BearOK(s.low.price, s.trendLow.price) {
		e.logger.Debug().Float64("candidate_low", s.low.price).Float64("reference_low", s.trendLow.price).
			Msg("Confirmed bear rejected by trend gate")
		return nil
	}
	return &candidate{polarity: models.Bear, kind: models.Confirmed, high: s.high, low: s.low}
}

func (e *Engine) predictiveBull(s snapshot) *candidate {
	if e.predictive == nil || !s.predHigh.ok {
		return nil
	}
	if s.low.barsAgo <= s.predHigh.barsAgo || !e.spanOK(s.predHigh.price, s.low.price) {
		return nil
	}
	if s.low.bar == e.state.ConfirmedLowBar || s.predHigh.bar <= e.state.PredictiveHighBar {
		return nil
	}
	if !e.gate.BullOK(s.predHigh.price, s.high.price) {
		e.logger.Debug().Float64("candidate_high", s.predHigh.price).Float64("reference_high", s.high.price).
			Msg("Predictive bull rejected by trend gate")
		return nil
	}
	return &candidate{polarity: models.Bull, kind: models.Predictive, high: s.predHigh, low: s.low}
}

func (e *Engine) confirmedBull(s snapshot) *candidate {
	if s.low.barsAgo <= s.high.barsAgo || !e.spanOK(s.high.price, s.low.price) {
		return nil
	}
	if s.low.bar == e.state.ConfirmedLowBar {
		return nil
	}
	if !e.gate.BullOK(s.high.price, s.trendHigh.price) {
		e.logger.Debug().Float64("candidate_high", s.high.price).Float64("reference_high", s.trendHigh.price).
			Msg("Confirmed bull rejected by trend gate")
		return nil
	}
	return &candidate{polarity: models.Bull, kind: models.Confirmed, high: s.high, low: s.low}
}

// emit fires at most one zone for a polarity. A confirmed candidate wins over
// a predictive one on the same bar; the predictive anchor is consumed either way.
func (e *Engine) emit(sig *models.Signal, p models.Polarity, predictive, confirmed *candidate) {
	if predictive != nil {
		if p == models.Bear {
			e.state.PredictiveLowBar = predictive.low.bar
		} else {
			e.state.PredictiveHighBar = predictive.high.bar
		}
	}

	var fired *candidate
	switch {
	case confirmed != nil:
		fired = confirmed
		if p == models.Bear {
			e.state.ConfirmedHighBar = confirmed.high.bar
		} else {
			e.state.ConfirmedLowBar = confirmed.low.bar
		}
	case predictive != nil:
		fired = predictive
	default:
		return
	}

	e.removeLive(p)
	zone := e.buildZone(*fired)
	if err := e.sink.Draw(zone); err != nil {
		e.logger.Warn().Err(err).Str("zone_id", zone.ID).Msg("Zone sink failed to draw")
	}
	logging.LogZone(e.logger, zone)

	if fired.kind == models.Predictive {
		if p == models.Bear {
			e.state.LiveBear = &zone
		} else {
			e.state.LiveBull = &zone
		}
	}

	side := models.RetraceSide{
		HasRetrace:   true,
		StartBarsAgo: zone.AnchorBarsAgo,
		Level1:       zone.Level1,
		Level2:       zone.Level2,
	}
	if p == models.Bear {
		sig.Bear = side
	} else {
		sig.Bull = side
	}
}

// removeLive removes the live predictive zone of polarity p, if any.
func (e *Engine) removeLive(p models.Polarity) {
	live := &e.state.LiveBull
	if p == models.Bear {
		live = &e.state.LiveBear
	}
	if *live == nil {
		return
	}
	if err := e.sink.Remove((*live).ID); err != nil {
		e.logger.Warn().Err(err).Str("zone_id", (*live).ID).Msg("Zone sink failed to remove")
	}
	*live = nil
}

func (e *Engine) buildZone(c candidate) models.Zone {
	cur, _ := e.bars.Last()
	level1, level2 := Levels(c.polarity, c.high.price, c.low.price, e.cfg.LowFibPercent, e.cfg.HighFibPercent)
	lo, hi := level1, level2
	if lo > hi {
		lo, hi = hi, lo
	}
	anchor := c.anchor()

	return models.Zone{
		ID:            ZoneID(c.polarity, c.kind, cur.Index),
		Symbol:        cur.Symbol,
		Polarity:      c.polarity,
		Kind:          c.kind,
		AnchorBar:     anchor.bar,
		AnchorBarsAgo: anchor.barsAgo,
		Level1:        level1,
		Level2:        level2,
		LevelLow:      lo,
		LevelHigh:     hi,
		SwingHigh:     c.high.price,
		SwingLow:      c.low.price,
		SwingHighBar:  c.high.bar,
		SwingLowBar:   c.low.bar,
		CreatedBar:    cur.Index,
		CreatedAt:     cur.Timestamp,
		WidthBars:     e.cfg.FibTargetWidth,
		Style:         ZoneStyle(c.polarity, c.kind),
	}
}
