package fib

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"fib-targets/internal/models"
	"fib-targets/internal/render"
)

// walk turns random steps into bars with a random spread.
func walk(steps []int, spreads []int) []models.Bar {
	bars := make([]models.Bar, len(steps))
	mid := 500.0
	for i, st := range steps {
		mid += float64(st)
		spread := 0.5
		if len(spreads) > 0 {
			spread += float64(spreads[i%len(spreads)])
		}
		bars[i] = models.Bar{
			Symbol:    "PROP",
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Open:      mid,
			High:      mid + spread,
			Low:       mid - spread,
			Close:     mid,
		}
	}
	return bars
}

type propCase struct {
	steps      []int
	spreads    []int
	strength   int
	predictive int
	minLength  int
	gate       bool
}

func genCase() gopter.Gen {
	return gopter.CombineGens(
		gen.SliceOfN(220, gen.IntRange(-6, 6)),
		gen.SliceOfN(7, gen.IntRange(0, 3)),
		gen.IntRange(2, 8),
		gen.IntRange(1, 4),
		gen.IntRange(0, 30),
		gen.Bool(),
	).Map(func(v []interface{}) propCase {
		return propCase{
			steps:      v[0].([]int),
			spreads:    v[1].([]int),
			strength:   v[2].(int),
			predictive: v[3].(int),
			minLength:  v[4].(int),
			gate:       v[5].(bool),
		}
	})
}

func (c propCase) config() Config {
	cfg := DefaultConfig()
	cfg.SwingStrength = c.strength
	cfg.PredictiveSwingStrength = c.predictive
	cfg.MinSwingLength = float64(c.minLength)
	cfg.RequireSwingTrend = c.gate
	cfg.MaxBarsLookBack = 0
	return cfg
}

func replay(c propCase) ([]models.Signal, *render.Recorder, bool) {
	rec := render.NewRecorder()
	e, err := NewEngine(c.config(), WithSink(rec))
	if err != nil {
		return nil, nil, false
	}
	bars := walk(c.steps, c.spreads)
	signals := make([]models.Signal, 0, len(bars))
	for _, b := range bars {
		sig, err := e.Update(b)
		if err != nil {
			return nil, nil, false
		}
		signals = append(signals, sig)
	}
	return signals, rec, true
}

func TestProperty_ZoneInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("bands sit inside the swing span and respect the minimum length", prop.ForAll(
		func(c propCase) bool {
			_, rec, ok := replay(c)
			if !ok {
				return false
			}
			cfg := c.config()
			for _, z := range rec.Drawn() {
				span := z.Span()
				if span <= 0 || span < cfg.MinSwingLength {
					return false
				}
				if z.LevelLow >= z.LevelHigh || z.LevelLow < z.SwingLow || z.LevelHigh > z.SwingHigh {
					return false
				}
				if math.Abs(z.Width()-span*(cfg.HighFibPercent-cfg.LowFibPercent)/100) > 1e-6 {
					return false
				}
				// The anchor is the second leg of the swing pair.
				if z.Polarity == models.Bear && z.SwingHighBar >= z.SwingLowBar {
					return false
				}
				if z.Polarity == models.Bull && z.SwingLowBar >= z.SwingHighBar {
					return false
				}
				if z.WidthBars != cfg.FibTargetWidth {
					return false
				}
			}
			return true
		},
		genCase(),
	))

	properties.Property("at most one live predictive zone per polarity and confirmed zones are never removed", prop.ForAll(
		func(c propCase) bool {
			_, rec, ok := replay(c)
			if !ok {
				return false
			}
			live := map[string]bool{}
			confirmed := map[string]bool{}
			for _, op := range rec.Ops() {
				switch op.Action {
				case render.ActionDraw:
					if op.Zone.Kind == models.Predictive {
						if live[op.ID] {
							return false
						}
						live[op.ID] = true
						continue
					}
					if confirmed[op.ID] {
						return false
					}
					confirmed[op.ID] = true
				case render.ActionRemove:
					if !live[op.ID] || confirmed[op.ID] {
						return false
					}
					delete(live, op.ID)
				}
			}
			return true
		},
		genCase(),
	))

	properties.Property("a swing pair feeds at most one confirmed zone per polarity", prop.ForAll(
		func(c propCase) bool {
			_, rec, ok := replay(c)
			if !ok {
				return false
			}
			bearHighs := map[int]bool{}
			bullLows := map[int]bool{}
			for _, z := range rec.Drawn() {
				if z.Kind != models.Confirmed {
					continue
				}
				if z.Polarity == models.Bear {
					if bearHighs[z.SwingHighBar] {
						return false
					}
					bearHighs[z.SwingHighBar] = true
				} else {
					if bullLows[z.SwingLowBar] {
						return false
					}
					bullLows[z.SwingLowBar] = true
				}
			}
			return true
		},
		genCase(),
	))

	properties.Property("has_retrace is set exactly on bars that drew a zone of that polarity", prop.ForAll(
		func(c propCase) bool {
			signals, rec, ok := replay(c)
			if !ok {
				return false
			}
			drawn := map[models.Polarity]map[int]models.Zone{
				models.Bear: {},
				models.Bull: {},
			}
			for _, z := range rec.Drawn() {
				if _, dup := drawn[z.Polarity][z.CreatedBar]; dup {
					return false
				}
				drawn[z.Polarity][z.CreatedBar] = z
			}
			for _, s := range signals {
				for _, p := range []models.Polarity{models.Bear, models.Bull} {
					side := s.Side(p)
					z, fired := drawn[p][s.BarIndex]
					if side.HasRetrace != fired {
						return false
					}
					if fired && (side.Level1 != z.Level1 || side.Level2 != z.Level2 || side.StartBarsAgo != z.AnchorBarsAgo) {
						return false
					}
					if fired && side.StartBarsAgo < 0 {
						return false
					}
				}
			}
			return true
		},
		genCase(),
	))

	properties.Property("replaying the same bars is deterministic", prop.ForAll(
		func(c propCase) bool {
			a, recA, okA := replay(c)
			b, recB, okB := replay(c)
			if !okA || !okB || len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i] != b[i] {
					return false
				}
			}
			za, zb := recA.Drawn(), recB.Drawn()
			if len(za) != len(zb) {
				return false
			}
			for i := range za {
				if za[i] != zb[i] {
					return false
				}
			}
			return true
		},
		genCase(),
	))

	properties.TestingRun(t)
}
