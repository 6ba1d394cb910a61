package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fib-targets/internal/analysis/fib"
	"fib-targets/internal/models"
	"fib-targets/internal/render"
)

// zigzag builds bars whose mid price moves linearly between pivots.
func zigzag(symbol string, pivots ...[2]float64) []models.Bar {
	var bars []models.Bar
	add := func(i int, mid float64) {
		bars = append(bars, models.Bar{
			Symbol:    symbol,
			Timestamp: t0.Add(time.Duration(i) * time.Minute),
			Open:      mid, High: mid + 1, Low: mid - 1, Close: mid,
		})
	}
	for p := 0; p+1 < len(pivots); p++ {
		a, b := pivots[p], pivots[p+1]
		for i := int(a[0]); i < int(b[0]); i++ {
			add(i, a[1]+(b[1]-a[1])*(float64(i)-a[0])/(b[0]-a[0]))
		}
	}
	last := pivots[len(pivots)-1]
	add(int(last[0]), last[1])
	return bars
}

func testConfig() fib.Config {
	cfg := fib.DefaultConfig()
	cfg.SwingStrength = 5
	cfg.PredictiveSwingStrength = 2
	cfg.MinSwingLength = 10
	cfg.RequireSwingTrend = false
	return cfg
}

type signalTap struct {
	*render.Recorder
	mu      sync.Mutex
	signals []models.Signal
	times   []time.Time
}

func (s *signalTap) Advance(t time.Time) {
	s.mu.Lock()
	s.times = append(s.times, t)
	s.mu.Unlock()
}

func (s *signalTap) RecordSignal(sig models.Signal) error {
	s.mu.Lock()
	s.signals = append(s.signals, sig)
	s.mu.Unlock()
	return nil
}

func TestRunnerMatchesDirectEngine(t *testing.T) {
	series := map[string][]models.Bar{
		"AAA": zigzag("AAA", [2]float64{0, 100}, [2]float64{10, 130}, [2]float64{20, 105}, [2]float64{30, 150}, [2]float64{40, 95}, [2]float64{55, 140}),
		"BBB": zigzag("BBB", [2]float64{0, 200}, [2]float64{12, 170}, [2]float64{24, 210}, [2]float64{36, 160}, [2]float64{48, 220}, [2]float64{60, 180}),
	}

	hub := NewHubWithConfig(HubConfig{BufferSize: 4, SubscriberBufferSize: 2})
	taps := map[string]*signalTap{}
	var mu sync.Mutex
	runner, err := NewRunner(hub, testConfig(), WithTaps(func(ctx context.Context, symbol string) (Tap, error) {
		tap := &signalTap{Recorder: render.NewRecorder()}
		mu.Lock()
		taps[symbol] = tap
		mu.Unlock()
		return tap, nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runner.Start(ctx, []string{"AAA", "BBB"}); err != nil {
		t.Fatal(err)
	}
	if err := hub.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// Interleave the two symbols as a live feed would.
	for i := 0; i < 61; i++ {
		for _, symbol := range []string{"AAA", "BBB"} {
			if i < len(series[symbol]) {
				if err := hub.Publish(ctx, series[symbol][i]); err != nil {
					t.Fatal(err)
				}
			}
		}
	}
	hub.Close()
	results := runner.Wait()

	if len(results) != 2 || results[0].Symbol != "AAA" || results[1].Symbol != "BBB" {
		t.Fatalf("results = %+v", results)
	}

	for _, res := range results {
		bars := series[res.Symbol]
		direct := render.NewRecorder()
		engine, err := fib.NewEngine(testConfig(), fib.WithSink(direct), fib.WithSymbol(res.Symbol))
		if err != nil {
			t.Fatal(err)
		}
		retraces := 0
		for _, b := range bars {
			sig, err := engine.Update(b)
			if err != nil {
				t.Fatal(err)
			}
			if sig.HasAny() {
				retraces++
			}
		}

		tap := taps[res.Symbol]
		if res.Err != nil || res.Bars != len(bars) || res.Rejected != 0 {
			t.Errorf("%s result = %+v", res.Symbol, res)
		}
		if res.Signals != retraces || len(tap.signals) != len(bars) || len(tap.times) != len(bars) {
			t.Errorf("%s: %d retraces via runner, %d direct", res.Symbol, res.Signals, retraces)
		}
		want, got := direct.Drawn(), tap.Drawn()
		if res.Zones != len(want) || len(got) != len(want) {
			t.Fatalf("%s: runner drew %d zones, direct %d", res.Symbol, len(got), len(want))
		}
		for i := range want {
			if want[i] != got[i] {
				t.Errorf("%s zone %d: %+v != %+v", res.Symbol, i, got[i], want[i])
			}
		}
		if len(want) == 0 {
			t.Errorf("%s: scenario drew no zones", res.Symbol)
		}
	}
}

func TestRunnerCountsRejectedBars(t *testing.T) {
	hub := NewHub()
	runner, err := NewRunner(hub, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := runner.Start(ctx, []string{"X", "X"}); err != nil {
		t.Fatal(err)
	}
	_ = hub.Start(ctx)

	bars := []models.Bar{
		{Symbol: "X", Timestamp: t0.Add(2 * time.Minute), High: 2, Low: 1},
		{Symbol: "X", Timestamp: t0, High: 2, Low: 1},
		{Symbol: "X", Timestamp: t0.Add(3 * time.Minute), High: 2, Low: 1},
	}
	for _, b := range bars {
		_ = hub.Publish(ctx, b)
	}
	hub.Close()

	results := runner.Wait()
	if len(results) != 1 || results[0].Bars != 2 || results[0].Rejected != 1 {
		t.Errorf("results = %+v", results)
	}
}

func TestRunnerRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.FibTargetWidth = 0
	if _, err := NewRunner(NewHub(), cfg); err == nil {
		t.Error("invalid config accepted")
	}
}

func TestRunnerTapError(t *testing.T) {
	boom := errors.New("boom")
	runner, _ := NewRunner(NewHub(), testConfig(), WithTaps(func(context.Context, string) (Tap, error) {
		return nil, boom
	}))
	if err := runner.Start(context.Background(), []string{"X"}); !errors.Is(err, boom) {
		t.Errorf("Start err = %v", err)
	}
}
