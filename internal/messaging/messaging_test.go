package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/models"
	"fib-targets/internal/resilience"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{subject, data})
	return nil
}

func TestSubjects(t *testing.T) {
	s := Subjects{Prefix: "fib"}
	tests := []struct {
		got, want string
	}{
		{s.ZoneDraw("NIFTY"), "fib.zones.NIFTY.draw"},
		{s.ZoneRemove("NIFTY"), "fib.zones.NIFTY.remove"},
		{s.Signals("BRK.B"), "fib.signals.BRK_B"},
		{s.Signals(""), "fib.signals._"},
		{Subjects{}.ZoneDraw("ES>*"), "zones.ES__.draw"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("subject = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestTapPublishesZoneLifecycle(t *testing.T) {
	pub := &fakePublisher{}
	tap := NewTap(pub, "fib", "AAA", "run-1")
	at := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

	tap.Advance(at)
	zone := models.Zone{ID: "predictive-bear", Symbol: "AAA", Polarity: models.Bear, Kind: models.Predictive, Level1: 122.5}
	if err := tap.Draw(zone); err != nil {
		t.Fatal(err)
	}
	tap.Advance(at.Add(time.Minute))
	if err := tap.Remove("predictive-bear"); err != nil {
		t.Fatal(err)
	}
	if err := tap.RecordSignal(models.Signal{Symbol: "AAA", BarIndex: 7}); err != nil {
		t.Fatal(err)
	}
	if err := tap.RecordSignal(models.Signal{Symbol: "AAA", BarIndex: 8, Bear: models.RetraceSide{HasRetrace: true, Level1: 122.5}}); err != nil {
		t.Fatal(err)
	}

	if len(pub.msgs) != 3 {
		t.Fatalf("published %d messages, want 3 (quiet bars are skipped)", len(pub.msgs))
	}
	wantSubjects := []string{"fib.zones.AAA.draw", "fib.zones.AAA.remove", "fib.signals.AAA"}
	for i, want := range wantSubjects {
		if pub.msgs[i].subject != want {
			t.Errorf("message %d subject = %q, want %q", i, pub.msgs[i].subject, want)
		}
	}

	var drawn ZoneEvent
	if err := json.Unmarshal(pub.msgs[0].data, &drawn); err != nil {
		t.Fatal(err)
	}
	if drawn.Action != ActionDraw || drawn.RunID != "run-1" || !drawn.BarTime.Equal(at) ||
		drawn.Zone == nil || drawn.Zone.Level1 != 122.5 {
		t.Errorf("draw event = %+v", drawn)
	}

	var removed ZoneEvent
	if err := json.Unmarshal(pub.msgs[1].data, &removed); err != nil {
		t.Fatal(err)
	}
	if removed.Action != ActionRemove || removed.ZoneID != "predictive-bear" || removed.Zone != nil ||
		!removed.BarTime.Equal(at.Add(time.Minute)) {
		t.Errorf("remove event = %+v", removed)
	}

	var sig SignalEvent
	if err := json.Unmarshal(pub.msgs[2].data, &sig); err != nil {
		t.Fatal(err)
	}
	if sig.Signal.BarIndex != 8 || !sig.Signal.Bear.HasRetrace {
		t.Errorf("signal event = %+v", sig)
	}
}

func TestTapReturnsPublishError(t *testing.T) {
	boom := errors.New("boom")
	tap := NewTap(&fakePublisher{err: boom}, "fib", "AAA", "")
	if err := tap.Draw(models.Zone{ID: "1-bull-fib"}); !errors.Is(err, boom) {
		t.Errorf("Draw err = %v", err)
	}
}

func TestGuardedPublisherOpensOnFailures(t *testing.T) {
	boom := errors.New("boom")
	inner := &fakePublisher{err: boom}
	breaker := resilience.NewBreaker("nats", resilience.BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
	})
	pub := NewGuardedPublisher(inner, breaker, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if err := pub.Publish("fib.signals.AAA", []byte("{}")); !errors.Is(err, boom) {
			t.Fatalf("publish %d err = %v, want boom", i, err)
		}
	}
	if got := breaker.State(); got != resilience.CircuitOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}

	inner.mu.Lock()
	inner.err = nil
	inner.mu.Unlock()
	if err := pub.Publish("fib.signals.AAA", []byte("{}")); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if len(inner.msgs) != 0 {
		t.Errorf("open circuit forwarded %d messages", len(inner.msgs))
	}
	if stats := breaker.Stats(); stats.Rejected != 1 || stats.Failed != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestNewClientGivesUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.ConnectTimeout = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewClient(ctx, cfg, zerolog.Nop())
	if !apperrors.Is(err, apperrors.ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}
