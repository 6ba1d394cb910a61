package messaging

import (
	"encoding/json"
	"sync"
	"time"

	"fib-targets/internal/models"
)

// Event actions.
const (
	ActionDraw   = "draw"
	ActionRemove = "remove"
)

// ZoneEvent is the payload of a zone draw or remove message.
type ZoneEvent struct {
	Action  string       `json:"action"`
	Symbol  string       `json:"symbol"`
	RunID   string       `json:"run_id,omitempty"`
	ZoneID  string       `json:"zone_id"`
	BarTime time.Time    `json:"bar_time"`
	Zone    *models.Zone `json:"zone,omitempty"`
}

// SignalEvent is the payload of a signal message.
type SignalEvent struct {
	Symbol string        `json:"symbol"`
	RunID  string        `json:"run_id,omitempty"`
	Signal models.Signal `json:"signal"`
}

// Tap publishes one symbol's zone changes and retrace signals. Bars without
// a retrace are not published.
type Tap struct {
	pub      Publisher
	subjects Subjects
	symbol   string
	runID    string

	mu  sync.Mutex
	now time.Time
}

// NewTap creates a tap for symbol. runID may be empty.
func NewTap(pub Publisher, prefix, symbol, runID string) *Tap {
	return &Tap{
		pub:      pub,
		subjects: Subjects{Prefix: prefix},
		symbol:   symbol,
		runID:    runID,
	}
}

// Advance sets the bar time carried by the next events.
func (t *Tap) Advance(barTime time.Time) {
	t.mu.Lock()
	t.now = barTime
	t.mu.Unlock()
}

func (t *Tap) barTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

func (t *Tap) Draw(zone models.Zone) error {
	return t.send(t.subjects.ZoneDraw(t.symbol), ZoneEvent{
		Action:  ActionDraw,
		Symbol:  t.symbol,
		RunID:   t.runID,
		ZoneID:  zone.ID,
		BarTime: t.barTime(),
		Zone:    &zone,
	})
}

func (t *Tap) Remove(id string) error {
	return t.send(t.subjects.ZoneRemove(t.symbol), ZoneEvent{
		Action:  ActionRemove,
		Symbol:  t.symbol,
		RunID:   t.runID,
		ZoneID:  id,
		BarTime: t.barTime(),
	})
}

// RecordSignal publishes sig when a zone fired on its bar.
func (t *Tap) RecordSignal(sig models.Signal) error {
	if !sig.HasAny() {
		return nil
	}
	return t.send(t.subjects.Signals(t.symbol), SignalEvent{
		Symbol: t.symbol,
		RunID:  t.runID,
		Signal: sig,
	})
}

func (t *Tap) send(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.pub.Publish(subject, data)
}
