// Package render provides zone sinks that display or record zones.
package render

import (
	"sort"
	"sync"

	"fib-targets/internal/models"
)

// Action is a sink call recorded by Recorder.
type Action string

const (
	ActionDraw   Action = "draw"
	ActionRemove Action = "remove"
)

// Op is one recorded sink call.
type Op struct {
	Action Action
	ID     string
	Zone   models.Zone // zero for removals
}

// Recorder keeps every sink call in order and the resulting set of live
// zones. It is safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	ops  []Op
	live map[string]models.Zone
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{live: make(map[string]models.Zone)}
}

func (r *Recorder) Draw(zone models.Zone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Action: ActionDraw, ID: zone.ID, Zone: zone})
	r.live[zone.ID] = zone
	return nil
}

func (r *Recorder) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, Op{Action: ActionRemove, ID: id})
	delete(r.live, id)
	return nil
}

// Ops returns the recorded calls in order.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.ops))
	copy(out, r.ops)
	return out
}

// Drawn returns every zone passed to Draw, in order.
func (r *Recorder) Drawn() []models.Zone {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Zone
	for _, op := range r.ops {
		if op.Action == ActionDraw {
			out = append(out, op.Zone)
		}
	}
	return out
}

// Live returns the zones currently drawn, ordered by creation bar then ID.
func (r *Recorder) Live() []models.Zone {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Zone, 0, len(r.live))
	for _, z := range r.live {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedBar != out[j].CreatedBar {
			return out[i].CreatedBar < out[j].CreatedBar
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reset forgets everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
	r.live = make(map[string]models.Zone)
}
