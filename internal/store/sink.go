package store

import (
	"context"
	"time"

	"fib-targets/internal/models"
)

// ZoneWriter is the part of DataStore a ZoneRecorder needs.
type ZoneWriter interface {
	SaveZone(ctx context.Context, runID string, zone models.Zone) error
	RemoveZone(ctx context.Context, runID, zoneID string, at time.Time) error
	SaveSignal(ctx context.Context, runID string, sig models.Signal) error
}

// ZoneRecorder persists the zones one engine run draws. It satisfies the
// engine's zone sink contract.
type ZoneRecorder struct {
	ctx   context.Context
	store ZoneWriter
	runID string
	now   time.Time // bar being processed
}

// NewZoneRecorder creates a recorder writing into runID.
func NewZoneRecorder(ctx context.Context, store ZoneWriter, runID string) *ZoneRecorder {
	return &ZoneRecorder{ctx: ctx, store: store, runID: runID}
}

// RunID returns the run the recorder writes into.
func (r *ZoneRecorder) RunID() string {
	return r.runID
}

// Advance sets the bar time stamped on removals. Call it before handing the
// bar to the engine.
func (r *ZoneRecorder) Advance(barTime time.Time) {
	r.now = barTime
}

func (r *ZoneRecorder) Draw(zone models.Zone) error {
	return r.store.SaveZone(r.ctx, r.runID, zone)
}

func (r *ZoneRecorder) Remove(id string) error {
	at := r.now
	if at.IsZero() {
		at = time.Now()
	}
	return r.store.RemoveZone(r.ctx, r.runID, id, at)
}

// RecordSignal stores sig when a zone fired on its bar.
func (r *ZoneRecorder) RecordSignal(sig models.Signal) error {
	if !sig.HasAny() {
		return nil
	}
	return r.store.SaveSignal(r.ctx, r.runID, sig)
}
