// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"fib-targets/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Bars
	SaveBars(ctx context.Context, bars []models.Bar) error
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)
	GetSymbols(ctx context.Context) ([]string, error)

	// Runs
	StartRun(ctx context.Context, symbol string, params interface{}) (*Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRun(ctx context.Context, symbol string) (*Run, error)

	// Zones
	SaveZone(ctx context.Context, runID string, zone models.Zone) error
	RemoveZone(ctx context.Context, runID, zoneID string, at time.Time) error
	GetZones(ctx context.Context, filter ZoneFilter) ([]StoredZone, error)

	// Signals
	SaveSignal(ctx context.Context, runID string, sig models.Signal) error
	GetSignals(ctx context.Context, filter SignalFilter) ([]models.Signal, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// Run is one pass of an engine over a symbol's bars. Zone IDs are only
// unique within a run.
type Run struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	StartedAt time.Time `json:"started_at"`
	Params    string    `json:"params"` // JSON engine parameters
}

// StoredZone is a zone together with its run and removal state.
type StoredZone struct {
	models.Zone
	RunID     string     `json:"run_id"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// Live reports whether the zone is still drawn.
func (z StoredZone) Live() bool {
	return z.RemovedAt == nil
}

// ZoneFilter represents filters for querying zones.
type ZoneFilter struct {
	Symbol   string
	RunID    string
	Polarity models.Polarity
	Kind     models.ZoneKind
	LiveOnly bool
	Since    time.Time
	Limit    int
}

// SignalFilter represents filters for querying signals.
type SignalFilter struct {
	Symbol      string
	RunID       string
	From        time.Time
	To          time.Time
	RetraceOnly bool
	Limit       int
}
