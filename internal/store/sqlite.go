// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/models"
)

var _ DataStore = (*SQLiteStore)(nil)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	mu         sync.RWMutex
	latestRuns map[string]Run
	now        func() time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:         db,
		latestRuns: make(map[string]Run),
		now:        time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Bars table for closed OHLCV bars
	CREATE TABLE IF NOT EXISTS bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timestamp)
	);

	-- Engine runs
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		params TEXT
	);

	-- Zones drawn by a run; predictive zones are updated in place
	CREATE TABLE IF NOT EXISTS zones (
		run_id TEXT NOT NULL,
		zone_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		polarity TEXT NOT NULL,
		kind TEXT NOT NULL,
		anchor_bar INTEGER NOT NULL,
		anchor_bars_ago INTEGER NOT NULL,
		level1 REAL NOT NULL,
		level2 REAL NOT NULL,
		level_low REAL NOT NULL,
		level_high REAL NOT NULL,
		swing_high REAL NOT NULL,
		swing_low REAL NOT NULL,
		swing_high_bar INTEGER NOT NULL,
		swing_low_bar INTEGER NOT NULL,
		created_bar INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		width_bars INTEGER NOT NULL,
		outline TEXT,
		fill TEXT,
		removed_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, zone_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- Per-bar signals
	CREATE TABLE IF NOT EXISTS signals (
		run_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		bar_index INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		bias TEXT,
		bear_has INTEGER NOT NULL DEFAULT 0,
		bear_start INTEGER NOT NULL DEFAULT 0,
		bear_level1 REAL NOT NULL DEFAULT 0,
		bear_level2 REAL NOT NULL DEFAULT 0,
		bull_has INTEGER NOT NULL DEFAULT 0,
		bull_start INTEGER NOT NULL DEFAULT 0,
		bull_level1 REAL NOT NULL DEFAULT 0,
		bull_level2 REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, bar_index),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_bars_symbol_timestamp ON bars(symbol, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_symbol ON runs(symbol, started_at);
	CREATE INDEX IF NOT EXISTS idx_zones_symbol ON zones(symbol);
	CREATE INDEX IF NOT EXISTS idx_signals_symbol_timestamp ON signals(symbol, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabaseError, err.Error())
	}
	return nil
}

// ============================================================================
// Bars Methods
// ============================================================================

// SaveBars saves bars to the database. A bar already stored for the same
// symbol and timestamp is replaced.
func (s *SQLiteStore) SaveBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (symbol, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if b.Symbol == "" {
			return apperrors.NewValidationError("symbol", b.Symbol, "bar has no symbol")
		}
		_, err := stmt.ExecContext(ctx, b.Symbol, b.Timestamp.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetBars retrieves bars from the database in time order. A zero from or to
// leaves that side of the range open.
func (s *SQLiteStore) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error) {
	query := "SELECT symbol, timestamp, open, high, low, close, volume FROM bars WHERE symbol = ?"
	args := []interface{}{symbol}

	if !from.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, to.UTC())
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Symbol, &b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Index = len(bars)
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}

// GetSymbols returns every symbol with stored bars.
func (s *SQLiteStore) GetSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

// ============================================================================
// Runs Methods
// ============================================================================

// StartRun records a new engine run for symbol. params is stored as JSON.
func (s *SQLiteStore) StartRun(ctx context.Context, symbol string, params interface{}) (*Run, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run params: %w", err)
	}

	run := Run{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		StartedAt: s.now().UTC(),
		Params:    string(encoded),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, symbol, started_at, params) VALUES (?, ?, ?, ?)
	`, run.ID, run.Symbol, run.StartedAt, run.Params)
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	s.mu.Lock()
	s.latestRuns[symbol] = run
	s.mu.Unlock()

	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	var params sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, started_at, params FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Symbol, &run.StartedAt, &params)
	if err == sql.ErrNoRows {
		return nil, apperrors.Wrapf(apperrors.ErrDataNotFound, "run %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Params = params.String
	return &run, nil
}

// LatestRun returns the most recently started run for symbol.
func (s *SQLiteStore) LatestRun(ctx context.Context, symbol string) (*Run, error) {
	s.mu.RLock()
	if run, ok := s.latestRuns[symbol]; ok {
		s.mu.RUnlock()
		return &run, nil
	}
	s.mu.RUnlock()

	var run Run
	var params sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, symbol, started_at, params FROM runs
		WHERE symbol = ? ORDER BY started_at DESC, rowid DESC LIMIT 1
	`, symbol).Scan(&run.ID, &run.Symbol, &run.StartedAt, &params)
	if err == sql.ErrNoRows {
		return nil, apperrors.Wrapf(apperrors.ErrDataNotFound, "no run for %s", symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	run.Params = params.String

	s.mu.Lock()
	s.latestRuns[symbol] = run
	s.mu.Unlock()

	return &run, nil
}

// ============================================================================
// Zones Methods
// ============================================================================

// SaveZone stores a drawn zone. Drawing an ID the run already holds replaces
// the row and makes it live again.
func (s *SQLiteStore) SaveZone(ctx context.Context, runID string, z models.Zone) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO zones (run_id, zone_id, symbol, polarity, kind, anchor_bar, anchor_bars_ago,
			level1, level2, level_low, level_high, swing_high, swing_low, swing_high_bar, swing_low_bar,
			created_bar, created_at, width_bars, outline, fill, removed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?)
	`, runID, z.ID, z.Symbol, string(z.Polarity), string(z.Kind), z.AnchorBar, z.AnchorBarsAgo,
		z.Level1, z.Level2, z.LevelLow, z.LevelHigh, z.SwingHigh, z.SwingLow, z.SwingHighBar, z.SwingLowBar,
		z.CreatedBar, z.CreatedAt.UTC(), z.WidthBars, z.Style.Outline, z.Style.Fill, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save zone: %w", err)
	}
	return nil
}

// RemoveZone marks a live zone as removed.
func (s *SQLiteStore) RemoveZone(ctx context.Context, runID, zoneID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE zones SET removed_at = ?, updated_at = ?
		WHERE run_id = ? AND zone_id = ? AND removed_at IS NULL
	`, at.UTC(), s.now().UTC(), runID, zoneID)
	if err != nil {
		return fmt.Errorf("failed to remove zone: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.Wrapf(apperrors.ErrDataNotFound, "live zone %s in run %s", zoneID, runID)
	}
	return nil
}

// GetZones retrieves zones matching filter, oldest first.
func (s *SQLiteStore) GetZones(ctx context.Context, filter ZoneFilter) ([]StoredZone, error) {
	query := `SELECT run_id, zone_id, symbol, polarity, kind, anchor_bar, anchor_bars_ago,
		level1, level2, level_low, level_high, swing_high, swing_low, swing_high_bar, swing_low_bar,
		created_bar, created_at, width_bars, outline, fill, removed_at FROM zones`
	var where []string
	var args []interface{}

	if filter.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, filter.Symbol)
	}
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Polarity != "" {
		where = append(where, "polarity = ?")
		args = append(args, string(filter.Polarity))
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.LiveOnly {
		where = append(where, "removed_at IS NULL")
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, created_bar ASC, zone_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []StoredZone
	for rows.Next() {
		var z StoredZone
		var polarity, kind string
		var outline, fill sql.NullString
		var removedAt sql.NullTime

		if err := rows.Scan(&z.RunID, &z.ID, &z.Symbol, &polarity, &kind, &z.AnchorBar, &z.AnchorBarsAgo,
			&z.Level1, &z.Level2, &z.LevelLow, &z.LevelHigh, &z.SwingHigh, &z.SwingLow, &z.SwingHighBar, &z.SwingLowBar,
			&z.CreatedBar, &z.CreatedAt, &z.WidthBars, &outline, &fill, &removedAt); err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		z.Polarity = models.Polarity(polarity)
		z.Kind = models.ZoneKind(kind)
		z.Style = models.ZoneStyle{Outline: outline.String, Fill: fill.String}
		if removedAt.Valid {
			t := removedAt.Time
			z.RemovedAt = &t
		}
		zones = append(zones, z)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating zones: %w", err)
	}

	return zones, nil
}

// ============================================================================
// Signals Methods
// ============================================================================

// SaveSignal stores the signal published for one bar of a run.
func (s *SQLiteStore) SaveSignal(ctx context.Context, runID string, sig models.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO signals (run_id, symbol, bar_index, timestamp, bias,
			bear_has, bear_start, bear_level1, bear_level2, bull_has, bull_start, bull_level1, bull_level2)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, sig.Symbol, sig.BarIndex, sig.Timestamp.UTC(), string(sig.Bias),
		boolToInt(sig.Bear.HasRetrace), sig.Bear.StartBarsAgo, sig.Bear.Level1, sig.Bear.Level2,
		boolToInt(sig.Bull.HasRetrace), sig.Bull.StartBarsAgo, sig.Bull.Level1, sig.Bull.Level2)
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}
	return nil
}

// GetSignals retrieves signals matching filter, newest first.
func (s *SQLiteStore) GetSignals(ctx context.Context, filter SignalFilter) ([]models.Signal, error) {
	query := `SELECT symbol, bar_index, timestamp, bias, bear_has, bear_start, bear_level1, bear_level2,
		bull_has, bull_start, bull_level1, bull_level2 FROM signals WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if !filter.From.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.To.UTC())
	}
	if filter.RetraceOnly {
		query += " AND (bear_has = 1 OR bull_has = 1)"
	}

	query += " ORDER BY timestamp DESC, bar_index DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var bias sql.NullString
		var bearHas, bullHas int

		if err := rows.Scan(&sig.Symbol, &sig.BarIndex, &sig.Timestamp, &bias,
			&bearHas, &sig.Bear.StartBarsAgo, &sig.Bear.Level1, &sig.Bear.Level2,
			&bullHas, &sig.Bull.StartBarsAgo, &sig.Bull.Level1, &sig.Bull.Level2); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		sig.Bias = models.TrendBias(bias.String)
		sig.Bear.HasRetrace = bearHas == 1
		sig.Bull.HasRetrace = bullHas == 1
		signals = append(signals, sig)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}

	return signals, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
