// Package api serves persisted zones and signals over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"fib-targets/internal/config"
	apperrors "fib-targets/internal/errors"
	"fib-targets/internal/feed"
	"fib-targets/internal/logging"
	"fib-targets/internal/models"
	"fib-targets/internal/resilience"
	"fib-targets/internal/store"
)

// Reader is the read side of the data store the API serves from.
type Reader interface {
	GetSymbols(ctx context.Context) ([]string, error)
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]models.Bar, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	LatestRun(ctx context.Context, symbol string) (*store.Run, error)
	GetZones(ctx context.Context, filter store.ZoneFilter) ([]store.StoredZone, error)
	GetSignals(ctx context.Context, filter store.SignalFilter) ([]models.Signal, error)
}

// Server represents the HTTP API server.
type Server struct {
	cfg        config.APIConfig
	store      Reader
	logger     zerolog.Logger
	router     *mux.Router
	httpServer *http.Server
	health     *resilience.Checker
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHealth sets the checker behind the health endpoint.
func WithHealth(checker *resilience.Checker) ServerOption {
	return func(s *Server) {
		s.health = checker
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// NewServer creates a new API server. Without WithHealth the health
// endpoint pings the store when it supports it.
func NewServer(cfg config.APIConfig, st Reader, logger zerolog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		logger: logging.WithComponent(logger, "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = resilience.NewChecker(5 * time.Second)
		if p, ok := st.(pinger); ok {
			s.health.Register("database", resilience.DatabaseHealthCheck(p.Ping, time.Second))
		}
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/symbols", s.handleGetSymbols).Methods(http.MethodGet)
	v1.HandleFunc("/symbols/{symbol}/bars", s.handleGetBars).Methods(http.MethodGet)
	v1.HandleFunc("/symbols/{symbol}/zones", s.handleGetZones).Methods(http.MethodGet)
	v1.HandleFunc("/symbols/{symbol}/signals", s.handleGetSignals).Methods(http.MethodGet)
	v1.HandleFunc("/zones", s.handleGetZones).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address until Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info().Str("address", s.cfg.Addr).Msg("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return apperrors.Wrapf(err, "listening on %s", s.cfg.Addr)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Middleware functions

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("Panic recovered")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.health.Check(r.Context())
	status := http.StatusOK
	if health.Status == resilience.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.store.GetSymbols(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbols": symbols})
}

func (s *Server) handleGetBars(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	q := r.URL.Query()

	to := time.Now()
	from := time.Time{}
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = feed.ParseTime(v, time.UTC); err != nil {
			s.fail(w, apperrors.NewValidationError("from", v, err.Error()))
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = feed.ParseTime(v, time.UTC); err != nil {
			s.fail(w, apperrors.NewValidationError("to", v, err.Error()))
			return
		}
	}

	bars, err := s.store.GetBars(r.Context(), symbol, from, to)
	if err != nil {
		s.fail(w, err)
		return
	}
	if bars == nil {
		bars = []models.Bar{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "count": len(bars), "bars": bars})
}

// zonesResponse is the body of the zone listing endpoints.
type zonesResponse struct {
	RunID string             `json:"run_id,omitempty"`
	Count int                `json:"count"`
	Zones []store.StoredZone `json:"zones"`
}

// handleGetZones lists zones. With a symbol and no run parameter it reads
// the symbol's latest run; all=true spans every run.
func (s *Server) handleGetZones(w http.ResponseWriter, r *http.Request) {
	filter, err := parseZoneFilter(r)
	if err != nil {
		s.fail(w, err)
		return
	}

	if filter.RunID == "" && filter.Symbol != "" && r.URL.Query().Get("all") != "true" {
		run, err := s.store.LatestRun(r.Context(), filter.Symbol)
		if errors.Is(err, apperrors.ErrDataNotFound) {
			writeJSON(w, http.StatusOK, zonesResponse{Zones: []store.StoredZone{}})
			return
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		filter.RunID = run.ID
	}

	zones, err := s.store.GetZones(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	if zones == nil {
		zones = []store.StoredZone{}
	}
	writeJSON(w, http.StatusOK, zonesResponse{RunID: filter.RunID, Count: len(zones), Zones: zones})
}

func parseZoneFilter(r *http.Request) (store.ZoneFilter, error) {
	q := r.URL.Query()
	filter := store.ZoneFilter{
		Symbol: strings.ToUpper(q.Get("symbol")),
		RunID:  q.Get("run"),
	}
	if symbol, ok := mux.Vars(r)["symbol"]; ok {
		filter.Symbol = strings.ToUpper(symbol)
	}

	var err error
	if filter.Polarity, err = ParsePolarity(q.Get("polarity")); err != nil {
		return filter, err
	}
	if filter.Kind, err = ParseKind(q.Get("kind")); err != nil {
		return filter, err
	}
	if v := q.Get("live"); v != "" {
		live, err := strconv.ParseBool(v)
		if err != nil {
			return filter, apperrors.NewValidationError("live", v, "must be a boolean")
		}
		filter.LiveOnly = live
	}
	if v := q.Get("since"); v != "" {
		if filter.Since, err = feed.ParseTime(v, time.UTC); err != nil {
			return filter, apperrors.NewValidationError("since", v, err.Error())
		}
	}
	if filter.Limit, err = parseLimit(q.Get("limit")); err != nil {
		return filter, err
	}
	return filter, nil
}

// signalsResponse is the body of the signals endpoint.
type signalsResponse struct {
	Symbol  string          `json:"symbol"`
	RunID   string          `json:"run_id,omitempty"`
	Count   int             `json:"count"`
	Signals []models.Signal `json:"signals"`
}

func (s *Server) handleGetSignals(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	q := r.URL.Query()

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.fail(w, err)
		return
	}
	filter := store.SignalFilter{Symbol: symbol, RunID: q.Get("run"), RetraceOnly: true, Limit: limit}

	if filter.RunID == "" {
		run, err := s.store.LatestRun(r.Context(), symbol)
		if errors.Is(err, apperrors.ErrDataNotFound) {
			writeJSON(w, http.StatusOK, signalsResponse{Symbol: symbol, Signals: []models.Signal{}})
			return
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		filter.RunID = run.ID
	}

	signals, err := s.store.GetSignals(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	if signals == nil {
		signals = []models.Signal{}
	}
	writeJSON(w, http.StatusOK, signalsResponse{Symbol: symbol, RunID: filter.RunID, Count: len(signals), Signals: signals})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ParsePolarity accepts bull or bear in any case; empty means any.
func ParsePolarity(v string) (models.Polarity, error) {
	switch strings.ToUpper(v) {
	case "":
		return "", nil
	case string(models.Bull):
		return models.Bull, nil
	case string(models.Bear):
		return models.Bear, nil
	}
	return "", apperrors.NewValidationError("polarity", v, "must be bull or bear")
}

// ParseKind accepts confirmed or predictive in any case; empty means any.
func ParseKind(v string) (models.ZoneKind, error) {
	switch strings.ToUpper(v) {
	case "":
		return "", nil
	case string(models.Confirmed):
		return models.Confirmed, nil
	case string(models.Predictive):
		return models.Predictive, nil
	}
	return "", apperrors.NewValidationError("kind", v, "must be confirmed or predictive")
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidationError("limit", v, "must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrDataNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrConfigInvalid), errors.Is(err, apperrors.ErrInputValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
