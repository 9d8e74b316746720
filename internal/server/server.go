package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/hetulpatel/crossmatch/internal/collectors"
	"github.com/hetulpatel/crossmatch/internal/domain"
	"github.com/hetulpatel/crossmatch/internal/engine"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matchcache"
	"github.com/hetulpatel/crossmatch/internal/matches"
	sqlstore "github.com/hetulpatel/crossmatch/internal/storage/sqlite"
	"github.com/hetulpatel/crossmatch/internal/stream"
)

// Engine is the run surface exposed over HTTP and WebSocket.
type Engine interface {
	Compare(ctx context.Context, req engine.Request, rep stream.Reporter) ([]matches.CompareResult, error)
	Arbitrage(ctx context.Context, req engine.Request, rep stream.Reporter) ([]matches.ArbitrageResult, error)
	FetchEvents(ctx context.Context, venue collectors.Venue, limit int) ([]collectors.Event, error)
	CacheStats(ctx context.Context) (matchcache.Stats, error)
	CacheClear(ctx context.Context) error
}

// History serves recorded arbitrage runs. Optional.
type History interface {
	RecentArbitrage(ctx context.Context, limit int) ([]sqlstore.HistoryRow, error)
}

type Config struct {
	AllowedOrigins []string
}

type Server struct {
	engine  Engine
	history History
	origins []string
}

func New(eng Engine, history History, cfg Config) *Server {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{engine: eng, history: history, origins: origins}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/events/{venue}", s.handleEvents)
	r.Get("/compare", s.handleCompare)
	r.Get("/arbitrage", s.handleArbitrage)
	r.Get("/history", s.handleHistory)
	r.Get("/cache/stats", s.handleCacheStats)
	r.Delete("/cache", s.handleCacheClear)
	r.Get("/ws/status", s.handleStatus)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	venue, ok := parseVenue(chi.URLParam(r, "venue"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown venue", nil)
		return
	}
	events, err := s.engine.FetchEvents(r.Context(), venue, parseIntParam(r, "limit", 0))
	if err != nil {
		respondError(w, statusFor(err), "fetch events failed", err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.Compare(r.Context(), parseRequest(r), stream.Discard{})
	if err != nil {
		respondError(w, statusFor(err), "compare failed", err)
		return
	}
	if results == nil {
		results = []matches.CompareResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleArbitrage(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.Arbitrage(r.Context(), parseRequest(r), stream.Discard{})
	if err != nil {
		respondError(w, statusFor(err), "arbitrage failed", err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "history not enabled", nil)
		return
	}
	rows, err := s.history.RecentArbitrage(r.Context(), parseIntParam(r, "limit", 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "read history failed", err)
		return
	}
	if rows == nil {
		rows = []sqlstore.HistoryRow{}
	}
	respondJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.CacheStats(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "cache stats unavailable", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CacheClear(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "cache clear failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseVenue(raw string) (collectors.Venue, bool) {
	switch raw {
	case "polymarket", "pm":
		return collectors.VenuePolymarket, true
	case "kalshi", "ks":
		return collectors.VenueKalshi, true
	}
	return "", false
}

func parseRequest(r *http.Request) engine.Request {
	q := r.URL.Query()
	req := engine.Request{
		Limit:   parseIntParam(r, "limit", 0),
		MaxDays: parseIntParam(r, "max_days", 0),
	}
	if v, err := strconv.ParseFloat(q.Get("min_profit"), 64); err == nil {
		req.MinProfitCents = v
	}
	if v, err := strconv.ParseFloat(q.Get("event_min_score"), 64); err == nil {
		req.EventMinScore = v
	}
	if v, err := strconv.ParseFloat(q.Get("market_min_score"), 64); err == nil {
		req.MarketMinScore = v
	}
	if v, err := strconv.ParseBool(q.Get("refresh")); err == nil {
		req.ForceRefresh = v
	}
	return req
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUpstreamFetch):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func parseIntParam(r *http.Request, param string, defaultValue int) int {
	raw := r.URL.Query().Get(param)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Errorf("[server] encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	body := map[string]any{"error": message, "code": status}
	if err != nil {
		logging.Warnf("[server] %s: %v", message, err)
		body["detail"] = err.Error()
	}
	respondJSON(w, status, body)
}
