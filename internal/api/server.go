// Package api provides the HTTP API for observing and steering a simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/talgya/cagesim/internal/chart"
	"github.com/talgya/cagesim/internal/engine"
	"github.com/talgya/cagesim/internal/persistence"
	"github.com/talgya/cagesim/internal/topology"
	"github.com/talgya/cagesim/internal/world"
)

const (
	maxStreamConns = 8
	maxBodyBytes   = 1 << 20
)

// Server serves a simulation over HTTP.
type Server struct {
	Sim      *engine.Simulation
	DB       *persistence.DB // Optional run archive
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// StreamInterval is how often the WebSocket stream polls for new
	// samples. Zero means 250ms.
	StreamInterval time.Duration

	streamConns int32
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	chartLimiter := NewRateLimiter(60, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/stats/history", s.handleStatsHistory)
	mux.HandleFunc("/api/v1/chart.png", RateLimitMiddleware(chartLimiter, s.handleChart))
	mux.HandleFunc("/api/v1/runs", s.handleRuns)

	// WebSocket stream of new samples.
	mux.HandleFunc("/api/v1/stream", s.handleStream)

	// GET to read, POST (bearer token) to change.
	mux.HandleFunc("/api/v1/regions", s.adminOnly(s.handleRegions))
	mux.HandleFunc("/api/v1/flows", s.adminOnly(s.handleFlows))
	mux.HandleFunc("/api/v1/topology", s.adminOnly(s.handleTopology))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/sampling", s.adminOnly(s.handleSampling))

	// Admin-only actions.
	mux.HandleFunc("/api/v1/infect", s.adminOnly(postOnly(s.handleInfect)))
	mux.HandleFunc("/api/v1/repopulate", s.adminOnly(postOnly(s.handleRepopulate)))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine and returns the server
// so the caller can shut it down.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "archive", s.DB != nil)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CAGESIM_CORS_ORIGINS to a comma-separated list of extra origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CAGESIM_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no CAGESIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Status())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	views := s.Sim.Agents()
	region := r.URL.Query().Get("region")
	if region == "" {
		writeJSON(w, orEmpty(views))
		return
	}
	filtered := make([]world.AgentView, 0)
	for _, v := range views {
		if v.Region == region {
			filtered = append(filtered, v)
		}
	}
	writeJSON(w, filtered)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"totals":  s.Sim.Totals(),
		"regions": s.Sim.Regions(),
	})
}

// handleStatsHistory returns samples from index ?from= onward (default 0)
// with the index to resume from.
func (s *Server) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	from := 0
	if f := r.URL.Query().Get("from"); f != "" {
		v, err := strconv.Atoi(f)
		if err != nil || v < 0 {
			http.Error(w, "from must be a non-negative integer", http.StatusBadRequest)
			return
		}
		from = v
	}
	samples, next, gen := s.Sim.HistorySince(from)
	writeJSON(w, map[string]any{
		"generation": gen,
		"next":       next,
		"samples":    orEmpty(samples),
	})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	opts := chart.DefaultOptions()
	opts.Title = "stage totals"
	if err := chart.Render(&buf, s.Sim.History(), opts); err != nil {
		if errors.Is(err, chart.ErrTooFewSamples) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("chart render failed", "error", err)
		http.Error(w, "chart render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	runs, err := s.DB.ListRuns(limit)
	if err != nil {
		slog.Error("run listing failed", "error", err)
		http.Error(w, "run listing failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, orEmpty(runs))
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			world.RegionSpec
			Populate *bool `json:"populate,omitempty"` // Default true
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.Sim.CreateRegion(req.RegionSpec); err != nil {
			writeError(w, err)
			return
		}
		if req.Populate == nil || *req.Populate {
			if err := s.Sim.Populate(req.Name); err != nil {
				writeError(w, err)
				return
			}
		}
		slog.Info("region created via API", "name", req.Name, "capacity", req.Capacity)
		writeJSONStatus(w, http.StatusCreated, orEmpty(s.Sim.Regions()))
		return
	}
	writeJSON(w, orEmpty(s.Sim.Regions()))
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var f world.Flow
		if !decodeBody(w, r, &f) {
			return
		}
		n, err := s.Sim.RegisterFlow(f)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"flow": f, "tagged": n})
		return
	}
	writeJSON(w, orEmpty(s.Sim.Topology().Flows))
}

// handleTopology serves (GET) or replaces (POST) the topology in the text
// record format.
func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		t, err := topology.Decode(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.Sim.ReplaceTopology(t); err != nil {
			writeError(w, err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := topology.Encode(w, s.Sim.Topology()); err != nil {
		slog.Error("topology encode failed", "error", err)
	}
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed *float64 `json:"speed"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Speed == nil {
			http.Error(w, "speed is required", http.StatusBadRequest)
			return
		}
		maxSpeed := s.Sim.Config().MaxSpeed
		if *req.Speed < 0 || *req.Speed > maxSpeed {
			http.Error(w, fmt.Sprintf("speed must be 0-%g", maxSpeed), http.StatusBadRequest)
			return
		}
		s.Sim.SetSpeed(*req.Speed)
	}
	writeJSON(w, map[string]float64{"speed": s.Sim.Speed()})
}

func (s *Server) handleSampling(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		s.Sim.SetSampling(req.Enabled)
		slog.Info("sampling changed", "enabled", req.Enabled)
	}
	writeJSON(w, map[string]bool{"enabled": s.Sim.Status().Sampling})
}

func (s *Server) handleInfect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Region string `json:"region"`
		Count  int    `json:"count"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := s.Sim.InfectNow(req.Region, req.Count)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("infection seeded", "region", req.Region, "requested", req.Count, "infected", n)
	writeJSON(w, map[string]any{"region": req.Region, "infected": n})
}

func (s *Server) handleRepopulate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Region string `json:"region"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Sim.Repopulate(req.Region); err != nil {
		writeError(w, err)
		return
	}
	counts, _ := s.Sim.Counts(req.Region)
	writeJSON(w, map[string]any{"region": req.Region, "counts": counts})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps simulation errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, world.ErrUnknownRegion), errors.Is(err, world.ErrUnknownAgent):
		status = http.StatusNotFound
	case errors.Is(err, world.ErrDuplicateName), errors.Is(err, world.ErrOverlap):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

// orEmpty keeps nil slices from encoding as null.
func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}

// acquireStream reserves a stream slot; release must be called if it
// returns true.
func (s *Server) acquireStream() bool {
	if atomic.AddInt32(&s.streamConns, 1) > maxStreamConns {
		atomic.AddInt32(&s.streamConns, -1)
		return false
	}
	return true
}

func (s *Server) releaseStream() {
	atomic.AddInt32(&s.streamConns, -1)
}
