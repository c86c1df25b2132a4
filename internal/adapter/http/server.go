package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/glenfinch/river-snap-service/internal/config"
	"github.com/glenfinch/river-snap-service/internal/snap"
)

const (
	maxSnapDepth     = 100
	maxNeighborDepth = 50
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// GridSearcher runs channel searches for the query endpoints. *snap.Grid
// satisfies it.
type GridSearcher interface {
	Nearest(ctx context.Context, easting, northing, minValue float64, maxDepth int) (snap.Result, error)
	Largest(ctx context.Context, easting, northing float64, depth int) (snap.Result, error)
}

// Server exposes health, readiness, metrics, and grid query HTTP endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	grid       GridSearcher
	minFlow    float64
	maxDepth   int
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics, and
// the /v1 grid query routes. The configured snap thresholds are the
// defaults for query parameters the caller omits.
func NewServer(cfg *config.Config, grid GridSearcher, ready ReadinessChecker, metrics http.Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:   logger,
		grid:     grid,
		minFlow:  cfg.SnapMinFlow,
		maxDepth: cfg.SnapMaxDepth,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /v1/snap", s.handleSnap)
	mux.HandleFunc("GET /v1/neighbor", s.handleNeighbor)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// handleSnap finds the nearest channel cell meeting the flow threshold.
// No qualifying cell within the horizon is a 404, not a server error.
func (s *Server) handleSnap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	easting, err := requiredFloat(q, "easting")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	northing, err := requiredFloat(q, "northing")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	minFlow, err := optionalFloat(q, "min_flow", s.minFlow)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	maxDepth, err := optionalDepth(q, "max_depth", s.maxDepth, maxSnapDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.grid.Nearest(r.Context(), easting, northing, minFlow, maxDepth)
	if err != nil {
		s.logger.Error("snap query failed", "error", err, "easting", easting, "northing", northing)
		writeError(w, http.StatusBadGateway, fmt.Errorf("grid sampling failed"))
		return
	}
	if !res.Found {
		writeError(w, http.StatusNotFound,
			fmt.Errorf("no channel cell with flow >= %g within %d cells", minFlow, maxDepth))
		return
	}
	writeJSON(w, http.StatusOK, newCellResponse(res.Cell))
}

// handleNeighbor returns the best cell of the square neighborhood around
// the location. The neighborhood always contains the centre cell, so the
// response may describe a NoData cell.
func (s *Server) handleNeighbor(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	easting, err := requiredFloat(q, "easting")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	northing, err := requiredFloat(q, "northing")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	depth, err := optionalDepth(q, "depth", 1, maxNeighborDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := s.grid.Largest(r.Context(), easting, northing, depth)
	if err != nil {
		s.logger.Error("neighbor query failed", "error", err, "easting", easting, "northing", northing)
		writeError(w, http.StatusBadGateway, fmt.Errorf("grid sampling failed"))
		return
	}
	writeJSON(w, http.StatusOK, newCellResponse(res.Cell))
}

type cellResponse struct {
	Easting          float64 `json:"easting"`
	Northing         float64 `json:"northing"`
	FlowAccumulation float64 `json:"flow_accumulation"`
	NoData           bool    `json:"no_data,omitempty"`
	DistanceMetres   float64 `json:"distance_metres"`
}

func newCellResponse(c snap.Cell) cellResponse {
	return cellResponse{
		Easting:          c.Point.Easting,
		Northing:         c.Point.Northing,
		FlowAccumulation: c.Value.Float64(),
		NoData:           c.Value.IsNoData(),
		DistanceMetres:   c.Distance,
	}
}

func requiredFloat(q url.Values, key string) (float64, error) {
	raw := q.Get(key)
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter %s", key)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func optionalFloat(q url.Values, key string, def float64) (float64, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func optionalDepth(q url.Values, key string, def, max int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	if v < 1 || v > max {
		return 0, fmt.Errorf("%s must be between 1 and %d", key, max)
	}
	return v, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
