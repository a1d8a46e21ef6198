package observability

// -----------------------------------------------------------------------------
// Operational HTTP surface: /metrics, /healthz, /diag
// -----------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/potwatch/potwatch/internal/token"
)

// TokenQuery is the read-only view the reporting endpoints serve from.
// The pot satisfies it.
type TokenQuery interface {
	ListFor(bucket token.Bucket) []token.Token
	Get(mint token.Mint) (token.Token, bool)
}

// Refresher triggers an immediate analysis pass for one mint. The analysis
// runner satisfies it; its single-flight claim makes concurrent triggers safe.
type Refresher interface {
	Analyze(ctx context.Context, mint token.Mint) error
}

// refreshTimeout bounds the on-demand pass so a slow provider chain cannot
// hold a detail request to the server's write deadline.
const refreshTimeout = 10 * time.Second

// Server exposes the engine's operational endpoints.
type Server struct {
	srv            *http.Server
	monitor        *HealthMonitor
	diag           func() any
	query          TokenQuery
	refresher      Refresher
	staleThreshold time.Duration
}

// NewServer builds the operational server. diag returns the full diagnostics
// document served at /diag; it is called per request. refresher may be nil,
// in which case stale snapshots are served as-is.
func NewServer(port int, reg *prometheus.Registry, monitor *HealthMonitor, diag func() any, query TokenQuery, refresher Refresher, staleThreshold time.Duration) *Server {
	s := &Server{monitor: monitor, diag: diag, query: query, refresher: refresher, staleThreshold: staleThreshold}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/diag", s.handleDiag)
	mux.HandleFunc("/tokens", s.handleTokens)
	mux.HandleFunc("/token", s.handleToken)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("observability: http server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("observability: serve: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.monitor.Check(r.Context())

	code := http.StatusOK
	if health.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

func (s *Server) handleDiag(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.diag())
}

// handleTokens lists the current members of one bucket, point-in-time.
func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	bucket := token.Bucket(r.URL.Query().Get("bucket"))
	if !bucket.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown bucket"})
		return
	}
	members := s.query.ListFor(bucket)
	writeJSON(w, http.StatusOK, map[string]any{
		"bucket": bucket,
		"count":  len(members),
		"tokens": members,
	})
}

// tokenDetail is one tracked token plus snapshot freshness.
type tokenDetail struct {
	token.Token
	Stale bool `json:"stale"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	mint := token.Mint(r.URL.Query().Get("mint"))
	if mint == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mint parameter required"})
		return
	}
	tok, ok := s.query.Get(mint)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not tracked"})
		return
	}

	// A stale (or missing) snapshot gets one refresh attempt before being
	// surfaced. On failure the stale data is served rather than blocking.
	now := time.Now().UTC()
	if s.refresher != nil && (tok.Snapshot == nil || tok.Snapshot.Stale(now, s.staleThreshold)) {
		rctx, cancel := context.WithTimeout(r.Context(), refreshTimeout)
		err := s.refresher.Analyze(rctx, mint)
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("mint", string(mint)).Msg("observability: on-demand refresh failed, serving last snapshot")
		} else if fresh, still := s.query.Get(mint); still {
			tok = fresh
		}
	}

	detail := tokenDetail{Token: tok}
	if tok.Snapshot != nil {
		detail.Stale = tok.Snapshot.Stale(time.Now().UTC(), s.staleThreshold)
	}
	writeJSON(w, http.StatusOK, detail)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("observability: response write failed")
	}
}
