package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthServer serves /health (liveness, always 200) and /health/ready.
//
// Readiness is off until SetReady(true). A ready daemon whose last successful
// analysis cycle is older than staleAfter answers 503 "stale"; before the
// first cycle the readiness flip stands in for it. Zero staleAfter disables
// the check.
type HealthServer struct {
	addr       string
	staleAfter time.Duration
	logger     *slog.Logger
	isReady    atomic.Bool
	lastCycle  atomic.Int64
	now        func() time.Time
	server     *http.Server
}

// healthResponse is the JSON body of both endpoints.
type healthResponse struct {
	Status    string     `json:"status"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
}

// NewHealthServer creates a health server that is not ready and not started.
func NewHealthServer(addr string, staleAfter time.Duration, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthServer{
		addr:       addr,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Handler returns the endpoint mux.
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleLiveness)
	mux.HandleFunc("/health/ready", h.handleReadiness)
	return mux
}

// Start serves until ctx is canceled, then shuts down with a 5-second grace
// period and returns http.ErrServerClosed.
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("health server starting", slog.String("addr", h.addr))
		if err := h.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h.logger.Info("health server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("health server shutdown failed", slog.Any("error", err))
			return err
		}
		h.logger.Info("health server stopped")
		return http.ErrServerClosed

	case err := <-errChan:
		if err != http.ErrServerClosed {
			h.logger.Error("health server failed", slog.Any("error", err))
		}
		return err
	}
}

// SetReady sets the readiness state.
func (h *HealthServer) SetReady(ready bool) {
	if ready && !h.isReady.Load() && h.lastCycle.Load() == 0 {
		h.lastCycle.Store(h.now().UnixNano())
	}
	h.isReady.Store(ready)
	h.logger.Info("health server readiness changed", slog.Bool("ready", ready))
}

// MarkCycle records a successful analysis cycle at t.
func (h *HealthServer) MarkCycle(t time.Time) {
	h.lastCycle.Store(t.UnixNano())
}

func (h *HealthServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if !h.isReady.Load() {
		h.write(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
		return
	}

	resp := healthResponse{Status: "ok"}
	if nanos := h.lastCycle.Load(); nanos != 0 {
		last := time.Unix(0, nanos).UTC()
		resp.LastCycle = &last
		if h.staleAfter > 0 && h.now().Sub(last) > h.staleAfter {
			resp.Status = "stale"
			h.write(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	h.write(w, http.StatusOK, resp)
}

func (h *HealthServer) write(w http.ResponseWriter, status int, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode health response", slog.Any("error", err))
	}
}
