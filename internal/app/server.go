package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxrelay/internal/observe"
	"github.com/MrWong99/voxrelay/internal/pipeline"
)

const serverShutdownTimeout = 5 * time.Second

// statsResponse is the body of GET /stats.
type statsResponse struct {
	SessionID  string         `json:"session_id"`
	State      string         `json:"state"`
	Started    time.Time      `json:"started"`
	Utterances int            `json:"utterances"`
	Pending    int            `json:"pending"`
	Pipeline   pipeline.Stats `json:"pipeline"`
}

// Handler returns the observability routes: /metrics, /healthz, /readyz and
// /stats, wrapped in request tracing.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	mux.HandleFunc("GET /stats", a.handleStats)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	st, _ := a.session.State()
	resp := statsResponse{
		SessionID:  a.session.ID(),
		State:      st.String(),
		Started:    a.session.Started(),
		Utterances: a.session.Len(),
		Pending:    a.orch.Pending(),
		Pipeline:   a.orch.Stats(),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Debug("stats response not written", "err", err)
	}
}

// serve runs the observability server until ctx is done.
func (a *App) serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("observability server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("observability server failed", "addr", addr, "err", err)
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("observability server shutdown", "err", err)
	}
	return nil
}
