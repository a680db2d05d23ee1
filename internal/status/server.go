// Package status serves a small read-only HTTP view of the agent for local
// diagnostics: liveness and the controller snapshot.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"edge-telemetry-agent/internal/controller"
)

// Source provides the controller snapshot.
type Source interface {
	Snapshot() controller.Status
}

type health struct {
	Status string    `json:"status"`
	Uptime string    `json:"uptime"`
	Now    time.Time `json:"now"`
}

// NewRouter returns the status routes. accessLog receives one line per request
// when non-nil.
func NewRouter(src Source, started time.Time, accessLog io.Writer) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, health{Status: "ok", Uptime: time.Since(started).Truncate(time.Second).String(), Now: time.Now().UTC()})
	}).Methods(http.MethodGet)
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	}).Methods(http.MethodGet)
	if accessLog == nil {
		return r
	}
	return handlers.LoggingHandler(accessLog, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Server runs the status endpoint until its context ends.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// New binds nothing yet; call Serve.
func New(addr string, h http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second},
		log: logger.With("component", "status"),
	}
}

// Serve listens and blocks until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("status endpoint listening", "addr", ln.Addr().String())
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
