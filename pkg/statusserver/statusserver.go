// Package statusserver exposes a minimal liveness/readiness HTTP
// surface, distinct from (and much smaller than) the evaluation façade
// that spec.md §1 puts out of scope. It exists purely so an operator or
// orchestrator can tell the process is up and has completed its first
// successful init.
package statusserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/store"
)

// Server wraps an http.Server with graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// New builds a Server listening on addr. reader.Initialized() backs the
// readiness probe; liveness always reports healthy once the process can
// answer HTTP at all.
func New(addr string, reader store.Reader, log *logger.Logger) *Server {
	r := chi.NewRouter()
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(reader))

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r},
		log:        log,
	}
}

// Run listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.log.Info("statusserver: shutting down")
		return s.httpServer.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

type statusBody struct {
	Status string `json:"status"`
}

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	}
}

func readyzHandler(reader store.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !reader.Initialized() {
			writeStatus(w, http.StatusServiceUnavailable, "not_initialized")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	}
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(statusBody{Status: status})
}
