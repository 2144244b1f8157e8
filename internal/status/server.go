// Package status exposes liveness and the last loop outcomes over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"flightwatch/internal/service"
	"flightwatch/internal/version"
)

// Source provides the snapshot served on /status.
type Source interface {
	Status() service.Status
}

// Server is a small HTTP server for operators and probes.
type Server struct {
	addr   string
	source Source
	logger zerolog.Logger
}

// New constructs a status server listening on addr.
func New(addr string, source Source, logger zerolog.Logger) *Server {
	return &Server{
		addr:   addr,
		source: source,
		logger: logger.With().Str("component", "status").Logger(),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			s.logger.Debug().Err(err).Msg("write healthz response")
		}
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		payload := struct {
			service.Status
			Version string `json:"version"`
			Now     string `json:"now"`
		}{
			Status:  s.source.Status(),
			Version: version.Version,
			Now:     time.Now().UTC().Format(time.RFC3339),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Debug().Err(err).Msg("write status response")
		}
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
