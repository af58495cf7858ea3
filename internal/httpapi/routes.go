// Package httpapi serves the board read model over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"courtqueue/internal/service"
)

// BoardSource provides the read model.
type BoardSource interface {
	Board(ctx context.Context) (*service.Board, error)
}

// ReadyCheck reports whether the backing store is reachable.
type ReadyCheck func(ctx context.Context) error

// SetupRoutes builds the router. A nil ready check always reports ready.
// When origins is non-empty, browsers on those origins may read the board.
func SetupRoutes(src BoardSource, ready ReadyCheck, origins ...string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/readyz", Readyz(ready))
	r.Get("/api/board", GetBoard(src))

	if len(origins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

// Server runs the router until its context ends.
type Server struct {
	srv *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, src BoardSource, ready ReadyCheck, origins ...string) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           SetupRoutes(src, ready, origins...),
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Run serves until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("HTTP server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
