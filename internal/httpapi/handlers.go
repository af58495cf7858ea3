package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"courtqueue/internal/repository"
	"courtqueue/internal/service"
)

// Healthz reports that the process is up.
func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Readyz pings the store.
func Readyz(ready ReadyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			log.Warn().Err(err).Msg("Readiness check failed")
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBoard returns the current board as JSON.
func GetBoard(src BoardSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := src.Board(r.Context())
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repository.ErrStoreUnavailable) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, service.OutcomeOf(err).Message, status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(b)
	}
}
