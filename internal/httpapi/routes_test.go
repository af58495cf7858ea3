package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtqueue/internal/model"
	"courtqueue/internal/repository"
	"courtqueue/internal/service"
)

type stubBoard struct {
	board *service.Board
	err   error
}

func (s stubBoard) Board(context.Context) (*service.Board, error) {
	return s.board, s.err
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupRoutes(stubBoard{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name  string
		ready ReadyCheck
		want  int
	}{
		{"no check", nil, http.StatusOK},
		{"store up", func(context.Context) error { return nil }, http.StatusOK},
		{"store down", func(context.Context) error { return fmt.Errorf("dial: refused") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			SetupRoutes(stubBoard{}, tt.ready).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGetBoard(t *testing.T) {
	court := int64(1)
	b := &service.Board{
		Playing: []*model.Game{{ID: 9, Status: model.GamePlaying, CourtID: &court}},
		Mode:    "live",
		Stats:   service.Stats{Playing: 1, ActiveCourts: 2},
	}

	rec := httptest.NewRecorder()
	SetupRoutes(stubBoard{board: b}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/board", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "live", got["mode"])
	playing := got["playing_games"].([]any)
	require.Len(t, playing, 1)
	assert.EqualValues(t, 9, playing[0].(map[string]any)["id"])
}

func TestGetBoard_StoreUnavailable(t *testing.T) {
	err := fmt.Errorf("list: %w", repository.ErrStoreUnavailable)
	rec := httptest.NewRecorder()
	SetupRoutes(stubBoard{err: err}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/board", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetBoard_OtherError(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupRoutes(stubBoard{err: fmt.Errorf("boom")}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/board", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORS(t *testing.T) {
	h := SetupRoutes(stubBoard{board: &service.Board{}}, nil, "https://display.example")

	req := httptest.NewRequest(http.MethodGet, "/api/board", nil)
	req.Header.Set("Origin", "https://display.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://display.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/board", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_DisabledWithoutOrigins(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/board", nil)
	req.Header.Set("Origin", "https://display.example")
	rec := httptest.NewRecorder()
	SetupRoutes(stubBoard{board: &service.Board{}}, nil).ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
