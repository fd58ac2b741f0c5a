package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"paratest/internal/api"
	"paratest/internal/database"
	"paratest/internal/models"
	"paratest/internal/persistence"
)

func newStore(t *testing.T) *persistence.Store {
	db, err := database.NewSQLite(filepath.Join(t.TempDir(), "paratest.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})

	store := persistence.New(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func get(t *testing.T, srv *api.Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestGetTimings(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	srv := api.New(store)

	rec := get(t, srv, "/api/timings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `[]`, rec.Body.String())

	_, err := store.Initialize(ctx, "/src")
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, "/src", "t1", 1.0))
	require.NoError(t, store.Add(ctx, "/src", "t1", 3.0))
	require.NoError(t, store.Add(ctx, "/src", "t0", 0.5))

	rec = get(t, srv, "/api/timings")
	require.Equal(t, http.StatusOK, rec.Code)

	var report []persistence.SourceReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, []persistence.SourceReport{{
		Source: "/src",
		Tests: []persistence.TestAverage{
			{Test: "t0", Average: 0.5},
			{Test: "t1", Average: 2.0},
		},
	}}, report)
}

func TestGetExecutions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	srv := api.New(store)

	t.Run("requires a source", func(t *testing.T) {
		rec := get(t, srv, "/api/executions")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("newest first", func(t *testing.T) {
		first, err := store.Initialize(ctx, "/src")
		require.NoError(t, err)
		second, err := store.Initialize(ctx, "/src")
		require.NoError(t, err)

		rec := get(t, srv, "/api/executions?source=/src")
		require.Equal(t, http.StatusOK, rec.Code)

		var executions []models.Execution
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&executions))
		require.Len(t, executions, 2)
		assert.Equal(t, second, executions[0].ID)
		assert.Equal(t, first, executions[1].ID)
	})

	t.Run("unknown source", func(t *testing.T) {
		rec := get(t, srv, "/api/executions?source=/other")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})
}

func TestMetrics(t *testing.T) {
	srv := api.New(newStore(t))

	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	// default registry collectors
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestConfig_Addr(t *testing.T) {
	conf := api.Config{Host: "127.0.0.1", Port: 8080}
	assert.Equal(t, "127.0.0.1:8080", conf.Addr())
}

func TestListenAndServe_StopsWithContext(t *testing.T) {
	srv := api.New(newStore(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	assert.NoError(t, <-done)
}
