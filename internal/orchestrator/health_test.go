package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/glint/internal/learning"
	"github.com/dyluth/glint/pkg/blackboard"
)

// TestHealthCheckEndpoint_MethodNotAllowed verifies non-GET requests are rejected.
func TestHealthCheckEndpoint_MethodNotAllowed(t *testing.T) {
	server := NewHealthServer(nil, nil, "")

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	w := httptest.NewRecorder()

	server.healthCheckHandler(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// TestHealthCheckResponse verifies the JSON response structure.
func TestHealthCheckResponse(t *testing.T) {
	t.Run("unhealthy when Redis unavailable", func(t *testing.T) {
		// Port 9 is the discard protocol - connections will fail immediately
		client, err := blackboard.NewClient(&redis.Options{
			Addr:         "localhost:9",
			DialTimeout:  50 * time.Millisecond,
			ReadTimeout:  50 * time.Millisecond,
			WriteTimeout: 50 * time.Millisecond,
		}, "test")
		require.NoError(t, err)
		defer client.Close()

		server := NewHealthServer(client, nil, "")

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil).WithContext(ctx)
		w := httptest.NewRecorder()

		server.healthCheckHandler(w, req)

		var response HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "unhealthy", response.Status)
		assert.Equal(t, "disconnected", response.Redis)
		assert.NotEmpty(t, response.Error)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	})

	t.Run("healthy when Redis responds", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
		require.NoError(t, err)
		defer client.Close()

		server := NewHealthServer(client, nil, "")
		w := httptest.NewRecorder()
		server.healthCheckHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		var response HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "connected", response.Redis)
	})

	t.Run("healthy without a Redis dependency", func(t *testing.T) {
		server := NewHealthServer(nil, nil, "")
		w := httptest.NewRecorder()
		server.healthCheckHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		var response HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, response.Redis)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewHealthServer(nil, nil, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStatsEndpoint(t *testing.T) {
	t.Run("reports daemon state", func(t *testing.T) {
		stats := func() DaemonStats {
			return DaemonStats{
				Instance:    "prod",
				Manifests:   []string{"identity", "color"},
				Coordinator: &learning.Stats{Depth: 3, Capacity: 64},
			}
		}
		srv := httptest.NewServer(NewHealthServer(nil, stats, "").Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/stats")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got DaemonStats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, "prod", got.Instance)
		assert.Equal(t, []string{"identity", "color"}, got.Manifests)
		require.NotNil(t, got.Coordinator)
		assert.Equal(t, 3, got.Coordinator.Depth)

		health, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer health.Body.Close()
		var hr HealthResponse
		require.NoError(t, json.NewDecoder(health.Body).Decode(&hr))
		assert.Equal(t, "prod", hr.Instance)
		assert.Equal(t, 2, hr.Manifests)
		assert.Equal(t, 3, hr.QueueDepth)
	})

	t.Run("not found without a stats source", func(t *testing.T) {
		srv := httptest.NewServer(NewHealthServer(nil, nil, "").Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/stats")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
