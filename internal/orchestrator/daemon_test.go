package orchestrator

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/glint/internal/learning"
	"github.com/dyluth/glint/internal/signature"
	"github.com/dyluth/glint/internal/wave/builtin"
	"github.com/dyluth/glint/pkg/blackboard"
)

func setupDaemon(t *testing.T) (*Daemon, *blackboard.Subscription[blackboard.AnalysisEvent]) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	sub, err := client.SubscribeAnalysisEvents(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sub.Close() })

	engine := defaultEngine(t, builtin.Deps{}, nil)
	return NewDaemon(engine, client, "127.0.0.1:0"), sub
}

func writePNG(t *testing.T) string {
	t.Helper()
	rgba := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for i := 0; i < len(rgba.Pix); i += 4 {
		rgba.Pix[i], rgba.Pix[i+1], rgba.Pix[i+2], rgba.Pix[i+3] = 0, 0, 255, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, rgba))
	path := filepath.Join(t.TempDir(), "blue.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func nextEvent(t *testing.T, sub *blackboard.Subscription[blackboard.AnalysisEvent]) *blackboard.AnalysisEvent {
	t.Helper()
	select {
	case event := <-sub.Events():
		require.NotNil(t, event)
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for analysis event")
		return nil
	}
}

func TestDaemon_HandleRequestPublishesResult(t *testing.T) {
	d, sub := setupDaemon(t)

	req := &blackboard.AnalysisRequest{ID: "req-1", ImagePath: writePNG(t), CreatedAtMs: time.Now().UnixMilli()}
	require.NoError(t, d.handleRequest(context.Background(), req))

	event := nextEvent(t, sub)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, "req-1", event.SessionID)
	assert.Equal(t, blackboard.AnalysisStatusDone, event.Status)
	assert.Equal(t, blackboard.TierFast, event.Tier)
	assert.Equal(t, "#0000ff", event.DominantColor)
	assert.Contains(t, event.CompletedWaves, "color")
	assert.NotEmpty(t, event.SignatureKey)
}

func TestDaemon_HandleRequestPublishesErrors(t *testing.T) {
	d, sub := setupDaemon(t)

	tests := []struct {
		name    string
		req     *blackboard.AnalysisRequest
		wantErr string
	}{
		{"invalid request", &blackboard.AnalysisRequest{ID: "req-2"}, "image path cannot be empty"},
		{"missing file", &blackboard.AnalysisRequest{ID: "req-3", ImagePath: filepath.Join(t.TempDir(), "missing.png")}, "missing.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, d.handleRequest(context.Background(), tt.req))

			event := nextEvent(t, sub)
			assert.Equal(t, tt.req.ID, event.RequestID)
			assert.Equal(t, blackboard.AnalysisStatusError, event.Status)
			assert.Contains(t, event.Error, tt.wantErr)
			assert.Empty(t, event.CompletedWaves)
		})
	}
}

func TestDaemon_RunStopsOnCancel(t *testing.T) {
	d, _ := setupDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemon_Stats(t *testing.T) {
	d, _ := setupDaemon(t)

	stats := d.Stats()
	assert.Equal(t, "test-instance", stats.Instance)
	assert.Contains(t, stats.Manifests, "route")
	assert.Nil(t, stats.Coordinator)

	d.engine.SetLearner(learning.New(signature.NewMemoryStore(), nil, learning.Config{Capacity: 4}))
	stats = d.Stats()
	require.NotNil(t, stats.Coordinator)
	assert.Equal(t, 4, stats.Coordinator.Capacity)
}
