//go:build integration

package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dyluth/glint/internal/bootstrap"
	"github.com/dyluth/glint/internal/config"
	"github.com/dyluth/glint/internal/orchestrator"
	"github.com/dyluth/glint/internal/watch"
	"github.com/dyluth/glint/internal/wave/builtin"
	"github.com/dyluth/glint/pkg/blackboard"
)

// setupRedis starts a Redis container for testing.
func setupRedis(t *testing.T) string {
	ctx := context.Background()

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	})

	host, err := redisC.Host(ctx)
	require.NoError(t, err)
	port, err := redisC.MappedPort(ctx, "6379")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s", host, port.Port())
}

func writeImage(t *testing.T) string {
	t.Helper()
	rgba := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for i := 0; i < len(rgba.Pix); i += 4 {
		rgba.Pix[i+1], rgba.Pix[i+3] = 255, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, rgba))
	path := filepath.Join(t.TempDir(), "green.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// TestDaemon_ServesRequestsAndLearns submits a request through real Redis and
// checks the answer and the learned signature.
func TestDaemon_ServesRequestsAndLearns(t *testing.T) {
	cfg := &config.GlintConfig{
		Version:    "1.0",
		Instance:   "integration",
		Redis:      &config.RedisConfig{URL: setupRedis(t)},
		Signatures: &config.SignaturesConfig{Backend: config.BackendRedis},
		Health:     &config.HealthConfig{Addr: "127.0.0.1:0"},
	}
	require.NoError(t, cfg.Validate())

	rt, err := bootstrap.New(cfg, bootstrap.Options{NeedRedis: true, Deps: &builtin.Deps{}})
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, rt.Start(ctx))

	done := make(chan error, 1)
	go func() { done <- orchestrator.NewDaemon(rt.Engine, rt.Client, cfg.Health.Addr).Run(ctx) }()

	req := &blackboard.AnalysisRequest{ID: uuid.New().String(), ImagePath: writeImage(t), CreatedAtMs: time.Now().UnixMilli()}

	// The daemon subscribes asynchronously; retry until it answers.
	var event *blackboard.AnalysisEvent
	require.Eventually(t, func() bool {
		event, err = watch.Submit(ctx, rt.Client, req, time.Second)
		return err == nil
	}, 15*time.Second, 100*time.Millisecond)

	assert.Equal(t, req.ID, event.RequestID)
	assert.Equal(t, blackboard.AnalysisStatusDone, event.Status)
	assert.Equal(t, "#00ff00", event.DominantColor)

	require.Eventually(t, func() bool {
		keys, err := rt.Client.ScanSignatureKeys(ctx)
		return err == nil && len(keys) == 1 && keys[0] == event.SignatureKey
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
