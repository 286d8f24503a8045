package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/glint/internal/bootstrap"
	"github.com/dyluth/glint/internal/config"
	"github.com/dyluth/glint/internal/orchestrator"
)

func main() {
	// 1. Load glint.yml (GLINT_CONFIG, default ./glint.yml)
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// 2. Environment overrides for container deployments
	if name := os.Getenv("GLINT_INSTANCE_NAME"); name != "" {
		cfg.Instance = name
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}

	// 3. Connect Redis, open the signature store, load manifests, build the engine
	rt, err := bootstrap.New(cfg, bootstrap.Options{NeedRedis: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	fmt.Printf("Glint daemon starting for instance '%s' with %d manifests\n",
		cfg.Instance, rt.Manifests.Current().Len())

	// 4. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// 5. Background learning and manifest hot reload
	if err := rt.Start(runCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to start background workers: %v\n", err)
		os.Exit(1)
	}

	// 6. Serve requests
	daemon := orchestrator.NewDaemon(rt.Engine, rt.Client, cfg.Health.Addr)
	errCh := make(chan error, 1)
	go func() {
		errCh <- daemon.Run(runCtx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Daemon error: %v\n", runErr)
			rt.Close()
			os.Exit(1)
		}
	}

	fmt.Println("Glint daemon stopped")
}

func loadConfig() (*config.GlintConfig, error) {
	path := os.Getenv("GLINT_CONFIG")
	if path == "" {
		path = "glint.yml"
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, nil
}
