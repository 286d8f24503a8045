// Package bootstrap assembles a runnable analysis stack from glint.yml:
// signature store, recognizers, vision backend, manifests, engine and the
// background learning coordinator.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/glint/internal/config"
	"github.com/dyluth/glint/internal/learning"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/ocr/tesseract"
	"github.com/dyluth/glint/internal/orchestrator"
	"github.com/dyluth/glint/internal/signature"
	"github.com/dyluth/glint/internal/vision"
	"github.com/dyluth/glint/internal/wave/builtin"
	"github.com/dyluth/glint/pkg/blackboard"
)

// Options adjust what New wires beyond the configuration.
type Options struct {
	// NeedRedis connects to Redis even when the signature backend does not use it.
	NeedRedis bool
	// Deps replaces the recognizer and vision backends built from the config.
	Deps *builtin.Deps
}

// Runtime is an assembled stack. Close releases everything it opened.
type Runtime struct {
	Config      *config.GlintConfig
	Engine      *orchestrator.Engine
	Coordinator *learning.Coordinator
	Manifests   *manifest.Holder
	Store       signature.Store
	Client      *blackboard.Client // nil unless Redis is in use

	watcher *manifest.Watcher
	closers []func() error
}

// New builds a runtime from a validated configuration.
func New(cfg *config.GlintConfig, opts Options) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	if opts.NeedRedis || cfg.Signatures.Backend == config.BackendRedis {
		client, err := Connect(cfg)
		if err != nil {
			return nil, err
		}
		rt.Client = client
		rt.closers = append(rt.closers, client.Close)
	}

	store, err := rt.openStore()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Store = store

	load := Loader(cfg.Manifests)
	set, err := load()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Manifests = manifest.NewHolder(set)

	if cfg.Manifests.Watch {
		w, err := manifest.NewWatcher(cfg.Manifests.Dir, rt.Manifests, load, manifest.DefaultDebounce)
		if err != nil {
			rt.Close()
			return nil, err
		}
		w.OnReload = func(set *manifest.Set, err error) {
			if err == nil {
				log.Printf("[Bootstrap] Manifests reloaded: %v", set.Names())
			}
		}
		rt.watcher = w
	}

	deps := buildDeps(cfg)
	if opts.Deps != nil {
		deps = *opts.Deps
	}

	rt.Engine = orchestrator.NewEngine(orchestrator.ConfigFrom(cfg), rt.Manifests, builtin.NewRegistry(deps), store)
	rt.Coordinator = learning.New(store, rt.Engine, learning.Config{
		Capacity:   *cfg.Coordinator.Capacity,
		OCRSamples: *cfg.Coordinator.OCRSamples,
	})
	rt.Engine.SetLearner(rt.Coordinator)

	log.Printf("[Bootstrap] Instance '%s': %d manifests, signature backend '%s'",
		cfg.Instance, set.Len(), cfg.Signatures.Backend)
	return rt, nil
}

// Start launches the background coordinator and the manifest watcher.
func (rt *Runtime) Start(ctx context.Context) error {
	rt.Coordinator.Start(ctx)
	if rt.watcher != nil {
		if err := rt.watcher.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops background work and releases the store and Redis client.
func (rt *Runtime) Close() error {
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	if rt.Coordinator != nil {
		rt.Coordinator.Stop()
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// Loader returns a function loading the built-in manifests, the configured
// directory and the parameter overrides, in that order.
func Loader(mc *config.ManifestsConfig) manifest.LoaderFunc {
	return func() (*manifest.Set, error) {
		set, err := manifest.Load(mc.Dir)
		if err != nil {
			return nil, err
		}
		if len(mc.Overrides) == 0 {
			return set, nil
		}
		overrides := make(map[string]manifest.Params, len(mc.Overrides))
		for name, params := range mc.Overrides {
			overrides[name] = manifest.Params(params)
		}
		return set.WithOverrides(overrides)
	}
}

// Connect opens a blackboard client for cfg and verifies Redis answers.
func Connect(cfg *config.GlintConfig) (*blackboard.Client, error) {
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis.url: %w", err)
	}
	client, err := blackboard.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}
	if err := client.Ping(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis not accessible: %w", err)
	}
	return client, nil
}

func (rt *Runtime) openStore() (signature.Store, error) {
	switch rt.Config.Signatures.Backend {
	case config.BackendBadger:
		store, err := signature.OpenBadger(signature.DefaultBadgerConfig(rt.Config.Signatures.Path))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		return store, nil
	case config.BackendRedis:
		return signature.NewRedisStore(rt.Client), nil
	default:
		return signature.NewMemoryStore(), nil
	}
}

// buildDeps creates the recognizer and vision backends the config asks for.
// Missing backends leave their waves reporting unavailable.
func buildDeps(cfg *config.GlintConfig) builtin.Deps {
	var deps builtin.Deps

	if cfg.OCR.Disabled {
		log.Printf("[Bootstrap] OCR disabled by configuration")
	} else {
		engine := tesseract.New(tesseract.Config{
			Languages:      cfg.OCR.Languages,
			TessdataPrefix: cfg.OCR.TessdataPrefix,
		})
		deps.Recognizer = engine
		deps.Detector = engine
	}

	backend, err := vision.FromEnv(vision.Config{
		Endpoint:          cfg.Vision.Endpoint,
		Model:             cfg.Vision.Model,
		RequestsPerSecond: cfg.Vision.RequestsPerSecond,
		Burst:             cfg.Vision.Burst,
	}, cfg.Vision.APIKeyEnv)
	if err != nil {
		log.Printf("[Bootstrap] Vision captions disabled: %v", err)
	} else {
		deps.Vision = backend
	}
	return deps
}
