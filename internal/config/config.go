package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Signature store backends
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// GlintConfig represents the top-level glint.yml configuration
type GlintConfig struct {
	Version      string              `yaml:"version"`
	Instance     string              `yaml:"instance,omitempty"` // Namespace for Redis keys and channels (default "default")
	Redis        *RedisConfig        `yaml:"redis,omitempty"`
	Signatures   *SignaturesConfig   `yaml:"signatures,omitempty"`
	Coordinator  *CoordinatorConfig  `yaml:"coordinator,omitempty"`
	Orchestrator *OrchestratorConfig `yaml:"orchestrator,omitempty"`
	Manifests    *ManifestsConfig    `yaml:"manifests,omitempty"`
	Vision       *VisionConfig       `yaml:"vision,omitempty"`
	OCR          *OCRConfig          `yaml:"ocr,omitempty"`
	Health       *HealthConfig       `yaml:"health,omitempty"`
}

// RedisConfig locates the Redis server used for signatures and events
type RedisConfig struct {
	URL string `yaml:"url,omitempty"` // Default: redis://localhost:6379
}

// SignaturesConfig selects the signature cache backend
type SignaturesConfig struct {
	Backend string `yaml:"backend,omitempty"` // memory (default), badger, or redis
	Path    string `yaml:"path,omitempty"`    // Required for badger
}

// CoordinatorConfig sizes the background learning queue
type CoordinatorConfig struct {
	Capacity   *int `yaml:"capacity,omitempty"`    // Max pending tasks (default 64)
	OCRSamples *int `yaml:"ocr_samples,omitempty"` // OCR quality records retained (default 256)
}

// Contradiction names two signals that must agree within Tolerance
type Contradiction struct {
	A         string  `yaml:"a"`
	B         string  `yaml:"b"`
	Tolerance float64 `yaml:"tolerance,omitempty"`
}

// OrchestratorConfig specifies run scheduling policy
type OrchestratorConfig struct {
	RejectOnCritical   bool               `yaml:"reject_on_critical,omitempty"`
	EarlyExit          map[string]float64 `yaml:"early_exit,omitempty"`           // tier -> confidence threshold (>= 1.0 disables)
	DefaultWaveTimeout string             `yaml:"default_wave_timeout,omitempty"` // Budget for waves declaring none (default 30s)
	Contradictions     []Contradiction    `yaml:"contradictions,omitempty"`
}

// ManifestsConfig locates wave manifests and their parameter overrides
type ManifestsConfig struct {
	Dir       string                    `yaml:"dir,omitempty"`       // Extra manifests replacing or extending the built-ins
	Watch     bool                      `yaml:"watch,omitempty"`     // Hot reload Dir on change
	Overrides map[string]map[string]any `yaml:"overrides,omitempty"` // wave -> parameter -> value
}

// VisionConfig configures the OpenAI-compatible vision backend
type VisionConfig struct {
	Endpoint          string  `yaml:"endpoint,omitempty"`            // Base URL; empty uses the OpenAI default
	Model             string  `yaml:"model,omitempty"`               // Default: gpt-4o-mini
	APIKeyEnv         string  `yaml:"api_key_env,omitempty"`         // Default: OPENAI_API_KEY
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Default: 1
	Burst             int     `yaml:"burst,omitempty"`               // Default: 1
}

// OCRConfig configures the tesseract recognizer
type OCRConfig struct {
	Languages      []string `yaml:"languages,omitempty"` // Default: [eng]
	TessdataPrefix string   `yaml:"tessdata_prefix,omitempty"`
	Disabled       bool     `yaml:"disabled,omitempty"` // Run without a recognizer (OCR reports unavailable)
}

// HealthConfig configures the daemon health server
type HealthConfig struct {
	Addr string `yaml:"addr,omitempty"` // Default: :8080
}

// Validate performs strict validation on the configuration and applies defaults
func (c *GlintConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}

	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379"
	}

	if err := c.validateSignatures(); err != nil {
		return err
	}
	if err := c.validateCoordinator(); err != nil {
		return err
	}
	if err := c.validateOrchestrator(); err != nil {
		return err
	}

	if c.Manifests == nil {
		c.Manifests = &ManifestsConfig{}
	}
	if c.Manifests.Dir != "" {
		if _, err := os.Stat(c.Manifests.Dir); os.IsNotExist(err) {
			return fmt.Errorf("manifests.dir does not exist: %s", c.Manifests.Dir)
		}
	}
	if c.Manifests.Watch && c.Manifests.Dir == "" {
		return fmt.Errorf("manifests.watch requires manifests.dir")
	}

	if c.Vision == nil {
		c.Vision = &VisionConfig{}
	}
	if c.Vision.Model == "" {
		c.Vision.Model = "gpt-4o-mini"
	}
	if c.Vision.APIKeyEnv == "" {
		c.Vision.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Vision.RequestsPerSecond == 0 {
		c.Vision.RequestsPerSecond = 1
	}
	if c.Vision.RequestsPerSecond < 0 {
		return fmt.Errorf("vision.requests_per_second must be > 0, got %v", c.Vision.RequestsPerSecond)
	}
	if c.Vision.Burst == 0 {
		c.Vision.Burst = 1
	}
	if c.Vision.Burst < 0 {
		return fmt.Errorf("vision.burst must be >= 1, got %d", c.Vision.Burst)
	}

	if c.OCR == nil {
		c.OCR = &OCRConfig{}
	}
	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"eng"}
	}

	if c.Health == nil {
		c.Health = &HealthConfig{}
	}
	if c.Health.Addr == "" {
		c.Health.Addr = ":8080"
	}

	return nil
}

func (c *GlintConfig) validateSignatures() error {
	if c.Signatures == nil {
		c.Signatures = &SignaturesConfig{}
	}
	if c.Signatures.Backend == "" {
		c.Signatures.Backend = BackendMemory
	}

	switch c.Signatures.Backend {
	case BackendMemory, BackendRedis:
	case BackendBadger:
		if c.Signatures.Path == "" {
			return fmt.Errorf("signatures.path is required for backend 'badger'")
		}
	default:
		return fmt.Errorf("invalid signatures.backend: %s (must be 'memory', 'badger', or 'redis')", c.Signatures.Backend)
	}
	return nil
}

func (c *GlintConfig) validateCoordinator() error {
	if c.Coordinator == nil {
		c.Coordinator = &CoordinatorConfig{}
	}
	if c.Coordinator.Capacity == nil {
		defaultCapacity := 64
		c.Coordinator.Capacity = &defaultCapacity
	}
	if *c.Coordinator.Capacity < 1 {
		return fmt.Errorf("coordinator.capacity must be >= 1, got %d", *c.Coordinator.Capacity)
	}
	if c.Coordinator.OCRSamples == nil {
		defaultSamples := 256
		c.Coordinator.OCRSamples = &defaultSamples
	}
	if *c.Coordinator.OCRSamples < 0 {
		return fmt.Errorf("coordinator.ocr_samples must be >= 0, got %d", *c.Coordinator.OCRSamples)
	}
	return nil
}

func (c *GlintConfig) validateOrchestrator() error {
	if c.Orchestrator == nil {
		c.Orchestrator = &OrchestratorConfig{}
	}
	o := c.Orchestrator

	defaults := DefaultEarlyExit()
	if o.EarlyExit == nil {
		o.EarlyExit = defaults
	} else {
		for tier, threshold := range defaults {
			if _, ok := o.EarlyExit[tier]; !ok {
				o.EarlyExit[tier] = threshold
			}
		}
	}
	for tier, threshold := range o.EarlyExit {
		if _, known := defaults[tier]; !known {
			return fmt.Errorf("orchestrator.early_exit: unknown tier '%s' (must be 'fast', 'balanced', or 'quality')", tier)
		}
		if threshold <= 0 || threshold > 1 {
			return fmt.Errorf("orchestrator.early_exit.%s must be within (0, 1], got %v", tier, threshold)
		}
	}

	if o.DefaultWaveTimeout == "" {
		o.DefaultWaveTimeout = "30s"
	}
	d, err := time.ParseDuration(o.DefaultWaveTimeout)
	if err != nil {
		return fmt.Errorf("invalid orchestrator.default_wave_timeout: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("orchestrator.default_wave_timeout must be > 0, got %s", o.DefaultWaveTimeout)
	}

	for i, pair := range o.Contradictions {
		if pair.A == "" || pair.B == "" {
			return fmt.Errorf("orchestrator.contradictions[%d]: both 'a' and 'b' are required", i)
		}
		if pair.Tolerance < 0 {
			return fmt.Errorf("orchestrator.contradictions[%d]: tolerance must be >= 0", i)
		}
	}
	return nil
}

// WaveTimeout returns the parsed default wave budget.
// Only valid after Validate.
func (o *OrchestratorConfig) WaveTimeout() time.Duration {
	d, err := time.ParseDuration(o.DefaultWaveTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// DefaultEarlyExit returns the per-tier early exit thresholds.
// Quality runs to completion.
func DefaultEarlyExit() map[string]float64 {
	return map[string]float64{
		"fast":     0.90,
		"balanced": 0.95,
		"quality":  1.0,
	}
}

// Default returns a validated configuration with every default applied.
func Default() *GlintConfig {
	c := &GlintConfig{Version: "1.0"}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return c
}

// Load reads and validates glint.yml from the specified path
func Load(path string) (*GlintConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config GlintConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
