package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dyluth/glint/internal/config"
	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/learning"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/signature"
	"github.com/dyluth/glint/internal/wave"
	"github.com/dyluth/glint/pkg/blackboard"
)

// ErrRejected is returned when a critical wave failure or a contradiction
// between signals terminates a run under the reject-on-critical policy.
var ErrRejected = errors.New("analysis rejected")

var tracer = otel.Tracer("glint.orchestrator")

// Contradiction names two signals that must agree within Tolerance.
// Numeric values are compared by absolute difference, others by equality.
type Contradiction struct {
	A         string
	B         string
	Tolerance float64
}

// Config is the run policy of an Engine.
type Config struct {
	Instance           string
	RejectOnCritical   bool
	EarlyExit          map[blackboard.Tier]float64 // >= 1.0 disables early exit for the tier
	DefaultWaveTimeout time.Duration               // Budget for waves declaring none
	Contradictions     []Contradiction
}

// DefaultConfig mirrors the defaults of glint.yml.
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom extracts the run policy from a validated glint.yml.
func ConfigFrom(cfg *config.GlintConfig) Config {
	o := cfg.Orchestrator
	out := Config{
		Instance:           cfg.Instance,
		RejectOnCritical:   o.RejectOnCritical,
		EarlyExit:          make(map[blackboard.Tier]float64, len(o.EarlyExit)),
		DefaultWaveTimeout: o.WaveTimeout(),
	}
	for tier, threshold := range o.EarlyExit {
		out.EarlyExit[blackboard.Tier(tier)] = threshold
	}
	for _, c := range o.Contradictions {
		out.Contradictions = append(out.Contradictions, Contradiction{A: c.A, B: c.B, Tolerance: c.Tolerance})
	}
	return out
}

func (c Config) threshold(tier blackboard.Tier) float64 {
	if t, ok := c.EarlyExit[tier]; ok {
		return t
	}
	return 1.0
}

// Enqueuer accepts background work without blocking.
// *learning.Coordinator implements it.
type Enqueuer interface {
	Enqueue(task learning.Task) error
}

// Options adjust a single run.
type Options struct {
	SessionID   string // Correlation id; a UUID is generated when empty
	Caption     bool   // Seed request.caption so caption waves trigger
	SkipCache   bool   // Ignore cached signatures
	NoLearning  bool   // Do not enqueue background work for this run
	NoEarlyExit bool   // Run every eligible wave regardless of confidence
}

// Engine runs analyses. It is safe for concurrent use; each run owns its
// own blackboard and the manifest set current when it started.
type Engine struct {
	cfg       Config
	manifests *manifest.Holder
	registry  *wave.Registry
	store     signature.Store

	mu      sync.Mutex
	learner Enqueuer
	built   *builtSet
}

type builtSet struct {
	set   *manifest.Set
	waves map[string]wave.Wave
}

// NewEngine creates an engine. store may be nil to disable the signature cache.
func NewEngine(cfg Config, manifests *manifest.Holder, registry *wave.Registry, store signature.Store) *Engine {
	if cfg.DefaultWaveTimeout <= 0 {
		cfg.DefaultWaveTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		manifests: manifests,
		registry:  registry,
		store:     store,
	}
}

// SetLearner attaches the background coordinator. The coordinator usually
// needs the engine as its Analyzer, so it is wired after construction.
func (e *Engine) SetLearner(l Enqueuer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.learner = l
}

func (e *Engine) currentLearner() Enqueuer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.learner
}

// wavesFor instantiates the waves of set, reusing the previous build while
// the set is unchanged.
func (e *Engine) wavesFor(set *manifest.Set) (map[string]wave.Wave, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.built != nil && e.built.set == set {
		return e.built.waves, nil
	}
	waves, missing, err := e.registry.Build(set)
	if err != nil {
		return nil, err
	}
	for _, name := range missing {
		log.Printf("[Orchestrator] WARNING: manifest '%s' has no registered wave and will never run", name)
	}
	e.built = &builtSet{set: set, waves: waves}
	return waves, nil
}

// AnalyzePath loads the image at path and analyzes it.
func (e *Engine) AnalyzePath(ctx context.Context, path string, opts Options) (*Result, error) {
	img, err := imaging.Load(path)
	if err != nil {
		return nil, err
	}
	return e.Analyze(ctx, img, opts)
}

// Analyze runs one analysis of img and returns its result.
//
// A result is returned for every run that is neither cancelled nor rejected,
// even when waves failed. A rejected run returns both its partial result and
// an error wrapping ErrRejected. Cancellation returns ctx's error.
func (e *Engine) Analyze(ctx context.Context, img *imaging.Image, opts Options) (*Result, error) {
	if img == nil || len(img.Frames) == 0 {
		return nil, fmt.Errorf("image has no frames")
	}

	set := e.manifests.Current()
	waves, err := e.wavesFor(set)
	if err != nil {
		return nil, err
	}

	r := newRun(e, set, waves, img, opts)
	ctx, span := tracer.Start(ctx, "orchestrator.Analyze",
		trace.WithAttributes(
			attribute.String("glint.session_id", r.board.SessionID()),
			attribute.String("glint.signature_key", r.key),
			attribute.Int("glint.waves", len(waves)),
		),
	)
	defer span.End()

	res, err := r.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if res != nil {
			runsTotal.WithLabelValues(string(res.Status)).Inc()
			e.logEvent("run_rejected", map[string]interface{}{
				"session_id": res.SessionID,
				"image":      img.Path,
				"reason":     res.RejectReason,
			})
		}
		return res, err
	}

	span.SetAttributes(
		attribute.String("glint.tier", string(res.Route.Tier)),
		attribute.Bool("glint.from_cache", res.FromCache),
		attribute.Bool("glint.truncated", res.Truncated),
	)
	span.SetStatus(codes.Ok, "")
	runsTotal.WithLabelValues(string(res.Status)).Inc()
	runSeconds.WithLabelValues(string(res.Route.Tier)).Observe(res.Elapsed.Seconds())

	e.logEvent("run_completed", map[string]interface{}{
		"session_id": res.SessionID,
		"image":      img.Path,
		"tier":       res.Route.Tier,
		"reason":     res.Route.Reason,
		"confidence": res.Confidence,
		"completed":  len(res.Completed),
		"failed":     len(res.Failed),
		"from_cache": res.FromCache,
		"truncated":  res.Truncated,
		"elapsed_ms": res.Elapsed.Milliseconds(),
	})

	if !opts.NoLearning {
		e.enqueueLearning(img, res)
	}
	return res, nil
}

// AnalyzeFull runs every eligible wave without the cache or early exit and
// summarizes the run as a signature observation. It implements
// learning.Analyzer.
func (e *Engine) AnalyzeFull(ctx context.Context, img *imaging.Image) (*blackboard.Signature, error) {
	res, err := e.Analyze(ctx, img, Options{SkipCache: true, NoLearning: true, NoEarlyExit: true})
	if err != nil {
		return nil, err
	}
	return res.Signature(), nil
}

// enqueueLearning hands the background coordinator what it needs to keep
// the cache current. Cached and truncated results are recomputed in full;
// complete fresh results are merged directly.
func (e *Engine) enqueueLearning(img *imaging.Image, res *Result) {
	learner := e.currentLearner()
	if learner == nil {
		return
	}

	var tasks []learning.Task
	switch {
	case res.FromCache:
		tasks = append(tasks, learning.Task{Kind: learning.Refinement, SignatureKey: res.SignatureKey, Image: img})
	case res.Truncated:
		tasks = append(tasks, learning.Task{Kind: learning.FullAnalysis, SignatureKey: res.SignatureKey, Image: img})
	default:
		tasks = append(tasks, learning.Task{Kind: learning.SignatureUpdate, SignatureKey: res.SignatureKey, Observation: res.Signature()})
	}
	if sample := res.ocrSample(); sample != nil {
		tasks = append(tasks, learning.Task{Kind: learning.OcrQualityLearning, SignatureKey: res.SignatureKey, OCR: sample})
	}

	for _, task := range tasks {
		if err := learner.Enqueue(task); err != nil {
			log.Printf("[Orchestrator] Failed to enqueue %s task: %v", task.Kind, err)
		}
	}
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "orchestrator"
	data["event_type"] = eventType
	data["instance"] = e.cfg.Instance

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Orchestrator] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
