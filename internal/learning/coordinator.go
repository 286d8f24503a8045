// Package learning runs background analysis off the request path. A single
// worker drains a bounded queue and is the only writer of the signature
// store; overflow drops the oldest pending task.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/signature"
	"github.com/dyluth/glint/pkg/blackboard"
)

// TaskKind selects what the worker does with a task.
type TaskKind string

const (
	// FullAnalysis runs every wave for an image whose fast-path result was
	// partial and writes the signature.
	FullAnalysis TaskKind = "full_analysis"

	// Refinement is FullAnalysis merged into an existing signature.
	Refinement TaskKind = "refinement"

	// SignatureUpdate merges a ready observation into the store.
	SignatureUpdate TaskKind = "signature_update"

	// OcrQualityLearning records one OCR quality sample.
	OcrQualityLearning TaskKind = "ocr_quality_learning"
)

// Task is one unit of background work.
type Task struct {
	Kind         TaskKind
	SignatureKey string
	ImagePath    string                // Loaded when Image is nil
	Image        *imaging.Image        // Optional, reused instead of reloading
	Observation  *blackboard.Signature // SignatureUpdate payload
	OCR          *OCRSample            // OcrQualityLearning payload
	EnqueuedAt   time.Time
}

// Validate checks the task carries what its kind needs.
func (t Task) Validate() error {
	switch t.Kind {
	case FullAnalysis, Refinement:
		if t.Image == nil && t.ImagePath == "" {
			return fmt.Errorf("%s task needs an image or image path", t.Kind)
		}
	case SignatureUpdate:
		if t.Observation == nil || t.Observation.Key == "" {
			return fmt.Errorf("signature_update task needs a keyed observation")
		}
	case OcrQualityLearning:
		if t.OCR == nil {
			return fmt.Errorf("ocr_quality_learning task needs a sample")
		}
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	return nil
}

// OCRSample pairs OCR features with the quality outcome of one run.
type OCRSample struct {
	SignatureKey string             `json:"signature_key"`
	Tier         string             `json:"tier"`
	Status       string             `json:"status"`
	Confidence   float64            `json:"confidence"`
	Phases       []string           `json:"phases"`
	EarlyExit    bool               `json:"early_exit"`
	TextLength   int                `json:"text_length"`
	Features     map[string]float64 `json:"features,omitempty"` // e.g. content.text_likeliness
	RecordedAtMs int64              `json:"recorded_at_ms"`
}

// Analyzer runs an uncached analysis of every wave and summarizes it.
type Analyzer interface {
	AnalyzeFull(ctx context.Context, img *imaging.Image) (*blackboard.Signature, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, img *imaging.Image) (*blackboard.Signature, error)

// AnalyzeFull implements Analyzer.
func (f AnalyzerFunc) AnalyzeFull(ctx context.Context, img *imaging.Image) (*blackboard.Signature, error) {
	return f(ctx, img)
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	Queued          uint64      `json:"queued"`
	Processed       uint64      `json:"processed"`
	Failed          uint64      `json:"failed"`
	Dropped         uint64      `json:"dropped"`
	Depth           int         `json:"depth"`
	Capacity        int         `json:"capacity"`
	AvgProcessingMs float64     `json:"avg_processing_ms"` // Over the last rollingWindow tasks
	OCRSamples      []OCRSample `json:"ocr_samples,omitempty"`
}

// rollingWindow is how many recent durations the average covers.
const rollingWindow = 100

// Config sizes a coordinator.
type Config struct {
	Capacity   int // Max pending tasks
	OCRSamples int // OCR samples retained, oldest evicted first
}

// Coordinator owns the background queue and worker.
type Coordinator struct {
	store    signature.Store
	analyzer Analyzer
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	queue   []Task
	wake    chan struct{}
	samples []OCRSample
	maxOCR  int

	durations []time.Duration
	durNext   int

	queued    atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	running atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// New creates a coordinator. analyzer may be nil when only
// SignatureUpdate and OcrQualityLearning tasks are used.
func New(store signature.Store, analyzer Analyzer, cfg Config) *Coordinator {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	return &Coordinator{
		store:    store,
		analyzer: analyzer,
		capacity: cfg.Capacity,
		now:      time.Now,
		queue:    make([]Task, 0, cfg.Capacity),
		wake:     make(chan struct{}, 1),
		maxOCR:   cfg.OCRSamples,
	}
}

// Enqueue adds a task without blocking. When the queue is full the oldest
// pending task is dropped. Invalid tasks are rejected with an error.
func (c *Coordinator) Enqueue(task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = c.now()
	}

	c.mu.Lock()
	if len(c.queue) >= c.capacity {
		oldest := c.queue[0]
		c.queue = append(c.queue[:0], c.queue[1:]...)
		c.dropped.Add(1)
		recordTask(oldest.Kind, "dropped")
		log.Printf("[Coordinator] WARNING: queue full (capacity %d), dropped oldest %s task for %s",
			c.capacity, oldest.Kind, taskLabel(oldest))
	}
	c.queue = append(c.queue, task)
	depth := len(c.queue)
	c.mu.Unlock()

	c.queued.Add(1)
	recordTask(task.Kind, "queued")
	queueDepth.Set(float64(depth))

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the worker. It stops when ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx)
	log.Printf("[Coordinator] Started (capacity %d)", c.capacity)
}

// Stop cancels the worker and waits for the in-flight task to return.
// Pending tasks are discarded.
func (c *Coordinator) Stop() {
	if !c.running.Load() {
		return
	}
	c.cancel()
	<-c.done
	c.running.Store(false)
}

// Drain processes every pending task on the caller's goroutine. It is for
// one-shot callers (the CLI) that exit right after analysis; it must not be
// used while the worker is running.
func (c *Coordinator) Drain(ctx context.Context) {
	for {
		task, ok := c.pop()
		if !ok {
			return
		}
		c.process(ctx, task)
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.wake:
		}
		for ctx.Err() == nil {
			task, ok := c.pop()
			if !ok {
				break
			}
			c.process(ctx, task)
		}
	}
}

func (c *Coordinator) pop() (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Task{}, false
	}
	task := c.queue[0]
	c.queue[0] = Task{}
	c.queue = c.queue[1:]
	queueDepth.Set(float64(len(c.queue)))
	return task, true
}

func (c *Coordinator) process(ctx context.Context, task Task) {
	start := time.Now()
	err := c.handle(ctx, task)
	elapsed := time.Since(start)

	c.recordDuration(elapsed)
	processingSeconds.WithLabelValues(string(task.Kind)).Observe(elapsed.Seconds())

	if err != nil {
		c.failed.Add(1)
		recordTask(task.Kind, "failed")
		log.Printf("[Coordinator] %s task for %s failed: %v", task.Kind, taskLabel(task), err)
		return
	}
	c.processed.Add(1)
	recordTask(task.Kind, "processed")
}

func (c *Coordinator) handle(ctx context.Context, task Task) error {
	switch task.Kind {
	case FullAnalysis, Refinement:
		return c.analyze(ctx, task)
	case SignatureUpdate:
		return c.merge(ctx, task.Observation)
	case OcrQualityLearning:
		c.recordSample(*task.OCR)
		return nil
	}
	return fmt.Errorf("unknown task kind %q", task.Kind)
}

func (c *Coordinator) analyze(ctx context.Context, task Task) error {
	if c.analyzer == nil {
		return errors.New("no analyzer configured")
	}
	img := task.Image
	if img == nil {
		loaded, err := imaging.Load(task.ImagePath)
		if err != nil {
			return err
		}
		img = loaded
	}

	obs, err := c.analyzer.AnalyzeFull(ctx, img)
	if err != nil {
		return fmt.Errorf("full analysis failed: %w", err)
	}
	if obs.Key == "" {
		obs.Key = img.ContentHash()
	}
	return c.merge(ctx, obs)
}

// merge folds obs into the stored entry. A missing or unreadable entry is
// treated as absent.
func (c *Coordinator) merge(ctx context.Context, obs *blackboard.Signature) error {
	existing, err := c.store.Get(ctx, obs.Key)
	if err != nil {
		if !signature.IsNotFound(err) {
			log.Printf("[Coordinator] Signature %s unreadable, replacing: %v", shortKey(obs.Key), err)
		}
		existing = nil
	}
	merged := signature.Merge(existing, obs, c.now().UnixMilli())
	if err := c.store.Set(ctx, merged); err != nil {
		return fmt.Errorf("failed to store signature: %w", err)
	}
	return nil
}

func (c *Coordinator) recordSample(s OCRSample) {
	if c.maxOCR <= 0 {
		return
	}
	if s.RecordedAtMs == 0 {
		s.RecordedAtMs = c.now().UnixMilli()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.samples) >= c.maxOCR {
		c.samples = append(c.samples[:0], c.samples[1:]...)
	}
	c.samples = append(c.samples, s)
}

func (c *Coordinator) recordDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.durations) < rollingWindow {
		c.durations = append(c.durations, d)
		return
	}
	c.durations[c.durNext] = d
	c.durNext = (c.durNext + 1) % rollingWindow
}

// Stats returns counters, queue depth, the rolling average processing time
// and a copy of the retained OCR samples.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var avg float64
	if len(c.durations) > 0 {
		var total time.Duration
		for _, d := range c.durations {
			total += d
		}
		avg = float64(total.Microseconds()) / 1000 / float64(len(c.durations))
	}
	return Stats{
		Queued:          c.queued.Load(),
		Processed:       c.processed.Load(),
		Failed:          c.failed.Load(),
		Dropped:         c.dropped.Load(),
		Depth:           len(c.queue),
		Capacity:        c.capacity,
		AvgProcessingMs: avg,
		OCRSamples:      append([]OCRSample(nil), c.samples...),
	}
}

func taskLabel(t Task) string {
	switch {
	case t.SignatureKey != "":
		return shortKey(t.SignatureKey)
	case t.Observation != nil:
		return shortKey(t.Observation.Key)
	case t.ImagePath != "":
		return t.ImagePath
	}
	return "-"
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
