// Package ocr recognizes text in static and animated images through an
// ordered chain of tier-gated phases with confidence-driven early exit.
//
// The chain is: stabilization, background subtraction, edge-consensus
// masking, temporal median compositing, super-resolution, text-region
// detection, temporal voting and post-correction. Phases that depend on a
// model fall back to a degraded alternative when the model is missing; only
// cancellation aborts a run.
package ocr

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrModelUnavailable is returned by recognizers, detectors and upscalers
// whose model or runtime is missing.
var ErrModelUnavailable = errors.New("ocr model unavailable")

// Phase names
const (
	PhaseStabilization         = "stabilization"
	PhaseBackgroundSubtraction = "background_subtraction"
	PhaseEdgeConsensus         = "edge_consensus"
	PhaseTemporalMedian        = "temporal_median"
	PhaseSuperResolution       = "super_resolution"
	PhaseTextDetection         = "text_detection"
	PhaseTemporalVoting        = "temporal_voting"
	PhasePostCorrection        = "post_correction"
)

// Run and detector statuses
const (
	StatusOK          = "ok"
	StatusNoText      = "no_text"
	StatusUnavailable = "unavailable"
	StatusFallback    = "fallback"
)

// Detection methods
const (
	MethodDetector  = "detector"
	MethodFullFrame = "full_frame"
)

// Recognition is recognized text with a confidence in [0,1].
type Recognition struct {
	Text       string
	Confidence float64
}

// Region is a located block of text.
type Region struct {
	Bounds     image.Rectangle
	Confidence float64
	Text       string
}

// Recognizer turns a grayscale image into text.
type Recognizer interface {
	Recognize(ctx context.Context, img *image.Gray) (Recognition, error)
}

// Detector locates text regions.
type Detector interface {
	Detect(ctx context.Context, img *image.Gray) ([]Region, error)
}

// Upscaler is a model-based super-resolution backend.
type Upscaler interface {
	Upscale(ctx context.Context, img *image.Gray, factor int) (*image.Gray, error)
}

// PhaseResult records one executed phase: its output frames, the running
// confidence after it and how long it took.
type PhaseResult struct {
	Name       string
	Frames     []*image.Gray
	Confidence float64
	Elapsed    time.Duration
}

// Result is the pipeline output.
type Result struct {
	Text            string
	Confidence      float64
	Status          string        // ok, no_text or unavailable
	DetectionMethod string        // detector or full_frame
	DetectorStatus  string        // ok, fallback or unavailable
	Tier            string        // Preset used
	Phases          []string      // Executed phases in order
	Trace           []PhaseResult // Per-phase detail, same order as Phases
	Regions         []Region      // In original image coordinates
	EarlyExit       bool          // Remaining phases skipped on confidence
	FrameCount      int           // Frames after deduplication
	VotingBypassed  bool          // Single frame: voting skipped
	Corrections     int           // Tokens changed by post-correction
	Elapsed         time.Duration
}
