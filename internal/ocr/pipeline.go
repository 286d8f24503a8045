package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/pkg/blackboard"
)

// Phase is one step of the chain. Run transforms st in place; it sets
// st.Confidence when it has a text estimate. Returning an error other than
// a context error records the phase as failed and the chain continues with
// the state the phase left behind.
type Phase interface {
	Name() string
	Run(ctx context.Context, env *Env, st *State) error
}

// Env is what phases may use besides the state.
type Env struct {
	Recognizer Recognizer
	Detector   Detector
	Upscaler   Upscaler
	Settings   Settings
	Preset     TierPreset
}

// recognize runs the recognizer, reporting a missing one as unavailable.
func (e *Env) recognize(ctx context.Context, img *image.Gray) (Recognition, error) {
	if e.Recognizer == nil {
		return Recognition{}, ErrModelUnavailable
	}
	return e.Recognizer.Recognize(ctx, img)
}

// State flows through the phases.
type State struct {
	Frames          []*image.Gray
	Composite       *image.Gray // Set by temporal median and super-resolution
	Scale           float64     // Composite pixels per frame pixel
	Text            string
	Confidence      float64
	Status          string
	DetectionMethod string
	DetectorStatus  string
	Regions         []Region // Composite coordinates
	VotingBypassed  bool
	Corrections     int
	AlignmentScore  float64
	MaskCoverage    float64
}

// composite returns the current composite, or the first frame before one exists.
func (st *State) composite() *image.Gray {
	if st.Composite != nil {
		return st.Composite
	}
	return st.Frames[0]
}

// Pipeline runs the phase chain. It is safe for concurrent use.
type Pipeline struct {
	recognizer Recognizer
	detector   Detector
	upscaler   Upscaler
	settings   Settings
	presets    map[blackboard.Tier]TierPreset
	phases     []Phase
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDetector sets the text-region detector.
func WithDetector(d Detector) Option { return func(p *Pipeline) { p.detector = d } }

// WithUpscaler sets the model-based super-resolution backend.
func WithUpscaler(u Upscaler) Option { return func(p *Pipeline) { p.upscaler = u } }

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option { return func(p *Pipeline) { p.settings = s } }

// WithPresets replaces the tier presets.
func WithPresets(presets map[blackboard.Tier]TierPreset) Option {
	return func(p *Pipeline) { p.presets = presets }
}

// WithPhases replaces the phase chain.
func WithPhases(phases ...Phase) Option {
	return func(p *Pipeline) { p.phases = phases }
}

// DefaultPhases returns the standard chain in order.
func DefaultPhases() []Phase {
	return []Phase{
		stabilization{},
		backgroundSubtraction{},
		edgeConsensus{},
		temporalMedian{},
		superResolution{},
		textDetection{},
		temporalVoting{},
		postCorrection{},
	}
}

// New builds a pipeline. A nil recognizer is allowed: runs then report
// StatusUnavailable with empty text.
func New(recognizer Recognizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		recognizer: recognizer,
		settings:   DefaultSettings(),
		presets:    DefaultPresets(),
		phases:     DefaultPhases(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preset returns the preset for tier, falling back to balanced.
func (p *Pipeline) Preset(tier blackboard.Tier) TierPreset {
	if preset, ok := p.presets[tier]; ok {
		return preset
	}
	return p.presets[blackboard.TierBalanced]
}

// RunImage runs the pipeline over a decoded image and reports regions in
// the image's own pixel coordinates.
func (p *Pipeline) RunImage(ctx context.Context, img *imaging.Image, tier blackboard.Tier) (*Result, error) {
	if img == nil || img.FrameCount() == 0 {
		return nil, fmt.Errorf("no frames to recognize")
	}
	frames := img.GrayFrames(p.settings.MaxSide)
	res, err := p.Run(ctx, frames, tier)
	if err != nil {
		return nil, err
	}
	if w := frames[0].Bounds().Dx(); w > 0 && w != img.Width {
		res.Regions = scaleRegions(res.Regions, float64(img.Width)/float64(w))
	}
	return res, nil
}

// Run executes the chain over grayscale frames of equal size.
func (p *Pipeline) Run(ctx context.Context, frames []*image.Gray, tier blackboard.Tier) (*Result, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to recognize")
	}
	if err := p.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OCR settings: %w", err)
	}

	start := time.Now()
	preset := p.Preset(tier)
	env := &Env{
		Recognizer: p.recognizer,
		Detector:   p.detector,
		Upscaler:   p.upscaler,
		Settings:   p.settings,
		Preset:     preset,
	}
	st := &State{
		Frames:          prepareFrames(frames, p.settings),
		Scale:           1,
		Status:          StatusOK,
		DetectionMethod: MethodFullFrame,
		DetectorStatus:  StatusFallback,
	}

	res := &Result{Tier: string(preset.Tier), FrameCount: len(st.Frames)}
	for _, phase := range p.phases {
		if !preset.Enabled(phase.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		phaseStart := time.Now()
		err := phase.Run(ctx, env, st)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return nil, err
			}
			log.Printf("[OCR] Phase %s failed, continuing: %v", phase.Name(), err)
		}

		res.Phases = append(res.Phases, phase.Name())
		res.Trace = append(res.Trace, PhaseResult{
			Name:       phase.Name(),
			Frames:     st.Frames,
			Confidence: st.Confidence,
			Elapsed:    time.Since(phaseStart),
		})

		if st.Status == StatusUnavailable {
			break
		}
		if preset.EarlyExitEnabled() && st.Confidence >= preset.EarlyExitThreshold {
			res.EarlyExit = len(res.Phases) < p.enabledCount(preset)
			break
		}
	}

	res.Text = st.Text
	res.Confidence = st.Confidence
	res.Status = st.Status
	if res.Status == StatusOK && res.Text == "" {
		res.Status = StatusNoText
	}
	if res.Status == StatusUnavailable {
		res.Text = ""
		res.Confidence = 0
	}
	res.DetectionMethod = st.DetectionMethod
	res.DetectorStatus = st.DetectorStatus
	res.Regions = scaleRegions(st.Regions, 1/st.Scale)
	res.VotingBypassed = st.VotingBypassed
	res.Corrections = st.Corrections
	res.Elapsed = time.Since(start)
	return res, nil
}

func (p *Pipeline) enabledCount(preset TierPreset) int {
	n := 0
	for _, phase := range p.phases {
		if preset.Enabled(phase.Name()) {
			n++
		}
	}
	return n
}

// prepareFrames samples long animations down to MaxFrames and merges runs of
// near-identical consecutive frames so temporal phases see distinct content.
func prepareFrames(frames []*image.Gray, s Settings) []*image.Gray {
	frames = sampleFrames(frames, s.MaxFrames)
	if len(frames) < 2 || s.DedupSimilarity <= 0 {
		return frames
	}
	out := []*image.Gray{frames[0]}
	for _, f := range frames[1:] {
		if imaging.Similarity(out[len(out)-1], f) >= s.DedupSimilarity {
			continue
		}
		out = append(out, f)
	}
	return out
}

// sampleFrames picks at most n evenly spaced frames, keeping the first.
func sampleFrames(frames []*image.Gray, n int) []*image.Gray {
	if n <= 0 || len(frames) <= n {
		return frames
	}
	out := make([]*image.Gray, 0, n)
	for _, i := range sampleIndices(len(frames), n) {
		out = append(out, frames[i])
	}
	return out
}

// sampleIndices returns at most n evenly spaced indices in [0, total).
func sampleIndices(total, n int) []int {
	if n >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, n)
	step := float64(total) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, int(float64(i)*step))
	}
	return out
}

func scaleRegions(regions []Region, factor float64) []Region {
	if len(regions) == 0 {
		return nil
	}
	out := make([]Region, len(regions))
	for i, r := range regions {
		out[i] = r
		if factor != 1 {
			out[i].Bounds = image.Rect(
				int(float64(r.Bounds.Min.X)*factor),
				int(float64(r.Bounds.Min.Y)*factor),
				int(float64(r.Bounds.Max.X)*factor),
				int(float64(r.Bounds.Max.Y)*factor),
			)
		}
	}
	return out
}
