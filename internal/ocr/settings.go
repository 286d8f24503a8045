package ocr

import (
	"fmt"

	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/pkg/blackboard"
)

// Super-resolution modes
const (
	SuperResolutionClassical = "classical"
	SuperResolutionModel     = "model"
)

// TierPreset gates phases and sets early exit for one tier.
type TierPreset struct {
	Tier               blackboard.Tier
	EarlyExitThreshold float64         // Running confidence at which remaining phases are skipped; >= 1 disables
	MaxVotingFrames    int             // Frames recognized by temporal voting
	UseDetector        bool            // False: text detection uses full-frame recognition only
	SuperResolution    string          // classical or model
	Disabled           map[string]bool // Phases not run at this tier
}

// Enabled reports whether phase runs at this tier.
func (p TierPreset) Enabled(phase string) bool {
	return !p.Disabled[phase]
}

// EarlyExitEnabled reports whether the threshold can ever be met.
func (p TierPreset) EarlyExitEnabled() bool {
	return p.EarlyExitThreshold < 1.0
}

// DefaultPresets returns the four tier presets. Lower tiers disable the
// expensive phases and exit earlier.
func DefaultPresets() map[blackboard.Tier]TierPreset {
	return map[blackboard.Tier]TierPreset{
		blackboard.TierFast: {
			Tier:               blackboard.TierFast,
			EarlyExitThreshold: 0.90,
			MaxVotingFrames:    3,
			SuperResolution:    SuperResolutionClassical,
			Disabled: map[string]bool{
				PhaseStabilization:         true,
				PhaseBackgroundSubtraction: true,
				PhaseEdgeConsensus:         true,
				PhaseSuperResolution:       true,
				PhasePostCorrection:        true,
			},
		},
		blackboard.TierBalanced: {
			Tier:               blackboard.TierBalanced,
			EarlyExitThreshold: 0.95,
			MaxVotingFrames:    5,
			UseDetector:        true,
			SuperResolution:    SuperResolutionClassical,
			Disabled: map[string]bool{
				PhaseSuperResolution: true,
			},
		},
		blackboard.TierQuality: {
			Tier:               blackboard.TierQuality,
			EarlyExitThreshold: 0.98,
			MaxVotingFrames:    8,
			UseDetector:        true,
			SuperResolution:    SuperResolutionClassical,
			Disabled:           map[string]bool{},
		},
		blackboard.TierUltra: {
			Tier:               blackboard.TierUltra,
			EarlyExitThreshold: 1.0,
			MaxVotingFrames:    12,
			UseDetector:        true,
			SuperResolution:    SuperResolutionModel,
			Disabled:           map[string]bool{},
		},
	}
}

// Settings are the numeric knobs of the phases.
type Settings struct {
	MaxSide                int      // Frames are downscaled so the longest side fits
	MaxFrames              int      // Frames kept after sampling long animations
	DedupSimilarity        float64  // Consecutive frames at least this similar are merged
	StabilizationRadius    int      // Max translation searched, in pixels
	MinAlignmentScore      float64  // Alignments scoring lower are not applied
	EdgeThreshold          float64  // Normalized (0-255) edge response threshold
	EdgeQuorum             int      // Detectors that must agree for a mask pixel
	BackgroundLearningRate float64  // Running Gaussian update rate
	BackgroundMinFrames    int      // Background subtraction needs this many frames
	BackgroundMatchSigmas  float64  // Pixels within this many deviations are background
	BackgroundInitVariance float64  // Variance every pixel model starts with
	BackgroundMinVariance  float64  // Floor on a pixel model's variance
	MinForeground          float64  // Below this moving fraction the scene is static
	MaxForeground          float64  // Above this moving fraction the camera moved
	MaskDilation           int      // Edge mask dilation radius, in pixels
	SharpenAmount          float64  // Unsharp-mask strength after upscaling
	UpscaleFactor          int      // Super-resolution scale
	MinRegionConfidence    float64  // Detected regions below this are dropped
	Dictionary             []string // Known words preferred by post-correction
}

// DefaultSettings mirrors the built-in OCR manifest.
func DefaultSettings() Settings {
	return Settings{
		MaxSide:                1280,
		MaxFrames:              16,
		DedupSimilarity:        0.97,
		StabilizationRadius:    6,
		MinAlignmentScore:      0.6,
		EdgeThreshold:          40,
		EdgeQuorum:             2,
		BackgroundLearningRate: 0.05,
		BackgroundMinFrames:    3,
		BackgroundMatchSigmas:  2.5,
		BackgroundInitVariance: 225,
		BackgroundMinVariance:  4,
		MinForeground:          0.002,
		MaxForeground:          0.6,
		MaskDilation:           2,
		SharpenAmount:          0.6,
		UpscaleFactor:          2,
		MinRegionConfidence:    0.3,
	}
}

// SettingsFrom reads settings from a manifest parameter bag.
func SettingsFrom(p manifest.Params) Settings {
	d := DefaultSettings()
	return Settings{
		MaxSide:                p.Int("max_side", d.MaxSide),
		MaxFrames:              p.Int("max_frames", d.MaxFrames),
		DedupSimilarity:        p.Float("dedup_similarity", d.DedupSimilarity),
		StabilizationRadius:    p.Int("stabilization_radius", d.StabilizationRadius),
		MinAlignmentScore:      p.Float("min_alignment_score", d.MinAlignmentScore),
		EdgeThreshold:          p.Float("edge_threshold", d.EdgeThreshold),
		EdgeQuorum:             p.Int("edge_quorum", d.EdgeQuorum),
		BackgroundLearningRate: p.Float("background_learning_rate", d.BackgroundLearningRate),
		BackgroundMinFrames:    p.Int("background_min_frames", d.BackgroundMinFrames),
		BackgroundMatchSigmas:  p.Float("background_match_sigmas", d.BackgroundMatchSigmas),
		BackgroundInitVariance: p.Float("background_init_variance", d.BackgroundInitVariance),
		BackgroundMinVariance:  p.Float("background_min_variance", d.BackgroundMinVariance),
		MinForeground:          p.Float("min_foreground", d.MinForeground),
		MaxForeground:          p.Float("max_foreground", d.MaxForeground),
		MaskDilation:           p.Int("mask_dilation", d.MaskDilation),
		SharpenAmount:          p.Float("sharpen_amount", d.SharpenAmount),
		UpscaleFactor:          p.Int("upscale_factor", d.UpscaleFactor),
		MinRegionConfidence:    p.Float("min_region_confidence", d.MinRegionConfidence),
		Dictionary:             p.StringSlice("dictionary", nil),
	}
}

// Validate checks the settings are usable.
func (s Settings) Validate() error {
	if s.MaxSide < 16 {
		return fmt.Errorf("max_side must be >= 16, got %d", s.MaxSide)
	}
	if s.MaxFrames < 1 {
		return fmt.Errorf("max_frames must be >= 1, got %d", s.MaxFrames)
	}
	if s.EdgeQuorum < 1 || s.EdgeQuorum > 3 {
		return fmt.Errorf("edge_quorum must be within [1,3], got %d", s.EdgeQuorum)
	}
	if s.UpscaleFactor < 1 {
		return fmt.Errorf("upscale_factor must be >= 1, got %d", s.UpscaleFactor)
	}
	if s.BackgroundLearningRate <= 0 || s.BackgroundLearningRate > 1 {
		return fmt.Errorf("background_learning_rate must be within (0,1], got %v", s.BackgroundLearningRate)
	}
	if s.BackgroundMatchSigmas <= 0 {
		return fmt.Errorf("background_match_sigmas must be > 0, got %v", s.BackgroundMatchSigmas)
	}
	if s.BackgroundMinVariance <= 0 || s.BackgroundInitVariance < s.BackgroundMinVariance {
		return fmt.Errorf("background variances must satisfy 0 < min <= init, got min %v init %v",
			s.BackgroundMinVariance, s.BackgroundInitVariance)
	}
	if s.MinForeground < 0 || s.MaxForeground > 1 || s.MinForeground >= s.MaxForeground {
		return fmt.Errorf("foreground bounds must satisfy 0 <= min < max <= 1, got [%v,%v]", s.MinForeground, s.MaxForeground)
	}
	if s.MaskDilation < 0 {
		return fmt.Errorf("mask_dilation must be >= 0, got %d", s.MaskDilation)
	}
	return nil
}
