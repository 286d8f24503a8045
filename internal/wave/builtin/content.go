package builtin

import (
	"context"
	"image"
	"math"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/wave"
	"github.com/dyluth/glint/pkg/blackboard"
)

// contentWave computes the cheap statistics routing looks at.
//
// Text likeliness combines edge density with how bimodal the intensities
// are: text is dense edges between a few extreme tones.
type contentWave struct {
	wave.Base
	maxSide        int
	edgeThreshold  float64
	edgeSaturation float64
	extremeLow     uint8
	extremeHigh    uint8
}

func newContent(m manifest.Manifest) (wave.Wave, error) {
	p := m.Defaults
	return &contentWave{
		Base:           wave.Base{Manifest: m},
		maxSide:        p.Int("analysis_max_side", 512),
		edgeThreshold:  p.Float("edge_threshold", 120),
		edgeSaturation: p.Float("text_edge_saturation", 0.25),
		extremeLow:     uint8(p.Int("extreme_low", 64)),
		extremeHigh:    uint8(p.Int("extreme_high", 192)),
	}, nil
}

func (w *contentWave) ShouldRun(img *imaging.Image, _ *blackboard.Snapshot) bool {
	return img != nil && img.FrameCount() > 0
}

func (w *contentWave) Analyze(ctx context.Context, img *imaging.Image, snap *blackboard.Snapshot) ([]blackboard.Signal, error) {
	g := imaging.FitGray(imaging.ToGray(img.Frames[0]), w.maxSide)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	density := imaging.EdgeDensity(g, w.edgeThreshold)
	bimodality := w.extremeFraction(g)
	text := 0.0
	if w.edgeSaturation > 0 {
		text = math.Min(1, density/w.edgeSaturation) * bimodality
	}
	_, stddev := imaging.Stats(g)

	return []blackboard.Signal{
		w.Signal("content.edge_density", blackboard.Number(density), 1),
		w.Signal("content.text_likeliness", blackboard.Number(text), 1),
		w.Signal("content.bimodality", blackboard.Number(bimodality), 1),
		w.Signal("content.blur_variance", blackboard.Number(imaging.LaplacianVariance(g)), 1),
		w.Signal("content.contrast", blackboard.Number(math.Min(1, stddev/128)), 1),
		w.Signal("content.is_animated", blackboard.Bool(img.FrameCount() > 1), 1),
	}, nil
}

func (w *contentWave) extremeFraction(g *image.Gray) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	var n int
	for _, p := range g.Pix {
		if p <= w.extremeLow || p >= w.extremeHigh {
			n++
		}
	}
	return float64(n) / float64(len(g.Pix))
}
