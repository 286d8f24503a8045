package builtin

import (
	"context"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/wave"
	"github.com/dyluth/glint/pkg/blackboard"
)

// colorWave finds the dominant color of the first frame. Its confidence is
// the share of pixels the color covers.
type colorWave struct {
	wave.Base
	thumbnailSide int
}

func newColor(m manifest.Manifest) (wave.Wave, error) {
	return &colorWave{Base: wave.Base{Manifest: m}, thumbnailSide: m.Defaults.Int("thumbnail_side", 128)}, nil
}

func (w *colorWave) ShouldRun(img *imaging.Image, _ *blackboard.Snapshot) bool {
	return img != nil && img.FrameCount() > 0
}

func (w *colorWave) Analyze(ctx context.Context, img *imaging.Image, snap *blackboard.Snapshot) ([]blackboard.Signal, error) {
	c, share := imaging.DominantColor(imaging.Thumbnail(img.Frames[0], w.thumbnailSide))
	if share == 0 {
		return []blackboard.Signal{
			w.Signal("color.transparent", blackboard.Bool(true), 1),
		}, nil
	}
	return []blackboard.Signal{
		w.Signal("color.dominant", blackboard.String(imaging.Hex(c)), share, blackboard.TagDominantColor),
		w.Signal("color.dominant_share", blackboard.Number(share), 1),
		w.Signal("color.dominant_rgb", blackboard.Vector([]float64{float64(c.R), float64(c.G), float64(c.B)}), share),
	}, nil
}
