package builtin

import (
	"context"
	"fmt"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/wave"
	"github.com/dyluth/glint/pkg/blackboard"
)

// identityWave reports what the image is: dimensions, format, animation and
// content hashes. A frameless image is a critical failure.
type identityWave struct {
	wave.Base
}

func newIdentity(m manifest.Manifest) (wave.Wave, error) {
	return &identityWave{Base: wave.Base{Manifest: m}}, nil
}

func (w *identityWave) Analyze(ctx context.Context, img *imaging.Image, snap *blackboard.Snapshot) ([]blackboard.Signal, error) {
	if img == nil || img.FrameCount() == 0 || img.Width == 0 || img.Height == 0 {
		return nil, wave.Critical(fmt.Errorf("image has no pixels"))
	}

	phash := imaging.DifferenceHash(imaging.ToGray(img.Frames[0]))
	aspect := float64(img.Width) / float64(img.Height)

	return []blackboard.Signal{
		w.Signal("identity.width", blackboard.Number(float64(img.Width)), 1),
		w.Signal("identity.height", blackboard.Number(float64(img.Height)), 1),
		w.Signal("identity.pixel_count", blackboard.Number(float64(img.PixelCount())), 1),
		w.Signal("identity.aspect_ratio", blackboard.Number(aspect), 1),
		w.Signal("identity.format", blackboard.String(img.Format), 1),
		w.Signal("identity.mime", blackboard.String(img.MIME), 1),
		w.Signal("identity.is_animated", blackboard.Bool(img.IsAnimated()), 1),
		w.Signal("identity.frame_count", blackboard.Number(float64(img.FrameCount())), 1),
		w.Signal("identity.content_hash", blackboard.String(img.ContentHash()), 1),
		w.Signal("identity.perceptual_hash", blackboard.String(fmt.Sprintf("%016x", phash)), 1),
	}, nil
}
