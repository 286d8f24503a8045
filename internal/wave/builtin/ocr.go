package builtin

import (
	"context"
	"strings"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/ocr"
	"github.com/dyluth/glint/internal/wave"
	"github.com/dyluth/glint/pkg/blackboard"
)

// ocrWave folds the OCR pipeline result back into signals. The tier comes
// from the "tier" parameter when set, otherwise from route.selected.
type ocrWave struct {
	wave.Base
	pipeline *ocr.Pipeline
	tier     blackboard.Tier
}

func newOCR(m manifest.Manifest, deps Deps) (wave.Wave, error) {
	settings := ocr.SettingsFrom(m.Defaults)
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	opts := []ocr.Option{ocr.WithSettings(settings)}
	if deps.Detector != nil {
		opts = append(opts, ocr.WithDetector(deps.Detector))
	}
	if deps.Upscaler != nil {
		opts = append(opts, ocr.WithUpscaler(deps.Upscaler))
	}
	return &ocrWave{
		Base:     wave.Base{Manifest: m},
		pipeline: ocr.New(deps.Recognizer, opts...),
		tier:     blackboard.Tier(m.Defaults.String("tier", "")),
	}, nil
}

func (w *ocrWave) ShouldRun(img *imaging.Image, _ *blackboard.Snapshot) bool {
	return img != nil && img.FrameCount() > 0
}

func (w *ocrWave) selectTier(snap *blackboard.Snapshot) blackboard.Tier {
	if w.tier.Validate() == nil {
		return w.tier
	}
	if t := blackboard.Tier(snap.GetString("route.selected", "")); t.Validate() == nil {
		return t
	}
	return blackboard.TierBalanced
}

func (w *ocrWave) Analyze(ctx context.Context, img *imaging.Image, snap *blackboard.Snapshot) ([]blackboard.Signal, error) {
	res, err := w.pipeline.RunImage(ctx, img, w.selectTier(snap))
	if err != nil {
		return nil, err
	}

	conf := res.Confidence
	out := []blackboard.Signal{
		w.Signal("ocr.confidence", blackboard.Number(conf), conf, blackboard.TagConfidence),
		w.Signal("ocr.status", blackboard.String(res.Status), 1),
		w.Signal("ocr.tier", blackboard.String(res.Tier), 1),
		w.Signal("ocr.detection_method", blackboard.String(res.DetectionMethod), 1),
		w.Signal("ocr.phases", blackboard.String(strings.Join(res.Phases, ",")), 1),
		w.Signal("ocr.early_exit", blackboard.Bool(res.EarlyExit), 1),
		w.Signal("ocr.frame_count", blackboard.Number(float64(res.FrameCount)), 1),
		w.Signal("ocr.voting_bypassed", blackboard.Bool(res.VotingBypassed), 1),
		w.Signal("ocr.corrections", blackboard.Number(float64(res.Corrections)), 1),
		w.Signal("ocr.elapsed_ms", blackboard.Number(float64(res.Elapsed.Milliseconds())), 1),
		w.Signal("text_detection.status", blackboard.String(res.DetectorStatus), 1),
		w.Signal("text_detection.region_count", blackboard.Number(float64(len(res.Regions))), 1),
		w.Signal("text_detection.has_text", blackboard.Bool(res.Text != ""), conf),
	}
	if res.Text != "" {
		out = append(out, w.Signal("ocr.text", blackboard.String(res.Text), conf, blackboard.TagOCRText))
	}
	for i, r := range res.Regions {
		sig := w.Signal(blackboard.IndexedKey("text_detection.region", i), blackboard.String(r.Text), r.Confidence,
			blackboard.TagRegion, blackboard.TagCollection).
			WithMetadata("bbox", map[string]int{
				"x": r.Bounds.Min.X,
				"y": r.Bounds.Min.Y,
				"w": r.Bounds.Dx(),
				"h": r.Bounds.Dy(),
			})
		out = append(out, sig)
	}
	return out, nil
}
