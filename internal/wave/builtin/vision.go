package builtin

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/vision"
	"github.com/dyluth/glint/internal/wave"
	"github.com/dyluth/glint/pkg/blackboard"
)

// visionWave asks a vision language model for a caption. Its triggers
// decide when it is worth the cost; without a backend it fails.
type visionWave struct {
	wave.Base
	backend    vision.Backend
	prompt     string
	maxTokens  int
	confidence float64
}

func newVision(m manifest.Manifest, backend vision.Backend) (wave.Wave, error) {
	p := m.Defaults
	maxTokens := p.Int("max_tokens", 300)
	if m.Budget.MaxTokens > 0 && (maxTokens <= 0 || m.Budget.MaxTokens < maxTokens) {
		maxTokens = m.Budget.MaxTokens
	}
	return &visionWave{
		Base:       wave.Base{Manifest: m},
		backend:    backend,
		prompt:     p.String("prompt", "Describe this image in one concise sentence."),
		maxTokens:  maxTokens,
		confidence: p.Float("caption_confidence", 0.8),
	}, nil
}

func (w *visionWave) Analyze(ctx context.Context, img *imaging.Image, snap *blackboard.Snapshot) ([]blackboard.Signal, error) {
	if w.backend == nil {
		return nil, vision.ErrUnavailable
	}

	data, mime := img.Data, img.MIME
	if len(data) == 0 {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img.Frames[0]); err != nil {
			return nil, fmt.Errorf("failed to encode image: %w", err)
		}
		data, mime = buf.Bytes(), "image/png"
	}

	caption, err := w.backend.Describe(ctx, data, mime, w.prompt, w.maxTokens)
	if err != nil {
		return nil, err
	}
	if caption == "" {
		return nil, fmt.Errorf("vision backend returned an empty caption")
	}
	return []blackboard.Signal{
		w.Signal("vision.caption", blackboard.String(caption), w.confidence, blackboard.TagCaption),
	}, nil
}
