package builtin

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/ocr"
	"github.com/dyluth/glint/internal/vision"
	"github.com/dyluth/glint/internal/wave"
	"github.com/dyluth/glint/pkg/blackboard"
)

type stubRecognizer struct{ rec ocr.Recognition }

func (s stubRecognizer) Recognize(ctx context.Context, img *image.Gray) (ocr.Recognition, error) {
	return s.rec, nil
}

type stubDetector struct{ regions []ocr.Region }

func (s stubDetector) Detect(ctx context.Context, img *image.Gray) ([]ocr.Region, error) {
	return s.regions, nil
}

type stubVision struct {
	caption   string
	maxTokens int
	mime      string
}

func (s *stubVision) Describe(ctx context.Context, data []byte, mime, prompt string, maxTokens int) (string, error) {
	s.maxTokens = maxTokens
	s.mime = mime
	return s.caption, nil
}

func decoded(t *testing.T, img image.Image) *imaging.Image {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	out, err := imaging.Decode(buf.Bytes())
	require.NoError(t, err)
	return out
}

func solidImage(t *testing.T, w, h int, c color.RGBA) *imaging.Image {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			rgba.SetRGBA(x, y, c)
		}
	}
	return decoded(t, rgba)
}

func stripedImage(t *testing.T, w, h int) *imaging.Image {
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255)
			if (x/2)%2 == 0 {
				v = 0
			}
			rgba.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return decoded(t, rgba)
}

func snapshotOf(t *testing.T, signals ...blackboard.Signal) *blackboard.Snapshot {
	t.Helper()
	b := blackboard.NewBoard("")
	require.NoError(t, b.AddAll(signals))
	return b.Snapshot()
}

func buildWave(t *testing.T, name string, deps Deps, overrides manifest.Params) wave.Wave {
	t.Helper()
	set, err := manifest.Defaults()
	require.NoError(t, err)
	if overrides != nil {
		set, err = set.WithOverrides(map[string]manifest.Params{name: overrides})
		require.NoError(t, err)
	}
	one, err := manifest.NewSet(mustGet(t, set, name))
	require.NoError(t, err)
	waves, missing, err := NewRegistry(deps).Build(one)
	require.NoError(t, err)
	require.Empty(t, missing)
	return waves[name]
}

func mustGet(t *testing.T, set *manifest.Set, name string) manifest.Manifest {
	m, ok := set.Get(name)
	require.True(t, ok, "manifest %s", name)
	return m
}

func find(signals []blackboard.Signal, key string) (blackboard.Signal, bool) {
	for _, s := range signals {
		if s.Key == key {
			return s, true
		}
	}
	return blackboard.Signal{}, false
}

func TestRegistry_CoversDefaultManifests(t *testing.T) {
	set, err := manifest.Defaults()
	require.NoError(t, err)

	waves, missing, err := NewRegistry(Deps{}).Build(set)
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Len(t, waves, set.Len())

	reg := NewRegistry(Deps{})
	assert.Error(t, Register(reg, Deps{}), "double registration is rejected")
}

func TestIdentityWave(t *testing.T) {
	w := buildWave(t, Identity, Deps{}, nil)
	img := solidImage(t, 40, 20, color.RGBA{10, 20, 30, 255})

	signals, err := w.Analyze(context.Background(), img, snapshotOf(t))
	require.NoError(t, err)

	for key, want := range map[string]float64{
		"identity.width":        40,
		"identity.height":       20,
		"identity.pixel_count":  800,
		"identity.frame_count":  1,
		"identity.aspect_ratio": 2,
	} {
		s, ok := find(signals, key)
		require.True(t, ok, key)
		assert.Equal(t, want, s.Value.Num, key)
		assert.Equal(t, Identity, s.Source)
	}
	format, _ := find(signals, "identity.format")
	assert.Equal(t, "png", format.Value.Str)
	hash, _ := find(signals, "identity.content_hash")
	assert.Equal(t, img.ContentHash(), hash.Value.Str)
	phash, _ := find(signals, "identity.perceptual_hash")
	assert.Len(t, phash.Value.Str, 16)
	animated, _ := find(signals, "identity.is_animated")
	assert.False(t, animated.Value.Bool)
}

func TestIdentityWave_EmptyImageIsCritical(t *testing.T) {
	w := buildWave(t, Identity, Deps{}, nil)
	_, err := w.Analyze(context.Background(), &imaging.Image{}, snapshotOf(t))
	require.Error(t, err)
	assert.True(t, wave.IsCritical(err))
}

func TestContentWave(t *testing.T) {
	w := buildWave(t, Content, Deps{}, nil)

	flat, err := w.Analyze(context.Background(), solidImage(t, 64, 64, color.RGBA{128, 128, 128, 255}), snapshotOf(t))
	require.NoError(t, err)
	density, _ := find(flat, "content.edge_density")
	text, _ := find(flat, "content.text_likeliness")
	assert.Equal(t, 0.0, density.Value.Num)
	assert.Equal(t, 0.0, text.Value.Num)

	striped, err := w.Analyze(context.Background(), stripedImage(t, 64, 64), snapshotOf(t))
	require.NoError(t, err)
	text, _ = find(striped, "content.text_likeliness")
	bimodality, _ := find(striped, "content.bimodality")
	assert.Greater(t, text.Value.Num, 0.5)
	assert.Equal(t, 1.0, bimodality.Value.Num)
}

func TestRouteWave(t *testing.T) {
	w := buildWave(t, Route, Deps{}, nil)
	snap := snapshotOf(t,
		blackboard.NewSignal("identity.pixel_count", blackboard.Number(1000), 1, Identity),
		blackboard.NewSignal("content.text_likeliness", blackboard.Number(0.1), 1, Content),
		blackboard.NewSignal("content.edge_density", blackboard.Number(0.01), 1, Content),
	)

	signals, err := w.Analyze(context.Background(), nil, snap)
	require.NoError(t, err)

	selected, ok := find(signals, "route.selected")
	require.True(t, ok)
	assert.Equal(t, "fast", selected.Value.Str)
	skip, ok := find(signals, "route.skip.ocr")
	require.True(t, ok)
	assert.True(t, skip.Value.Bool)
	assert.True(t, skip.HasTag(blackboard.TagRoute))
}

func TestRouteWave_ForcedByOverride(t *testing.T) {
	w := buildWave(t, Route, Deps{}, manifest.Params{"force_tier": "quality"})
	signals, err := w.Analyze(context.Background(), nil, snapshotOf(t))
	require.NoError(t, err)
	reason, _ := find(signals, "route.reason")
	assert.Equal(t, "forced", reason.Value.Str)
}

func TestColorWave(t *testing.T) {
	w := buildWave(t, Color, Deps{}, nil)
	signals, err := w.Analyze(context.Background(), solidImage(t, 300, 200, color.RGBA{255, 0, 0, 255}), snapshotOf(t))
	require.NoError(t, err)

	dominant, ok := find(signals, "color.dominant")
	require.True(t, ok)
	assert.Equal(t, "#ff0000", dominant.Value.Str)
	assert.Equal(t, 1.0, dominant.Confidence)
	assert.True(t, dominant.HasTag(blackboard.TagDominantColor))

	transparent, err := w.Analyze(context.Background(), solidImage(t, 8, 8, color.RGBA{}), snapshotOf(t))
	require.NoError(t, err)
	_, ok = find(transparent, "color.dominant")
	assert.False(t, ok)
}

func TestOCRWave_UsesRoutedTier(t *testing.T) {
	deps := Deps{Recognizer: stubRecognizer{ocr.Recognition{Text: "HELLO", Confidence: 0.5}}}
	w := buildWave(t, OCR, deps, nil)
	snap := snapshotOf(t, blackboard.NewSignal("route.selected", blackboard.String("fast"), 1, Route))

	signals, err := w.Analyze(context.Background(), solidImage(t, 40, 20, color.RGBA{255, 255, 255, 255}), snap)
	require.NoError(t, err)

	text, ok := find(signals, "ocr.text")
	require.True(t, ok)
	assert.Equal(t, "HELLO", text.Value.Str)
	assert.True(t, text.HasTag(blackboard.TagOCRText))
	tier, _ := find(signals, "ocr.tier")
	assert.Equal(t, "fast", tier.Value.Str)
	conf, _ := find(signals, "ocr.confidence")
	assert.Equal(t, 0.5, conf.Value.Num)
	assert.True(t, conf.HasTag(blackboard.TagConfidence))
	bypassed, _ := find(signals, "ocr.voting_bypassed")
	assert.True(t, bypassed.Value.Bool)
	status, _ := find(signals, "text_detection.status")
	assert.Equal(t, ocr.StatusFallback, status.Value.Str)
}

func TestOCRWave_RegionsAndTierOverride(t *testing.T) {
	deps := Deps{
		Recognizer: stubRecognizer{ocr.Recognition{Text: "SALE", Confidence: 0.7}},
		Detector:   stubDetector{regions: []ocr.Region{{Bounds: image.Rect(2, 2, 20, 10), Confidence: 0.9}}},
	}
	w := buildWave(t, OCR, deps, manifest.Params{"tier": "balanced"})
	snap := snapshotOf(t, blackboard.NewSignal("route.selected", blackboard.String("fast"), 1, Route))

	signals, err := w.Analyze(context.Background(), solidImage(t, 40, 20, color.RGBA{255, 255, 255, 255}), snap)
	require.NoError(t, err)

	tier, _ := find(signals, "ocr.tier")
	assert.Equal(t, "balanced", tier.Value.Str)
	method, _ := find(signals, "ocr.detection_method")
	assert.Equal(t, ocr.MethodDetector, method.Value.Str)
	count, _ := find(signals, "text_detection.region_count")
	assert.Equal(t, 1.0, count.Value.Num)
	region, ok := find(signals, "text_detection.region[0]")
	require.True(t, ok)
	assert.Equal(t, "SALE", region.Value.Str)
	assert.Equal(t, map[string]int{"x": 2, "y": 2, "w": 18, "h": 8}, region.Metadata["bbox"])
}

func TestOCRWave_RecognizerUnavailable(t *testing.T) {
	w := buildWave(t, OCR, Deps{}, nil)
	signals, err := w.Analyze(context.Background(), solidImage(t, 40, 20, color.RGBA{255, 255, 255, 255}), snapshotOf(t))
	require.NoError(t, err)

	status, _ := find(signals, "ocr.status")
	assert.Equal(t, ocr.StatusUnavailable, status.Value.Str)
	_, ok := find(signals, "ocr.text")
	assert.False(t, ok)
	conf, _ := find(signals, "ocr.confidence")
	assert.Equal(t, 0.0, conf.Value.Num)
}

func TestVisionWave(t *testing.T) {
	w := buildWave(t, Vision, Deps{}, nil)
	_, err := w.Analyze(context.Background(), solidImage(t, 8, 8, color.RGBA{0, 0, 0, 255}), snapshotOf(t))
	assert.ErrorIs(t, err, vision.ErrUnavailable)

	backend := &stubVision{caption: "A black square."}
	w = buildWave(t, Vision, Deps{Vision: backend}, nil)
	signals, err := w.Analyze(context.Background(), solidImage(t, 8, 8, color.RGBA{0, 0, 0, 255}), snapshotOf(t))
	require.NoError(t, err)

	caption, ok := find(signals, "vision.caption")
	require.True(t, ok)
	assert.Equal(t, "A black square.", caption.Value.Str)
	assert.Equal(t, 0.8, caption.Confidence)
	assert.True(t, caption.HasTag(blackboard.TagCaption))
	assert.Equal(t, 300, backend.maxTokens)
	assert.Equal(t, "image/png", backend.mime)
}

func TestVisionWave_EmptyCaptionFails(t *testing.T) {
	w := buildWave(t, Vision, Deps{Vision: &stubVision{}}, nil)
	_, err := w.Analyze(context.Background(), solidImage(t, 8, 8, color.RGBA{0, 0, 0, 255}), snapshotOf(t))
	assert.Error(t, err)
}
