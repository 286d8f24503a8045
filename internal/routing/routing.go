// Package routing selects the quality tier for an image from a handful of
// cheap signals. Decide is pure: identical inputs and parameters always give
// the identical route.
package routing

import (
	"sort"
	"strings"

	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/pkg/blackboard"
)

// Route reasons
const (
	ReasonForced         = "forced"
	ReasonSmallSimple    = "small_simple"
	ReasonAnimated       = "animated"
	ReasonAnimatedLong   = "animated_many_frames"
	ReasonLargeText      = "large_with_text"
	ReasonLosslessText   = "lossless_with_text"
	ReasonDefault        = "default"
	ReasonCachedDecision = "cached_decision"
)

// Inputs is the signal subset routing looks at.
type Inputs struct {
	PixelCount     int
	TextLikeliness float64
	EdgeDensity    float64
	IsAnimated     bool
	FrameCount     int
	Format         string
}

// Params are the routing thresholds. They come from the route manifest's
// defaults so nothing here is hard-coded policy.
type Params struct {
	ForceTier                blackboard.Tier
	FastMaxPixels            int
	FastMaxTextLikeliness    float64
	FastMaxEdgeDensity       float64
	QualityMinPixels         int
	QualityMinTextLikeliness float64
	AnimatedMinFramesQuality int
	LosslessFormats          []string
	OCRWave                  string
	OCRTextOverride          float64
	Skip                     map[blackboard.Tier][]string
}

// DefaultParams mirrors the built-in route manifest.
func DefaultParams() Params {
	return Params{
		FastMaxPixels:            262144,
		FastMaxTextLikeliness:    0.2,
		FastMaxEdgeDensity:       0.08,
		QualityMinPixels:         4000000,
		QualityMinTextLikeliness: 0.6,
		AnimatedMinFramesQuality: 24,
		LosslessFormats:          []string{"png", "bmp", "tiff"},
		OCRWave:                  "ocr",
		OCRTextOverride:          0.4,
		Skip: map[blackboard.Tier][]string{
			blackboard.TierFast:     {"ocr", "vision"},
			blackboard.TierBalanced: {},
			blackboard.TierQuality:  {},
		},
	}
}

// ParamsFrom reads routing parameters from a manifest parameter bag,
// falling back to DefaultParams for anything missing.
func ParamsFrom(p manifest.Params) Params {
	d := DefaultParams()
	out := Params{
		ForceTier:                blackboard.Tier(p.String("force_tier", "")),
		FastMaxPixels:            p.Int("fast_max_pixels", d.FastMaxPixels),
		FastMaxTextLikeliness:    p.Float("fast_max_text_likeliness", d.FastMaxTextLikeliness),
		FastMaxEdgeDensity:       p.Float("fast_max_edge_density", d.FastMaxEdgeDensity),
		QualityMinPixels:         p.Int("quality_min_pixels", d.QualityMinPixels),
		QualityMinTextLikeliness: p.Float("quality_min_text_likeliness", d.QualityMinTextLikeliness),
		AnimatedMinFramesQuality: p.Int("animated_min_frames_quality", d.AnimatedMinFramesQuality),
		LosslessFormats:          p.StringSlice("lossless_formats", d.LosslessFormats),
		OCRWave:                  p.String("ocr_wave", d.OCRWave),
		OCRTextOverride:          p.Float("ocr_text_override", d.OCRTextOverride),
		Skip:                     make(map[blackboard.Tier][]string, 3),
	}
	for _, tier := range []blackboard.Tier{blackboard.TierFast, blackboard.TierBalanced, blackboard.TierQuality} {
		out.Skip[tier] = p.StringSlice("skip_"+string(tier), d.Skip[tier])
	}
	return out
}

// Decide picks a tier and the waves that tier skips.
//
// Rules, first match wins:
//   - a valid ForceTier is used as is
//   - small, low-text, low-edge images are fast, animated or not
//   - animations are balanced, or quality with many frames
//   - large images with text, or lossless images with text, are quality
//   - everything else is balanced
//
// On the fast tier the OCR wave is un-skipped when text likeliness reaches
// OCRTextOverride.
func Decide(in Inputs, p Params) blackboard.Route {
	tier, reason := selectTier(in, p)

	skip := make([]string, 0, len(p.Skip[tier]))
	for _, wave := range p.Skip[tier] {
		if tier == blackboard.TierFast && wave == p.OCRWave && in.TextLikeliness >= p.OCRTextOverride {
			continue
		}
		skip = append(skip, wave)
	}
	sort.Strings(skip)
	skip = dedupSorted(skip)

	return blackboard.Route{Tier: tier, Reason: reason, Skip: skip}
}

func selectTier(in Inputs, p Params) (blackboard.Tier, string) {
	switch p.ForceTier {
	case blackboard.TierFast, blackboard.TierBalanced, blackboard.TierQuality:
		return p.ForceTier, ReasonForced
	}

	if in.PixelCount <= p.FastMaxPixels &&
		in.TextLikeliness <= p.FastMaxTextLikeliness &&
		in.EdgeDensity <= p.FastMaxEdgeDensity {
		return blackboard.TierFast, ReasonSmallSimple
	}

	if in.IsAnimated || in.FrameCount > 1 {
		if in.FrameCount >= p.AnimatedMinFramesQuality {
			return blackboard.TierQuality, ReasonAnimatedLong
		}
		return blackboard.TierBalanced, ReasonAnimated
	}

	if in.TextLikeliness >= p.QualityMinTextLikeliness {
		if in.PixelCount >= p.QualityMinPixels {
			return blackboard.TierQuality, ReasonLargeText
		}
		if isLossless(in.Format, p.LosslessFormats) {
			return blackboard.TierQuality, ReasonLosslessText
		}
	}

	return blackboard.TierBalanced, ReasonDefault
}

func isLossless(format string, lossless []string) bool {
	for _, f := range lossless {
		if strings.EqualFold(f, format) {
			return true
		}
	}
	return false
}

func dedupSorted(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// Signals renders a route as blackboard signals emitted by source.
// Every wave named in the tier's skip list gets route.skip.<wave> = true,
// and every other wave the params mention gets false, so the flag set is
// complete and comparable across runs.
func Signals(route blackboard.Route, p Params, source string) []blackboard.Signal {
	out := []blackboard.Signal{
		blackboard.NewSignal("route.selected", blackboard.String(string(route.Tier)), 1, source, blackboard.TagRoute),
		blackboard.NewSignal("route.quality_tier", blackboard.Number(float64(route.Tier.Ordinal())), 1, source, blackboard.TagRoute),
		blackboard.NewSignal("route.reason", blackboard.String(route.Reason), 1, source, blackboard.TagRoute),
	}

	skipped := make(map[string]bool, len(route.Skip))
	for _, w := range route.Skip {
		skipped[w] = true
	}
	for _, w := range knownWaves(route, p) {
		out = append(out, blackboard.NewSignal(manifest.SkipKey(w), blackboard.Bool(skipped[w]), 1, source, blackboard.TagRoute))
	}
	return out
}

func knownWaves(route blackboard.Route, p Params) []string {
	set := make(map[string]struct{})
	for _, w := range route.Skip {
		set[w] = struct{}{}
	}
	for _, list := range p.Skip {
		for _, w := range list {
			set[w] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// FromSnapshot extracts routing inputs from already-emitted signals.
func FromSnapshot(snap *blackboard.Snapshot) Inputs {
	return Inputs{
		PixelCount:     int(snap.GetFloat("identity.pixel_count", 0)),
		TextLikeliness: snap.GetFloat("content.text_likeliness", 0),
		EdgeDensity:    snap.GetFloat("content.edge_density", 0),
		IsAnimated:     snap.GetBool("identity.is_animated", false),
		FrameCount:     int(snap.GetFloat("identity.frame_count", 1)),
		Format:         snap.GetString("identity.format", ""),
	}
}
