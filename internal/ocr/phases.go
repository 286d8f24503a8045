package ocr

import (
	"context"
	"errors"
	"image"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/dyluth/glint/internal/imaging"
)

// alignSide is the working size for shift estimation.
const alignSide = 256

// stabilization removes global jitter by aligning every frame to the first.
// Alignment is translation-only; frames whose best match scores below
// MinAlignmentScore are left untouched.
type stabilization struct{}

func (stabilization) Name() string { return PhaseStabilization }

func (stabilization) Run(ctx context.Context, env *Env, st *State) error {
	if len(st.Frames) < 2 {
		return nil
	}

	ref := imaging.FitGray(st.Frames[0], alignSide)
	scale := float64(st.Frames[0].Bounds().Dx()) / float64(ref.Bounds().Dx())
	radius := int(math.Ceil(float64(env.Settings.StabilizationRadius) / scale))
	if radius < 1 {
		radius = 1
	}

	out := make([]*image.Gray, len(st.Frames))
	out[0] = st.Frames[0]
	var total float64
	for i, f := range st.Frames[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		dx, dy, score := imaging.EstimateShift(ref, imaging.FitGray(f, alignSide), radius)
		total += score
		if score < env.Settings.MinAlignmentScore || (dx == 0 && dy == 0) {
			out[i+1] = f
			continue
		}
		out[i+1] = imaging.Shift(f, int(math.Round(float64(dx)*scale)), int(math.Round(float64(dy)*scale)))
	}
	st.Frames = out
	st.AlignmentScore = total / float64(len(st.Frames)-1)
	return nil
}

// backgroundSubtraction models every pixel as a running Gaussian over the
// frames and flattens pixels that match it, keeping moving foreground.
// Static scenes (almost nothing moves) and global motion (almost everything
// moves) are left untouched.
type backgroundSubtraction struct{}

func (backgroundSubtraction) Name() string { return PhaseBackgroundSubtraction }

func (backgroundSubtraction) Run(ctx context.Context, env *Env, st *State) error {
	n := len(st.Frames)
	if n < env.Settings.BackgroundMinFrames || n < 2 {
		return nil
	}

	size := len(st.Frames[0].Pix)
	mean := make([]float64, size)
	variance := make([]float64, size)
	for i, p := range st.Frames[0].Pix {
		mean[i] = float64(p)
		variance[i] = env.Settings.BackgroundInitVariance
	}

	alpha := env.Settings.BackgroundLearningRate
	sigmas := env.Settings.BackgroundMatchSigmas
	minVariance := env.Settings.BackgroundMinVariance
	masks := make([][]bool, n)
	var foreground int
	for k, f := range st.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		mask := make([]bool, size)
		for i, p := range f.Pix {
			d := float64(p) - mean[i]
			if d*d > sigmas*sigmas*variance[i] {
				mask[i] = true
				foreground++
				continue
			}
			mean[i] += alpha * d
			variance[i] = math.Max(minVariance, (1-alpha)*variance[i]+alpha*d*d)
		}
		masks[k] = mask
	}

	fraction := float64(foreground) / float64(n*size)
	if fraction < env.Settings.MinForeground || fraction > env.Settings.MaxForeground {
		return nil
	}

	out := make([]*image.Gray, n)
	for k, f := range st.Frames {
		g := imaging.CloneGray(f)
		for i, fg := range masks[k] {
			if !fg {
				g.Pix[i] = uint8(math.Round(mean[i]))
			}
		}
		out[k] = g
	}
	st.Frames = out
	return nil
}

// edgeConsensus builds a text mask from the pixels where at least
// EdgeQuorum of the Sobel, Scharr and Laplacian detectors fire, dilates it,
// and flattens everything outside to the frame's background level.
type edgeConsensus struct{}

func (edgeConsensus) Name() string { return PhaseEdgeConsensus }

func (edgeConsensus) Run(ctx context.Context, env *Env, st *State) error {
	out := make([]*image.Gray, len(st.Frames))
	var coverage float64
	for k, f := range st.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		mask := consensusMask(f, env.Settings.EdgeThreshold, env.Settings.EdgeQuorum)
		w, h := f.Bounds().Dx(), f.Bounds().Dy()
		mask = dilate(mask, w, h, env.Settings.MaskDilation)

		var covered int
		for _, m := range mask {
			if m {
				covered++
			}
		}
		if covered == 0 || covered == len(mask) {
			out[k] = f
			continue
		}
		coverage += float64(covered) / float64(len(mask))

		fill := backgroundLevel(f, mask)
		g := imaging.CloneGray(f)
		for i, m := range mask {
			if !m {
				g.Pix[i] = fill
			}
		}
		out[k] = g
	}
	st.Frames = out
	st.MaskCoverage = coverage / float64(len(out))
	return nil
}

func consensusMask(g *image.Gray, threshold float64, quorum int) []bool {
	sobel := imaging.GradientMagnitude(g, imaging.SobelX, imaging.SobelY)
	scharr := imaging.GradientMagnitude(g, imaging.ScharrX, imaging.ScharrY)
	lap := imaging.Convolve(g, imaging.Laplacian4)

	mask := make([]bool, len(sobel))
	for i := range mask {
		votes := 0
		if sobel[i]/4 >= threshold {
			votes++
		}
		if scharr[i]/16 >= threshold {
			votes++
		}
		if math.Abs(lap[i])/4 >= threshold {
			votes++
		}
		mask[i] = votes >= quorum
	}
	return mask
}

func dilate(mask []bool, w, h, r int) []bool {
	out := make([]bool, len(mask))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !mask[y*w+x] {
				continue
			}
			for yy := max(0, y-r); yy <= min(h-1, y+r); yy++ {
				for xx := max(0, x-r); xx <= min(w-1, x+r); xx++ {
					out[yy*w+xx] = true
				}
			}
		}
	}
	return out
}

// backgroundLevel is the median intensity of unmasked pixels.
func backgroundLevel(g *image.Gray, mask []bool) uint8 {
	var hist [256]int
	var n int
	for i, m := range mask {
		if !m {
			hist[g.Pix[i]]++
			n++
		}
	}
	half := n / 2
	for v, c := range hist {
		half -= c
		if half < 0 {
			return uint8(v)
		}
	}
	return 255
}

// temporalMedian merges the frames into one de-noised composite.
type temporalMedian struct{}

func (temporalMedian) Name() string { return PhaseTemporalMedian }

func (temporalMedian) Run(ctx context.Context, env *Env, st *State) error {
	if len(st.Frames) == 1 {
		st.Composite = st.Frames[0]
		return nil
	}
	composite, err := imaging.Median(st.Frames)
	if err != nil {
		return err
	}
	st.Composite = composite
	return nil
}

// superResolution upscales the composite before recognition: bicubic plus
// unsharp mask, or the model upscaler when the preset asks for it. A missing
// model falls back to the classical path.
type superResolution struct{}

func (superResolution) Name() string { return PhaseSuperResolution }

const maxUpscaledSide = 4096

func (superResolution) Run(ctx context.Context, env *Env, st *State) error {
	src := st.composite()
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	factor := env.Settings.UpscaleFactor
	if max(w, h)*factor > maxUpscaledSide {
		factor = 1
	}

	if env.Preset.SuperResolution == SuperResolutionModel && env.Upscaler != nil && factor > 1 {
		up, err := env.Upscaler.Upscale(ctx, src, factor)
		switch {
		case err == nil:
			st.Composite = up
			st.Scale *= float64(up.Bounds().Dx()) / float64(w)
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case !errors.Is(err, ErrModelUnavailable):
			log.Printf("[OCR] Upscaler failed, using classical super-resolution: %v", err)
		}
	}

	up := src
	if factor > 1 {
		up = imaging.ResizeGray(src, w*factor, h*factor)
		st.Scale *= float64(factor)
	}
	st.Composite = imaging.Sharpen(up, env.Settings.SharpenAmount)
	return nil
}

// textDetection locates text regions and recognizes them. Without a usable
// detector, or when it finds nothing legible, the whole composite is
// recognized instead.
type textDetection struct{}

func (textDetection) Name() string { return PhaseTextDetection }

func (textDetection) Run(ctx context.Context, env *Env, st *State) error {
	comp := st.composite()

	var regions []Region
	switch {
	case !env.Preset.UseDetector:
		st.DetectorStatus = StatusFallback
	case env.Detector == nil:
		st.DetectorStatus = StatusUnavailable
	default:
		found, err := env.Detector.Detect(ctx, comp)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, ErrModelUnavailable) {
				log.Printf("[OCR] Text detector failed, using full-frame recognition: %v", err)
			}
			st.DetectorStatus = StatusUnavailable
			break
		}
		st.DetectorStatus = StatusOK
		for _, r := range found {
			if r.Confidence >= env.Settings.MinRegionConfidence && !r.Bounds.Intersect(comp.Bounds()).Empty() {
				regions = append(regions, r)
			}
		}
		sortReadingOrder(regions)
	}

	if len(regions) > 0 {
		var texts []string
		var weighted, weight float64
		for i, r := range regions {
			rec, err := env.recognize(ctx, imaging.Crop(comp, r.Bounds))
			if err != nil {
				if errors.Is(err, ErrModelUnavailable) {
					st.Status = StatusUnavailable
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			text := strings.TrimSpace(rec.Text)
			regions[i].Text = text
			if text == "" {
				continue
			}
			texts = append(texts, text)
			n := float64(len([]rune(text)))
			weighted += rec.Confidence * n
			weight += n
		}
		if len(texts) > 0 {
			st.DetectionMethod = MethodDetector
			st.Regions = regions
			st.Text = strings.Join(texts, "\n")
			st.Confidence = weighted / weight
			return nil
		}
	}

	rec, err := env.recognize(ctx, comp)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			st.Status = StatusUnavailable
			return nil
		}
		return err
	}
	st.DetectionMethod = MethodFullFrame
	st.Regions = regions
	st.Text = strings.TrimSpace(rec.Text)
	st.Confidence = rec.Confidence
	return nil
}

func sortReadingOrder(regions []Region) {
	sort.SliceStable(regions, func(i, j int) bool {
		a, b := regions[i].Bounds, regions[j].Bounds
		// Same line when vertical centers are within half the shorter height.
		ca, cb := (a.Min.Y+a.Max.Y)/2, (b.Min.Y+b.Max.Y)/2
		tol := min(a.Dy(), b.Dy()) / 2
		if abs(ca-cb) > tol {
			return ca < cb
		}
		return a.Min.X < b.Min.X
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// temporalVoting recognizes a sample of frames and votes for a consensus
// string. A single frame bypasses voting and keeps the direct recognition.
type temporalVoting struct{}

func (temporalVoting) Name() string { return PhaseTemporalVoting }

func (temporalVoting) Run(ctx context.Context, env *Env, st *State) error {
	if len(st.Frames) <= 1 {
		st.VotingBypassed = true
		return nil
	}

	candidates := []Recognition{{Text: st.Text, Confidence: st.Confidence}}
	for _, i := range sampleIndices(len(st.Frames), env.Preset.MaxVotingFrames) {
		rec, err := env.recognize(ctx, st.Frames[i])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrModelUnavailable) {
				break
			}
			continue
		}
		rec.Text = strings.TrimSpace(rec.Text)
		candidates = append(candidates, rec)
	}

	voted := Vote(candidates)
	st.Text = voted.Text
	st.Confidence = voted.Confidence
	return nil
}

// postCorrection fixes character look-alikes and prefers dictionary words.
// It leaves the recognition confidence unchanged.
type postCorrection struct{}

func (postCorrection) Name() string { return PhasePostCorrection }

func (postCorrection) Run(ctx context.Context, env *Env, st *State) error {
	if st.Text == "" {
		return nil
	}
	corrected, n := Correct(st.Text, env.Settings.Dictionary)
	st.Text = corrected
	st.Corrections = n
	return nil
}
