package signature

import (
	"sort"

	"github.com/dyluth/glint/pkg/blackboard"
)

// Merge folds a new observation into an existing signature and returns the
// result; neither argument is modified. Merging never lowers confidence and
// increments support by exactly one. A nil existing entry yields a fresh
// signature with support 1.
func Merge(existing, obs *blackboard.Signature, nowMs int64) *blackboard.Signature {
	if existing == nil {
		out := obs.Clone()
		out.Support = 1
		out.UpdatedAtMs = nowMs
		out.ContributingWaves = sortedUnion(nil, obs.ContributingWaves)
		return out
	}

	out := existing.Clone()
	out.Support = existing.Support + 1
	out.UpdatedAtMs = nowMs
	out.ContributingWaves = sortedUnion(existing.ContributingWaves, obs.ContributingWaves)
	out.IsComplete = existing.IsComplete || obs.IsComplete

	// The better observation wins the summary fields; gaps are always filled.
	better := obs.Confidence >= existing.Confidence
	if obs.Confidence > existing.Confidence {
		out.Confidence = obs.Confidence
	}
	out.Caption = pick(existing.Caption, obs.Caption, better)
	out.OCRText = pick(existing.OCRText, obs.OCRText, better)
	out.DominantColor = pick(existing.DominantColor, obs.DominantColor, better)

	if out.Width == 0 && out.Height == 0 {
		out.Width, out.Height = obs.Width, obs.Height
	}
	out.IsAnimated = existing.IsAnimated || obs.IsAnimated
	if out.ProcessingMs == 0 {
		out.ProcessingMs = obs.ProcessingMs
	}

	if out.Signals == nil {
		out.Signals = make(map[string][]blackboard.Signal, len(obs.Signals))
	}
	for key, occurrences := range obs.Signals {
		if _, ok := out.Signals[key]; ok && !better {
			continue
		}
		copied := make([]blackboard.Signal, len(occurrences))
		for i, s := range occurrences {
			copied[i] = s.Clone()
		}
		out.Signals[key] = copied
	}

	// A complete entry's route is authoritative; otherwise take the newer one.
	if obs.Route != nil && (!existing.IsComplete || existing.Route == nil) {
		out.Route = obs.Clone().Route
	}

	return out
}

func pick(current, candidate string, preferCandidate bool) string {
	if candidate == "" {
		return current
	}
	if current == "" || preferCandidate {
		return candidate
	}
	return current
}

func sortedUnion(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
