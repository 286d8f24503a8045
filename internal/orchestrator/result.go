package orchestrator

import (
	"sort"
	"strings"
	"time"

	"github.com/dyluth/glint/internal/learning"
	"github.com/dyluth/glint/pkg/blackboard"
)

// Result is the outcome of one run. Callers should inspect Completed,
// Failed and Confidence rather than assume every wave contributed.
type Result struct {
	SessionID     string                    `json:"session_id"`
	SignatureKey  string                    `json:"signature_key"`
	ImagePath     string                    `json:"image_path,omitempty"`
	Status        blackboard.AnalysisStatus `json:"status"`
	Route         blackboard.Route          `json:"route"`
	Confidence    float64                   `json:"confidence"`
	Caption       string                    `json:"caption,omitempty"`
	OCRText       string                    `json:"ocr_text,omitempty"`
	DominantColor string                    `json:"dominant_color,omitempty"`
	Signals       []blackboard.Signal       `json:"signals"`
	Completed     []string                  `json:"completed"`
	Failed        map[string]string         `json:"failed"`  // wave -> error
	Skipped       map[string]string         `json:"skipped"` // wave -> reason
	FromCache     bool                      `json:"from_cache"`
	Truncated     bool                      `json:"truncated"` // Early exit left waves unscheduled
	RejectReason  string                    `json:"reject_reason,omitempty"`
	States        []string                  `json:"states"`
	Width         int                       `json:"width"`
	Height        int                       `json:"height"`
	IsAnimated    bool                      `json:"is_animated"`
	Elapsed       time.Duration             `json:"elapsed"`
}

// FailedWaves returns the sorted names of failed waves.
func (r *Result) FailedWaves() []string {
	out := make([]string, 0, len(r.Failed))
	for name := range r.Failed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get returns the last occurrence of key in the result's signals.
func (r *Result) Get(key string) (blackboard.Signal, bool) {
	for i := len(r.Signals) - 1; i >= 0; i-- {
		if r.Signals[i].Key == key {
			return r.Signals[i], true
		}
	}
	return blackboard.Signal{}, false
}

// Event renders the result as a published analysis event.
func (r *Result) Event(requestID string) *blackboard.AnalysisEvent {
	return &blackboard.AnalysisEvent{
		RequestID:      requestID,
		SessionID:      r.SessionID,
		ImagePath:      r.ImagePath,
		SignatureKey:   r.SignatureKey,
		Status:         r.Status,
		Tier:           r.Route.Tier,
		Confidence:     r.Confidence,
		Caption:        r.Caption,
		OCRText:        r.OCRText,
		DominantColor:  r.DominantColor,
		CompletedWaves: append([]string{}, r.Completed...),
		FailedWaves:    r.FailedWaves(),
		FromCache:      r.FromCache,
		ElapsedMs:      r.Elapsed.Milliseconds(),
		Error:          r.RejectReason,
		CreatedAtMs:    time.Now().UnixMilli(),
	}
}

// Signature summarizes the result as a cache observation. Only an
// untruncated run is complete. Orchestrator markers and request flags are
// not stored.
func (r *Result) Signature() *blackboard.Signature {
	signals := make(map[string][]blackboard.Signal)
	for _, s := range r.Signals {
		if s.Source == sourceRequest || s.Source == sourceCache {
			continue
		}
		signals[s.Key] = append(signals[s.Key], s.Clone())
	}
	route := r.Route
	route.Skip = append([]string(nil), r.Route.Skip...)
	return &blackboard.Signature{
		Key:               r.SignatureKey,
		Confidence:        r.Confidence,
		Caption:           r.Caption,
		OCRText:           r.OCRText,
		DominantColor:     r.DominantColor,
		Signals:           signals,
		ContributingWaves: append([]string(nil), r.Completed...),
		IsComplete:        !r.Truncated && r.Status == blackboard.AnalysisStatusDone,
		ProcessingMs:      r.Elapsed.Milliseconds(),
		Width:             r.Width,
		Height:            r.Height,
		IsAnimated:        r.IsAnimated,
		Route:             &route,
	}
}

// ocrSample extracts an OCR quality record when the OCR wave reported.
func (r *Result) ocrSample() *learning.OCRSample {
	status, ok := r.Get("ocr.status")
	if !ok {
		return nil
	}
	sample := &learning.OCRSample{
		SignatureKey: r.SignatureKey,
		Status:       status.Value.AsString(),
		Features:     make(map[string]float64),
	}
	if s, ok := r.Get("ocr.tier"); ok {
		sample.Tier = s.Value.AsString()
	}
	if s, ok := r.Get("ocr.confidence"); ok {
		sample.Confidence, _ = s.Value.AsFloat()
	}
	if s, ok := r.Get("ocr.phases"); ok && s.Value.AsString() != "" {
		sample.Phases = strings.Split(s.Value.AsString(), ",")
	}
	if s, ok := r.Get("ocr.early_exit"); ok {
		sample.EarlyExit, _ = s.Value.AsBool()
	}
	sample.TextLength = len(r.OCRText)
	for _, key := range []string{"content.text_likeliness", "content.edge_density", "content.contrast", "content.blur_variance", "identity.frame_count"} {
		if s, ok := r.Get(key); ok {
			if f, ok := s.Value.AsFloat(); ok {
				sample.Features[key] = f
			}
		}
	}
	return sample
}

// aggregate builds the result from the board as it stands.
func (r *run) aggregate(status blackboard.AnalysisStatus) *Result {
	snap := r.board.Snapshot()

	r.mu.Lock()
	skipped := make(map[string]string, len(r.skipped))
	for k, v := range r.skipped {
		skipped[k] = v
	}
	truncated := r.truncated
	r.mu.Unlock()

	res := &Result{
		SessionID:     snap.SessionID(),
		SignatureKey:  r.key,
		ImagePath:     r.img.Path,
		Status:        status,
		Route:         r.route,
		Confidence:    snap.Confidence(),
		Caption:       r.pick(snap, blackboard.TagCaption),
		OCRText:       r.pick(snap, blackboard.TagOCRText),
		DominantColor: r.pick(snap, blackboard.TagDominantColor),
		Signals:       snap.Signals(),
		Completed:     snap.Completed(),
		Failed:        snap.Failed(),
		Skipped:       skipped,
		FromCache:     r.fromCache,
		Truncated:     truncated,
		Width:         r.img.Width,
		Height:        r.img.Height,
		IsAnimated:    r.img.IsAnimated(),
		Elapsed:       snap.Elapsed(),
	}
	return res
}

// pick returns the first non-empty value tagged tag, visiting waves in
// (priority, name) order and each wave's signals in emission order.
func (r *run) pick(snap *blackboard.Snapshot, tag string) string {
	for _, name := range r.set.Names() {
		for _, s := range snap.BySource(name) {
			if s.HasTag(tag) && s.Value.AsString() != "" {
				return s.Value.AsString()
			}
		}
	}
	for _, s := range snap.Signals() {
		if s.HasTag(tag) && s.Value.AsString() != "" {
			return s.Value.AsString()
		}
	}
	return ""
}
