package blackboard

import (
	"fmt"
	"math"
	"strings"
)

// Well-known signal tags used for grouping and aggregation.
const (
	TagConfidence    = "confidence"     // Signal carries an analysis confidence eligible for early exit
	TagRoute         = "route"          // Signal produced by the routing decision
	TagRegion        = "region"         // Signal describes one detected region (bounding box in metadata)
	TagCollection    = "collection"     // Signal is one element of an indexed collection
	TagCaption       = "caption"        // Signal value is a caption candidate
	TagOCRText       = "ocr_text"       // Signal value is recognized text
	TagDominantColor = "dominant_color" // Signal value is a dominant color candidate
	TagEmission      = "emission"       // Marker emitted by the orchestrator from a manifest declaration
	TagCritical      = "critical"       // Signal participates in critical contradiction checks
)

// ValueKind identifies which member of the Value variant is populated.
type ValueKind string

const (
	// KindString is a free-form string value
	KindString ValueKind = "string"

	// KindNumber is a float64 value
	KindNumber ValueKind = "number"

	// KindBool is a boolean value
	KindBool ValueKind = "bool"

	// KindVector is an ordered sequence of numbers
	KindVector ValueKind = "vector"
)

// Value is the variant payload of a Signal.
// Exactly one member is meaningful, selected by Kind.
type Value struct {
	Kind ValueKind `json:"kind"`
	Str  string    `json:"str,omitempty"`
	Num  float64   `json:"num,omitempty"`
	Bool bool      `json:"bool,omitempty"`
	Vec  []float64 `json:"vec,omitempty"`
}

// String builds a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number builds a numeric Value.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// Bool builds a boolean Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Vector builds a vector Value. The slice is copied.
func Vector(v []float64) Value {
	return Value{Kind: KindVector, Vec: append([]float64(nil), v...)}
}

// AsFloat returns the numeric interpretation of the value.
// Booleans map to 0/1; strings and vectors are not numeric.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsString returns the string member, or a formatted rendering for other kinds.
func (v Value) AsString() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindVector:
		parts := make([]string, len(v.Vec))
		for i, f := range v.Vec {
			parts[i] = fmt.Sprintf("%g", f)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return ""
	}
}

// AsBool returns the boolean interpretation of the value.
func (v Value) AsBool() (bool, bool) {
	switch v.Kind {
	case KindBool:
		return v.Bool, true
	case KindNumber:
		return v.Num != 0, true
	case KindString:
		switch strings.ToLower(v.Str) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	case KindVector:
		if len(v.Vec) != len(o.Vec) {
			return false
		}
		for i := range v.Vec {
			if v.Vec[i] != o.Vec[i] {
				return false
			}
		}
		return true
	}
	return true
}

// Validate checks if the ValueKind is a valid enum value.
func (k ValueKind) Validate() error {
	switch k {
	case KindString, KindNumber, KindBool, KindVector:
		return nil
	default:
		return fmt.Errorf("unknown value kind: %q", k)
	}
}

// Signal is an atomic observation about an image.
// Signals are immutable once emitted: the log stores a private copy and
// hands out values, never pointers into its storage.
type Signal struct {
	Key        string         `json:"key"`                // Hierarchical key, e.g. "text_detection.region_count"
	Value      Value          `json:"value"`              // Variant payload
	Confidence float64        `json:"confidence"`         // 0.0-1.0
	Source     string         `json:"source"`             // Name of the producing wave
	Tags       []string       `json:"tags,omitempty"`     // Grouping tags
	Metadata   map[string]any `json:"metadata,omitempty"` // Auxiliary structured data (e.g. bounding boxes)
}

// NewSignal builds a Signal with the given tags.
func NewSignal(key string, value Value, confidence float64, source string, tags ...string) Signal {
	return Signal{
		Key:        key,
		Value:      value,
		Confidence: confidence,
		Source:     source,
		Tags:       append([]string(nil), tags...),
	}
}

// WithMetadata returns a copy of the signal with one metadata entry added.
func (s Signal) WithMetadata(key string, value any) Signal {
	out := s.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any, 1)
	}
	out.Metadata[key] = value
	return out
}

// HasTag reports whether the signal carries the tag.
func (s Signal) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the signal's slices and metadata map.
func (s Signal) Clone() Signal {
	out := s
	out.Tags = append([]string(nil), s.Tags...)
	if s.Value.Vec != nil {
		out.Value.Vec = append([]float64(nil), s.Value.Vec...)
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Validate checks if the Signal has valid field values.
func (s Signal) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("signal key cannot be empty")
	}

	if err := s.Value.Kind.Validate(); err != nil {
		return fmt.Errorf("signal %q: %w", s.Key, err)
	}

	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("signal %q: confidence must be within [0,1], got %v", s.Key, s.Confidence)
	}

	if s.Source == "" {
		return fmt.Errorf("signal %q: source cannot be empty", s.Key)
	}

	return nil
}

// IndexedKey returns the key used for the i-th element of a collection,
// e.g. IndexedKey("text_detection.region", 2) = "text_detection.region[2]".
func IndexedKey(key string, i int) string {
	return fmt.Sprintf("%s[%d]", key, i)
}

// BaseKey strips an index suffix produced by IndexedKey.
func BaseKey(key string) string {
	if i := strings.LastIndexByte(key, '['); i > 0 && strings.HasSuffix(key, "]") {
		return key[:i]
	}
	return key
}

// Tier is the quality tier selected for an image.
// The OCR pipeline additionally understands TierUltra.
type Tier string

const (
	// TierFast runs only cheap waves and the cheapest OCR phases
	TierFast Tier = "fast"

	// TierBalanced is the default for most images
	TierBalanced Tier = "balanced"

	// TierQuality enables every routed wave and expensive OCR phases
	TierQuality Tier = "quality"

	// TierUltra is an OCR-only tier that disables early exit
	TierUltra Tier = "ultra"
)

// Ordinal returns the quality tier ordinal (1=fast, 2=balanced, 3=quality, 4=ultra).
func (t Tier) Ordinal() int {
	switch t {
	case TierFast:
		return 1
	case TierBalanced:
		return 2
	case TierQuality:
		return 3
	case TierUltra:
		return 4
	default:
		return 0
	}
}

// Validate checks if the Tier is a valid enum value.
func (t Tier) Validate() error {
	if t.Ordinal() == 0 {
		return fmt.Errorf("unknown tier: %q", t)
	}
	return nil
}

// Route is the routing decision for one image.
type Route struct {
	Tier   Tier     `json:"tier"`           // Selected tier
	Reason string   `json:"reason"`         // Rule that selected the tier, or "cached_decision"
	Skip   []string `json:"skip,omitempty"` // Wave names skipped by the route, sorted
}

// Signature is a durable, content-addressed summary of a prior analysis.
// Signatures are replaced whole: readers never observe a partially-written entry.
type Signature struct {
	Key               string              `json:"key"`                // Content hash of the image
	Confidence        float64             `json:"confidence"`         // Best overall confidence observed
	Caption           string              `json:"caption"`            // Best caption observed
	OCRText           string              `json:"ocr_text"`           // Best recognized text observed
	DominantColor     string              `json:"dominant_color"`     // Dominant color (hex)
	Signals           map[string][]Signal `json:"signals"`            // key -> occurrences
	ContributingWaves []string            `json:"contributing_waves"` // Sorted wave names
	IsComplete        bool                `json:"is_complete"`        // True once a full, untruncated analysis contributed
	ProcessingMs      int64               `json:"processing_ms"`      // Duration of the original analysis
	Width             int                 `json:"width"`
	Height            int                 `json:"height"`
	IsAnimated        bool                `json:"is_animated"`
	Support           int                 `json:"support"`         // Number of observations merged into this entry
	Route             *Route              `json:"route,omitempty"` // Routing decision to replay
	UpdatedAtMs       int64               `json:"updated_at_ms"`   // Unix ms of last write
}

// Validate checks if the Signature has valid field values.
func (s *Signature) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("signature key cannot be empty")
	}

	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("invalid confidence: must be within [0,1], got %v", s.Confidence)
	}

	if s.Support < 0 {
		return fmt.Errorf("invalid support: must be >= 0, got %d", s.Support)
	}

	if s.Route != nil {
		if err := s.Route.Tier.Validate(); err != nil {
			return fmt.Errorf("invalid route: %w", err)
		}
	}

	for key, occurrences := range s.Signals {
		for i, sig := range occurrences {
			if err := sig.Validate(); err != nil {
				return fmt.Errorf("invalid signal %s at index %d: %w", key, i, err)
			}
		}
	}

	return nil
}

// Clone returns a deep copy of the signature.
func (s *Signature) Clone() *Signature {
	if s == nil {
		return nil
	}
	out := *s
	out.ContributingWaves = append([]string(nil), s.ContributingWaves...)
	if s.Signals != nil {
		out.Signals = make(map[string][]Signal, len(s.Signals))
		for k, occurrences := range s.Signals {
			copied := make([]Signal, len(occurrences))
			for i, sig := range occurrences {
				copied[i] = sig.Clone()
			}
			out.Signals[k] = copied
		}
	}
	if s.Route != nil {
		r := *s.Route
		r.Skip = append([]string(nil), s.Route.Skip...)
		out.Route = &r
	}
	return &out
}

// AnalysisStatus is the terminal status of one analysis run.
type AnalysisStatus string

const (
	// AnalysisStatusDone indicates a result (possibly partial) was produced
	AnalysisStatusDone AnalysisStatus = "done"

	// AnalysisStatusRejected indicates a critical contradiction or failure terminated the run
	AnalysisStatusRejected AnalysisStatus = "rejected"

	// AnalysisStatusError indicates the run could not start (e.g. unreadable image)
	AnalysisStatusError AnalysisStatus = "error"
)

// AnalysisRequest asks a daemon to analyze an image.
// Published as JSON to glint:{instance}:analysis_requests.
type AnalysisRequest struct {
	ID          string `json:"id"`                // UUID
	ImagePath   string `json:"image_path"`        // Path readable by the daemon
	Caption     bool   `json:"caption,omitempty"` // Request a vision caption
	CreatedAtMs int64  `json:"created_at_ms"`     // Unix ms
}

// AnalysisEvent summarizes a finished run.
// Published as JSON to glint:{instance}:analysis_events.
type AnalysisEvent struct {
	RequestID      string         `json:"request_id,omitempty"`
	SessionID      string         `json:"session_id"`
	ImagePath      string         `json:"image_path"`
	SignatureKey   string         `json:"signature_key,omitempty"`
	Status         AnalysisStatus `json:"status"`
	Tier           Tier           `json:"tier,omitempty"`
	Confidence     float64        `json:"confidence"`
	Caption        string         `json:"caption,omitempty"`
	OCRText        string         `json:"ocr_text,omitempty"`
	DominantColor  string         `json:"dominant_color,omitempty"`
	CompletedWaves []string       `json:"completed_waves"`
	FailedWaves    []string       `json:"failed_waves"`
	FromCache      bool           `json:"from_cache"`
	ElapsedMs      int64          `json:"elapsed_ms"`
	Error          string         `json:"error,omitempty"`
	CreatedAtMs    int64          `json:"created_at_ms"`
}

// Validate checks if the AnalysisRequest has valid field values.
func (r *AnalysisRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request ID cannot be empty")
	}
	if r.ImagePath == "" {
		return fmt.Errorf("image path cannot be empty")
	}
	return nil
}
