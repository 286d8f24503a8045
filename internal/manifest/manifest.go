// Package manifest defines the declarative description of a wave: its
// taxonomy, trigger and emission rules, dependencies, lane, budget and the
// default parameter bag that external configuration may override.
package manifest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind classifies what a wave contributes.
type Kind string

const (
	KindSensor      Kind = "sensor"
	KindExtractor   Kind = "extractor"
	KindProposer    Kind = "proposer"
	KindConstrainer Kind = "constrainer"
	KindRanker      Kind = "ranker"
)

// Determinism states whether a wave's output content is reproducible.
type Determinism string

const (
	Deterministic Determinism = "deterministic"
	Probabilistic Determinism = "probabilistic"
)

// Persistence states how a wave's results propagate.
type Persistence string

const (
	PersistenceEphemeral   Persistence = "ephemeral"
	PersistenceEscalatable Persistence = "escalatable"
	PersistenceDirectWrite Persistence = "direct-write"
)

// DefaultLane is used for manifests that do not name a lane.
const DefaultLane = "default"

// RoutingLane holds the waves run before scheduling to pick a tier.
const RoutingLane = "routing"

// Manifest is the static description of one wave.
// Manifests are values: copies never share mutable state with the set they came from.
type Manifest struct {
	Name        string       `yaml:"name" validate:"required,wavename"`
	Description string       `yaml:"description,omitempty"`
	Priority    int          `yaml:"priority"`
	Enabled     *bool        `yaml:"enabled,omitempty"`
	Taxonomy    Taxonomy     `yaml:"taxonomy"`
	Triggers    Triggers     `yaml:"triggers,omitempty"`
	Emits       Emits        `yaml:"emits,omitempty"`
	Listens     Listens      `yaml:"listens,omitempty"`
	Escalation  []Escalation `yaml:"escalation,omitempty" validate:"dive"`
	Lane        Lane         `yaml:"lane,omitempty"`
	Budget      Budget       `yaml:"budget,omitempty"`
	Defaults    Params       `yaml:"defaults,omitempty"`
	Tags        []string     `yaml:"tags,omitempty"`
}

// Taxonomy classifies a wave.
type Taxonomy struct {
	Kind        Kind        `yaml:"kind" validate:"required,oneof=sensor extractor proposer constrainer ranker"`
	Determinism Determinism `yaml:"determinism" validate:"required,oneof=deterministic probabilistic"`
	Persistence Persistence `yaml:"persistence" validate:"required,oneof=ephemeral escalatable direct-write"`
}

// Triggers gate whether a wave runs for a given blackboard.
type Triggers struct {
	Requires []Condition `yaml:"requires,omitempty" validate:"dive"`  // All must hold
	AnyOf    []Condition `yaml:"any_of,omitempty" validate:"dive"`    // At least one must hold (if any declared)
	SkipWhen []Condition `yaml:"skip_when,omitempty" validate:"dive"` // Any holding skips the wave
}

// Emits declares what a wave writes to the blackboard.
type Emits struct {
	Signals     []string          `yaml:"signals,omitempty"`     // Key prefixes produced by Analyze
	OnStart     []string          `yaml:"on_start,omitempty"`    // Markers emitted when the wave starts
	OnComplete  []string          `yaml:"on_complete,omitempty"` // Markers emitted when the wave completes
	OnFail      []string          `yaml:"on_fail,omitempty"`     // Markers emitted when the wave fails
	Conditional []ConditionalEmit `yaml:"conditional,omitempty" validate:"dive"`
}

// ConditionalEmit emits Key after completion when When holds.
type ConditionalEmit struct {
	Key  string    `yaml:"key" validate:"required"`
	When Condition `yaml:"when"`
}

// Listens declares the signals a wave depends on.
type Listens struct {
	Required []string `yaml:"required,omitempty"` // Wave is skipped if these never appear
	Optional []string `yaml:"optional,omitempty"` // Wave waits for their producers but runs regardless
}

// Escalation asks the orchestrator to flag Target when When holds.
type Escalation struct {
	Target   string      `yaml:"target" validate:"required"`
	When     []Condition `yaml:"when,omitempty" validate:"dive"`
	SkipWhen []Condition `yaml:"skip_when,omitempty" validate:"dive"`
}

// Lane assigns a wave to a named concurrency pool.
type Lane struct {
	Name           string `yaml:"name,omitempty"`
	MaxConcurrency int    `yaml:"max_concurrency,omitempty" validate:"gte=0"`
}

// Budget bounds a single wave execution.
type Budget struct {
	MaxDuration Duration `yaml:"max_duration,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty" validate:"gte=0"`
	MaxCost     float64  `yaml:"max_cost,omitempty" validate:"gte=0"`
}

// Duration is a time.Duration written as "30s" in YAML.
type Duration time.Duration

// UnmarshalYAML accepts a Go duration string or an integer number of milliseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := node.Decode(&ms); err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// IsEnabled reports whether the wave may run. Manifests are enabled by default.
func (m Manifest) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// LaneName returns the lane, defaulting to DefaultLane.
func (m Manifest) LaneName() string {
	if m.Lane.Name == "" {
		return DefaultLane
	}
	return m.Lane.Name
}

// Produces reports whether the manifest declares it emits key, either from
// Analyze (emits.signals prefixes), as a marker, or as an escalation flag.
func (m Manifest) Produces(key string) bool {
	for _, prefix := range m.Emits.Signals {
		if keyMatches(key, prefix) {
			return true
		}
	}
	for _, group := range [][]string{m.Emits.OnStart, m.Emits.OnComplete, m.Emits.OnFail} {
		for _, marker := range group {
			if keyMatches(key, marker) {
				return true
			}
		}
	}
	for _, c := range m.Emits.Conditional {
		if keyMatches(key, c.Key) {
			return true
		}
	}
	for _, e := range m.Escalation {
		if keyMatches(key, EscalationKey(e.Target)) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers may modify the result freely.
func (m Manifest) Clone() Manifest {
	out := m
	if m.Enabled != nil {
		enabled := *m.Enabled
		out.Enabled = &enabled
	}
	out.Triggers.Requires = append([]Condition(nil), m.Triggers.Requires...)
	out.Triggers.AnyOf = append([]Condition(nil), m.Triggers.AnyOf...)
	out.Triggers.SkipWhen = append([]Condition(nil), m.Triggers.SkipWhen...)
	out.Emits.Signals = append([]string(nil), m.Emits.Signals...)
	out.Emits.OnStart = append([]string(nil), m.Emits.OnStart...)
	out.Emits.OnComplete = append([]string(nil), m.Emits.OnComplete...)
	out.Emits.OnFail = append([]string(nil), m.Emits.OnFail...)
	out.Emits.Conditional = append([]ConditionalEmit(nil), m.Emits.Conditional...)
	out.Listens.Required = append([]string(nil), m.Listens.Required...)
	out.Listens.Optional = append([]string(nil), m.Listens.Optional...)
	out.Escalation = make([]Escalation, len(m.Escalation))
	for i, e := range m.Escalation {
		out.Escalation[i] = Escalation{
			Target:   e.Target,
			When:     append([]Condition(nil), e.When...),
			SkipWhen: append([]Condition(nil), e.SkipWhen...),
		}
	}
	out.Defaults = m.Defaults.Merge(nil)
	out.Tags = append([]string(nil), m.Tags...)
	return out
}

// WithOverrides returns a copy whose defaults are merged with overrides by key.
func (m Manifest) WithOverrides(overrides Params) Manifest {
	out := m.Clone()
	out.Defaults = m.Defaults.Merge(overrides)
	return out
}

// EscalationKey is the blackboard key flagging an escalation to target.
func EscalationKey(target string) string {
	return "escalation." + target
}

// SkipKey is the blackboard key a route uses to skip wave.
func SkipKey(wave string) string {
	return "route.skip." + wave
}

// keyMatches reports whether key equals prefix or lies beneath it
// (prefix followed by '.' or '[').
func keyMatches(key, prefix string) bool {
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	if len(key) == len(prefix) {
		return true
	}
	switch key[len(prefix)] {
	case '.', '[':
		return true
	}
	return strings.HasSuffix(prefix, ".")
}

// sortManifests orders by (priority, name).
func sortManifests(ms []Manifest) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Priority != ms[j].Priority {
			return ms[i].Priority < ms[j].Priority
		}
		return ms[i].Name < ms[j].Name
	})
}
