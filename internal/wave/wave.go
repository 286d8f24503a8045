// Package wave defines the analyzer contract run by the orchestrator and the
// startup-time registry that builds waves from their manifests.
package wave

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/pkg/blackboard"
)

// ErrCritical marks a wave failure that may reject the whole run.
var ErrCritical = errors.New("critical wave failure")

// Critical wraps err so errors.Is(err, ErrCritical) holds.
func Critical(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrCritical, err)
}

// IsCritical reports whether err was marked critical.
func IsCritical(err error) bool {
	return errors.Is(err, ErrCritical)
}

// Wave is one analyzer. Implementations must be safe for concurrent use by
// separate runs; per-run state belongs in Analyze's locals.
type Wave interface {
	// Name matches the manifest name.
	Name() string

	// Priority orders ready waves within a lane (lower first).
	Priority() int

	// Tags group waves for observability.
	Tags() []string

	// ShouldRun is a cheap, side-effect-free pre-filter. It may be called
	// before the wave's dependencies have produced anything.
	ShouldRun(img *imaging.Image, snap *blackboard.Snapshot) bool

	// Analyze produces signals. It must honour ctx cancellation, which also
	// carries the manifest's wall-clock budget.
	Analyze(ctx context.Context, img *imaging.Image, snap *blackboard.Snapshot) ([]blackboard.Signal, error)
}

// Base carries the manifest-derived identity shared by built-in waves.
type Base struct {
	Manifest manifest.Manifest
}

// Name returns the manifest name.
func (b Base) Name() string { return b.Manifest.Name }

// Priority returns the manifest priority.
func (b Base) Priority() int { return b.Manifest.Priority }

// Tags returns the manifest tags.
func (b Base) Tags() []string { return append([]string(nil), b.Manifest.Tags...) }

// ShouldRun accepts everything; waves override it for cheap pre-filters.
func (b Base) ShouldRun(*imaging.Image, *blackboard.Snapshot) bool { return true }

// Params returns the manifest parameter bag.
func (b Base) Params() manifest.Params { return b.Manifest.Defaults }

// Signal builds a signal sourced from this wave.
func (b Base) Signal(key string, value blackboard.Value, confidence float64, tags ...string) blackboard.Signal {
	return blackboard.NewSignal(key, value, confidence, b.Manifest.Name, tags...)
}

// Factory builds a wave from its (override-merged) manifest.
type Factory func(m manifest.Manifest) (Wave, error)

// Registry maps manifest names to factories. Registration happens at
// startup; Build is called per manifest set.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering a name twice is an error.
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("wave %q already registered", name)
	}
	r.factories[name] = f
	return nil
}

// MustRegister is Register that panics, for init-time wiring.
func (r *Registry) MustRegister(name string, f Factory) {
	if err := r.Register(name, f); err != nil {
		panic(err)
	}
}

// Names lists registered wave names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build instantiates a wave for every manifest in set that has a factory.
// Manifests without a factory are returned in missing so callers can report
// them; they never run.
func (r *Registry) Build(set *manifest.Set) (waves map[string]Wave, missing []string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	waves = make(map[string]Wave, set.Len())
	for _, m := range set.All() {
		f, ok := r.factories[m.Name]
		if !ok {
			missing = append(missing, m.Name)
			continue
		}
		w, err := f(m)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build wave %q: %w", m.Name, err)
		}
		waves[m.Name] = w
	}
	return waves, missing, nil
}
