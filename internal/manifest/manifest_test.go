package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dyluth/glint/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest(name string, priority int) Manifest {
	return Manifest{
		Name:     name,
		Priority: priority,
		Taxonomy: Taxonomy{Kind: KindSensor, Determinism: Deterministic, Persistence: PersistenceEphemeral},
	}
}

func snapshotWith(t *testing.T, signals ...blackboard.Signal) *blackboard.Snapshot {
	t.Helper()
	b := blackboard.NewBoard("test")
	require.NoError(t, b.AddAll(signals))
	return b.Snapshot()
}

func TestParseCondition(t *testing.T) {
	tests := []struct {
		expr  string
		want  Condition
		error bool
	}{
		{"ocr.confidence < 0.5", Condition{Signal: "ocr.confidence", Op: OpLt, Value: 0.5}, false},
		{"content.text_likeliness >= 0.3", Condition{Signal: "content.text_likeliness", Op: OpGte, Value: 0.3}, false},
		{"escalation.vision == true", Condition{Signal: "escalation.vision", Op: OpEq, Value: true}, false},
		{"route.selected != \"fast\"", Condition{Signal: "route.selected", Op: OpNe, Value: "fast"}, false},
		{"identity.format == 'gif'", Condition{Signal: "identity.format", Op: OpEq, Value: "gif"}, false},
		{"vision.caption", Condition{Signal: "vision.caption", Op: OpExists}, false},
		{"vision.caption exists", Condition{Signal: "vision.caption", Op: OpExists}, false},
		{"", Condition{}, true},
		{"a < ", Condition{}, true},
		{"a b c", Condition{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseCondition(tt.expr)
			if tt.error {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCondition_Eval(t *testing.T) {
	snap := snapshotWith(t,
		blackboard.NewSignal("ocr.confidence", blackboard.Number(0.4), 0.4, "ocr"),
		blackboard.NewSignal("identity.format", blackboard.String("gif"), 1, "identity"),
		blackboard.NewSignal("escalation.vision", blackboard.Bool(true), 1, "ocr"),
		blackboard.NewSignal("text_detection.region[0]", blackboard.String("box"), 1, "ocr"),
	)

	tests := []struct {
		expr string
		want bool
	}{
		{"ocr.confidence < 0.5", true},
		{"ocr.confidence >= 0.5", false},
		{"ocr.confidence <= 0.4", true},
		{"ocr.confidence > 0.1", true},
		{"ocr.confidence == 0.4", true},
		{"identity.format == gif", true},
		{"identity.format != gif", false},
		{"identity.format > 1", false},
		{"escalation.vision == true", true},
		{"text_detection.region", true},
		{"missing.key", false},
		{"missing.key < 1", false},
		{"missing.key != 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			c, err := ParseCondition(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Eval(snap))
		})
	}

	assert.True(t, All(nil, snap))
	assert.False(t, Any(nil, snap))
}

func TestParse_SingleListAndMultiDoc(t *testing.T) {
	yamlData := `
name: alpha
priority: 5
taxonomy: {kind: sensor, determinism: deterministic, persistence: ephemeral}
triggers:
  requires:
    - content.text_likeliness >= 0.3
    - signal: identity.format
      op: eq
      value: gif
budget:
  max_duration: 1500ms
defaults:
  threshold: 0.7
  frames: 3
---
- name: beta
  taxonomy: {kind: ranker, determinism: deterministic, persistence: ephemeral}
- name: gamma
  taxonomy: {kind: ranker, determinism: probabilistic, persistence: ephemeral}
  budget:
    max_duration: 250
`
	ms, err := Parse([]byte(yamlData))
	require.NoError(t, err)
	require.Len(t, ms, 3)

	alpha := ms[0]
	assert.Equal(t, "alpha", alpha.Name)
	require.Len(t, alpha.Triggers.Requires, 2)
	assert.Equal(t, OpGte, alpha.Triggers.Requires[0].Op)
	assert.Equal(t, Condition{Signal: "identity.format", Op: OpEq, Value: "gif"}, alpha.Triggers.Requires[1])
	assert.Equal(t, 1500*time.Millisecond, alpha.Budget.MaxDuration.Std())
	assert.Equal(t, 0.7, alpha.Defaults.Float("threshold", 0))
	assert.Equal(t, 3, alpha.Defaults.Int("frames", 0))

	assert.Equal(t, "beta", ms[1].Name)
	assert.Equal(t, 250*time.Millisecond, ms[2].Budget.MaxDuration.Std())
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("just a string"))
	assert.Error(t, err)

	_, err = Parse([]byte("name: x\ntriggers:\n  requires:\n    - 'a <'\n"))
	assert.Error(t, err)
}

func TestManifest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Manifest)
		wantErr string
	}{
		{"valid", func(m *Manifest) {}, ""},
		{"missing name", func(m *Manifest) { m.Name = "" }, "Name"},
		{"bad name", func(m *Manifest) { m.Name = "Bad-Name" }, "wavename"},
		{"bad kind", func(m *Manifest) { m.Taxonomy.Kind = "oracle" }, "Kind"},
		{"bad determinism", func(m *Manifest) { m.Taxonomy.Determinism = "" }, "Determinism"},
		{"negative lane cap", func(m *Manifest) { m.Lane.MaxConcurrency = -1 }, "MaxConcurrency"},
		{"bad condition op", func(m *Manifest) {
			m.Triggers.Requires = []Condition{{Signal: "a", Op: "like"}}
		}, "Op"},
		{"escalation requires escalatable", func(m *Manifest) {
			m.Escalation = []Escalation{{Target: "vision"}}
		}, "escalatable"},
		{"self escalation", func(m *Manifest) {
			m.Taxonomy.Persistence = PersistenceEscalatable
			m.Escalation = []Escalation{{Target: m.Name}}
		}, "itself"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest("alpha", 1)
			tt.mutate(&m)
			err := m.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParams(t *testing.T) {
	p := Params{
		"f":     0.5,
		"i":     3,
		"s":     "x",
		"b":     true,
		"d":     "2s",
		"ms":    150,
		"list":  []any{"a", "b"},
		"empty": "",
		"num":   "1.25",
	}

	assert.Equal(t, 0.5, p.Float("f", 0))
	assert.Equal(t, 3.0, p.Float("i", 0))
	assert.Equal(t, 1.25, p.Float("num", 0))
	assert.Equal(t, 9.0, p.Float("missing", 9))
	assert.Equal(t, 3, p.Int("i", 0))
	assert.Equal(t, "x", p.String("s", ""))
	assert.Equal(t, "3", p.String("i", ""))
	assert.Equal(t, "def", p.String("missing", "def"))
	assert.True(t, p.Bool("b", false))
	assert.Equal(t, 2*time.Second, p.Duration("d", 0))
	assert.Equal(t, 150*time.Millisecond, p.Duration("ms", 0))
	assert.Equal(t, []string{"a", "b"}, p.StringSlice("list", nil))
	assert.Equal(t, []string{}, p.StringSlice("empty", nil))
	assert.Nil(t, p.StringSlice("missing", nil))
}

func TestParams_MergeDoesNotMutate(t *testing.T) {
	base := Params{"a": 1, "b": 2}
	merged := base.Merge(Params{"b": 3, "c": 4})

	assert.Equal(t, Params{"a": 1, "b": 3, "c": 4}, merged)
	assert.Equal(t, Params{"a": 1, "b": 2}, base)
}

func TestSet_OrderingAndLookup(t *testing.T) {
	set, err := NewSet(validManifest("zeta", 1), validManifest("alpha", 1), validManifest("first", 0))
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "alpha", "zeta"}, set.Names())
	assert.Equal(t, 3, set.Len())

	m, ok := set.Get("alpha")
	require.True(t, ok)
	m.Tags = append(m.Tags, "mutated")
	again, _ := set.Get("alpha")
	assert.Empty(t, again.Tags)

	_, ok = set.Get("nope")
	assert.False(t, ok)
}

func TestSet_RejectsDuplicatesAndInvalid(t *testing.T) {
	_, err := NewSet(validManifest("a", 1), validManifest("a", 2))
	assert.ErrorContains(t, err, "duplicate")

	bad := validManifest("b", 1)
	bad.Taxonomy.Kind = ""
	_, err = NewSet(bad)
	assert.Error(t, err)
}

func TestSet_WithOverrides(t *testing.T) {
	m := validManifest("route", 1)
	m.Defaults = Params{"fast_max_pixels": 100, "keep": "yes"}
	set, err := NewSet(m)
	require.NoError(t, err)

	overridden, err := set.WithOverrides(map[string]Params{"route": {"fast_max_pixels": 500}})
	require.NoError(t, err)

	got, _ := overridden.Get("route")
	assert.Equal(t, 500, got.Defaults.Int("fast_max_pixels", 0))
	assert.Equal(t, "yes", got.Defaults.String("keep", ""))

	orig, _ := set.Get("route")
	assert.Equal(t, 100, orig.Defaults.Int("fast_max_pixels", 0))

	_, err = set.WithOverrides(map[string]Params{"unknown": {}})
	assert.Error(t, err)
}

func TestSet_LaneCapsAndProducers(t *testing.T) {
	a := validManifest("a", 1)
	a.Lane = Lane{Name: "ocr", MaxConcurrency: 3}
	a.Emits.Signals = []string{"ocr"}
	a.Taxonomy.Persistence = PersistenceEscalatable
	a.Escalation = []Escalation{{Target: "vision"}}
	b := validManifest("b", 2)
	b.Lane = Lane{Name: "ocr", MaxConcurrency: 1}
	c := validManifest("c", 3)
	c.Emits.OnComplete = []string{"c.done"}

	set, err := NewSet(a, b, c)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"ocr": 1, DefaultLane: 0}, set.LaneCaps())
	assert.Equal(t, []string{"a"}, set.Producers("ocr.confidence"))
	assert.Equal(t, []string{"a"}, set.Producers("escalation.vision"))
	assert.Equal(t, []string{"c"}, set.Producers("c.done"))
	assert.Empty(t, set.Producers("ocrx"))
}

func TestHolder_Swap(t *testing.T) {
	first, err := NewSet(validManifest("a", 1))
	require.NoError(t, err)
	second, err := NewSet(validManifest("b", 1))
	require.NoError(t, err)

	h := NewHolder(first)
	assert.Same(t, first, h.Current())
	assert.Same(t, first, h.Swap(second))
	assert.Same(t, second, h.Current())
}

func TestDefaults(t *testing.T) {
	set, err := Defaults()
	require.NoError(t, err)

	assert.Equal(t, []string{"identity", "content", "route", "color", "ocr", "vision"}, set.Names())

	ocr, ok := set.Get("ocr")
	require.True(t, ok)
	assert.Equal(t, "ocr", ocr.LaneName())
	assert.Equal(t, 60*time.Second, ocr.Budget.MaxDuration.Std())
	require.Len(t, ocr.Escalation, 1)
	assert.Equal(t, "vision", ocr.Escalation[0].Target)

	route, _ := set.Get("route")
	assert.Equal(t, RoutingLane, route.LaneName())
	assert.Equal(t, []string{"ocr", "vision"}, route.Defaults.StringSlice("skip_fast", nil))
}

func TestDefaultFile(t *testing.T) {
	data, err := DefaultFile("vision")
	require.NoError(t, err)
	ms, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, "vision", ms[0].Name)

	_, err = DefaultFile("nope")
	assert.Error(t, err)
}

func TestLoad_DirReplacesDefaults(t *testing.T) {
	dir := t.TempDir()
	custom := `
name: color
priority: 99
enabled: false
taxonomy: {kind: extractor, determinism: deterministic, persistence: ephemeral}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "color.yml"), []byte(custom), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644))

	set, err := Load(dir)
	require.NoError(t, err)

	color, ok := set.Get("color")
	require.True(t, ok)
	assert.False(t, color.IsEnabled())
	assert.Equal(t, "color", set.Names()[set.Len()-1])

	_, err = Load(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.yaml")
	write := func(priority string) {
		doc := "name: extra\npriority: " + priority + "\ntaxonomy: {kind: sensor, determinism: deterministic, persistence: ephemeral}\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	}
	write("1")

	initial, err := Load(dir)
	require.NoError(t, err)
	holder := NewHolder(initial)

	w, err := NewWatcher(dir, holder, func() (*Set, error) { return Load(dir) }, 20*time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	write("77")

	require.Eventually(t, func() bool {
		m, ok := holder.Current().Get("extra")
		return ok && m.Priority == 77
	}, 5*time.Second, 20*time.Millisecond)

	// An invalid file keeps the previous set.
	require.NoError(t, os.WriteFile(path, []byte("name: [broken"), 0644))
	time.Sleep(200 * time.Millisecond)
	m, ok := holder.Current().Get("extra")
	require.True(t, ok)
	assert.Equal(t, 77, m.Priority)
}
