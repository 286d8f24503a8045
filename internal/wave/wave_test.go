package wave

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dyluth/glint/internal/imaging"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/pkg/blackboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoWave struct{ Base }

func (w echoWave) Analyze(ctx context.Context, img *imaging.Image, snap *blackboard.Snapshot) ([]blackboard.Signal, error) {
	return []blackboard.Signal{w.Signal(w.Name()+".ran", blackboard.Bool(true), 1)}, nil
}

func testManifest(name string, priority int) manifest.Manifest {
	return manifest.Manifest{
		Name:     name,
		Priority: priority,
		Tags:     []string{"test"},
		Taxonomy: manifest.Taxonomy{
			Kind:        manifest.KindSensor,
			Determinism: manifest.Deterministic,
			Persistence: manifest.PersistenceEphemeral,
		},
		Defaults: manifest.Params{"threshold": 0.5},
	}
}

func TestCritical(t *testing.T) {
	cause := errors.New("contradiction")
	err := Critical(cause)

	assert.True(t, IsCritical(err))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsCritical(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsCritical(cause))
	assert.Nil(t, Critical(nil))
}

func TestBase(t *testing.T) {
	b := Base{Manifest: testManifest("echo", 7)}

	assert.Equal(t, "echo", b.Name())
	assert.Equal(t, 7, b.Priority())
	assert.Equal(t, []string{"test"}, b.Tags())
	assert.True(t, b.ShouldRun(nil, nil))
	assert.Equal(t, 0.5, b.Params().Float("threshold", 0))

	s := b.Signal("echo.value", blackboard.Number(1), 0.9, blackboard.TagConfidence)
	assert.Equal(t, "echo", s.Source)
	assert.True(t, s.HasTag(blackboard.TagConfidence))
}

func TestRegistry_Build(t *testing.T) {
	r := NewRegistry()
	factory := func(m manifest.Manifest) (Wave, error) { return echoWave{Base{Manifest: m}}, nil }
	require.NoError(t, r.Register("echo", factory))
	assert.Error(t, r.Register("echo", factory))
	r.MustRegister("broken", func(m manifest.Manifest) (Wave, error) { return nil, errors.New("nope") })
	assert.Equal(t, []string{"broken", "echo"}, r.Names())

	set, err := manifest.NewSet(testManifest("echo", 1), testManifest("orphan", 2))
	require.NoError(t, err)

	waves, missing, err := r.Build(set)
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan"}, missing)
	require.Contains(t, waves, "echo")

	signals, err := waves["echo"].Analyze(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "echo.ran", signals[0].Key)

	brokenSet, err := manifest.NewSet(testManifest("broken", 1))
	require.NoError(t, err)
	_, _, err = r.Build(brokenSet)
	assert.ErrorContains(t, err, "broken")
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("a", func(m manifest.Manifest) (Wave, error) { return nil, nil })
	assert.Panics(t, func() {
		r.MustRegister("a", func(m manifest.Manifest) (Wave, error) { return nil, nil })
	})
}
