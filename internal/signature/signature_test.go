package signature

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/dyluth/glint/pkg/blackboard"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(key string, confidence float64) *blackboard.Signature {
	return &blackboard.Signature{
		Key:               key,
		Confidence:        confidence,
		Caption:           "a cat",
		DominantColor:     "#ff0000",
		ContributingWaves: []string{"identity", "color"},
		Signals: map[string][]blackboard.Signal{
			"color.dominant": {blackboard.NewSignal("color.dominant", blackboard.String("#ff0000"), 0.7, "color", blackboard.TagDominantColor)},
		},
		IsComplete:   true,
		ProcessingMs: 120,
		Width:        64,
		Height:       32,
		Support:      1,
		Route:        &blackboard.Route{Tier: blackboard.TierQuality, Reason: "large_with_text", Skip: []string{}},
	}
}

func storeContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))

	sig := sample("abc", 0.8)
	require.NoError(t, store.Set(ctx, sig))

	got, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, sig.Caption, got.Caption)
	assert.Equal(t, sig.Confidence, got.Confidence)
	assert.Equal(t, sig.ContributingWaves, got.ContributingWaves)
	assert.Equal(t, blackboard.TierQuality, got.Route.Tier)
	assert.Len(t, got.Signals["color.dominant"], 1)

	replacement := sample("abc", 0.9)
	replacement.Caption = "a dog"
	require.NoError(t, store.Set(ctx, replacement))
	got, err = store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "a dog", got.Caption)

	assert.Error(t, store.Set(ctx, &blackboard.Signature{}))

	lister, ok := store.(Lister)
	require.True(t, ok)
	keys, err := lister.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, keys)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	storeContract(t, store)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_IsolatesCallers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	sig := sample("k", 0.5)
	require.NoError(t, store.Set(ctx, sig))

	sig.Caption = "mutated after set"
	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "a cat", got.Caption)

	got.ContributingWaves[0] = "mutated after get"
	again, _ := store.Get(ctx, "k")
	assert.Equal(t, "identity", again.ContributingWaves[0])
}

func TestBadgerStore(t *testing.T) {
	store, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer store.Close()

	storeContract(t, store)
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), sample("persisted", 0.6)))
	require.NoError(t, store.Close())

	reopened, err := OpenBadger(DefaultBadgerConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, 0.6, got.Confidence)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	defer client.Close()

	storeContract(t, NewRedisStore(client))
}

func TestMerge_NilExisting(t *testing.T) {
	obs := sample("k", 0.7)
	obs.Support = 0
	obs.ContributingWaves = []string{"ocr", "identity", "ocr"}

	merged := Merge(nil, obs, 1000)
	assert.Equal(t, 1, merged.Support)
	assert.Equal(t, int64(1000), merged.UpdatedAtMs)
	assert.Equal(t, []string{"identity", "ocr"}, merged.ContributingWaves)
}

func TestMerge_Monotonicity(t *testing.T) {
	tests := []struct {
		name     string
		existing float64
		obs      float64
		want     float64
	}{
		{"higher observation raises", 0.5, 0.9, 0.9},
		{"lower observation keeps", 0.9, 0.2, 0.9},
		{"equal stays", 0.6, 0.6, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := sample("k", tt.existing)
			existing.Support = 4
			obs := sample("k", tt.obs)

			merged := Merge(existing, obs, 1)
			assert.Equal(t, tt.want, merged.Confidence)
			assert.GreaterOrEqual(t, merged.Confidence, existing.Confidence)
			assert.Equal(t, 5, merged.Support)
			assert.Equal(t, 4, existing.Support)
		})
	}
}

func TestMerge_Fields(t *testing.T) {
	existing := sample("k", 0.8)
	existing.Caption = ""
	existing.IsComplete = false
	existing.Route = &blackboard.Route{Tier: blackboard.TierFast, Reason: "small_simple"}

	obs := sample("k", 0.3)
	obs.Caption = "late caption"
	obs.OCRText = "HELLO"
	obs.DominantColor = "#00ff00"
	obs.ContributingWaves = []string{"ocr"}
	obs.ProcessingMs = 999
	obs.Signals = map[string][]blackboard.Signal{
		"color.dominant": {blackboard.NewSignal("color.dominant", blackboard.String("#00ff00"), 0.3, "color")},
		"ocr.text":       {blackboard.NewSignal("ocr.text", blackboard.String("HELLO"), 0.3, "ocr")},
	}

	merged := Merge(existing, obs, 2)

	assert.Equal(t, "late caption", merged.Caption, "gaps are filled")
	assert.Equal(t, "HELLO", merged.OCRText)
	assert.Equal(t, "#ff0000", merged.DominantColor, "weaker observation does not overwrite")
	assert.Equal(t, []string{"color", "identity", "ocr"}, merged.ContributingWaves)
	assert.True(t, merged.IsComplete)
	assert.Equal(t, int64(120), merged.ProcessingMs)
	assert.Equal(t, "#ff0000", merged.Signals["color.dominant"][0].Value.Str)
	assert.Contains(t, merged.Signals, "ocr.text")
	assert.Equal(t, blackboard.TierQuality, merged.Route.Tier, "incomplete entry takes the newer route")

	// A complete entry keeps its route.
	complete := sample("k", 0.9)
	complete.Route = &blackboard.Route{Tier: blackboard.TierBalanced, Reason: "default"}
	merged = Merge(complete, obs, 3)
	assert.Equal(t, blackboard.TierBalanced, merged.Route.Tier)
}
