package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/glint/internal/signature"
	"github.com/dyluth/glint/pkg/blackboard"
)

func sig(key string, tier blackboard.Tier, updatedAtMs int64, waves ...string) *blackboard.Signature {
	return &blackboard.Signature{
		Key:               key,
		Confidence:        0.75,
		Caption:           "a red square",
		ContributingWaves: waves,
		IsComplete:        true,
		Support:           2,
		Route:             &blackboard.Route{Tier: tier, Reason: "default"},
		UpdatedAtMs:       updatedAtMs,
	}
}

func seeded(t *testing.T) *signature.MemoryStore {
	t.Helper()
	store := signature.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, sig("aaaaaa111111", blackboard.TierFast, 3000, "color", "identity")))
	require.NoError(t, store.Set(ctx, sig("aaaaaa222222", blackboard.TierQuality, 1000, "ocr", "vision")))
	require.NoError(t, store.Set(ctx, sig("bbbbbb333333", blackboard.TierBalanced, 2000, "ocr")))
	return store
}

func keysOf(sigs []*blackboard.Signature) []string {
	out := make([]string, len(sigs))
	for i, s := range sigs {
		out[i] = s.Key
	}
	return out
}

func TestCollect(t *testing.T) {
	store := seeded(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		criteria *Criteria
		want     []string
	}{
		{"no criteria, oldest first", nil, []string{"aaaaaa222222", "bbbbbb333333", "aaaaaa111111"}},
		{"since", &Criteria{SinceMs: 2000}, []string{"bbbbbb333333", "aaaaaa111111"}},
		{"until", &Criteria{UntilMs: 1500}, []string{"aaaaaa222222"}},
		{"tier", &Criteria{Tier: blackboard.TierQuality}, []string{"aaaaaa222222"}},
		{"wave glob", &Criteria{WaveGlob: "oc*"}, []string{"aaaaaa222222", "bbbbbb333333"}},
		{"no wave match", &Criteria{WaveGlob: "watermark"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sigs, err := Collect(ctx, store, tt.criteria)
			require.NoError(t, err)
			assert.Equal(t, tt.want, keysOf(sigs))
		})
	}
}

func TestCriteria_CompleteOnly(t *testing.T) {
	partial := sig("partial", blackboard.TierFast, 1)
	partial.IsComplete = false

	c := &Criteria{CompleteOnly: true}
	assert.False(t, c.Matches(partial))
	assert.True(t, c.Matches(sig("full", blackboard.TierFast, 1)))

	noRoute := sig("noroute", blackboard.TierFast, 1)
	noRoute.Route = nil
	assert.False(t, (&Criteria{Tier: blackboard.TierFast}).Matches(noRoute))
}

func TestList(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, signature.NewMemoryStore(), "memory", OutputFormatDefault, nil, &buf))
		assert.Contains(t, buf.String(), "No signatures found in memory")
	})

	t.Run("table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, seeded(t), "memory", OutputFormatDefault, &Criteria{Tier: blackboard.TierFast}, &buf))
		out := buf.String()
		assert.Contains(t, out, "Signatures in memory:")
		assert.Contains(t, out, "aaaaaa111111")
		assert.Contains(t, out, "fast")
		assert.Contains(t, out, "0.75")
		assert.Contains(t, out, "a red square")
		assert.Contains(t, out, "1 signature found")
		assert.NotContains(t, out, "bbbbbb333333")
	})

	t.Run("jsonl", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, List(ctx, seeded(t), "memory", OutputFormatJSONL, nil, &buf))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 3)
		var first blackboard.Signature
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, "aaaaaa222222", first.Key)
	})

	t.Run("unknown format", func(t *testing.T) {
		err := List(ctx, seeded(t), "memory", "xml", nil, &bytes.Buffer{})
		assert.Error(t, err)
	})

	t.Run("redis source", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := blackboard.NewClient(&redis.Options{Addr: mr.Addr()}, "test-instance")
		require.NoError(t, err)
		defer client.Close()

		store := signature.NewRedisStore(client)
		require.NoError(t, store.Set(ctx, sig("cccccc444444", blackboard.TierBalanced, 5, "color")))

		var buf bytes.Buffer
		require.NoError(t, List(ctx, store, "redis", OutputFormatDefault, nil, &buf))
		assert.Contains(t, buf.String(), "cccccc444444")
	})
}

func TestResolve(t *testing.T) {
	store := seeded(t)
	ctx := context.Background()

	full, err := Resolve(ctx, store, "bbbbbb333333")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb333333", full)

	full, err = Resolve(ctx, store, "bbbbbb")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbb333333", full)

	_, err = Resolve(ctx, store, "aaaaaa")
	require.Error(t, err)
	require.True(t, IsAmbiguous(err))
	var amb *AmbiguousError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, []string{"aaaaaa111111", "aaaaaa222222"}, amb.Matches)
	assert.Contains(t, amb.Describe(), "Use a longer prefix")

	_, err = Resolve(ctx, store, "cccccc")
	assert.True(t, IsNotFound(err))

	_, err = Resolve(ctx, store, "bbb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 6 characters")

	_, err = Resolve(ctx, store, "")
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	store := seeded(t)
	var buf bytes.Buffer
	require.NoError(t, Get(context.Background(), store, "bbbbbb33", &buf))

	var decoded blackboard.Signature
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "bbbbbb333333", decoded.Key)
	assert.Equal(t, blackboard.TierBalanced, decoded.Route.Tier)
	assert.Contains(t, buf.String(), "\n  \"key\"")
}

func TestParseRange(t *testing.T) {
	now := time.Date(2025, 10, 29, 14, 0, 0, 0, time.UTC)

	since, until, err := ParseRange("1h", "2025-10-29T13:30:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour).UnixMilli(), since)
	assert.Equal(t, time.Date(2025, 10, 29, 13, 30, 0, 0, time.UTC).UnixMilli(), until)

	since, until, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)

	_, _, err = ParseRange("10m", "2h", now)
	assert.ErrorContains(t, err, "--since must be before --until")

	_, _, err = ParseRange("yesterday", "", now)
	assert.ErrorContains(t, err, "invalid --since")
}

func TestFormatHelpers(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "-", formatAge(0, now))
	assert.Equal(t, "5m ago", formatAge(now.Add(-5*time.Minute).UnixMilli(), now))
	assert.Equal(t, "2d ago", formatAge(now.Add(-49*time.Hour).UnixMilli(), now))

	s := &blackboard.Signature{OCRText: "line one\nline two", ContributingWaves: []string{"ocr"}}
	assert.Equal(t, "line one line two", formatSummary(s))
	assert.Equal(t, "1*", formatWaves(s))
	assert.Equal(t, "-", formatSummary(&blackboard.Signature{}))
	assert.Equal(t, strings.Repeat("x", 37)+"...", formatSummary(&blackboard.Signature{Caption: strings.Repeat("x", 50)}))
	assert.Equal(t, "-", formatTier(nil))
}
