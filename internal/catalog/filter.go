package catalog

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dyluth/glint/pkg/blackboard"
)

// Criteria selects signatures for listing.
// All filters are ANDed together; zero values match everything.
type Criteria struct {
	SinceMs      int64           // Unix ms, 0 = no lower bound on UpdatedAtMs
	UntilMs      int64           // Unix ms, 0 = no upper bound on UpdatedAtMs
	Tier         blackboard.Tier // Exact match on the replayed route tier
	WaveGlob     string          // Glob any contributing wave must match
	CompleteOnly bool            // Only signatures from untruncated analyses
}

// Matches reports whether sig passes every active filter.
func (c *Criteria) Matches(sig *blackboard.Signature) bool {
	if c.SinceMs > 0 && sig.UpdatedAtMs < c.SinceMs {
		return false
	}
	if c.UntilMs > 0 && sig.UpdatedAtMs > c.UntilMs {
		return false
	}
	if c.Tier != "" && (sig.Route == nil || sig.Route.Tier != c.Tier) {
		return false
	}
	if c.CompleteOnly && !sig.IsComplete {
		return false
	}
	if c.WaveGlob != "" {
		found := false
		for _, w := range sig.ContributingWaves {
			if ok, err := filepath.Match(c.WaveGlob, w); err == nil && ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ParseTime parses a relative duration ("90m", "2h") measured back from now,
// or an RFC3339 timestamp, into Unix milliseconds.
func ParseTime(value string, now time.Time) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty time specification")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d).UnixMilli(), nil
	}
	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", value)
}

// ParseRange parses --since and --until into UpdatedAtMs bounds.
// Empty flags leave that bound open.
func ParseRange(since, until string, now time.Time) (int64, int64, error) {
	var sinceMs, untilMs int64
	var err error

	if since != "" {
		if sinceMs, err = ParseTime(since, now); err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}
	if until != "" {
		if untilMs, err = ParseTime(until, now); err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}
	if sinceMs > 0 && untilMs > 0 && sinceMs >= untilMs {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}
	return sinceMs, untilMs, nil
}
