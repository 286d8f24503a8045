package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/glint/pkg/blackboard"
)

// FormatTable writes signatures as a table and returns how many were written.
func FormatTable(w io.Writer, sigs []*blackboard.Signature, source string) int {
	if len(sigs) == 0 {
		fmt.Fprintf(w, "No signatures found in %s\n", source)
		return 0
	}

	fmt.Fprintf(w, "Signatures in %s:\n\n", source)
	fmt.Fprintf(w, "%-12s %-8s %-5s %-4s %-5s %-8s %s\n",
		"KEY", "TIER", "CONF", "SUP", "WAVES", "AGE", "SUMMARY")
	fmt.Fprintf(w, "%-12s %-8s %-5s %-4s %-5s %-8s %s\n",
		"------------", "--------", "-----", "----", "-----", "--------", "----------------------------------------")

	for _, s := range sigs {
		fmt.Fprintf(w, "%-12s %-8s %-5s %-4d %-5s %-8s %s\n",
			formatKey(s.Key),
			formatTier(s.Route),
			fmt.Sprintf("%.2f", s.Confidence),
			s.Support,
			formatWaves(s),
			formatAge(s.UpdatedAtMs, time.Now()),
			formatSummary(s),
		)
	}

	noun := "signature"
	if len(sigs) != 1 {
		noun = "signatures"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(sigs), noun)
	return len(sigs)
}

// FormatJSONL writes one compact JSON object per signature.
func FormatJSONL(w io.Writer, sigs []*blackboard.Signature) error {
	enc := json.NewEncoder(w)
	for _, s := range sigs {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one signature as indented JSON.
func FormatSingleJSON(w io.Writer, sig *blackboard.Signature) error {
	data, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal signature to JSON: %w", err)
	}
	if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}

func formatKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}

func formatTier(route *blackboard.Route) string {
	if route == nil || route.Tier == "" {
		return "-"
	}
	return string(route.Tier)
}

// formatWaves shows the contributing wave count, starred when incomplete.
func formatWaves(s *blackboard.Signature) string {
	n := fmt.Sprintf("%d", len(s.ContributingWaves))
	if !s.IsComplete {
		n += "*"
	}
	return n
}

// formatSummary prefers the caption, then recognized text, then the color.
func formatSummary(s *blackboard.Signature) string {
	text := s.Caption
	if text == "" {
		text = s.OCRText
	}
	if text == "" {
		text = s.DominantColor
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return "-"
	}
	if len(text) > 40 {
		return text[:37] + "..."
	}
	return text
}

func formatAge(updatedAtMs int64, now time.Time) string {
	if updatedAtMs == 0 {
		return "-"
	}
	diff := now.Sub(time.UnixMilli(updatedAtMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
