package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/glint/internal/bootstrap"
	"github.com/dyluth/glint/internal/orchestrator"
	"github.com/dyluth/glint/internal/printer"
)

var (
	analyzeJSON        bool
	analyzeCaption     bool
	analyzeNoCache     bool
	analyzeNoEarlyExit bool
	analyzeNoLearning  bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze IMAGE [IMAGE...]",
	Short: "Analyze images locally",
	Long: `Analyze one or more images in this process.

The signature store configured in glint.yml is used for cache lookups and
learning; the default in-memory store forgets everything on exit, so use the
badger or redis backend to keep a cache between runs.

Examples:
  # Analyze an image
  glint analyze photo.png

  # Ask for a caption and print JSON for jq
  glint analyze --caption --json scan.png | jq .caption

  # Force a cold run of every eligible wave
  glint analyze --no-cache --no-early-exit scan.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print each result as a JSON line")
	analyzeCmd.Flags().BoolVar(&analyzeCaption, "caption", false, "Request a vision caption")
	analyzeCmd.Flags().BoolVar(&analyzeNoCache, "no-cache", false, "Ignore cached signatures")
	analyzeCmd.Flags().BoolVar(&analyzeNoEarlyExit, "no-early-exit", false, "Run every eligible wave")
	analyzeCmd.Flags().BoolVar(&analyzeNoLearning, "no-learning", false, "Do not update the signature cache")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	rt, err := bootstrap.New(cfg, bootstrap.Options{})
	if err != nil {
		return printer.Error("failed to start analysis engine", err.Error(), nil)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := orchestrator.Options{
		Caption:     analyzeCaption,
		SkipCache:   analyzeNoCache,
		NoEarlyExit: analyzeNoEarlyExit,
		NoLearning:  analyzeNoLearning,
	}

	var failed []string
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, path := range args {
		res, err := rt.Engine.AnalyzePath(ctx, path, opts)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if res != nil {
			if analyzeJSON {
				if err := enc.Encode(res); err != nil {
					return fmt.Errorf("failed to write result: %w", err)
				}
			} else {
				printResult(path, res)
			}
		}
		if err != nil {
			failed = append(failed, path)
			if errors.Is(err, orchestrator.ErrRejected) {
				printer.ErrorWithContext("analysis rejected", err.Error(), map[string]string{"Image": path}, nil)
			} else {
				printer.ErrorWithContext("analysis failed", err.Error(), map[string]string{"Image": path}, nil)
			}
		}
	}

	// The learning queue is only drained here; nothing runs in the background.
	rt.Coordinator.Drain(ctx)

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d images failed", len(failed), len(args))
	}
	return nil
}

func printResult(path string, res *orchestrator.Result) {
	cached := ""
	if res.FromCache {
		cached = " (cached)"
	}
	printer.Success("%s%s\n", filepath.Base(path), cached)
	printer.Field("tier", fmt.Sprintf("%s (%s)", res.Route.Tier, res.Route.Reason))
	printer.Field("confidence", fmt.Sprintf("%.2f", res.Confidence))
	printer.Field("size", fmt.Sprintf("%dx%d", res.Width, res.Height))
	printer.Field("color", res.DominantColor)
	printer.Field("caption", res.Caption)
	if res.OCRText != "" {
		printer.Field("text", fmt.Sprintf("%q", res.OCRText))
	}
	printer.Field("waves", strings.Join(res.Completed, ", "))
	if len(res.Failed) > 0 {
		names := res.FailedWaves()
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = fmt.Sprintf("%s (%s)", name, res.Failed[name])
		}
		printer.Field("failed", strings.Join(parts, "; "))
	}
	if len(res.Skipped) > 0 {
		names := make([]string, 0, len(res.Skipped))
		for name := range res.Skipped {
			names = append(names, name)
		}
		sort.Strings(names)
		printer.Field("skipped", strings.Join(names, ", "))
	}
	if res.Truncated {
		printer.Field("early exit", "yes")
	}
	printer.Field("key", res.SignatureKey)
	printer.Field("elapsed", res.Elapsed.Round(time.Millisecond).String())
}
