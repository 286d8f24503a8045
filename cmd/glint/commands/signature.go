package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/glint/internal/bootstrap"
	"github.com/dyluth/glint/internal/catalog"
	"github.com/dyluth/glint/internal/printer"
	"github.com/dyluth/glint/internal/wave/builtin"
	"github.com/dyluth/glint/pkg/blackboard"
)

var (
	sigOutputFormat string
	sigSince        string
	sigUntil        string
	sigTier         string
	sigWave         string
	sigComplete     bool
)

var signatureCmd = &cobra.Command{
	Use:     "signature",
	Aliases: []string{"sig"},
	Short:   "Inspect the signature cache",
}

var signatureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached signatures with filtering",
	Long: `List cached signatures from the configured store, oldest update first.

Output Formats:
  default - Human-readable table
  jsonl   - Line-delimited JSON, one signature per line

Filters:
  --since / --until - Last update bounds (duration like "2h" or RFC3339)
  --tier            - Routed tier (fast, balanced, quality)
  --wave            - A contributing wave matches this glob ("ocr", "vis*")
  --complete        - Only signatures from untruncated analyses

Examples:
  glint signature list --since=24h --tier=quality
  glint signature list --output=jsonl | jq -r .caption`,
	Args: cobra.NoArgs,
	RunE: runSignatureList,
}

var signatureGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Show one cached signature as JSON",
	Long: `Show a cached signature as pretty-printed JSON.
KEY may be a unique prefix of at least 6 characters.`,
	Args: cobra.ExactArgs(1),
	RunE: runSignatureGet,
}

func init() {
	signatureListCmd.Flags().StringVarP(&sigOutputFormat, "output", "o", "default", "Output format: default or jsonl")
	signatureListCmd.Flags().StringVar(&sigSince, "since", "", "Updated after time (duration or RFC3339)")
	signatureListCmd.Flags().StringVar(&sigUntil, "until", "", "Updated before time (duration or RFC3339)")
	signatureListCmd.Flags().StringVar(&sigTier, "tier", "", "Filter by routed tier")
	signatureListCmd.Flags().StringVar(&sigWave, "wave", "", "Filter by contributing wave (glob pattern)")
	signatureListCmd.Flags().BoolVar(&sigComplete, "complete", false, "Only complete signatures")

	signatureCmd.AddCommand(signatureListCmd)
	signatureCmd.AddCommand(signatureGetCmd)
	rootCmd.AddCommand(signatureCmd)
}

// openCatalog opens the configured signature store without recognizers.
func openCatalog(cmd *cobra.Command) (*bootstrap.Runtime, catalog.Source, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	rt, err := bootstrap.New(cfg, bootstrap.Options{Deps: &builtin.Deps{}})
	if err != nil {
		return nil, nil, printer.Error("failed to open signature store", err.Error(), nil)
	}
	src, ok := rt.Store.(catalog.Source)
	if !ok {
		rt.Close()
		return nil, nil, fmt.Errorf("signature backend %q cannot list keys", cfg.Signatures.Backend)
	}
	return rt, src, nil
}

func runSignatureList(cmd *cobra.Command, args []string) error {
	var format catalog.OutputFormat
	switch sigOutputFormat {
	case "default":
		format = catalog.OutputFormatDefault
	case "jsonl":
		format = catalog.OutputFormatJSONL
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", sigOutputFormat),
			[]string{"Valid formats: default, jsonl"},
		)
	}

	since, until, err := catalog.ParseRange(sigSince, sigUntil, time.Now())
	if err != nil {
		return printer.Error("invalid time range", err.Error(), []string{"Use a duration like 2h or an RFC3339 timestamp"})
	}

	criteria := &catalog.Criteria{
		SinceMs:      since,
		UntilMs:      until,
		WaveGlob:     sigWave,
		CompleteOnly: sigComplete,
	}
	if sigTier != "" {
		tier := blackboard.Tier(sigTier)
		if err := tier.Validate(); err != nil {
			return printer.Error("invalid tier", err.Error(), []string{"Valid tiers: fast, balanced, quality"})
		}
		criteria.Tier = tier
	}

	rt, src, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	return catalog.List(context.Background(), src, rt.Config.Signatures.Backend+" store", format, criteria, cmd.OutOrStdout())
}

func runSignatureGet(cmd *cobra.Command, args []string) error {
	rt, src, err := openCatalog(cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	err = catalog.Get(context.Background(), src, args[0], cmd.OutOrStdout())
	var amb *catalog.AmbiguousError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &amb):
		return printer.Error("ambiguous signature key", amb.Describe(), nil)
	case catalog.IsNotFound(err):
		return printer.Error("signature not found", err.Error(),
			[]string{"List cached signatures:\n  glint signature list"})
	default:
		return printer.Error("failed to read signature", err.Error(), nil)
	}
}
