package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/glint/internal/bootstrap"
	"github.com/dyluth/glint/internal/printer"
	"github.com/dyluth/glint/internal/watch"
)

var watchOutputFormat string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream analysis results as they complete",
	Long: `Stream every analysis event published on the instance.

Output Formats:
  default - Human-readable output with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Follow the daemon
  glint watch

  # Export events as JSON
  glint watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	formatter, err := watch.NewFormatter(watch.OutputFormat(watchOutputFormat), cmd.OutOrStdout())
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, json"})
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, err := bootstrap.Connect(cfg)
	if err != nil {
		return printer.ErrorWithContext(
			"cannot reach the blackboard",
			err.Error(),
			map[string]string{"Redis": cfg.Redis.URL, "Instance": cfg.Instance},
			[]string{"Start Redis, or set redis.url in glint.yml"},
		)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch.OutputFormat(watchOutputFormat) != watch.OutputFormatJSON {
		printer.Info("Watching instance '%s' (Ctrl+C to stop)\n", cfg.Instance)
	}
	return watch.StreamEvents(ctx, client, formatter)
}
