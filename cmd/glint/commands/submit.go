package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dyluth/glint/internal/bootstrap"
	"github.com/dyluth/glint/internal/printer"
	"github.com/dyluth/glint/internal/watch"
	"github.com/dyluth/glint/pkg/blackboard"
)

var (
	submitCaption bool
	submitNoWait  bool
	submitTimeout time.Duration
	submitOutput  string
)

var submitCmd = &cobra.Command{
	Use:   "submit IMAGE",
	Short: "Send an image to a glintd daemon",
	Long: `Publish an analysis request on the instance's request channel and wait
for the daemon's answer.

The path is sent as an absolute path; the daemon must be able to read it.

Examples:
  # Analyze through the daemon
  glint submit /data/scan.png

  # Fire and forget
  glint submit --no-wait /data/scan.png`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitCaption, "caption", false, "Request a vision caption")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "Return once the request is published")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 2*time.Minute, "How long to wait for the result")
	submitCmd.Flags().StringVarP(&submitOutput, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	formatter, err := watch.NewFormatter(watch.OutputFormat(submitOutput), cmd.OutOrStdout())
	if err != nil {
		return printer.Error("invalid output format", err.Error(), []string{"Valid formats: default, json"})
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	client, err := bootstrap.Connect(cfg)
	if err != nil {
		return printer.ErrorWithContext(
			"cannot reach the blackboard",
			err.Error(),
			map[string]string{"Redis": cfg.Redis.URL, "Instance": cfg.Instance},
			[]string{"Start Redis and glintd, or set redis.url in glint.yml"},
		)
	}
	defer client.Close()

	req := &blackboard.AnalysisRequest{
		ID:          uuid.New().String(),
		ImagePath:   path,
		Caption:     submitCaption,
		CreatedAtMs: time.Now().UnixMilli(),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if submitNoWait {
		if err := client.PublishRequest(ctx, req); err != nil {
			return fmt.Errorf("failed to publish request: %w", err)
		}
		printer.Success("Submitted %s (request %s)\n", path, req.ID)
		return nil
	}

	event, err := watch.Submit(ctx, client, req, submitTimeout)
	if err != nil {
		return printer.ErrorWithContext("no analysis result", err.Error(),
			map[string]string{"Request": req.ID, "Image": path},
			[]string{"Check that glintd is running for this instance"})
	}
	if err := formatter.FormatEvent(event); err != nil {
		return err
	}
	if event.Status != blackboard.AnalysisStatusDone {
		return fmt.Errorf("analysis %s: %s", event.Status, event.Error)
	}
	return nil
}
