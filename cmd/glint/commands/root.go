package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/glint/internal/config"
	"github.com/dyluth/glint/internal/printer"
)

const defaultConfigPath = "glint.yml"

var (
	version string
	commit  string
	date    string

	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "glint",
	Short: "Glint - image analysis orchestrator",
	Long: `Glint analyzes images by running a set of independent analysis waves
(identity, color, content, OCR, vision captions) that share a signal
blackboard. A router picks a fast, balanced or quality path per image, and
completed analyses are cached by content hash so repeated images replay
instantly.

Run analyses locally with "glint analyze", or hand them to a glintd daemon
with "glint submit" and follow results with "glint watch".`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	// Unknown flags are an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	// Errors are printed by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to glint.yml")
}

// loadConfig reads --config. A missing default glint.yml falls back to the
// built-in defaults; an explicitly named file must exist.
func loadConfig(cmd *cobra.Command) (*config.GlintConfig, error) {
	explicit := cmd.Flags().Changed("config")
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"failed to load configuration",
			err.Error(),
			map[string]string{"Config": configPath},
			[]string{"Check glint.yml, or omit --config to use the defaults"},
		)
	}
	return cfg, nil
}
