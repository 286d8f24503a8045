package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/glint/internal/printer"
	"github.com/dyluth/glint/internal/scaffold"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Initialize a new Glint project",
	Long: `Initialize a Glint project in DIR (default: the current directory).

Creates:
  • glint.yml   - Project configuration (badger signature cache, manifest overrides)
  • manifests/  - Wave manifests replacing the built-ins, starting with vision.yaml

Use --force to reinitialize an existing project (WARNING: destroys existing configuration).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing glint.yml and manifests/)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	created, err := scaffold.Initialize(dir, forceInit)
	if err != nil {
		if strings.HasPrefix(err.Error(), "project already initialized") {
			return printer.Error("project already initialized", strings.TrimPrefix(err.Error(), "project already initialized\n\n"), nil)
		}
		return printer.Error("initialization failed", err.Error(), nil)
	}

	printer.Success("Initialized Glint project\n")
	printer.Println("\nCreated:")
	for _, path := range created {
		printer.Printf("  ✓ %s\n", path)
	}
	printer.Println("\nNext steps:")
	printer.Println("  1. Add '.glint/' to your .gitignore file")
	printer.Println("  2. Tune manifests/vision.yaml or add manifests of your own")
	printer.Println("  3. Run 'glint analyze <image>' or start 'glintd'")
	return nil
}
