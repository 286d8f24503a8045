package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/glint/internal/bootstrap"
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/printer"
	"github.com/dyluth/glint/internal/wave/builtin"
)

var manifestsCmd = &cobra.Command{
	Use:   "manifests",
	Short: "Inspect and validate wave manifests",
}

var manifestsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the manifests in effect",
	Long: `List the built-in manifests merged with manifests.dir and the parameter
overrides from glint.yml, in scheduling order.`,
	Args: cobra.NoArgs,
	RunE: runManifestsList,
}

var manifestsValidateCmd = &cobra.Command{
	Use:   "validate DIR",
	Short: "Validate a directory of manifest files",
	Long: `Parse and validate every *.yaml / *.yml manifest in DIR against the
built-in set. Manifests with no wave implementation are reported; they
would never run.`,
	Args: cobra.ExactArgs(1),
	RunE: runManifestsValidate,
}

func init() {
	manifestsCmd.AddCommand(manifestsListCmd)
	manifestsCmd.AddCommand(manifestsValidateCmd)
	rootCmd.AddCommand(manifestsCmd)
}

func runManifestsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	set, err := bootstrap.Loader(cfg.Manifests)()
	if err != nil {
		return printer.Error("failed to load manifests", err.Error(), nil)
	}
	_, missing, err := builtin.NewRegistry(builtin.Deps{}).Build(set)
	if err != nil {
		return printer.Error("failed to build waves", err.Error(), nil)
	}
	writeManifestTable(cmd.OutOrStdout(), set, missing)
	return nil
}

func runManifestsValidate(cmd *cobra.Command, args []string) error {
	set, err := manifest.Load(args[0])
	if err != nil {
		return printer.ErrorWithContext("invalid manifests", err.Error(),
			map[string]string{"Directory": args[0]}, nil)
	}
	_, missing, err := builtin.NewRegistry(builtin.Deps{}).Build(set)
	if err != nil {
		return printer.Error("invalid manifests", err.Error(), nil)
	}
	for _, name := range missing {
		printer.Warning("manifest '%s' has no wave implementation and will not run\n", name)
	}
	printer.Success("%d manifests valid\n", set.Len())
	return nil
}

func writeManifestTable(w io.Writer, set *manifest.Set, missing []string) {
	unimplemented := make(map[string]bool, len(missing))
	for _, name := range missing {
		unimplemented[name] = true
	}

	fmt.Fprintf(w, "%-16s %-4s %-11s %-10s %-8s %-8s %s\n", "NAME", "PRI", "KIND", "LANE", "BUDGET", "STATE", "LISTENS")
	for _, m := range set.All() {
		state := "enabled"
		switch {
		case !m.IsEnabled():
			state = "disabled"
		case unimplemented[m.Name]:
			state = "no-impl"
		}
		budget := "-"
		if d := m.Budget.MaxDuration.Std(); d > 0 {
			budget = d.String()
		}
		listens := "-"
		if len(m.Listens.Required) > 0 {
			listens = strings.Join(m.Listens.Required, ",")
		}
		fmt.Fprintf(w, "%-16s %-4d %-11s %-10s %-8s %-8s %s\n",
			m.Name, m.Priority, m.Taxonomy.Kind, m.LaneName(), budget, state, listens)
	}
}
