package commands

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/glint/internal/printer"
	"github.com/dyluth/glint/pkg/blackboard"
)

// resetFlags restores every flag to its default between executions of the
// shared root command.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes the CLI with args and returns stdout and printer stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	printer.SetOutput(&out, &errOut)
	t.Cleanup(func() { printer.SetOutput(os.Stdout, os.Stderr) })

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "version: \"1.0\"\n" +
		"ocr:\n  disabled: true\n" +
		"signatures:\n  backend: badger\n  path: " + filepath.Join(dir, "signatures") + "\n"
	path := filepath.Join(dir, "glint.yml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func writeRedPNG(t *testing.T) string {
	t.Helper()
	rgba := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(rgba.Pix); i += 4 {
		rgba.Pix[i], rgba.Pix[i+3] = 255, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, rgba))
	path := filepath.Join(t.TempDir(), "red.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestRootCommand_ShowsHelpWhenNoSubcommand(t *testing.T) {
	out, _, err := run(t)
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "glint")
	assert.Contains(t, out, "analyze")
}

func TestRootCommand_RejectsUnknownFlags(t *testing.T) {
	_, _, err := run(t, "--unknown-flag", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "abc", "today")
	assert.Equal(t, "1.2.3 (commit: abc, built: today)", rootCmd.Version)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, errOut, err := run(t, "manifests", "list", "--config", filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.Equal(t, "failed to load configuration", err.Error())
	assert.Contains(t, errOut, "nope.yml")
}

func TestAnalyzeThenInspectSignatures(t *testing.T) {
	cfg := writeConfig(t)
	img := writeRedPNG(t)

	out, _, err := run(t, "analyze", "--json", "--config", cfg, img)
	require.NoError(t, err)

	var res struct {
		SignatureKey  string           `json:"signature_key"`
		DominantColor string           `json:"dominant_color"`
		Route         blackboard.Route `json:"route"`
		Completed     []string         `json:"completed"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &res))
	assert.Equal(t, "#ff0000", res.DominantColor)
	assert.Equal(t, blackboard.TierFast, res.Route.Tier)
	assert.Contains(t, res.Completed, "color")
	require.NotEmpty(t, res.SignatureKey)

	out, _, err = run(t, "signature", "list", "--output", "jsonl", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, res.SignatureKey)

	out, _, err = run(t, "signature", "list", "--tier", "quality", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No signatures found")

	out, _, err = run(t, "sig", "get", res.SignatureKey[:10], "--config", cfg)
	require.NoError(t, err)
	var sig blackboard.Signature
	require.NoError(t, json.Unmarshal([]byte(out), &sig))
	assert.Equal(t, res.SignatureKey, sig.Key)
	assert.Equal(t, 1, sig.Support)

	_, errOut, err := run(t, "signature", "get", "ffffffffffff-missing", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, "signature not found", err.Error())
	assert.Contains(t, errOut, "glint signature list")
}

func TestAnalyze_HumanOutput(t *testing.T) {
	out, _, err := run(t, "analyze", "--config", writeConfig(t), writeRedPNG(t))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ red.png")
	assert.Contains(t, out, "fast (")
	assert.Contains(t, out, "#ff0000")
	assert.Contains(t, out, "16x16")
}

func TestAnalyze_MissingImage(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.png")
	_, errOut, err := run(t, "analyze", "--config", writeConfig(t), missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 images failed")
	assert.Contains(t, errOut, "analysis failed")
}

func TestSignatureList_InvalidFlags(t *testing.T) {
	cfg := writeConfig(t)

	_, _, err := run(t, "signature", "list", "--output", "xml", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, "invalid output format", err.Error())

	_, _, err = run(t, "signature", "list", "--since", "10m", "--until", "2h", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, "invalid time range", err.Error())

	_, _, err = run(t, "signature", "list", "--tier", "turbo", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, "invalid tier", err.Error())
}

func TestManifestsList(t *testing.T) {
	out, _, err := run(t, "manifests", "list", "--config", writeConfig(t))
	require.NoError(t, err)
	for _, name := range []string{"identity", "color", "content", "route", "ocr", "vision"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "NAME")
}

func TestManifestsValidate(t *testing.T) {
	t.Run("valid directory with unimplemented wave", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "watermark.yaml"), []byte(`name: watermark
priority: 70
taxonomy:
  kind: sensor
  determinism: deterministic
  persistence: ephemeral
emits:
  signals: [watermark]
`), 0o644))

		out, errOut, err := run(t, "manifests", "validate", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "7 manifests valid")
		assert.Contains(t, errOut, "watermark")
	})

	t.Run("invalid manifest", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\ntaxonomy:\n  kind: wizard\n"), 0o644))

		_, errOut, err := run(t, "manifests", "validate", dir)
		require.Error(t, err)
		assert.Equal(t, "invalid manifests", err.Error())
		assert.Contains(t, errOut, "bad.yaml")
	})
}

func TestInit(t *testing.T) {
	dir := t.TempDir()

	out, _, err := run(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized Glint project")
	assert.Contains(t, out, "glint.yml")
	assert.FileExists(t, filepath.Join(dir, "glint.yml"))
	assert.FileExists(t, filepath.Join(dir, "manifests", "vision.yaml"))

	_, errOut, err := run(t, "init", dir)
	require.Error(t, err)
	assert.Equal(t, "project already initialized", err.Error())
	assert.Contains(t, errOut, "--force")

	_, _, err = run(t, "init", "--force", dir)
	require.NoError(t, err)
}
