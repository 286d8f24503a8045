package scaffold

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/glint/internal/config"
	"github.com/dyluth/glint/internal/manifest"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name    string
		force   bool
		setup   func(t *testing.T, dir string)
		wantErr string
	}{
		{
			name:  "fresh initialization",
			setup: func(t *testing.T, dir string) {},
		},
		{
			name:  "force replaces existing files",
			force: true,
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old content"), 0644))
				require.NoError(t, os.MkdirAll(filepath.Join(dir, ManifestsDir), 0755))
				require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestsDir, "old.yaml"), []byte("old"), 0644))
			},
		},
		{
			name: "existing config without force",
			setup: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("old content"), 0644))
			},
			wantErr: "project already initialized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			tt.setup(t, dir)

			created, err := Initialize(dir, tt.force)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{ConfigFile, filepath.Join(ManifestsDir, "vision.yaml")}, created)

			_, err = os.Stat(filepath.Join(dir, ManifestsDir, "old.yaml"))
			assert.True(t, os.IsNotExist(err))

			ms, err := manifest.LoadDir(filepath.Join(dir, ManifestsDir))
			require.NoError(t, err)
			require.Len(t, ms, 1)
			assert.Equal(t, "vision", ms[0].Name)
		})
	}
}

func TestInitialize_ConfigLoads(t *testing.T) {
	dir := t.TempDir()
	_, err := Initialize(dir, false)
	require.NoError(t, err)

	// manifests.dir is relative, so load from inside the project.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := config.Load(ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, config.BackendBadger, cfg.Signatures.Backend)
	assert.Equal(t, ManifestsDir, cfg.Manifests.Dir)
	assert.Equal(t, 0.95, cfg.Orchestrator.EarlyExit["balanced"])
	assert.Equal(t, 262144, cfg.Manifests.Overrides["route"]["fast_max_pixels"])
}

func TestCheckExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, CheckExisting(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("x"), 0644))
	err := CheckExisting(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Found existing: glint.yml")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ManifestsDir), 0755))
	err = CheckExisting(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "  - glint.yml\n  - manifests/")
	assert.Contains(t, err.Error(), "glint init --force")
}
