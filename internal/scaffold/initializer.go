// Package scaffold creates a starter glint.yml and manifests directory.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dyluth/glint/internal/config"
	"github.com/dyluth/glint/internal/manifest"
)

//go:embed templates/*
var templatesFS embed.FS

const (
	ConfigFile   = "glint.yml"
	ManifestsDir = "manifests"
)

// exampleManifest is copied from the built-ins so users have a wave to tune.
const exampleManifest = "vision"

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string // Relative to the project directory
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes the project files into dir and returns their relative
// paths. With force, an existing glint.yml and manifests/ are removed first.
func Initialize(dir string, force bool) ([]string, error) {
	if force {
		if err := handleForce(dir); err != nil {
			return nil, err
		}
	} else if err := CheckExisting(dir); err != nil {
		return nil, err
	}

	files, err := templateFiles()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(dir, ManifestsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", ManifestsDir, err)
	}

	created := make([]string, 0, len(files))
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file.Path), file.Content, file.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		created = append(created, file.Path)
	}

	if err := validateCreatedFiles(dir); err != nil {
		return nil, err
	}
	return created, nil
}

func handleForce(dir string) error {
	for _, name := range []string{ConfigFile, ManifestsDir} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			if err := os.RemoveAll(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", name, err)
			}
		}
	}
	return nil
}

func templateFiles() ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/glint.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read glint.yml template: %w", err)
	}
	example, err := manifest.DefaultFile(exampleManifest)
	if err != nil {
		return nil, err
	}
	return []FileInfo{
		{Path: ConfigFile, Content: cfg, Permissions: 0644},
		{Path: filepath.Join(ManifestsDir, exampleManifest+".yaml"), Content: example, Permissions: 0644},
	}, nil
}

// validateCreatedFiles loads the written config and manifests the way glint
// will, resolving manifests.dir against dir.
func validateCreatedFiles(dir string) error {
	content, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return fmt.Errorf("failed to read created %s: %w", ConfigFile, err)
	}

	var cfg config.GlintConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return fmt.Errorf("created %s is not valid YAML: %w", ConfigFile, err)
	}
	if cfg.Manifests != nil && cfg.Manifests.Dir != "" && !filepath.IsAbs(cfg.Manifests.Dir) {
		cfg.Manifests.Dir = filepath.Join(dir, cfg.Manifests.Dir)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}

	if _, err := manifest.Load(cfg.Manifests.Dir); err != nil {
		return fmt.Errorf("created manifests are invalid: %w", err)
	}
	return nil
}
