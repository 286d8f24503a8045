package manifest

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaultFS embed.FS

// Parse decodes manifests from YAML. A document may hold one manifest or a
// list of manifests; multiple documents separated by "---" are allowed.
func Parse(data []byte) ([]Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var out []Manifest
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
		}
		if len(node.Content) == 0 {
			continue
		}
		doc := node.Content[0]
		switch doc.Kind {
		case yaml.SequenceNode:
			var list []Manifest
			if err := doc.Decode(&list); err != nil {
				return nil, fmt.Errorf("failed to decode manifest list: %w", err)
			}
			out = append(out, list...)
		case yaml.MappingNode:
			var m Manifest
			if err := doc.Decode(&m); err != nil {
				return nil, fmt.Errorf("failed to decode manifest: %w", err)
			}
			out = append(out, m)
		default:
			return nil, fmt.Errorf("manifest document must be a mapping or a list (line %d)", doc.Line)
		}
	}
	return out, nil
}

// LoadFile reads and parses one manifest file.
func LoadFile(path string) ([]Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	ms, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return ms, nil
}

// LoadDir parses every *.yaml / *.yml file in dir (non-recursive), in name order.
func LoadDir(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isManifestFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []Manifest
	for _, name := range names {
		ms, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	return out, nil
}

// Defaults returns the built-in manifests shipped with the binary.
func Defaults() (*Set, error) {
	var all []Manifest
	err := fs.WalkDir(defaultFS, "defaults", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := defaultFS.ReadFile(path)
		if err != nil {
			return err
		}
		ms, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		all = append(all, ms...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load built-in manifests: %w", err)
	}
	return NewSet(all...)
}

// DefaultFile returns the raw YAML of a built-in manifest, e.g. "vision".
func DefaultFile(name string) ([]byte, error) {
	data, err := defaultFS.ReadFile("defaults/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no built-in manifest named %q", name)
	}
	return data, nil
}

// Load returns the built-in manifests with any manifests found in dir
// replacing or extending them. An empty dir yields just the built-ins.
func Load(dir string) (*Set, error) {
	set, err := Defaults()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return set, nil
	}
	custom, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return set.Replace(custom...)
}

func isManifestFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
