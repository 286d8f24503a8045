// Package builtin provides the waves glint ships with and registers them
// under their manifest names.
package builtin

import (
	"github.com/dyluth/glint/internal/manifest"
	"github.com/dyluth/glint/internal/ocr"
	"github.com/dyluth/glint/internal/vision"
	"github.com/dyluth/glint/internal/wave"
)

// Built-in wave names, matching the embedded manifests.
const (
	Identity = "identity"
	Content  = "content"
	Route    = "route"
	Color    = "color"
	OCR      = "ocr"
	Vision   = "vision"
)

// Deps are the external backends some waves need. Any may be nil: the OCR
// wave then reports an unavailable recognizer and the vision wave fails.
type Deps struct {
	Recognizer ocr.Recognizer
	Detector   ocr.Detector
	Upscaler   ocr.Upscaler
	Vision     vision.Backend
}

// Register adds every built-in factory to reg.
func Register(reg *wave.Registry, deps Deps) error {
	factories := map[string]wave.Factory{
		Identity: newIdentity,
		Content:  newContent,
		Route:    newRoute,
		Color:    newColor,
		OCR:      func(m manifest.Manifest) (wave.Wave, error) { return newOCR(m, deps) },
		Vision:   func(m manifest.Manifest) (wave.Wave, error) { return newVision(m, deps.Vision) },
	}
	for _, name := range []string{Identity, Content, Route, Color, OCR, Vision} {
		if err := reg.Register(name, factories[name]); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every built-in wave.
func NewRegistry(deps Deps) *wave.Registry {
	reg := wave.NewRegistry()
	if err := Register(reg, deps); err != nil {
		panic(err)
	}
	return reg
}
