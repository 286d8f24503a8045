// Package tesseract backs the OCR pipeline with Tesseract through gosseract.
// It provides both a full-frame Recognizer and a line-level Detector.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/dyluth/glint/internal/ocr"
)

// Config selects languages and the tessdata directory.
type Config struct {
	Languages      []string
	TessdataPrefix string
}

// Engine runs Tesseract. A fresh client is created per call; gosseract
// clients are not safe for concurrent use.
type Engine struct {
	cfg           Config
	clientFactory func() *gosseract.Client
}

// New constructs an engine.
func New(cfg Config) *Engine {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	return &Engine{cfg: cfg, clientFactory: gosseract.NewClient}
}

func (e *Engine) client(img *image.Gray) (*gosseract.Client, error) {
	data, err := encode(img)
	if err != nil {
		return nil, err
	}
	c := e.clientFactory()
	if e.cfg.TessdataPrefix != "" {
		c.SetTessdataPrefix(e.cfg.TessdataPrefix)
	}
	if err := c.SetLanguage(e.cfg.Languages...); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: set languages: %v", ocr.ErrModelUnavailable, err)
	}
	if err := c.SetImageFromBytes(data); err != nil {
		c.Close()
		return nil, fmt.Errorf("set image: %w", err)
	}
	return c, nil
}

// Recognize reads all text in img. Confidence is the mean word confidence.
func (e *Engine) Recognize(ctx context.Context, img *image.Gray) (ocr.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Recognition{}, err
	}
	c, err := e.client(img)
	if err != nil {
		return ocr.Recognition{}, err
	}
	defer c.Close()

	text, err := c.Text()
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("%w: recognize text: %v", ocr.ErrModelUnavailable, err)
	}
	return ocr.Recognition{
		Text:       strings.TrimSpace(text),
		Confidence: meanConfidence(c),
	}, nil
}

// Detect returns the text lines Tesseract's layout analysis finds.
func (e *Engine) Detect(ctx context.Context, img *image.Gray) ([]ocr.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := e.client(img)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("%w: layout analysis: %v", ocr.ErrModelUnavailable, err)
	}
	regions := make([]ocr.Region, 0, len(boxes))
	for _, b := range boxes {
		if b.Box.Empty() {
			continue
		}
		regions = append(regions, ocr.Region{
			Bounds:     b.Box,
			Confidence: b.Confidence / 100.0,
		})
	}
	return regions, nil
}

func meanConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}

func encode(img *image.Gray) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}
