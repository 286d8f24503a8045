// Package imaging loads static and animated images once per analysis run and
// provides the classical image-processing primitives shared by waves and the
// OCR pipeline.
package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Image is a decoded image shared, read-only, by every wave of a run.
// Animated images carry one fully composited RGBA frame per animation frame.
type Image struct {
	Path   string        // Source path, empty for in-memory images
	MIME   string        // Sniffed MIME type
	Format string        // Decoder name: png, jpeg, gif, bmp, tiff, webp
	Width  int           // Canvas width
	Height int           // Canvas height
	Frames []*image.RGBA // At least one frame
	Delays []int         // Per-frame delay in 1/100s (animated only)
	Data   []byte        // Original encoded bytes

	hash string
}

// Load reads and decodes the image at path.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	img.Path = path
	return img, nil
}

// Decode decodes an encoded image held in memory.
func Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}

	mime := http.DetectContentType(data)
	if mime == "image/gif" {
		return decodeGIF(data, mime)
	}

	decoded, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unsupported or corrupt image (%s): %w", mime, err)
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/" + format
	}

	frame := ToRGBA(decoded)
	b := frame.Bounds()
	return &Image{
		MIME:   mime,
		Format: format,
		Width:  b.Dx(),
		Height: b.Dy(),
		Frames: []*image.RGBA{frame},
		Data:   data,
	}, nil
}

// decodeGIF composites every GIF frame onto the logical screen so each frame
// is a complete picture, honouring the disposal method of the previous frame.
func decodeGIF(data []byte, mime string) (*Image, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("corrupt gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("gif has no frames")
	}

	width, height := g.Config.Width, g.Config.Height
	if width == 0 || height == 0 {
		b := g.Image[0].Bounds()
		width, height = b.Max.X, b.Max.Y
	}
	bounds := image.Rect(0, 0, width, height)

	canvas := image.NewRGBA(bounds)
	frames := make([]*image.RGBA, 0, len(g.Image))
	for i, paletted := range g.Image {
		var restore *image.RGBA
		if i < len(g.Disposal) && g.Disposal[i] == gif.DisposalPrevious {
			restore = cloneRGBA(canvas)
		}

		draw.Draw(canvas, paletted.Bounds(), paletted, paletted.Bounds().Min, draw.Over)
		frames = append(frames, cloneRGBA(canvas))

		if i < len(g.Disposal) {
			switch g.Disposal[i] {
			case gif.DisposalBackground:
				draw.Draw(canvas, paletted.Bounds(), image.Transparent, image.Point{}, draw.Src)
			case gif.DisposalPrevious:
				canvas = restore
			}
		}
	}

	return &Image{
		MIME:   mime,
		Format: "gif",
		Width:  width,
		Height: height,
		Frames: frames,
		Delays: append([]int(nil), g.Delay...),
		Data:   data,
	}, nil
}

// IsAnimated reports whether the image has more than one frame.
func (img *Image) IsAnimated() bool {
	return len(img.Frames) > 1
}

// FrameCount returns the number of frames.
func (img *Image) FrameCount() int {
	return len(img.Frames)
}

// PixelCount returns width*height of the canvas.
func (img *Image) PixelCount() int {
	return img.Width * img.Height
}

// ContentHash returns the hex SHA-256 of the encoded bytes.
// It is the key under which signatures are cached.
func (img *Image) ContentHash() string {
	if img.hash == "" {
		sum := sha256.Sum256(img.Data)
		img.hash = hex.EncodeToString(sum[:])
	}
	return img.hash
}

// GrayFrames converts every frame to grayscale, downscaling so that the
// longest side is at most maxSide (0 keeps the original size).
func (img *Image) GrayFrames(maxSide int) []*image.Gray {
	out := make([]*image.Gray, len(img.Frames))
	for i, f := range img.Frames {
		g := ToGray(f)
		if maxSide > 0 {
			g = FitGray(g, maxSide)
		}
		out[i] = g
	}
	return out
}

// ToRGBA converts any image to an *image.RGBA anchored at the origin.
func ToRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// ToGray converts any image to an *image.Gray anchored at the origin.
func ToGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.SetGray(x, y, color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return dst
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

// CloneGray returns a copy of g.
func CloneGray(g *image.Gray) *image.Gray {
	dst := image.NewGray(g.Bounds())
	copy(dst.Pix, g.Pix)
	return dst
}
