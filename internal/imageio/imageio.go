// Package imageio loads, converts, resizes and saves the rasters slideprep
// produces.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder
)

// DefaultJPEGQuality matches what the converted dataset has always used.
const DefaultJPEGQuality = 95

// Load decodes the image at path.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return img, nil
}

// DecodeSize reads only the header of the image at path.
func DecodeSize(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, fmt.Errorf("decode header %s: %w", path, err)
	}
	return cfg.Width, cfg.Height, nil
}

// Save encodes img to path, picking the format from the extension. Parent
// directories are created.
func Save(img image.Image, path string, quality int) error {
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := imaging.Save(img, path, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// IsSupportedOutput reports whether Save can write the extension of path.
func IsSupportedOutput(path string) bool {
	_, err := imaging.FormatFromFilename(path)
	return err == nil
}

// ToRGB returns an opaque copy of img anchored at the origin, with any
// transparency composited onto black.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// Resize scales img to w x h with bilinear interpolation.
func Resize(img image.Image, w, h int) *image.RGBA {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Crop copies the part of img inside rect, clipped to img's bounds, into a
// new image anchored at the origin. An empty intersection yields nil.
func Crop(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil
	}
	return imaging.Crop(img, rect)
}

// Ext normalises an output format name into a file extension.
func Ext(format string) string {
	return strings.ToLower(strings.TrimPrefix(format, "."))
}
