// Package flat reads single-raster images (PNG, JPEG, TIFF, BMP, WebP) as
// slides. The raster is level 0; smaller levels are synthesized by bilinear
// downsampling by 4 per level while the longer side stays at least
// MinLevelSide pixels.
package flat

import (
	"context"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/pathokit/slideprep/internal/imageio"
	"github.com/pathokit/slideprep/internal/slide"
)

const (
	// LevelStep is the downsample ratio between consecutive levels.
	LevelStep = 4
	// MinLevelSide is the smallest longer side a synthetic level may have.
	MinLevelSide = 512
	// ThumbnailSide bounds the associated thumbnail.
	ThumbnailSide = 1024
)

func init() {
	slide.Register(slide.Backend{
		Name:       "flat",
		Extensions: []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".webp"},
		Priority:   10,
		Open:       Open,
	})
}

// Source is a decoded raster with lazily built lower levels.
type Source struct {
	path        string
	format      string
	downsamples []float64
	levels      []*image.RGBA
	once        []sync.Once
}

// Open decodes the file at path.
func Open(path string) (slide.Source, error) {
	img, err := imageio.Load(path)
	if err != nil {
		return nil, err
	}
	return FromImage(path, img), nil
}

// FromImage wraps an already decoded raster.
func FromImage(path string, img image.Image) *Source {
	base := imageio.ToRGB(img)
	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	longer := max(w, h)

	ds := []float64{1}
	for d := float64(LevelStep); math.Ceil(float64(longer)/d) >= MinLevelSide; d *= LevelStep {
		ds = append(ds, d)
	}
	s := &Source{
		path:        path,
		format:      strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		downsamples: ds,
		levels:      make([]*image.RGBA, len(ds)),
		once:        make([]sync.Once, len(ds)),
	}
	s.levels[0] = base
	s.once[0].Do(func() {})
	return s
}

func (s *Source) Dimensions() image.Point {
	return s.levels[0].Bounds().Size()
}

func (s *Source) LevelCount() int { return len(s.downsamples) }

func (s *Source) LevelDimensions(level int) image.Point {
	d := s.Dimensions()
	ds := s.downsamples[level]
	return image.Pt(int(math.Ceil(float64(d.X)/ds)), int(math.Ceil(float64(d.Y)/ds)))
}

func (s *Source) LevelDownsample(level int) float64 { return s.downsamples[level] }

func (s *Source) BestLevelForDownsample(ds float64) int {
	return slide.BestLevel(s.downsamples, ds)
}

func (s *Source) level(level int) *image.RGBA {
	s.once[level].Do(func() {
		d := s.LevelDimensions(level)
		s.levels[level] = imageio.Resize(s.levels[0], d.X, d.Y)
	})
	return s.levels[level]
}

func (s *Source) ReadRegion(ctx context.Context, x, y, level, w, h int) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if level < 0 || level >= len(s.downsamples) {
		return nil, fmt.Errorf("level %d out of range [0, %d)", level, len(s.downsamples))
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", slide.ErrInvalidSize, w, h)
	}
	ds := s.downsamples[level]
	at := image.Pt(int(math.Floor(float64(x)/ds)), int(math.Floor(float64(y)/ds)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// draw clips to the source bounds, so the outside stays transparent.
	draw.Draw(dst, dst.Bounds(), s.level(level), at, draw.Src)
	return dst, nil
}

func (s *Source) AssociatedImages() (map[string]image.Image, error) {
	return map[string]image.Image{
		slide.AssociatedThumbnail: imaging.Fit(s.levels[0], ThumbnailSide, ThumbnailSide, imaging.Linear),
	}, nil
}

func (s *Source) Properties() map[string]string {
	d := s.Dimensions()
	return map[string]string{
		"flat.path":   s.path,
		"flat.format": s.format,
		"flat.width":  fmt.Sprint(d.X),
		"flat.height": fmt.Sprint(d.Y),
	}
}

func (s *Source) Close() error { return nil }
