// Package slide wraps pyramidal whole-slide images: it exposes the
// resolution levels and associated images of a slide and produces whole,
// region and tiled rasters at arbitrary scales.
//
// Readers for concrete formats live in sub-packages and register
// themselves with Register from init(); import them for their side effect:
//
//	import _ "github.com/pathokit/slideprep/internal/slide/flat"
package slide

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pathokit/slideprep/internal/dataset"
	"github.com/pathokit/slideprep/internal/imageio"
)

// Names of the associated images every converted slide carries.
const (
	AssociatedThumbnail = "thumbnail"
	AssociatedLabel     = "label"
	AssociatedMacro     = "macro"
)

var (
	// ErrInvalidSize is returned for non-positive tile or region sizes.
	ErrInvalidSize = errors.New("invalid size")
	// ErrInvalidScale is returned for non-positive scale factors.
	ErrInvalidScale = errors.New("invalid scale factor")
	// ErrMissingAssociated is returned when an operation needs an associated
	// image the slide does not carry.
	ErrMissingAssociated = errors.New("associated image missing")
)

// Option configures a Slide.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for warnings and progress.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Slide is an opened whole-slide image.
type Slide struct {
	// Path is the dataset item the slide was opened from.
	Path string
	// Name is the base file name without extension.
	Name string

	Dimensions       image.Point
	LevelCount       int
	LevelDimensions  []image.Point
	LevelDownsamples []int

	// Associated images converted to RGB; nil when the slide lacks one.
	Thumbnail *image.RGBA
	Label     *image.RGBA
	Macro     *image.RGBA

	src Source
	log *zap.Logger
}

// Open opens the dataset item below rawDir.
func Open(rawDir, item string, opts ...Option) (*Slide, error) {
	src, err := OpenSource(filepath.Join(rawDir, item))
	if err != nil {
		return nil, err
	}
	s, err := New(item, src, opts...)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened Source.
func New(item string, src Source, opts ...Option) (*Slide, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Slide{
		Path:       item,
		Name:       dataset.Stem(item),
		Dimensions: src.Dimensions(),
		LevelCount: src.LevelCount(),
		src:        src,
		log:        o.logger.With(zap.String("slide", item)),
	}
	if s.LevelCount < 1 {
		return nil, fmt.Errorf("slide %s has no levels", item)
	}
	for level := 0; level < s.LevelCount; level++ {
		s.LevelDimensions = append(s.LevelDimensions, src.LevelDimensions(level))
		s.LevelDownsamples = append(s.LevelDownsamples, int(math.Round(src.LevelDownsample(level))))
	}

	associated, err := src.AssociatedImages()
	if err != nil {
		return nil, fmt.Errorf("read associated images of %s: %w", item, err)
	}
	for name, dst := range map[string]**image.RGBA{
		AssociatedThumbnail: &s.Thumbnail,
		AssociatedLabel:     &s.Label,
		AssociatedMacro:     &s.Macro,
	} {
		img, ok := associated[name]
		if !ok || img == nil {
			s.log.Warn("Associated image missing", zap.String("image", name))
			continue
		}
		*dst = imageio.ToRGB(img)
	}
	return s, nil
}

// Source returns the underlying reader.
func (s *Slide) Source() Source {
	return s.src
}

// Close releases the underlying reader.
func (s *Slide) Close() error {
	return s.src.Close()
}

func describe(img *image.RGBA) string {
	if img == nil {
		return "absent"
	}
	return fmt.Sprintf("RGB %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
}

func (s *Slide) String() string {
	levels := make([]string, s.LevelCount)
	for i := range levels {
		d := s.LevelDimensions[i]
		levels[i] = fmt.Sprintf("Downsample %dX, (%d, %d)", s.LevelDownsamples[i], d.X, d.Y)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]: (%d, %d)\n", s.Path, s.Dimensions.X, s.Dimensions.Y)
	fmt.Fprintf(&b, "\tLevels: %s\n", strings.Join(levels, "\n\t\t"))
	fmt.Fprintf(&b, "\tAssociated thumbnail image: %s\n", describe(s.Thumbnail))
	fmt.Fprintf(&b, "\tAssociated label image: %s\n", describe(s.Label))
	fmt.Fprintf(&b, "\tAssociated macro image: %s", describe(s.Macro))
	return b.String()
}

// LevelFor returns the level whose rounded downsample equals scale, or -1.
func (s *Slide) LevelFor(scale float64) int {
	for i, ds := range s.LevelDownsamples {
		if float64(ds) == scale {
			return i
		}
	}
	return -1
}

// ScaledSize is the level-0 size divided by scale, rounded per axis.
func (s *Slide) ScaledSize(scale float64) image.Point {
	return image.Pt(
		int(math.Round(float64(s.Dimensions.X)/scale)),
		int(math.Round(float64(s.Dimensions.Y)/scale)),
	)
}

// ReadLevel reads a whole level as RGB.
func (s *Slide) ReadLevel(ctx context.Context, level int) (*image.RGBA, error) {
	if level < 0 || level >= s.LevelCount {
		return nil, fmt.Errorf("level %d out of range [0, %d)", level, s.LevelCount)
	}
	d := s.LevelDimensions[level]
	img, err := s.src.ReadRegion(ctx, 0, 0, level, d.X, d.Y)
	if err != nil {
		return nil, fmt.Errorf("read level %d of %s: %w", level, s.Path, err)
	}
	return imageio.ToRGB(img), nil
}

// Image returns the whole slide downscaled by scale. A scale matching a
// level downsample reads that level as is; any other scale reads the best
// level for it and resamples bilinearly to the level-0 size over scale.
func (s *Slide) Image(ctx context.Context, scale float64) (*image.RGBA, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	if level := s.LevelFor(scale); level >= 0 {
		return s.ReadLevel(ctx, level)
	}
	level := s.src.BestLevelForDownsample(scale)
	img, err := s.ReadLevel(ctx, level)
	if err != nil {
		return nil, err
	}
	size := s.ScaledSize(scale)
	return imageio.Resize(img, size.X, size.Y), nil
}

// SaveResult lists what SaveConverted wrote and skipped.
type SaveResult struct {
	Dir     string
	Written []string
	Skipped []string
}

// SaveConverted writes the macro, label and thumbnail images as JPEG and
// the whole slide at scale as <Name>.<format> into dir. Existing files are
// kept unless force is set. An error reading the slide image is returned
// after the associated images have been written.
func (s *Slide) SaveConverted(ctx context.Context, dir string, scale float64, format string, force bool, quality int) (SaveResult, error) {
	res := SaveResult{Dir: dir}
	s.log.Debug("Slide info", zap.String("info", s.String()))
	if _, err := dataset.EnsureDir(dir); err != nil {
		return res, err
	}

	write := func(name string, produce func() (image.Image, error)) error {
		path := filepath.Join(dir, name)
		if !force {
			if _, err := os.Stat(path); err == nil {
				res.Skipped = append(res.Skipped, name)
				return nil
			}
		}
		img, err := produce()
		if err != nil {
			return err
		}
		if err := imageio.Save(img, path, quality); err != nil {
			return err
		}
		res.Written = append(res.Written, name)
		return nil
	}

	for _, assoc := range []struct {
		name string
		img  *image.RGBA
	}{
		{AssociatedMacro, s.Macro},
		{AssociatedLabel, s.Label},
		{AssociatedThumbnail, s.Thumbnail},
	} {
		if assoc.img == nil {
			continue
		}
		img := assoc.img
		if err := write(assoc.name+".jpg", func() (image.Image, error) { return img, nil }); err != nil {
			return res, err
		}
	}

	target := s.Name + "." + imageio.Ext(format)
	if err := write(target, func() (image.Image, error) { return s.Image(ctx, scale) }); err != nil {
		return res, fmt.Errorf("convert %s: %w", s.Path, err)
	}
	s.log.Info("Slide image saved", zap.String("dir", dir), zap.Strings("written", res.Written))
	return res, nil
}
