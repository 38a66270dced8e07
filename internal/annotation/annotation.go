// Package annotation parses ASAP XML annotations of a slide and renders them
// as label masks and as outlines drawn over slide images.
package annotation

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gg"
	"go.uber.org/zap"

	"github.com/pathokit/slideprep/internal/dataset"
	"github.com/pathokit/slideprep/internal/imageio"
	"github.com/pathokit/slideprep/internal/slide"
)

// ThumbnailScale selects the slide's associated thumbnail instead of a
// rendered scale.
const ThumbnailScale = -1

// ErrOutOfBounds is returned for tile positions outside the slide or level.
var ErrOutOfBounds = errors.New("position out of bounds")

// Set is the annotations of one slide.
type Set struct {
	// Path is the annotation file.
	Path   string
	Groups []string
	Items  []Annotation

	slide *slide.Slide
	log   *zap.Logger
}

// Load parses the annotation file of item, found below annotationDir with
// the item's extension replaced by .xml, and binds it to s.
func Load(annotationDir, item string, s *slide.Slide, log *zap.Logger) (*Set, error) {
	path := dataset.AnnotationPath(annotationDir, item)
	groups, items, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return NewSet(path, groups, items, s, log), nil
}

// NewSet binds parsed annotations to s.
func NewSet(path string, groups []string, items []Annotation, s *slide.Slide, log *zap.Logger) *Set {
	if log == nil {
		log = zap.NewNop()
	}
	set := &Set{Path: path, Groups: groups, Items: items, slide: s, log: log.With(zap.String("slide", s.Path))}
	set.log.Debug("Annotations loaded", zap.String("file", path), zap.Int("count", len(items)), zap.Strings("groups", groups))
	return set
}

// Slide is the slide the annotations belong to.
func (a *Set) Slide() *slide.Slide {
	return a.slide
}

// AnnotatedImage renders the slide at scale, or its thumbnail for
// ThumbnailScale, with every annotation outlined in Colors[label]: the
// bounding box always, and the closed outline for non-rectangles.
func (a *Set) AnnotatedImage(ctx context.Context, scale float64) (*image.RGBA, error) {
	var base *image.RGBA
	if scale == ThumbnailScale {
		if a.slide.Thumbnail == nil {
			return nil, fmt.Errorf("%s: %w: %s", a.slide.Path, slide.ErrMissingAssociated, slide.AssociatedThumbnail)
		}
		base = a.slide.Thumbnail
	} else {
		img, err := a.slide.Image(ctx, scale)
		if err != nil {
			return nil, err
		}
		base = img
	}
	factor := float64(a.slide.Dimensions.X) / float64(base.Bounds().Dx())
	width := lineWidth(factor)

	dc := gg.NewContextForImage(base)
	defer dc.Close()
	for _, item := range a.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := Colors[item.Label]
		r := rectPixels(item.BBox, factor)
		box := []vertex{
			{float64(r.Min.X) + 0.5, float64(r.Min.Y) + 0.5},
			{float64(r.Max.X) - 0.5, float64(r.Min.Y) + 0.5},
			{float64(r.Max.X) - 0.5, float64(r.Max.Y) - 0.5},
			{float64(r.Min.X) + 0.5, float64(r.Max.Y) - 0.5},
		}
		if err := strokeOutline(dc, box, c, width); err != nil {
			return nil, fmt.Errorf("outline %s: %w", item.Name, err)
		}
		if item.Type != Rectangle {
			if err := strokeOutline(dc, polygonVertices(item.Coordinates, factor), c, width); err != nil {
				return nil, fmt.Errorf("outline %s: %w", item.Name, err)
			}
		}
	}
	return imageio.ToRGB(dc.Image()), nil
}

// Thumbnail is AnnotatedImage of the associated thumbnail.
func (a *Set) Thumbnail(ctx context.Context) (*image.RGBA, error) {
	return a.AnnotatedImage(ctx, ThumbnailScale)
}

// render rasterizes the mask at scale inside window of the scaled mask.
// Polygons and splines are filled with GrayLevels[label], outline pixels
// included; rectangles only with includeBBox. Later annotations overwrite
// earlier ones.
func (a *Set) render(window image.Rectangle, scale float64, includeBBox bool) (*image.Gray, error) {
	mask := image.NewGray(image.Rect(0, 0, window.Dx(), window.Dy()))
	for _, item := range a.Items {
		var (
			vs      []vertex
			outline []image.Point
		)
		switch {
		case item.Type == Spline || item.Type == Polygon:
			vs = polygonVertices(item.Coordinates, scale)
			outline = polygonPixels(item.Coordinates, scale)
		case item.Type == Rectangle && includeBBox:
			vs = rectVertices(rectPixels(item.BBox, scale))
		default:
			continue
		}
		gray := GrayLevels[item.Label]
		if err := fillMask(mask, window, vs, gray); err != nil {
			return nil, fmt.Errorf("fill %s: %w", item.Name, err)
		}
		markOutline(mask, window, outline, gray)
	}
	return mask, nil
}

// Mask is the label mask of the whole slide at scale, sized round(level0 /
// scale) per axis.
func (a *Set) Mask(scale float64, includeBBox bool) (*image.Gray, error) {
	if scale <= 0 {
		return nil, fmt.Errorf("%w: %v", slide.ErrInvalidScale, scale)
	}
	size := a.slide.ScaledSize(scale)
	return a.render(image.Rectangle{Max: size}, scale, includeBBox)
}

// MaskTile is the level-0 mask window at position, clipped to the slide.
// Only the window is rasterized.
func (a *Set) MaskTile(position, size image.Point, includeBBox bool) (*image.Gray, error) {
	dims := a.slide.Dimensions
	if position.X < 0 || position.Y < 0 || position.X >= dims.X || position.Y >= dims.Y {
		return nil, fmt.Errorf("%w: %v outside slide dimensions %v", ErrOutOfBounds, position, dims)
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", slide.ErrInvalidSize, size.X, size.Y)
	}
	window := image.Rectangle{Min: position, Max: position.Add(size)}.Intersect(image.Rectangle{Max: dims})
	return a.render(window, 1, includeBBox)
}

// AnnotatedTile is the window at position, in pixels of level, of the
// annotated image at that level's downsample, clipped to the level.
func (a *Set) AnnotatedTile(ctx context.Context, position, size image.Point, level int) (*image.RGBA, error) {
	if level < 0 || level >= a.slide.LevelCount {
		return nil, fmt.Errorf("level %d out of range [0, %d)", level, a.slide.LevelCount)
	}
	dims := a.slide.LevelDimensions[level]
	if position.X < 0 || position.Y < 0 || position.X >= dims.X || position.Y >= dims.Y {
		return nil, fmt.Errorf("%w: %v outside dimensions %v of level %d", ErrOutOfBounds, position, dims, level)
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", slide.ErrInvalidSize, size.X, size.Y)
	}
	img, err := a.AnnotatedImage(ctx, float64(a.slide.LevelDownsamples[level]))
	if err != nil {
		return nil, err
	}
	tile := imageio.Crop(img, image.Rectangle{Min: position, Max: position.Add(size)})
	if tile == nil {
		return nil, fmt.Errorf("%w: %v outside rendered image %v", ErrOutOfBounds, position, img.Bounds())
	}
	return imageio.ToRGB(tile), nil
}

// Counts is the number of annotations per label.
func (a *Set) Counts() [2]int {
	var n [2]int
	for _, item := range a.Items {
		n[item.Label]++
	}
	return n
}

// Area is the shoelace area, in level-0 pixels, of the annotation's
// outline. Rectangles use their bounding box.
func (an Annotation) Area() float64 {
	if an.Type == Rectangle || len(an.Coordinates) < 3 {
		return (an.BBox.Max.X - an.BBox.Min.X) * (an.BBox.Max.Y - an.BBox.Min.Y)
	}
	var sum float64
	for i, p := range an.Coordinates {
		q := an.Coordinates[(i+1)%len(an.Coordinates)]
		sum += p.X*q.Y - q.X*p.Y
	}
	return math.Abs(sum) / 2
}
