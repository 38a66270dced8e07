// Package dzi reads Deep Zoom image pyramids: a .dzi XML descriptor next to
// a <name>_files directory holding one sub-directory per zoom level with
// <column>_<row>.<format> tiles.
//
// Deep Zoom numbers levels from 1x1 upwards; slide level i is Deep Zoom
// level max-i and has downsample 2^i. Only the levels present on disk are
// exposed.
package dzi

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/draw"

	"github.com/pathokit/slideprep/internal/imageio"
	"github.com/pathokit/slideprep/internal/slide"
)

// ThumbnailSide bounds the level used as associated thumbnail.
const ThumbnailSide = 1024

func init() {
	slide.Register(slide.Backend{
		Name:       "dzi",
		Extensions: []string{".dzi"},
		Priority:   50,
		Open:       Open,
	})
}

// Descriptor is the parsed .dzi file.
type Descriptor struct {
	XMLName  xml.Name `xml:"Image"`
	Format   string   `xml:"Format,attr"`
	Overlap  int      `xml:"Overlap,attr"`
	TileSize int      `xml:"TileSize,attr"`
	Size     struct {
		Width  int `xml:"Width,attr"`
		Height int `xml:"Height,attr"`
	} `xml:"Size"`
}

// MaxLevel is the Deep Zoom level holding the full resolution image.
func (d Descriptor) MaxLevel() int {
	return int(math.Ceil(math.Log2(float64(max(d.Size.Width, d.Size.Height)))))
}

// LevelSize is the size of Deep Zoom level dz.
func (d Descriptor) LevelSize(dz int) image.Point {
	scale := math.Exp2(float64(d.MaxLevel() - dz))
	return image.Pt(
		max(1, int(math.Ceil(float64(d.Size.Width)/scale))),
		max(1, int(math.Ceil(float64(d.Size.Height)/scale))),
	)
}

// TilePath is the file of tile col, row on Deep Zoom level dz.
func (d Descriptor) TilePath(filesDir string, dz, col, row int) string {
	return filepath.Join(filesDir, strconv.Itoa(dz), fmt.Sprintf("%d_%d.%s", col, row, d.Format))
}

// ParseDescriptor reads a .dzi file.
func ParseDescriptor(path string) (Descriptor, error) {
	var d Descriptor
	data, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := xml.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", path, err)
	}
	switch {
	case d.Size.Width <= 0 || d.Size.Height <= 0:
		return d, fmt.Errorf("%s: invalid size %dx%d", path, d.Size.Width, d.Size.Height)
	case d.TileSize <= 0:
		return d, fmt.Errorf("%s: invalid tile size %d", path, d.TileSize)
	case d.Overlap < 0:
		return d, fmt.Errorf("%s: invalid overlap %d", path, d.Overlap)
	case d.Format == "":
		return d, fmt.Errorf("%s: missing tile format", path)
	}
	return d, nil
}

// Source reads tiles of one pyramid from disk on demand.
type Source struct {
	desc     Descriptor
	filesDir string
	levels   int

	thumbOnce sync.Once
	thumb     *image.RGBA
	thumbErr  error
}

// Open parses the descriptor at path and checks that the full resolution
// level exists.
func Open(path string) (slide.Source, error) {
	desc, err := ParseDescriptor(path)
	if err != nil {
		return nil, err
	}
	s := &Source{
		desc:     desc,
		filesDir: strings.TrimSuffix(path, filepath.Ext(path)) + "_files",
	}
	for i := 0; i <= desc.MaxLevel(); i++ {
		info, err := os.Stat(filepath.Join(s.filesDir, strconv.Itoa(desc.MaxLevel()-i)))
		if err != nil || !info.IsDir() {
			break
		}
		s.levels++
	}
	if s.levels == 0 {
		return nil, fmt.Errorf("%s: no tiles for level %d in %s", path, desc.MaxLevel(), s.filesDir)
	}
	return s, nil
}

func (s *Source) Dimensions() image.Point {
	return image.Pt(s.desc.Size.Width, s.desc.Size.Height)
}

func (s *Source) LevelCount() int { return s.levels }

func (s *Source) LevelDimensions(level int) image.Point {
	return s.desc.LevelSize(s.desc.MaxLevel() - level)
}

func (s *Source) LevelDownsample(level int) float64 { return math.Exp2(float64(level)) }

func (s *Source) BestLevelForDownsample(ds float64) int {
	downsamples := make([]float64, s.levels)
	for i := range downsamples {
		downsamples[i] = s.LevelDownsample(i)
	}
	return slide.BestLevel(downsamples, ds)
}

// tileRect is the area of tile col, row in level pixels, overlap included.
func (s *Source) tileRect(col, row int, levelSize image.Point) image.Rectangle {
	t, o := s.desc.TileSize, s.desc.Overlap
	r := image.Rect(col*t-o, row*t-o, (col+1)*t+o, (row+1)*t+o)
	return r.Intersect(image.Rectangle{Max: levelSize})
}

func (s *Source) ReadRegion(ctx context.Context, x, y, level, w, h int) (*image.RGBA, error) {
	if level < 0 || level >= s.levels {
		return nil, fmt.Errorf("level %d out of range [0, %d)", level, s.levels)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", slide.ErrInvalidSize, w, h)
	}
	ds := s.LevelDownsample(level)
	at := image.Pt(int(math.Floor(float64(x)/ds)), int(math.Floor(float64(y)/ds)))
	want := image.Rect(at.X, at.Y, at.X+w, at.Y+h)
	levelSize := s.LevelDimensions(level)
	dz := s.desc.MaxLevel() - level

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	visible := want.Intersect(image.Rectangle{Max: levelSize})
	if visible.Empty() {
		return dst, nil
	}
	t := s.desc.TileSize
	for row := visible.Min.Y / t; row <= (visible.Max.Y-1)/t; row++ {
		for col := visible.Min.X / t; col <= (visible.Max.X-1)/t; col++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			tile, err := imageio.Load(s.desc.TilePath(s.filesDir, dz, col, row))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			area := s.tileRect(col, row, levelSize)
			r := area.Intersect(want)
			if r.Empty() {
				continue
			}
			sp := tile.Bounds().Min.Add(r.Min.Sub(area.Min))
			draw.Draw(dst, r.Sub(at), tile, sp, draw.Src)
		}
	}
	return dst, nil
}

// thumbnailLevel is the largest level fitting ThumbnailSide.
func (s *Source) thumbnailLevel() int {
	for level := 0; level < s.levels; level++ {
		d := s.LevelDimensions(level)
		if d.X <= ThumbnailSide && d.Y <= ThumbnailSide {
			return level
		}
	}
	return s.levels - 1
}

func (s *Source) AssociatedImages() (map[string]image.Image, error) {
	s.thumbOnce.Do(func() {
		level := s.thumbnailLevel()
		d := s.LevelDimensions(level)
		s.thumb, s.thumbErr = s.ReadRegion(context.Background(), 0, 0, level, d.X, d.Y)
	})
	if s.thumbErr != nil {
		return nil, fmt.Errorf("read thumbnail: %w", s.thumbErr)
	}
	return map[string]image.Image{slide.AssociatedThumbnail: s.thumb}, nil
}

func (s *Source) Properties() map[string]string {
	return map[string]string{
		"dzi.format":    s.desc.Format,
		"dzi.tile-size": strconv.Itoa(s.desc.TileSize),
		"dzi.overlap":   strconv.Itoa(s.desc.Overlap),
		"dzi.files":     s.filesDir,
	}
}

func (s *Source) Close() error { return nil }
