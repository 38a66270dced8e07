package slide

import (
	"context"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/pathokit/slideprep/internal/imageio"
)

// DefaultTileSize is the edge length of a single read when stitching.
const DefaultTileSize = 1024

// LargeTileArea is the pixel count above which a single read is logged as
// too large.
const LargeTileArea = 1024 * 1024

// Square is a size of n x n.
func Square(n int) image.Point {
	return image.Pt(n, n)
}

// span is one tile's extent along an axis.
type span struct {
	Offset, Length int
}

// spans cuts total into ceil(total/tile) pieces; all are tile long except
// the last, which takes the remainder.
func spans(total, tile int) []span {
	n := (total + tile - 1) / tile
	out := make([]span, n)
	for i := range out {
		length := tile
		if i == n-1 && total%tile != 0 {
			length = total % tile
		}
		out[i] = span{Offset: i * tile, Length: length}
	}
	return out
}

func checkSize(size image.Point) error {
	if size.X <= 0 || size.Y <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, size.X, size.Y)
	}
	return nil
}

// FullsizeTile reads a level-0 tile.
func (s *Slide) FullsizeTile(ctx context.Context, location, size image.Point) (*image.RGBA, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if size.X*size.Y >= LargeTileArea {
		s.log.Warn("Too large tile required", zap.Int("width", size.X), zap.Int("height", size.Y))
	}
	tile, err := s.src.ReadRegion(ctx, location.X, location.Y, 0, size.X, size.Y)
	if err != nil {
		return nil, fmt.Errorf("read tile at %v of %s: %w", location, s.Path, err)
	}
	return imageio.ToRGB(tile), nil
}

// FullsizeTileByBBox reads the level-0 tile spanning upperLeft to lowerRight.
func (s *Slide) FullsizeTileByBBox(ctx context.Context, upperLeft, lowerRight image.Point) (*image.RGBA, error) {
	return s.FullsizeTile(ctx, upperLeft, lowerRight.Sub(upperLeft))
}

// FullsizeRegionByTile reads a level-0 region as a grid of reads no larger
// than tileSize and stitches them into one raster of exactly size.
func (s *Slide) FullsizeRegionByTile(ctx context.Context, location, size image.Point, tileSize int) (*image.RGBA, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	rows, cols := spans(size.Y, tileSize), spans(size.X, tileSize)
	s.log.Debug("Stitching region",
		zap.Int("columns", len(cols)), zap.Int("rows", len(rows)), zap.Int("tile_size", tileSize))

	dst := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	for _, row := range rows {
		for _, col := range cols {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			at := location.Add(image.Pt(col.Offset, row.Offset))
			tile, err := s.FullsizeTile(ctx, at, image.Pt(col.Length, row.Length))
			if err != nil {
				return nil, err
			}
			r := image.Rect(col.Offset, row.Offset, col.Offset+col.Length, row.Offset+row.Length)
			draw.Draw(dst, r, tile, image.Point{}, draw.Src)
		}
	}
	return dst, nil
}

// ScaledRegionByTile reads a level-0 region in tiles of tileSize level-0
// pixels and stitches it downscaled by scale. Tile edges are rounded in
// output space so neighbouring tiles abut exactly; the result is
// round(size/scale). When scale is a level downsample the tiles are read
// from that level unresampled, otherwise each is read from the best level
// for scale and resampled bilinearly.
func (s *Slide) ScaledRegionByTile(ctx context.Context, location, size image.Point, scale float64, tileSize int) (*image.RGBA, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if scale <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScale, scale)
	}
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	level := s.LevelFor(scale)
	exact := level >= 0
	if !exact {
		level = s.src.BestLevelForDownsample(scale)
	}
	ds := s.src.LevelDownsample(level)
	scaled := func(v int) int { return int(math.Round(float64(v) / scale)) }

	out := image.Pt(scaled(size.X), scaled(size.Y))
	if err := checkSize(out); err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, out.X, out.Y))
	for _, row := range spans(size.Y, tileSize) {
		y0, y1 := scaled(row.Offset), scaled(row.Offset+row.Length)
		if y1 <= y0 {
			continue
		}
		for _, col := range spans(size.X, tileSize) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			x0, x1 := scaled(col.Offset), scaled(col.Offset+col.Length)
			if x1 <= x0 {
				continue
			}
			w, h := x1-x0, y1-y0
			if !exact {
				w = int(math.Ceil(float64(col.Length) / ds))
				h = int(math.Ceil(float64(row.Length) / ds))
			}
			at := location.Add(image.Pt(col.Offset, row.Offset))
			tile, err := s.src.ReadRegion(ctx, at.X, at.Y, level, w, h)
			if err != nil {
				return nil, fmt.Errorf("read tile at %v level %d of %s: %w", at, level, s.Path, err)
			}
			var piece image.Image = imageio.ToRGB(tile)
			if w != x1-x0 || h != y1-y0 {
				piece = imageio.Resize(piece, x1-x0, y1-y0)
			}
			draw.Draw(dst, image.Rect(x0, y0, x1, y1), piece, image.Point{}, draw.Src)
		}
	}
	return dst, nil
}

// FullsizeImageByTile stitches the whole level-0 image.
func (s *Slide) FullsizeImageByTile(ctx context.Context, tileSize int) (*image.RGBA, error) {
	return s.FullsizeRegionByTile(ctx, image.Point{}, s.Dimensions, tileSize)
}

// ScaledImageByTile stitches the whole image downscaled by scale.
func (s *Slide) ScaledImageByTile(ctx context.Context, scale float64, tileSize int) (*image.RGBA, error) {
	return s.ScaledRegionByTile(ctx, image.Point{}, s.Dimensions, scale, tileSize)
}
