package annotation

import (
	"image"
	"image/color"
	"math"

	"github.com/gogpu/gg"
)

// coverageThreshold is the minimum anti-aliased coverage (0-255) at which a
// mask pixel counts as inside a shape. Vertices sit on pixel centres, so
// edge pixels are half covered and corner pixels a quarter; both belong to
// the shape.
const coverageThreshold = 32

// Colors used to outline annotations, indexed by label.
var Colors = [2]color.RGBA{
	{R: 178, G: 34, B: 34, A: 255},
	{R: 0, G: 128, B: 0, A: 255},
}

// GrayLevels used to fill masks, indexed by label.
var GrayLevels = [2]uint8{128, 255}

// vertex is a point in output pixel space.
type vertex struct {
	X, Y float64
}

// polygonPixels maps coordinates to output pixels at factor, truncating
// like an integer cast.
func polygonPixels(pts []Point, factor float64) []image.Point {
	out := make([]image.Point, len(pts))
	for i, p := range pts {
		out[i] = image.Pt(int(math.Trunc(p.X/factor)), int(math.Trunc(p.Y/factor)))
	}
	return out
}

// polygonVertices is polygonPixels moved to pixel centres.
func polygonVertices(pts []Point, factor float64) []vertex {
	px := polygonPixels(pts, factor)
	out := make([]vertex, len(px))
	for i, p := range px {
		out[i] = vertex{float64(p.X) + 0.5, float64(p.Y) + 0.5}
	}
	return out
}

// rectPixels is the inclusive pixel rectangle of a bbox at factor, corners
// rounded.
func rectPixels(b BBox, factor float64) image.Rectangle {
	return image.Rect(
		int(math.Round(b.Min.X/factor)), int(math.Round(b.Min.Y/factor)),
		int(math.Round(b.Max.X/factor))+1, int(math.Round(b.Max.Y/factor))+1,
	)
}

func rectVertices(r image.Rectangle) []vertex {
	x0, y0, x1, y1 := float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)
	return []vertex{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}}
}

// extent is the pixel rectangle touched by a filled path through vs.
func extent(vs []vertex) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, v := range vs {
		minX, minY = math.Min(minX, v.X), math.Min(minY, v.Y)
		maxX, maxY = math.Max(maxX, v.X), math.Max(maxY, v.Y)
	}
	return image.Rect(int(math.Floor(minX)), int(math.Floor(minY)), int(math.Ceil(maxX)), int(math.Ceil(maxY)))
}

func tracePath(dc *gg.Context, vs []vertex) {
	dc.MoveTo(vs[0].X, vs[0].Y)
	for _, v := range vs[1:] {
		dc.LineTo(v.X, v.Y)
	}
	dc.ClosePath()
}

// fillMask fills the even-odd interior of vs with gray on mask. mask covers
// window of the output; only the part of the shape inside it is rendered.
func fillMask(mask *image.Gray, window image.Rectangle, vs []vertex, gray uint8) error {
	if len(vs) == 0 {
		return nil
	}
	area := extent(vs).Intersect(window)
	if area.Empty() {
		return nil
	}
	dc := gg.NewContext(area.Dx(), area.Dy())
	defer dc.Close()
	dc.Translate(-float64(area.Min.X), -float64(area.Min.Y))
	dc.SetFillRule(gg.FillRuleEvenOdd)
	dc.SetRGB(1, 1, 1)
	tracePath(dc, vs)
	if err := dc.Fill(); err != nil {
		return err
	}

	cover := dc.Image()
	cb := cover.Bounds()
	for y := 0; y < area.Dy(); y++ {
		for x := 0; x < area.Dx(); x++ {
			_, _, _, a := cover.At(cb.Min.X+x, cb.Min.Y+y).RGBA()
			if a>>8 >= coverageThreshold {
				mask.SetGray(area.Min.X-window.Min.X+x, area.Min.Y-window.Min.Y+y, color.Gray{Y: gray})
			}
		}
	}
	return nil
}

// markOutline sets every pixel on the closed outline through px to gray.
// Shapes that collapse to a point or a line at the mask scale cover no area
// but still keep their outline pixels.
func markOutline(mask *image.Gray, window image.Rectangle, px []image.Point, gray uint8) {
	for i, p := range px {
		markLine(mask, window, p, px[(i+1)%len(px)], gray)
	}
}

// markLine sets the Bresenham line from a to b, both ends included.
func markLine(mask *image.Gray, window image.Rectangle, a, b image.Point, gray uint8) {
	dx, dy := absInt(b.X-a.X), -absInt(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	e := dx + dy
	for {
		if a.In(window) {
			mask.SetGray(a.X-window.Min.X, a.Y-window.Min.Y, color.Gray{Y: gray})
		}
		if a == b {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			a.X += sx
		}
		if e2 <= dx {
			e += dx
			a.Y += sy
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// strokeOutline draws the closed outline through vs on dc.
func strokeOutline(dc *gg.Context, vs []vertex, c color.Color, width float64) error {
	if len(vs) == 0 {
		return nil
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.SetLineJoin(gg.LineJoinRound)
	dc.SetLineCap(gg.LineCapRound)
	tracePath(dc, vs)
	return dc.Stroke()
}

// lineWidth is the outline thickness at factor, never below one pixel.
func lineWidth(factor float64) float64 {
	return math.Max(1, math.Round(100/factor))
}
