package stats

import (
	"fmt"
	"image/color"
	"math/rand/v2"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/pathokit/slideprep/internal/dataset"
)

// HistogramBins is the bin count of both distribution plots.
const HistogramBins = 64

const (
	plotWidth  = 6.4 * vg.Inch
	plotHeight = 4.8 * vg.Inch
)

// PlotNames are the files Plot writes, in order.
func (s *Summary) PlotNames() []string {
	return []string{
		s.Tag + "-image-sizes.jpg",
		s.Tag + "-distribution-of-image-shapes.jpg",
		s.Tag + "-distribution-of-image-file-sizes.jpg",
	}
}

// Plot writes a width/height scatter and histograms of megapixels and file
// size into dir and returns their paths.
func (s *Summary) Plot(dir string) ([]string, error) {
	if len(s.Records) == 0 {
		return nil, dataset.ErrNoItems
	}
	if _, err := dataset.EnsureDir(dir); err != nil {
		return nil, err
	}
	names := s.PlotNames()
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}

	if err := s.scatter(paths[0]); err != nil {
		return nil, err
	}
	megapixels := s.Shapes()
	for i := range megapixels {
		megapixels[i] /= 1e6
	}
	if err := histogram(paths[1], megapixels,
		"Distribution of image shape in millions of pixels", "width x height (M of pixels)"); err != nil {
		return nil, err
	}
	if err := histogram(paths[2], s.SizesMB(),
		"Distribution of image file sizes in MB", "Image size(MB)"); err != nil {
		return nil, err
	}
	return paths, nil
}

func (s *Summary) scatter(path string) error {
	p := plot.New()
	p.Title.Text = "SVS Image Sizes"
	p.X.Label.Text = "width (pixels)"
	p.Y.Label.Text = "height (pixels)"

	xys := make(plotter.XYs, len(s.Records))
	for i, r := range s.Records {
		xys[i].X, xys[i].Y = float64(r.Width), float64(r.Height)
	}
	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("scatter: %w", err)
	}
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	sc.GlyphStyle.Radius = vg.Points(3)
	// Points get random colours so overlapping slides stay distinguishable.
	rng := rand.New(rand.NewPCG(uint64(len(xys)), 1))
	sc.GlyphStyleFunc = func(int) draw.GlyphStyle {
		style := sc.GlyphStyle
		style.Color = color.NRGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 178}
		return style
	}
	p.Add(sc)
	return save(p, path)
}

func histogram(path string, values []float64, title, xLabel string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "# images"

	h, err := plotter.NewHist(plotter.Values(values), HistogramBins)
	if err != nil {
		return fmt.Errorf("histogram %s: %w", title, err)
	}
	p.Add(h)
	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}
