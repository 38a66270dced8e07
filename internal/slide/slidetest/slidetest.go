// Package slidetest provides an in-memory slide.Source with a known pixel
// pattern, and a "fake" backend that opens small text descriptors, for
// tests of packages built on slide.
package slidetest

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/pathokit/slideprep/internal/slide"
)

// Extension is the file extension claimed by the fake backend.
const Extension = ".fake"

// ErrInjected is returned by sources configured to fail.
var ErrInjected = errors.New("injected read failure")

// Pixel is the level-0 colour at x, y.
func Pixel(x, y int) color.RGBA {
	return color.RGBA{R: uint8(x % 251), G: uint8(y % 241), B: uint8((x/7 + y/5) % 256), A: 255}
}

// Source is a synthetic pyramid whose level-0 pixels follow Pixel. Level l
// samples Pixel at multiples of its downsample.
type Source struct {
	W, H        int
	Downsamples []float64
	Associated  map[string]image.Image
	// FailReads makes every ReadRegion fail.
	FailReads bool

	reads  atomic.Int64
	closed atomic.Bool
}

// New builds a Source of w x h with the given integer downsamples; level 0
// (downsample 1) is always present. Thumbnail, label and macro images are
// attached.
func New(w, h int, downsamples ...int) *Source {
	ds := []float64{1}
	for _, d := range downsamples {
		if d > 1 {
			ds = append(ds, float64(d))
		}
	}
	s := &Source{W: w, H: h, Downsamples: ds}
	s.Associated = map[string]image.Image{
		slide.AssociatedThumbnail: uniform(16, 12, color.RGBA{R: 10, G: 20, B: 30, A: 255}),
		slide.AssociatedLabel:     uniform(8, 8, color.RGBA{R: 255, A: 255}),
		slide.AssociatedMacro:     uniform(20, 8, color.RGBA{B: 255, A: 255}),
	}
	return s
}

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// Reads is the number of ReadRegion calls so far.
func (s *Source) Reads() int64 { return s.reads.Load() }

// Closed reports whether Close was called.
func (s *Source) Closed() bool { return s.closed.Load() }

func (s *Source) Dimensions() image.Point { return image.Pt(s.W, s.H) }

func (s *Source) LevelCount() int { return len(s.Downsamples) }

func (s *Source) LevelDimensions(level int) image.Point {
	ds := s.Downsamples[level]
	return image.Pt(int(math.Ceil(float64(s.W)/ds)), int(math.Ceil(float64(s.H)/ds)))
}

func (s *Source) LevelDownsample(level int) float64 { return s.Downsamples[level] }

func (s *Source) BestLevelForDownsample(ds float64) int {
	return slide.BestLevel(s.Downsamples, ds)
}

func (s *Source) ReadRegion(ctx context.Context, x, y, level, w, h int) (*image.RGBA, error) {
	s.reads.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FailReads {
		return nil, ErrInjected
	}
	if level < 0 || level >= len(s.Downsamples) {
		return nil, fmt.Errorf("level %d out of range", level)
	}
	ds := s.Downsamples[level]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			sx := x + int(float64(i)*ds)
			sy := y + int(float64(j)*ds)
			if sx < 0 || sy < 0 || sx >= s.W || sy >= s.H {
				continue
			}
			img.SetRGBA(i, j, Pixel(sx, sy))
		}
	}
	return img, nil
}

func (s *Source) AssociatedImages() (map[string]image.Image, error) {
	return s.Associated, nil
}

func (s *Source) Properties() map[string]string {
	return map[string]string{"slidetest.width": fmt.Sprint(s.W), "slidetest.height": fmt.Sprint(s.H)}
}

func (s *Source) Close() error {
	s.closed.Store(true)
	return nil
}

// Register installs the fake backend. A descriptor file holds
// "<w>x<h> [downsample...]"; the word "broken" makes Open fail and
// "unreadable" makes every read fail.
func Register() {
	slide.Register(slide.Backend{
		Name:       "fake",
		Extensions: []string{Extension},
		Open:       openDescriptor,
	})
}

// WriteDescriptor writes a descriptor for a w x h slide at path.
func WriteDescriptor(path string, w, h int, extra ...string) error {
	line := fmt.Sprintf("%dx%d %s", w, h, strings.Join(extra, " "))
	return os.WriteFile(path, []byte(strings.TrimSpace(line)), 0o644)
}

func openDescriptor(path string) (slide.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil, errors.New("empty descriptor")
	}
	var w, h int
	if _, err := fmt.Sscanf(fields[0], "%dx%d", &w, &h); err != nil {
		return nil, fmt.Errorf("bad descriptor size %q: %w", fields[0], err)
	}
	var downsamples []int
	failReads := false
	for _, f := range fields[1:] {
		switch f {
		case "broken":
			return nil, ErrInjected
		case "unreadable":
			failReads = true
		default:
			var d int
			if _, err := fmt.Sscanf(f, "%d", &d); err != nil {
				return nil, fmt.Errorf("bad downsample %q", f)
			}
			downsamples = append(downsamples, d)
		}
	}
	src := New(w, h, downsamples...)
	src.FailReads = failReads
	return src, nil
}
