// Package stats summarizes the sizes of raw slides or converted images of a
// dataset: extremes of shape, file size, width and height, an info log and
// distribution plots.
package stats

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/pathokit/slideprep/internal/config"
	"github.com/pathokit/slideprep/internal/dataset"
	"github.com/pathokit/slideprep/internal/imageio"
	"github.com/pathokit/slideprep/internal/slide"
)

const megabyte = 1024 * 1024

// Record is one measured image.
type Record struct {
	// Path is the measured file.
	Path   string
	Width  int
	Height int
	Bytes  int64
}

// Shape is the pixel count.
func (r Record) Shape() int { return r.Width * r.Height }

// SizeMB is the file size in MiB.
func (r Record) SizeMB() float64 { return float64(r.Bytes) / megabyte }

// Summary is the measurements of one dataset at one scale.
type Summary struct {
	// Tag is "raw" or "<scale>X".
	Tag     string
	Records []Record
	// Info holds the description of every raw slide; empty for converted
	// images.
	Info []string
}

// Tag names a scale in output file names.
func Tag(scale int) string {
	if scale == 0 {
		return "raw"
	}
	return fmt.Sprintf("%dX", scale)
}

// Collect measures the raw slides (scale 0) or the images converted at
// scale. Items that cannot be measured are logged and skipped.
func Collect(ctx context.Context, cfg *config.Config, scale int, log *zap.Logger) (*Summary, error) {
	if log == nil {
		log = zap.NewNop()
	}
	items, err := dataset.List(cfg.RawDir())
	if err != nil {
		return nil, err
	}
	sum := &Summary{Tag: Tag(scale)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var (
			rec Record
			err error
		)
		if scale == 0 {
			rec, err = sum.measureSlide(cfg.RawDir(), item, log)
		} else {
			rec, err = measureImage(cfg.ConvertedDir(scale), item, cfg.ImageFormat)
		}
		if err != nil {
			log.Warn("Skipping item", zap.String("item", item), zap.Error(err))
			continue
		}
		log.Debug("Measured", zap.String("item", item), zap.Int("width", rec.Width), zap.Int("height", rec.Height),
			zap.String("size", humanize.IBytes(uint64(rec.Bytes))))
		sum.Records = append(sum.Records, rec)
	}
	if len(sum.Records) == 0 {
		return sum, fmt.Errorf("nothing to summarize in %s: %w", sum.Tag, dataset.ErrNoItems)
	}
	return sum, nil
}

func (s *Summary) measureSlide(rawDir, item string, log *zap.Logger) (Record, error) {
	path := filepath.Join(rawDir, item)
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, err
	}
	sl, err := slide.Open(rawDir, item, slide.WithLogger(log))
	if err != nil {
		return Record{}, err
	}
	defer sl.Close()
	s.Info = append(s.Info, sl.String())
	return Record{Path: path, Width: sl.Dimensions.X, Height: sl.Dimensions.Y, Bytes: info.Size()}, nil
}

// ConvertedPath is where the image converted from item is stored.
func ConvertedPath(convertedDir, item, format string) string {
	return filepath.Join(dataset.StemDir(convertedDir, item), dataset.Stem(item)+"."+imageio.Ext(format))
}

func measureImage(convertedDir, item, format string) (Record, error) {
	path := ConvertedPath(convertedDir, item, format)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("converted image missing: %w", err)
	}
	if err != nil {
		return Record{}, err
	}
	w, h, err := imageio.DecodeSize(path)
	if err != nil {
		return Record{}, err
	}
	return Record{Path: path, Width: w, Height: h, Bytes: info.Size()}, nil
}

func (s *Summary) column(f func(Record) float64) []float64 {
	out := make([]float64, len(s.Records))
	for i, r := range s.Records {
		out[i] = f(r)
	}
	return out
}

// Widths, Heights, Shapes and SizesMB are the measured columns.
func (s *Summary) Widths() []float64  { return s.column(func(r Record) float64 { return float64(r.Width) }) }
func (s *Summary) Heights() []float64 { return s.column(func(r Record) float64 { return float64(r.Height) }) }
func (s *Summary) Shapes() []float64  { return s.column(func(r Record) float64 { return float64(r.Shape()) }) }
func (s *Summary) SizesMB() []float64 { return s.column(Record.SizeMB) }

func formatMB(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Lines is the extremes report: largest and smallest shape, file size,
// width and height, each with its index, path and dimensions.
func (s *Summary) Lines() []string {
	if len(s.Records) == 0 {
		return nil
	}
	shapes, sizes := s.Shapes(), s.SizesMB()
	widths, heights := s.Widths(), s.Heights()

	line := func(title string, i int, value string) string {
		return fmt.Sprintf("%s:\t#%d %s: %s", title, i, s.Records[i].Path, value)
	}
	dims := func(i int) string { return fmt.Sprintf("%dx%d", s.Records[i].Width, s.Records[i].Height) }

	maxShape, minShape := floats.MaxIdx(shapes), floats.MinIdx(shapes)
	maxSize, minSize := floats.MaxIdx(sizes), floats.MinIdx(sizes)
	maxW, minW := floats.MaxIdx(widths), floats.MinIdx(widths)
	maxH, minH := floats.MaxIdx(heights), floats.MinIdx(heights)
	return []string{
		line("Max image shape file", maxShape, fmt.Sprintf("%d %s", s.Records[maxShape].Shape(), dims(maxShape))),
		line("Min image shape file", minShape, fmt.Sprintf("%d %s", s.Records[minShape].Shape(), dims(minShape))),
		line("Max size file", maxSize, fmt.Sprintf("%sMB %s", formatMB(sizes[maxSize]), dims(maxSize))),
		line("Min size file", minSize, fmt.Sprintf("%sMB %s", formatMB(sizes[minSize]), dims(minSize))),
		line("Max width file", maxW, dims(maxW)),
		line("Min width file", minW, dims(minW)),
		line("Max height file", maxH, dims(maxH)),
		line("Min height file", minH, dims(minH)),
	}
}

// String is the info log body: slide descriptions, if any, then Lines.
func (s *Summary) String() string {
	var b strings.Builder
	for _, info := range s.Info {
		b.WriteString(info)
		b.WriteByte('\n')
	}
	for _, l := range s.Lines() {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

// LogPath is the info log of the summary below statDir.
func (s *Summary) LogPath(statDir string) string {
	return filepath.Join(statDir, s.Tag+"_file_info.log")
}

// WriteLog writes String to LogPath(statDir).
func (s *Summary) WriteLog(statDir string) (string, error) {
	if _, err := dataset.EnsureDir(statDir); err != nil {
		return "", err
	}
	path := s.LogPath(statDir)
	return path, os.WriteFile(path, []byte(s.String()), 0o644)
}

// Run collects, logs and plots the statistics at scale into the stat dir
// of cfg.
func Run(ctx context.Context, cfg *config.Config, scale int, log *zap.Logger) (*Summary, error) {
	if log == nil {
		log = zap.NewNop()
	}
	timer := dataset.StartTimer()
	sum, err := Collect(ctx, cfg, scale, log)
	if err != nil {
		return sum, err
	}
	logPath, err := sum.WriteLog(cfg.StatDir())
	if err != nil {
		return sum, err
	}
	plots, err := sum.Plot(cfg.StatDir())
	if err != nil {
		return sum, err
	}

	sizes := sum.SizesMB()
	meanMB, stdMB := stat.MeanStdDev(sizes, nil)
	for _, l := range sum.Lines() {
		log.Info(l)
	}
	log.Info("Statistics written",
		zap.String("tag", sum.Tag), zap.Int("images", len(sum.Records)),
		zap.String("total_size", humanize.IBytes(uint64(floats.Sum(sizes)*megabyte))),
		zap.Float64("mean_mb", meanMB), zap.Float64("std_mb", stdMB),
		zap.String("log", logPath), zap.Strings("plots", plots),
		zap.Duration("elapsed", timer.Elapsed()))
	return sum, nil
}
