// Package convert saves every slide of a dataset at a fixed scale, fanning
// the work out over a pool of workers.
package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pathokit/slideprep/internal/config"
	"github.com/pathokit/slideprep/internal/dataset"
	"github.com/pathokit/slideprep/internal/events"
	"github.com/pathokit/slideprep/internal/slide"
)

// OpenFunc opens a dataset item below rawDir.
type OpenFunc func(rawDir, item string, opts ...slide.Option) (*slide.Slide, error)

// Converter converts Items from RawDir into OutDir/<item without
// extension>/.
type Converter struct {
	RawDir string
	OutDir string
	Items  []string
	Scale  int
	Format string
	// Workers is the pool size; 0 means one per CPU. It never exceeds the
	// number of items.
	Workers int
	Force   bool
	// FailFast cancels the run on the first failed slide.
	FailFast bool
	Quality  int
	// Seed fixes the shuffle; 0 picks a random one.
	Seed int64

	Logger *zap.Logger
	Events *events.Writer
	// Open defaults to slide.Open.
	Open OpenFunc
}

// Result is the outcome for one slide.
type Result struct {
	Item     string        `json:"item"`
	Dir      string        `json:"dir"`
	Written  []string      `json:"written,omitempty"`
	Skipped  []string      `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`

	err error
}

// Report summarizes a run.
type Report struct {
	RunID     string        `json:"run_id"`
	Scale     int           `json:"scale"`
	Workers   int           `json:"workers"`
	Batches   int           `json:"batches"`
	Total     int           `json:"total"`
	Converted int           `json:"converted"`
	Failed    int           `json:"failed"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Results   []Result      `json:"results"`
}

// Err combines the per-slide failures of the run, or is nil.
func (r Report) Err() error {
	var err error
	for _, res := range r.Results {
		err = multierr.Append(err, res.err)
	}
	return err
}

// WriteJSON writes the report as indented JSON to path.
func (r Report) WriteJSON(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(r)
}

// WorkerCount resolves workers against the number of items.
func WorkerCount(workers, items int) int {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return max(1, min(workers, items))
}

// Batches shuffles the indices 0..n-1 with rng, cuts them into consecutive
// batches of ceil(n/workers) and sorts each batch ascending.
func Batches(n, workers int, rng *rand.Rand) [][]int {
	if n == 0 {
		return nil
	}
	workers = WorkerCount(workers, n)
	perBatch := (n + workers - 1) / workers

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	var batches [][]int
	for start := 0; start < n; start += perBatch {
		batch := append([]int(nil), idx[start:min(start+perBatch, n)]...)
		sort.Ints(batch)
		batches = append(batches, batch)
	}
	return batches
}

func (c *Converter) rng() *rand.Rand {
	seed := uint64(c.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Run converts every item. Per-slide failures are logged, recorded in the
// report and skipped unless FailFast is set, in which case the first one
// cancels the remaining work and is returned.
func (c *Converter) Run(ctx context.Context) (Report, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	open := c.Open
	if open == nil {
		open = slide.Open
	}
	timer := dataset.StartTimer()
	n := len(c.Items)
	report := Report{
		RunID:   uuid.NewString(),
		Scale:   c.Scale,
		Total:   n,
		Results: make([]Result, n),
	}
	log = log.With(zap.String("run_id", report.RunID))
	if n == 0 {
		return report, dataset.ErrNoItems
	}

	report.Workers = WorkerCount(c.Workers, n)
	batches := Batches(n, report.Workers, c.rng())
	report.Batches = len(batches)
	log.Info("Starting conversion",
		zap.Int("workers", report.Workers), zap.Int("slides", n), zap.Int("scale", c.Scale))

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(report.Workers)
	for _, batch := range batches {
		g.Go(func() error {
			for _, i := range batch {
				if err := gctx.Err(); err != nil {
					return err
				}
				res := c.convertOne(gctx, open, log, c.Items[i])
				report.Results[i] = res
				current := int(done.Add(1))
				msg := "converted"
				if res.err != nil {
					msg = "failed"
				}
				c.Events.Progress(events.Progress{Current: current, Total: n, Message: msg, Item: res.Item})
				if res.err != nil && c.FailFast {
					return res.err
				}
			}
			return nil
		})
	}
	runErr := g.Wait()

	for i := range report.Results {
		if report.Results[i].Item == "" {
			report.Results[i].Item = c.Items[i]
			continue
		}
		if report.Results[i].err != nil {
			report.Failed++
		} else {
			report.Converted++
		}
	}
	report.Elapsed = timer.Elapsed()
	log.Info("Conversion finished",
		zap.Int("converted", report.Converted), zap.Int("failed", report.Failed),
		zap.Duration("elapsed", report.Elapsed))
	if runErr != nil {
		return report, runErr
	}
	return report, ctx.Err()
}

func (c *Converter) convertOne(ctx context.Context, open OpenFunc, log *zap.Logger, item string) Result {
	start := time.Now()
	res := Result{Item: item, Dir: dataset.StemDir(c.OutDir, item)}
	fail := func(err error) Result {
		res.err = fmt.Errorf("%s: %w", item, err)
		res.Error = res.err.Error()
		res.Duration = time.Since(start)
		log.Error("Slide conversion failed", zap.String("slide", item), zap.Error(err))
		return res
	}

	log.Info("Converting", zap.String("slide", item))
	s, err := open(c.RawDir, item, slide.WithLogger(log))
	if err != nil {
		return fail(err)
	}
	defer s.Close()

	saved, err := s.SaveConverted(ctx, res.Dir, float64(c.Scale), c.Format, c.Force, c.Quality)
	res.Written, res.Skipped = saved.Written, saved.Skipped
	if err != nil {
		return fail(err)
	}
	res.Duration = time.Since(start)
	return res
}

// New builds a Converter over items from cfg.
func New(cfg *config.Config, items []string, log *zap.Logger, ev *events.Writer) *Converter {
	return &Converter{
		RawDir:   cfg.RawDir(),
		OutDir:   cfg.ConvertedDir(cfg.ScaleFactor),
		Items:    items,
		Scale:    cfg.ScaleFactor,
		Format:   cfg.ImageFormat,
		Workers:  cfg.WorkerCount(),
		Force:    cfg.ForceReconvert,
		FailFast: cfg.FailFast,
		Quality:  cfg.JPEGQuality,
		Logger:   log,
		Events:   ev,
	}
}

// ConvertAll converts the whole raw dataset described by cfg.
func ConvertAll(ctx context.Context, cfg *config.Config, log *zap.Logger, ev *events.Writer) (Report, error) {
	items, err := dataset.List(cfg.RawDir())
	if err != nil {
		return Report{}, err
	}
	return New(cfg, items, log, ev).Run(ctx)
}
