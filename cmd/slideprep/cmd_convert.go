package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pathokit/slideprep/internal/convert"
	"github.com/pathokit/slideprep/internal/dataset"
)

var convertOpts struct {
	scale    int
	workers  int
	format   string
	force    bool
	failFast bool
	limit    int
	seed     int64
	report   string
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert every slide to a downscaled image",
	Long: `Saves, for every slide of the dataset, its macro, label and thumbnail
images and the whole slide downscaled by --scale into
<dataset_dir>/preprocessed/<dataset>/<scale>X/<item>/.

Slides are shuffled over --workers workers; existing files are kept unless
--force is given. A failing slide is logged and skipped unless --fail-fast.`,
	Args: cobra.NoArgs,
	RunE: runConvert,
}

var watchOpts struct {
	debounce time.Duration
	initial  bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Convert slides as they appear in the raw dataset directory",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func addConvertFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&convertOpts.scale, "scale", 0, "Scale factor (default from config)")
	cmd.Flags().IntVar(&convertOpts.workers, "workers", 0, "Worker count, 0 = one per CPU (default from config)")
	cmd.Flags().StringVar(&convertOpts.format, "format", "", "Output image format: png, jpg or jpeg (default from config)")
	cmd.Flags().BoolVar(&convertOpts.force, "force", false, "Overwrite existing outputs")
	cmd.Flags().BoolVar(&convertOpts.failFast, "fail-fast", false, "Stop at the first failing slide")
	cmd.Flags().Int64Var(&convertOpts.seed, "seed", 0, "Shuffle seed, 0 = random")
}

func init() {
	addConvertFlags(convertCmd)
	convertCmd.Flags().IntVar(&convertOpts.limit, "limit", 0, "Convert only the first N items")
	convertCmd.Flags().StringVar(&convertOpts.report, "report", "", "Write a JSON report to this path")

	addConvertFlags(watchCmd)
	watchCmd.Flags().DurationVar(&watchOpts.debounce, "debounce", convert.DefaultDebounce, "Quiet time before new files are converted")
	watchCmd.Flags().BoolVar(&watchOpts.initial, "initial", false, "Convert the slides already present first")
}

// applyConvertFlags overrides config values with the flags set on cmd.
func applyConvertFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("scale") {
		cfg.ScaleFactor = convertOpts.scale
	}
	if flags.Changed("workers") {
		cfg.Workers = convertOpts.workers
	}
	if flags.Changed("format") {
		cfg.ImageFormat = convertOpts.format
	}
	if flags.Changed("force") {
		cfg.ForceReconvert = convertOpts.force
	}
	if flags.Changed("fail-fast") {
		cfg.FailFast = convertOpts.failFast
	}
	return cfg.Validate()
}

func runConvert(cmd *cobra.Command, args []string) error {
	if err := applyConvertFlags(cmd); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	items, err := dataset.List(cfg.RawDir())
	if err != nil {
		return err
	}
	if convertOpts.limit > 0 && convertOpts.limit < len(items) {
		items = items[:convertOpts.limit]
	}
	c := convert.New(cfg, items, logger, ev)
	c.Seed = convertOpts.seed

	report, err := c.Run(ctx)
	if convertOpts.report != "" {
		if werr := report.WriteJSON(convertOpts.report); werr != nil {
			logger.Error("Cannot write report", zap.String("path", convertOpts.report), zap.Error(werr))
		}
	}
	fmt.Fprintf(textOut(cmd), "Converted %d/%d slides (%d failed) in %s\n",
		report.Converted, report.Total, report.Failed, report.Elapsed.Round(time.Millisecond))
	if err != nil {
		return err
	}
	ev.Result(map[string]any{
		"run_id":    report.RunID,
		"converted": report.Converted,
		"failed":    report.Failed,
		"total":     report.Total,
		"dir":       c.OutDir,
	})
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := applyConvertFlags(cmd); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	tmpl := convert.New(cfg, nil, logger, ev)
	tmpl.Seed = convertOpts.seed
	return convert.Watch(ctx, *tmpl, convert.WatchOptions{
		Debounce: watchOpts.debounce,
		Initial:  watchOpts.initial,
		OnReport: func(r convert.Report) {
			fmt.Fprintf(textOut(cmd), "Converted %d/%d new slides (%d failed)\n", r.Converted, r.Total, r.Failed)
			ev.Result(map[string]any{"run_id": r.RunID, "converted": r.Converted, "failed": r.Failed, "total": r.Total})
		},
	})
}
