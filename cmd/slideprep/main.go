// Command slideprep prepares whole-slide histopathology datasets: it lists
// and describes slides, converts them to downscaled images, renders
// annotation masks and overlays, and summarizes image sizes.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pathokit/slideprep/internal/config"
	"github.com/pathokit/slideprep/internal/dataset"
	"github.com/pathokit/slideprep/internal/events"
	"github.com/pathokit/slideprep/internal/slide"

	_ "github.com/pathokit/slideprep/internal/slide/dzi"
	_ "github.com/pathokit/slideprep/internal/slide/flat"
	_ "github.com/pathokit/slideprep/internal/slide/openslide"
)

var (
	configPath string
	verbose    bool
	emitEvents bool
	timeout    time.Duration

	cfg    *config.Config
	logger *zap.Logger
	ev     = events.Discard
)

var rootCmd = &cobra.Command{
	Use:   "slideprep",
	Short: "Whole-slide image dataset preparation",
	Long: `slideprep works on a dataset of pyramidal whole-slide images laid out as

  <dataset_dir>/raw/<dataset>/...           slides
  <dataset_dir>/annotation/<dataset>/...    ASAP XML annotations
  <dataset_dir>/preprocessed/<dataset>/NX/  converted images
  <dataset_dir>/stats/<dataset>/            statistics

Slides are read through OpenSlide when built with -tags openslide, and as
Deep Zoom pyramids or flat raster images otherwise.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err = buildLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if emitEvents {
			ev = events.NewWriter(cmd.OutOrStdout())
		}
		logger.Debug("Configuration loaded",
			zap.String("config", configPath), zap.String("raw_dir", cfg.RawDir()),
			zap.Strings("backends", slide.Backends()))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if lc.JSON {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// commandContext is cancelled on SIGINT/SIGTERM and after --timeout.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}

// textOut is where human-readable output goes. With --events stdout
// carries only JSON lines, so text moves to stderr.
func textOut(cmd *cobra.Command) io.Writer {
	if emitEvents {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// resolveItem accepts a dataset item path or its index in the listing.
func resolveItem(arg string) (string, error) {
	if index, err := strconv.Atoi(arg); err == nil {
		return dataset.ItemAt(cfg.RawDir(), index)
	}
	return arg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "slideprep.yaml", "Config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&emitEvents, "events", false, "Emit JSON progress events on stdout")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "Abort after this long (0 = never)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(maskCmd)
	rootCmd.AddCommand(overlayCmd)
	rootCmd.AddCommand(regionCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ev.Error(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
