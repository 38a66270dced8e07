package main

import (
	"fmt"
	"image"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pathokit/slideprep/internal/annotation"
	"github.com/pathokit/slideprep/internal/dataset"
	"github.com/pathokit/slideprep/internal/imageio"
	"github.com/pathokit/slideprep/internal/slide"
)

// windowFlags select a tile; a zero width means the whole image.
type windowFlags struct {
	x, y, width, height int
}

func (w *windowFlags) register(cmd *cobra.Command, what string) {
	cmd.Flags().IntVar(&w.x, "x", 0, "Left edge of the "+what)
	cmd.Flags().IntVar(&w.y, "y", 0, "Top edge of the "+what)
	cmd.Flags().IntVar(&w.width, "width", 0, "Width of the "+what+", 0 = whole image")
	cmd.Flags().IntVar(&w.height, "height", 0, "Height of the "+what+", 0 = width")
}

func (w *windowFlags) tile() bool { return w.width > 0 }

func (w *windowFlags) position() image.Point { return image.Pt(w.x, w.y) }

func (w *windowFlags) size() image.Point {
	h := w.height
	if h <= 0 {
		h = w.width
	}
	return image.Pt(w.width, h)
}

var maskOpts struct {
	window      windowFlags
	scale       float64
	includeBBox bool
	out         string
}

var maskCmd = &cobra.Command{
	Use:   "mask <item>",
	Short: "Render the annotation label mask of a slide",
	Long: `Fills polygons and splines with gray 255 (positive) or 128 (negative) on
black; rectangles only with --include-bbox. With --width a level-0 tile at
--x, --y is rendered instead of the whole slide at --scale.`,
	Args: cobra.ExactArgs(1),
	RunE: runMask,
}

var overlayOpts struct {
	window windowFlags
	scale  float64
	level  int
	out    string
}

var overlayCmd = &cobra.Command{
	Use:   "overlay <item>",
	Short: "Draw the annotations over a slide image",
	Long: `Outlines every annotation over the slide at --scale, or over its
thumbnail for --scale -1. With --width a tile of --level at --x, --y is
rendered instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runOverlay,
}

func init() {
	maskOpts.window.register(maskCmd, "level-0 tile")
	maskCmd.Flags().Float64Var(&maskOpts.scale, "scale", 0, "Scale factor (default from config)")
	maskCmd.Flags().BoolVar(&maskOpts.includeBBox, "include-bbox", false, "Fill rectangle annotations too")
	maskCmd.Flags().StringVarP(&maskOpts.out, "out", "o", "", "Output file (default <name>-mask.png)")

	overlayOpts.window.register(overlayCmd, "tile")
	overlayCmd.Flags().Float64Var(&overlayOpts.scale, "scale", annotation.ThumbnailScale, "Scale factor, -1 = thumbnail")
	overlayCmd.Flags().IntVar(&overlayOpts.level, "level", 0, "Level of the tile")
	overlayCmd.Flags().StringVarP(&overlayOpts.out, "out", "o", "", "Output file (default <name>-overlay.jpg)")
}

// loadAnnotations opens the slide named by arg with its annotations.
func loadAnnotations(arg string) (*annotation.Set, error) {
	s, item, err := openSlide(arg)
	if err != nil {
		return nil, err
	}
	set, err := annotation.Load(cfg.AnnotationDir(), item, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return set, nil
}

func saveOutput(cmd *cobra.Command, img image.Image, out string, set *annotation.Set) error {
	if !imageio.IsSupportedOutput(out) {
		return fmt.Errorf("unsupported output format: %s", out)
	}
	if err := imageio.Save(img, out, cfg.JPEGQuality); err != nil {
		return err
	}
	counts := set.Counts()
	logger.Info("Image written", zap.String("path", out),
		zap.Int("negative", counts[annotation.Negative]), zap.Int("positive", counts[annotation.Positive]))
	fmt.Fprintln(textOut(cmd), out)
	ev.Result(map[string]any{"item": set.Slide().Path, "output": out, "annotations": len(set.Items)})
	return nil
}

func runMask(cmd *cobra.Command, args []string) error {
	set, err := loadAnnotations(args[0])
	if err != nil {
		return err
	}
	defer set.Slide().Close()

	var mask *image.Gray
	if maskOpts.window.tile() {
		mask, err = set.MaskTile(maskOpts.window.position(), maskOpts.window.size(), maskOpts.includeBBox)
	} else {
		scale := maskOpts.scale
		if !cmd.Flags().Changed("scale") {
			scale = float64(cfg.ScaleFactor)
		}
		mask, err = set.Mask(scale, maskOpts.includeBBox)
	}
	if err != nil {
		return err
	}
	out := maskOpts.out
	if out == "" {
		out = dataset.Stem(set.Slide().Path) + "-mask.png"
	}
	return saveOutput(cmd, mask, out, set)
}

func runOverlay(cmd *cobra.Command, args []string) error {
	set, err := loadAnnotations(args[0])
	if err != nil {
		return err
	}
	defer set.Slide().Close()
	ctx, cancel := commandContext()
	defer cancel()

	var img *image.RGBA
	if overlayOpts.window.tile() {
		img, err = set.AnnotatedTile(ctx, overlayOpts.window.position(), overlayOpts.window.size(), overlayOpts.level)
	} else if overlayOpts.scale == annotation.ThumbnailScale {
		img, err = set.Thumbnail(ctx)
	} else if overlayOpts.scale <= 0 {
		err = fmt.Errorf("%w: %v", slide.ErrInvalidScale, overlayOpts.scale)
	} else {
		img, err = set.AnnotatedImage(ctx, overlayOpts.scale)
	}
	if err != nil {
		return err
	}
	out := overlayOpts.out
	if out == "" {
		out = dataset.Stem(set.Slide().Path) + "-overlay.jpg"
	}
	return saveOutput(cmd, img, out, set)
}
