package main

import (
	"fmt"
	"image"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pathokit/slideprep/internal/dataset"
	"github.com/pathokit/slideprep/internal/imageio"
)

var regionOpts struct {
	window   windowFlags
	scale    float64
	tileSize int
	out      string
}

var regionCmd = &cobra.Command{
	Use:   "region <item>",
	Short: "Stitch a level-0 region of a slide from tiled reads",
	Long: `Reads the level-0 region at --x, --y of --width x --height (the rest of
the slide when --width is 0) in tiles of --tile-size and writes it
downscaled by --scale.`,
	Args: cobra.ExactArgs(1),
	RunE: runRegion,
}

func init() {
	regionOpts.window.register(regionCmd, "level-0 region")
	regionCmd.Flags().Float64Var(&regionOpts.scale, "scale", 1, "Downscale factor of the output")
	regionCmd.Flags().IntVar(&regionOpts.tileSize, "tile-size", 0, "Edge of a single read (default from config)")
	regionCmd.Flags().StringVarP(&regionOpts.out, "out", "o", "", "Output file (default <name>-region.png)")
}

func runRegion(cmd *cobra.Command, args []string) error {
	s, _, err := openSlide(args[0])
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel := commandContext()
	defer cancel()

	tileSize := regionOpts.tileSize
	if tileSize <= 0 {
		tileSize = cfg.TileSize
	}
	location := regionOpts.window.position()
	size := s.Dimensions.Sub(location)
	if regionOpts.window.tile() {
		size = regionOpts.window.size()
	}

	var img *image.RGBA
	if regionOpts.scale == 1 {
		img, err = s.FullsizeRegionByTile(ctx, location, size, tileSize)
	} else {
		img, err = s.ScaledRegionByTile(ctx, location, size, regionOpts.scale, tileSize)
	}
	if err != nil {
		return err
	}

	out := regionOpts.out
	if out == "" {
		out = dataset.Stem(s.Path) + "-region.png"
	}
	if !imageio.IsSupportedOutput(out) {
		return fmt.Errorf("unsupported output format: %s", out)
	}
	if err := imageio.Save(img, out, cfg.JPEGQuality); err != nil {
		return err
	}
	logger.Info("Region written", zap.String("path", out),
		zap.Int("width", img.Bounds().Dx()), zap.Int("height", img.Bounds().Dy()))
	fmt.Fprintln(textOut(cmd), out)
	ev.Result(map[string]any{"item": s.Path, "output": out, "width": img.Bounds().Dx(), "height": img.Bounds().Dy()})
	return nil
}
