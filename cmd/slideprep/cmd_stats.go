package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pathokit/slideprep/internal/stats"
)

var statsScale int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize image sizes and plot their distributions",
	Long: `Measures the raw slides (--scale 0) or the images converted at --scale,
writes <tag>_file_info.log and three plots into
<dataset_dir>/stats/<dataset>/ and prints the extremes.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsScale, "scale", 0, "Scale factor of the converted images, 0 = raw slides")
}

func runStats(cmd *cobra.Command, args []string) error {
	if statsScale < 0 {
		return fmt.Errorf("scale must not be negative, got %d", statsScale)
	}
	ctx, cancel := commandContext()
	defer cancel()

	sum, err := stats.Run(ctx, cfg, statsScale, logger)
	if err != nil {
		return err
	}
	out := textOut(cmd)
	for _, line := range sum.Lines() {
		fmt.Fprintln(out, line)
	}
	ev.Result(map[string]any{
		"tag":    sum.Tag,
		"images": len(sum.Records),
		"log":    sum.LogPath(cfg.StatDir()),
		"plots":  sum.PlotNames(),
	})
	return nil
}
