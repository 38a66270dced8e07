package main

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pathokit/slideprep/internal/dataset"
	"github.com/pathokit/slideprep/internal/slide"
)

var listIndex int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the slides of the dataset",
	Long: `Prints every file below the raw dataset directory with its index.
Indices can be used wherever a command takes an item.`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var infoProperties bool

var infoCmd = &cobra.Command{
	Use:   "info <item>",
	Short: "Describe a slide: size, levels and associated images",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	listCmd.Flags().IntVar(&listIndex, "index", -1, "Print only the item at this index")
	infoCmd.Flags().BoolVar(&infoProperties, "properties", false, "Also print the backend properties")
}

func runList(cmd *cobra.Command, args []string) error {
	out := textOut(cmd)
	if listIndex >= 0 {
		item, err := dataset.ItemAt(cfg.RawDir(), listIndex)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, item)
		ev.Result(map[string]any{"items": []string{item}})
		return nil
	}
	items, err := dataset.List(cfg.RawDir())
	if err != nil {
		return err
	}
	for i, item := range items {
		fmt.Fprintf(out, "%d\t%s\n", i, item)
	}
	logger.Info("Dataset listed", zap.String("dir", cfg.RawDir()), zap.Int("items", len(items)))
	ev.Result(map[string]any{"items": items})
	return nil
}

// openSlide opens the item named by arg.
func openSlide(arg string) (*slide.Slide, string, error) {
	item, err := resolveItem(arg)
	if err != nil {
		return nil, "", err
	}
	s, err := slide.Open(cfg.RawDir(), item, slide.WithLogger(logger))
	if err != nil {
		return nil, "", err
	}
	return s, item, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, _, err := openSlide(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	out := textOut(cmd)
	fmt.Fprintln(out, s.String())
	pixels := uint64(s.Dimensions.X) * uint64(s.Dimensions.Y)
	fmt.Fprintf(out, "\tPixels: %s\n", humanize.Comma(int64(pixels)))
	props := s.Source().Properties()
	if infoProperties {
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "\t%s = %s\n", k, props[k])
		}
	}
	ev.Result(map[string]any{
		"item":              s.Path,
		"width":             s.Dimensions.X,
		"height":            s.Dimensions.Y,
		"level_downsamples": s.LevelDownsamples,
		"properties":        props,
	})
	return nil
}

