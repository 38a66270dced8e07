package convert

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pathokit/slideprep/internal/dataset"
	"github.com/pathokit/slideprep/internal/slide"
)

// DefaultDebounce is how long a new file must stay quiet before it is
// converted.
const DefaultDebounce = 2 * time.Second

// WatchOptions configures Watch.
type WatchOptions struct {
	Debounce time.Duration
	// Initial converts the items already present before watching.
	Initial bool
	// OnReport receives the report of every conversion round.
	OnReport func(Report)
}

// Watch converts slides as they appear below tmpl.RawDir until ctx is done.
// tmpl.Items is ignored. Files are queued on create and write events and
// converted together once no event has arrived for the debounce period.
// Only files a registered backend claims are queued.
func Watch(ctx context.Context, tmpl Converter, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	log := tmpl.Logger
	if log == nil {
		log = zap.NewNop()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	pending := make(map[string]struct{})
	queue := func(path string) {
		rel, err := filepath.Rel(tmpl.RawDir, path)
		if err != nil || !slide.Supported(rel) {
			return
		}
		pending[rel] = struct{}{}
	}
	if err := watchTree(w, tmpl.RawDir, nil); err != nil {
		return err
	}
	log.Info("Watching for slides", zap.String("dir", tmpl.RawDir), zap.Duration("debounce", opts.Debounce))

	convert := func(items []string) error {
		c := tmpl
		c.Items = items
		report, err := c.Run(ctx)
		if opts.OnReport != nil {
			opts.OnReport(report)
		}
		if err != nil && ctx.Err() == nil && !errors.Is(err, dataset.ErrNoItems) {
			return err
		}
		return nil
	}

	if opts.Initial {
		items, err := dataset.List(tmpl.RawDir)
		if err != nil {
			return err
		}
		var supported []string
		for _, item := range items {
			if slide.Supported(item) {
				supported = append(supported, item)
			}
		}
		if len(supported) > 0 {
			if err := convert(supported); err != nil {
				return err
			}
		}
	}

	timer := time.NewTimer(opts.Debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if err := watchTree(w, ev.Name, queue); err != nil {
					log.Warn("Cannot watch directory", zap.String("dir", ev.Name), zap.Error(err))
				}
			} else {
				queue(ev.Name)
			}
			if len(pending) > 0 {
				timer.Reset(opts.Debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("Watch error", zap.Error(err))
		case <-timer.C:
			items := make([]string, 0, len(pending))
			for item := range pending {
				items = append(items, item)
			}
			clear(pending)
			sort.Strings(items)
			log.Info("New slides", zap.Strings("items", items))
			if err := convert(items); err != nil {
				return err
			}
		}
	}
}

// watchTree adds root and every directory below it to w. Files found on
// the way are passed to found when it is set.
func watchTree(w *fsnotify.Watcher, root string, found func(string)) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if found != nil {
			found(path)
		}
		return nil
	})
}
