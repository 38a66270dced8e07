package slide

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrUnsupportedFormat is returned when no registered backend claims a file.
var ErrUnsupportedFormat = errors.New("unsupported slide format")

// Source is a multi-resolution pyramidal raster. Level 0 is full
// resolution; higher levels are progressively downsampled.
type Source interface {
	// Dimensions is the level-0 size.
	Dimensions() image.Point
	LevelCount() int
	LevelDimensions(level int) image.Point
	LevelDownsample(level int) float64
	// BestLevelForDownsample is the largest level whose downsample does not
	// exceed ds, or 0.
	BestLevelForDownsample(ds float64) int
	// ReadRegion reads w x h pixels of level, starting at x, y in level-0
	// coordinates. The result is anchored at the origin; pixels outside the
	// slide are transparent black.
	ReadRegion(ctx context.Context, x, y, level, w, h int) (*image.RGBA, error)
	// AssociatedImages returns the auxiliary images stored with the slide,
	// keyed by name ("thumbnail", "label", "macro", ...).
	AssociatedImages() (map[string]image.Image, error)
	Properties() map[string]string
	Close() error
}

// Opener opens a file as a Source.
type Opener func(path string) (Source, error)

// Backend describes a slide reader.
type Backend struct {
	Name string
	// Extensions claimed by the backend, lower case with leading dot.
	Extensions []string
	// Priority orders backends claiming the same extension; higher first.
	Priority int
	Open     Opener
}

func (b Backend) claims(ext string) bool {
	for _, e := range b.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// Register adds a backend. It is typically called from init() in the
// backend's package. Registering a name twice replaces the earlier entry.
func Register(b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[b.Name] = b
}

// Unregister removes a backend. This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Backends lists the registered backend names, highest priority first.
func Backends() []string {
	list := candidates("")
	names := make([]string, len(list))
	for i, b := range list {
		names[i] = b.Name
	}
	return names
}

// candidates returns the backends claiming ext (all when ext is empty),
// highest priority first.
func candidates(ext string) []Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var list []Backend
	for _, b := range backends {
		if ext == "" || b.claims(ext) {
			list = append(list, b)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].Name < list[j].Name
	})
	return list
}

// Supported reports whether any registered backend claims the extension of
// path.
func Supported(path string) bool {
	return len(candidates(strings.ToLower(filepath.Ext(path)))) > 0
}

// OpenSource opens path with the first backend that claims its extension and
// accepts the file.
func OpenSource(path string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	list := candidates(ext)
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	var errs []error
	for _, b := range list {
		src, err := b.Open(path)
		if err == nil {
			return src, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b.Name, err))
	}
	return nil, fmt.Errorf("open %s: %w", path, errors.Join(errs...))
}

// BestLevel implements BestLevelForDownsample over a list of ascending
// level downsamples.
func BestLevel(downsamples []float64, ds float64) int {
	if len(downsamples) == 0 || ds < downsamples[0] {
		return 0
	}
	for i := 1; i < len(downsamples); i++ {
		if ds < downsamples[i] {
			return i - 1
		}
	}
	return len(downsamples) - 1
}
