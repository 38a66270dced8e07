// Package dataset enumerates the slides of a raw dataset and maps dataset
// items to their annotation and output locations.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoItems is returned when a dataset directory holds no files.
var ErrNoItems = errors.New("dataset has no items")

// List returns every regular file below root as a path relative to root.
// Sub-directories are descended into; the result is in lexical order.
func List(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	var items []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		items = append(items, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return items, nil
}

// ItemAt returns the index-th item of List(root).
func ItemAt(root string, index int) (string, error) {
	items, err := List(root)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", ErrNoItems
	}
	if index < 0 || index >= len(items) {
		return "", fmt.Errorf("item index %d out of range [0, %d)", index, len(items))
	}
	return items[index], nil
}

// TrimExt strips the final extension from a dataset item.
func TrimExt(item string) string {
	return strings.TrimSuffix(item, filepath.Ext(item))
}

// Stem is the item's file name without directory and extension.
func Stem(item string) string {
	return TrimExt(filepath.Base(item))
}

// AnnotationPath is where the ASAP XML annotation for item is expected.
func AnnotationPath(annotationDir, item string) string {
	return filepath.Join(annotationDir, TrimExt(item)+".xml")
}

// StemDir is the per-item output directory below base.
func StemDir(base, item string) string {
	return filepath.Join(base, TrimExt(item))
}

// EnsureDir creates path if needed and reports whether it already existed.
func EnsureDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return true, fmt.Errorf("%s exists and is not a directory", path)
		}
		return true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return false, os.MkdirAll(path, 0o755)
}

// Timer measures the wall time of a run.
type Timer struct {
	start time.Time
}

// StartTimer starts a Timer.
func StartTimer() Timer {
	return Timer{start: time.Now()}
}

// Elapsed is the time since the timer started.
func (t Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}
