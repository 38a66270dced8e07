//go:build openslide

package openslide

/*
#cgo pkg-config: openslide
#include <stdlib.h>
#include <openslide.h>
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"unsafe"

	"github.com/pathokit/slideprep/internal/slide"
)

// ErrClosed is returned by reads after Close.
var ErrClosed = errors.New("openslide: slide closed")

func init() {
	slide.Register(slide.Backend{
		Name:       "openslide",
		Extensions: Extensions,
		Priority:   Priority,
		Open:       Open,
	})
}

// Source is an open OpenSlide handle. Reads may run concurrently; Close
// waits for them.
type Source struct {
	mu  sync.RWMutex
	osr *C.openslide_t

	path        string
	levels      int
	dims        []image.Point
	downsamples []float64
}

// Open opens path with OpenSlide.
func Open(path string) (slide.Source, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	osr := C.openslide_open(cpath)
	if osr == nil {
		return nil, fmt.Errorf("openslide: %s: unrecognized format", path)
	}
	if msg := C.openslide_get_error(osr); msg != nil {
		err := fmt.Errorf("openslide: %s: %s", path, C.GoString(msg))
		C.openslide_close(osr)
		return nil, err
	}

	s := &Source{osr: osr, path: path, levels: int(C.openslide_get_level_count(osr))}
	for level := 0; level < s.levels; level++ {
		var w, h C.int64_t
		C.openslide_get_level_dimensions(osr, C.int32_t(level), &w, &h)
		s.dims = append(s.dims, image.Pt(int(w), int(h)))
		s.downsamples = append(s.downsamples, float64(C.openslide_get_level_downsample(osr, C.int32_t(level))))
	}
	return s, nil
}

// lastError reports the sticky OpenSlide error, if any. Callers hold mu.
func (s *Source) lastError() error {
	if msg := C.openslide_get_error(s.osr); msg != nil {
		return fmt.Errorf("openslide: %s: %s", s.path, C.GoString(msg))
	}
	return nil
}

func (s *Source) Dimensions() image.Point { return s.dims[0] }

func (s *Source) LevelCount() int { return s.levels }

func (s *Source) LevelDimensions(level int) image.Point { return s.dims[level] }

func (s *Source) LevelDownsample(level int) float64 { return s.downsamples[level] }

func (s *Source) BestLevelForDownsample(ds float64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.osr == nil {
		return slide.BestLevel(s.downsamples, ds)
	}
	return int(C.openslide_get_best_level_for_downsample(s.osr, C.double(ds)))
}

func (s *Source) ReadRegion(ctx context.Context, x, y, level, w, h int) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", slide.ErrInvalidSize, w, h)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.osr == nil {
		return nil, ErrClosed
	}
	buf := make([]uint32, w*h)
	C.openslide_read_region(s.osr, (*C.uint32_t)(unsafe.Pointer(&buf[0])),
		C.int64_t(x), C.int64_t(y), C.int32_t(level), C.int64_t(w), C.int64_t(h))
	if err := s.lastError(); err != nil {
		return nil, err
	}
	return argbToRGBA(buf, w, h), nil
}

func cStrings(list **C.char) []string {
	if list == nil {
		return nil
	}
	var out []string
	for p := unsafe.Pointer(list); ; p = unsafe.Add(p, unsafe.Sizeof(list)) {
		s := *(**C.char)(p)
		if s == nil {
			return out
		}
		out = append(out, C.GoString(s))
	}
}

func (s *Source) AssociatedImages() (map[string]image.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.osr == nil {
		return nil, ErrClosed
	}
	images := make(map[string]image.Image)
	for _, name := range cStrings(C.openslide_get_associated_image_names(s.osr)) {
		cname := C.CString(name)
		var w, h C.int64_t
		C.openslide_get_associated_image_dimensions(s.osr, cname, &w, &h)
		if w <= 0 || h <= 0 {
			C.free(unsafe.Pointer(cname))
			continue
		}
		buf := make([]uint32, int(w)*int(h))
		C.openslide_read_associated_image(s.osr, cname, (*C.uint32_t)(unsafe.Pointer(&buf[0])))
		C.free(unsafe.Pointer(cname))
		if err := s.lastError(); err != nil {
			return nil, err
		}
		images[name] = argbToRGBA(buf, int(w), int(h))
	}
	return images, nil
}

func (s *Source) Properties() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	props := make(map[string]string)
	if s.osr == nil {
		return props
	}
	for _, name := range cStrings(C.openslide_get_property_names(s.osr)) {
		cname := C.CString(name)
		props[name] = C.GoString(C.openslide_get_property_value(s.osr, cname))
		C.free(unsafe.Pointer(cname))
	}
	return props
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.osr != nil {
		C.openslide_close(s.osr)
		s.osr = nil
	}
	return nil
}
