// Package openslide reads vendor whole-slide formats through the OpenSlide C
// library. The reader needs cgo and libopenslide and is only compiled with
// the openslide build tag:
//
//	go build -tags openslide ./cmd/slideprep
//
// Without the tag the package registers nothing and the pure Go backends
// handle what they can.
package openslide

import (
	"image"
)

// Extensions are the file types OpenSlide is asked to open.
var Extensions = []string{".svs", ".tif", ".tiff", ".ndpi", ".vms", ".vmu", ".scn", ".mrxs", ".svslide", ".bif"}

// Priority puts OpenSlide ahead of the pure Go readers for shared extensions.
const Priority = 100

// argbToRGBA unpacks OpenSlide's premultiplied 0xAARRGGBB pixels. image.RGBA
// is premultiplied as well, so the channels are copied unchanged.
func argbToRGBA(buf []uint32, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, p := range buf[:w*h] {
		o := i * 4
		img.Pix[o+0] = uint8(p >> 16)
		img.Pix[o+1] = uint8(p >> 8)
		img.Pix[o+2] = uint8(p)
		img.Pix[o+3] = uint8(p >> 24)
	}
	return img
}
