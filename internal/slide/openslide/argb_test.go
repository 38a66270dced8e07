package openslide

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgbToRGBA(t *testing.T) {
	img := argbToRGBA([]uint32{0xff102030, 0x00000000, 0x80400000, 0xff000000}, 2, 2)

	assert.Equal(t, image.Rect(0, 0, 2, 2), img.Bounds())
	assert.Equal(t, color.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{R: 0x40, A: 0x80}, img.RGBAAt(0, 1))
	assert.Equal(t, color.RGBA{A: 0xff}, img.RGBAAt(1, 1))
}

func TestExtensionsAreLowerCaseWithDot(t *testing.T) {
	for _, ext := range Extensions {
		assert.Regexp(t, `^\.[a-z]+$`, ext)
	}
}
