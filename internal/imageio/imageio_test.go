package imageio

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestSaveLoadPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "tile.png")
	src := solid(6, 4, color.RGBA{R: 200, G: 10, B: 30, A: 255})

	require.NoError(t, Save(src, path, 0))

	w, h, err := DecodeSize(path)
	require.NoError(t, err)
	assert.Equal(t, 6, w)
	assert.Equal(t, 4, h)

	img, err := Load(path)
	require.NoError(t, err)
	r, g, b, a := img.At(3, 2).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	assert.Equal(t, uint32(10), g>>8)
	assert.Equal(t, uint32(30), b>>8)
	assert.Equal(t, uint32(255), a>>8)
}

func TestSaveRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tile.xyz")
	assert.False(t, IsSupportedOutput(path))
	assert.Error(t, Save(solid(1, 1, color.White), path, 90))
	assert.True(t, IsSupportedOutput("a.JPG"))
}

func TestToRGBFlattensOntoBlack(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 12, 11))
	src.Set(10, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	dst := ToRGB(src)

	assert.Equal(t, image.Rect(0, 0, 2, 1), dst.Bounds())
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, dst.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{A: 255}, dst.RGBAAt(1, 0))
}

func TestResize(t *testing.T) {
	src := solid(40, 20, color.RGBA{G: 128, A: 255})

	dst := Resize(src, 10, 5)
	assert.Equal(t, image.Rect(0, 0, 10, 5), dst.Bounds())
	assert.Equal(t, color.RGBA{G: 128, A: 255}, dst.RGBAAt(5, 2))

	tiny := Resize(src, 0, 0)
	assert.Equal(t, image.Rect(0, 0, 1, 1), tiny.Bounds())
}

func TestCrop(t *testing.T) {
	src := solid(8, 8, color.White)

	c := Crop(src, image.Rect(6, 6, 12, 12))
	require.NotNil(t, c)
	assert.Equal(t, image.Rect(0, 0, 2, 2), c.Bounds())

	assert.Nil(t, Crop(src, image.Rect(20, 20, 30, 30)))
}

func TestExt(t *testing.T) {
	assert.Equal(t, "png", Ext(".PNG"))
	assert.Equal(t, "jpeg", Ext("jpeg"))
}
