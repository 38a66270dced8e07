package flat

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathokit/slideprep/internal/imageio"
	"github.com/pathokit/slideprep/internal/slide"
)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	return img
}

func TestSyntheticLevels(t *testing.T) {
	src := FromImage("a.png", gradient(2100, 600))

	require.Equal(t, 2, src.LevelCount())
	assert.Equal(t, 4.0, src.LevelDownsample(1))
	assert.Equal(t, image.Pt(525, 150), src.LevelDimensions(1))
	assert.Equal(t, 1, src.BestLevelForDownsample(16))
	assert.Equal(t, 0, src.BestLevelForDownsample(2))

	small := FromImage("b.png", gradient(300, 200))
	assert.Equal(t, 1, small.LevelCount())
}

func TestReadRegion(t *testing.T) {
	base := gradient(2048, 300)
	src := FromImage("a.png", base)
	ctx := context.Background()

	tile, err := src.ReadRegion(ctx, 2038, 100, 0, 20, 5)
	require.NoError(t, err)
	for x := 0; x < 20; x++ {
		got := tile.RGBAAt(x, 2)
		if x < 10 {
			assert.Equal(t, base.RGBAAt(2038+x, 102), got)
		} else {
			assert.Equal(t, color.RGBA{}, got, "column %d lies outside the slide", x)
		}
	}

	lvl, err := src.ReadRegion(ctx, 0, 0, 1, 150, 75)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 150, 75), lvl.Bounds())
	assert.Equal(t, uint8(255), lvl.RGBAAt(149, 74).A)

	_, err = src.ReadRegion(ctx, 0, 0, 5, 1, 1)
	assert.Error(t, err)
}

func TestOpenRegistered(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slide.png")
	require.NoError(t, imageio.Save(gradient(1200, 1100), path, 0))

	src, err := slide.OpenSource(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, image.Pt(1200, 1100), src.Dimensions())
	assoc, err := src.AssociatedImages()
	require.NoError(t, err)
	thumb := assoc[slide.AssociatedThumbnail]
	require.NotNil(t, thumb)
	assert.Equal(t, 1024, thumb.Bounds().Dx())
	assert.Equal(t, "png", src.Properties()["flat.format"])
}
