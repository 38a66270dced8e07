package dzi

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
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
			img.SetRGBA(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

// writePyramid lays out base as a Deep Zoom pyramid under dir and returns
// the descriptor path.
func writePyramid(t *testing.T, dir string, base *image.RGBA, tileSize, overlap int) string {
	t.Helper()
	path := filepath.Join(dir, "slide.dzi")
	b := base.Bounds()
	xmlDoc := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Image xmlns="http://schemas.microsoft.com/deepzoom/2008" Format="png" Overlap="%d" TileSize="%d">
  <Size Width="%d" Height="%d"/>
</Image>`, overlap, tileSize, b.Dx(), b.Dy())
	require.NoError(t, os.WriteFile(path, []byte(xmlDoc), 0o644))

	desc, err := ParseDescriptor(path)
	require.NoError(t, err)
	src := &Source{desc: desc}
	filesDir := filepath.Join(dir, "slide_files")
	for dz := 0; dz <= desc.MaxLevel(); dz++ {
		size := desc.LevelSize(dz)
		levelImg := base
		if dz != desc.MaxLevel() {
			levelImg = imageio.Resize(base, size.X, size.Y)
		}
		for row := 0; row*tileSize < size.Y; row++ {
			for col := 0; col*tileSize < size.X; col++ {
				tile := imageio.Crop(levelImg, src.tileRect(col, row, size))
				require.NoError(t, imageio.Save(tile, desc.TilePath(filesDir, dz, col, row), 0))
			}
		}
	}
	return path
}

func TestDescriptorGeometry(t *testing.T) {
	var d Descriptor
	d.Size.Width, d.Size.Height = 600, 400

	assert.Equal(t, 10, d.MaxLevel())
	assert.Equal(t, image.Pt(600, 400), d.LevelSize(10))
	assert.Equal(t, image.Pt(300, 200), d.LevelSize(9))
	assert.Equal(t, image.Pt(1, 1), d.LevelSize(0))
}

func TestReadRegionStitchesTiles(t *testing.T) {
	dir := t.TempDir()
	base := gradient(600, 400)
	path := writePyramid(t, dir, base, 256, 1)

	src, err := slide.OpenSource(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, image.Pt(600, 400), src.Dimensions())
	assert.Equal(t, 11, src.LevelCount())
	assert.Equal(t, image.Pt(300, 200), src.LevelDimensions(1))
	assert.Equal(t, 1, src.BestLevelForDownsample(3))

	region, err := src.ReadRegion(context.Background(), 100, 200, 0, 300, 150)
	require.NoError(t, err)
	for y := 0; y < 150; y++ {
		for x := 0; x < 300; x++ {
			if region.RGBAAt(x, y) != base.RGBAAt(100+x, 200+y) {
				t.Fatalf("pixel (%d,%d) differs", x, y)
			}
		}
	}

	edge, err := src.ReadRegion(context.Background(), 590, 0, 0, 20, 1)
	require.NoError(t, err)
	assert.Equal(t, base.RGBAAt(595, 0), edge.RGBAAt(5, 0))
	assert.Equal(t, color.RGBA{}, edge.RGBAAt(15, 0))
}

func TestMissingTileStaysTransparent(t *testing.T) {
	dir := t.TempDir()
	path := writePyramid(t, dir, gradient(600, 400), 256, 1)
	require.NoError(t, os.Remove(filepath.Join(dir, "slide_files", "10", "1_0.png")))

	src, err := Open(path)
	require.NoError(t, err)

	img, err := src.ReadRegion(context.Background(), 0, 0, 0, 600, 400)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(300, 100))
	assert.Equal(t, uint8(255), img.RGBAAt(100, 100).A)
}

func TestAssociatedThumbnail(t *testing.T) {
	dir := t.TempDir()
	path := writePyramid(t, dir, gradient(600, 400), 128, 0)

	src, err := Open(path)
	require.NoError(t, err)
	assoc, err := src.AssociatedImages()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 600, 400), assoc[slide.AssociatedThumbnail].Bounds())
}

func TestOpenRequiresTiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.dzi")
	require.NoError(t, os.WriteFile(path, []byte(`<Image Format="jpg" Overlap="0" TileSize="254"><Size Width="10" Height="10"/></Image>`), 0o644))

	_, err := Open(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`<Image Format="jpg" TileSize="254"><Size Width="0" Height="10"/></Image>`), 0o644))
	_, err = ParseDescriptor(path)
	assert.Error(t, err)
}
