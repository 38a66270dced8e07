package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pathokit/slideprep/internal/config"
	"github.com/pathokit/slideprep/internal/events"
	"github.com/pathokit/slideprep/internal/imageio"
	"github.com/pathokit/slideprep/internal/slide/slidetest"
)

const annotationXML = `<?xml version="1.0"?>
<ASAP_Annotations>
	<Annotations>
		<Annotation Name="Annotation 0" Type="Polygon" PartOfGroup="positive" Color="#F4FA58">
			<Coordinates>
				<Coordinate Order="0" X="32" Y="32" />
				<Coordinate Order="1" X="96" Y="32" />
				<Coordinate Order="2" X="96" Y="96" />
				<Coordinate Order="3" X="32" Y="96" />
			</Coordinates>
		</Annotation>
	</Annotations>
	<AnnotationGroups>
		<Group Name="positive" PartOfGroup="None" Color="#64FE2E" />
	</AnnotationGroups>
</ASAP_Annotations>`

func TestMain(m *testing.M) {
	slidetest.Register()
	os.Exit(m.Run())
}

// setupDataset points the globals at a temporary dataset holding
// case/a.fake (320x160) with annotations and b.fake (64x48).
func setupDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg = config.Default()
	cfg.DatasetDir = dir
	cfg.Dataset = "ds"
	logger = zap.NewNop()
	ev = events.Discard
	configPath = filepath.Join(dir, "slideprep.yaml")

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.RawDir(), "case"), 0o755))
	require.NoError(t, slidetest.WriteDescriptor(filepath.Join(cfg.RawDir(), "case", "a.fake"), 320, 160, "1", "4", "16"))
	require.NoError(t, slidetest.WriteDescriptor(filepath.Join(cfg.RawDir(), "b.fake"), 64, 48, "1", "4"))
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.AnnotationDir(), "case"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.AnnotationDir(), "case", "a.xml"), []byte(annotationXML), 0o644))
	return dir
}

// testCommand returns a command without flags whose output lands in buf.
func testCommand(buf *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	return cmd
}

func TestListAndInfo(t *testing.T) {
	setupDataset(t)
	var buf bytes.Buffer

	listIndex = -1
	require.NoError(t, runList(testCommand(&buf), nil))
	assert.Equal(t, "0\tb.fake\n1\tcase/a.fake\n", buf.String())

	buf.Reset()
	listIndex = 1
	require.NoError(t, runList(testCommand(&buf), nil))
	assert.Equal(t, "case/a.fake\n", buf.String())
	listIndex = -1

	buf.Reset()
	require.NoError(t, runInfo(testCommand(&buf), []string{"1"}))
	assert.Contains(t, buf.String(), "Pixels: 51,200")
}

func TestInfoEmitsResultEvent(t *testing.T) {
	setupDataset(t)
	var buf bytes.Buffer
	ev = events.NewWriter(&buf)
	t.Cleanup(func() { ev = events.Discard })

	require.NoError(t, runInfo(testCommand(&bytes.Buffer{}), []string{"b.fake"}))
	assert.Contains(t, buf.String(), `"type":"result"`)
	assert.Contains(t, buf.String(), `"width":64`)
}

func TestEventsKeepStdoutJSON(t *testing.T) {
	setupDataset(t)
	require.NoError(t, cfg.Save(configPath))
	t.Cleanup(func() {
		emitEvents = false
		ev = events.Discard
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"--config", configPath, "--events", "convert", "--seed", "1"})
	require.NoError(t, rootCmd.Execute())

	var kinds []string
	sc := bufio.NewScanner(&stdout)
	for sc.Scan() {
		var e events.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e), "stdout line %q", sc.Text())
		kinds = append(kinds, e.Type)
	}
	require.NoError(t, sc.Err())
	require.NotEmpty(t, kinds)
	assert.Contains(t, kinds, "progress")
	assert.Equal(t, "result", kinds[len(kinds)-1])
	assert.Contains(t, stderr.String(), "Converted 2/2 slides (0 failed)")
}

func TestConvert(t *testing.T) {
	setupDataset(t)
	var buf bytes.Buffer
	convertOpts.limit = 0
	convertOpts.report = filepath.Join(t.TempDir(), "report.json")
	t.Cleanup(func() { convertOpts.report = "" })
	cfg.ScaleFactor = 4

	require.NoError(t, runConvert(testCommand(&buf), nil))
	assert.Contains(t, buf.String(), "Converted 2/2 slides (0 failed)")
	assert.FileExists(t, convertOpts.report)

	w, h, err := imageio.DecodeSize(filepath.Join(cfg.ConvertedDir(4), "case", "a", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, 80, w)
	assert.Equal(t, 40, h)
}

func TestMaskAndOverlay(t *testing.T) {
	setupDataset(t)
	out := t.TempDir()

	maskOpts.out = filepath.Join(out, "mask.png")
	t.Cleanup(func() { maskOpts.out = "" })
	require.NoError(t, runMask(testCommand(&bytes.Buffer{}), []string{"case/a.fake"}))
	img, err := imageio.Load(maskOpts.out)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 10, img.Bounds().Dy())

	maskOpts.out = filepath.Join(out, "tile.png")
	maskOpts.window = windowFlags{x: 16, y: 16, width: 64}
	t.Cleanup(func() { maskOpts.window = windowFlags{} })
	require.NoError(t, runMask(testCommand(&bytes.Buffer{}), []string{"case/a.fake"}))
	tile, err := imageio.Load(maskOpts.out)
	require.NoError(t, err)
	assert.Equal(t, 64, tile.Bounds().Dx())
	assert.Equal(t, 64, tile.Bounds().Dy())

	overlayOpts.out = filepath.Join(out, "overlay.png")
	overlayOpts.scale = 4
	t.Cleanup(func() { overlayOpts.out, overlayOpts.scale = "", -1 })
	require.NoError(t, runOverlay(testCommand(&bytes.Buffer{}), []string{"case/a.fake"}))
	w, h, err := imageio.DecodeSize(overlayOpts.out)
	require.NoError(t, err)
	assert.Equal(t, 80, w)
	assert.Equal(t, 40, h)
}

func TestMaskWithoutAnnotations(t *testing.T) {
	setupDataset(t)
	err := runMask(testCommand(&bytes.Buffer{}), []string{"b.fake"})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRegion(t *testing.T) {
	setupDataset(t)
	regionOpts.out = filepath.Join(t.TempDir(), "region.png")
	regionOpts.window = windowFlags{x: 100, y: 20, width: 150, height: 100}
	regionOpts.scale = 1
	t.Cleanup(func() { regionOpts.out, regionOpts.window = "", windowFlags{} })

	require.NoError(t, runRegion(testCommand(&bytes.Buffer{}), []string{"case/a.fake"}))
	img, err := imageio.Load(regionOpts.out)
	require.NoError(t, err)
	assert.Equal(t, 150, img.Bounds().Dx())
	assert.Equal(t, 100, img.Bounds().Dy())

	regionOpts.window = windowFlags{x: 300, y: 150}
	require.NoError(t, runRegion(testCommand(&bytes.Buffer{}), []string{"case/a.fake"}))
	rest, err := imageio.Load(regionOpts.out)
	require.NoError(t, err)
	assert.Equal(t, 20, rest.Bounds().Dx())
	assert.Equal(t, 10, rest.Bounds().Dy())

	regionOpts.out = filepath.Join(t.TempDir(), "region.tiff")
	assert.Error(t, runRegion(testCommand(&bytes.Buffer{}), []string{"case/a.fake"}))
}

func TestStats(t *testing.T) {
	setupDataset(t)
	var buf bytes.Buffer
	statsScale = 0

	require.NoError(t, runStats(testCommand(&buf), nil))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, buf.String(), "case/a.fake")
	assert.FileExists(t, filepath.Join(cfg.StatDir(), "raw_file_info.log"))

	statsScale = -1
	t.Cleanup(func() { statsScale = 0 })
	assert.Error(t, runStats(testCommand(&bytes.Buffer{}), nil))
}

func TestConfigInitAndShow(t *testing.T) {
	setupDataset(t)
	var buf bytes.Buffer
	configForce = false

	require.NoError(t, runConfigInit(testCommand(&buf), nil))
	assert.FileExists(t, configPath)
	assert.Error(t, runConfigInit(testCommand(&buf), nil))

	configForce = true
	t.Cleanup(func() { configForce = false })
	require.NoError(t, runConfigInit(testCommand(&buf), nil))

	loaded, err := config.Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, config.Default().ScaleFactor, loaded.ScaleFactor)

	buf.Reset()
	require.NoError(t, runConfigShow(testCommand(&buf), nil))
	var shown config.Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &shown))
	assert.Equal(t, "ds", shown.Dataset)
}

func TestResolveItem(t *testing.T) {
	setupDataset(t)
	item, err := resolveItem("0")
	require.NoError(t, err)
	assert.Equal(t, "b.fake", item)

	item, err = resolveItem("case/a.fake")
	require.NoError(t, err)
	assert.Equal(t, "case/a.fake", item)

	_, err = resolveItem("7")
	assert.Error(t, err)
}
