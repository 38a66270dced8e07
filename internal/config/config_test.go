package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Default().Dataset, cfg.Dataset)
	assert.Equal(t, 16, cfg.ScaleFactor)
	assert.Equal(t, "png", cfg.ImageFormat)
	assert.Equal(t, 1024, cfg.TileSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slideprep.yaml")
	data := []byte(`dataset_dir: /srv/histopath
dataset: LN_test
scale_factor: 8
image_format: .JPG
workers: 3
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/histopath", cfg.DatasetDir)
	assert.Equal(t, "LN_test", cfg.Dataset)
	assert.Equal(t, 8, cfg.ScaleFactor)
	assert.Equal(t, "jpg", cfg.ImageFormat)
	assert.Equal(t, 3, cfg.WorkerCount())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 95, cfg.JPEGQuality)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scale_factor: [1, 2"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SLIDEPREP_DATASET_DIR", "/mnt/slides")
	t.Setenv("SLIDEPREP_DATASET", "other")
	t.Setenv("SLIDEPREP_SCALE_FACTOR", "32")
	t.Setenv("SLIDEPREP_WORKERS", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/mnt/slides", cfg.DatasetDir)
	assert.Equal(t, "other", cfg.Dataset)
	assert.Equal(t, 32, cfg.ScaleFactor)
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, runtime.NumCPU(), cfg.WorkerCount())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero scale", func(c *Config) { c.ScaleFactor = 0 }},
		{"bad format", func(c *Config) { c.ImageFormat = "gif" }},
		{"no dataset", func(c *Config) { c.Dataset = "" }},
		{"quality", func(c *Config) { c.JPEGQuality = 101 }},
		{"tile size", func(c *Config) { c.TileSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DatasetDir = "/data"
	cfg.Dataset = "LN"

	assert.Equal(t, filepath.Join("/data", "raw", "LN"), cfg.RawDir())
	assert.Equal(t, filepath.Join("/data", "preprocessed", "LN", "16X"), cfg.ConvertedDir(16))
	assert.Equal(t, filepath.Join("/data", "stats", "LN"), cfg.StatDir())
	assert.Equal(t, filepath.Join("/data", "annotation", "LN"), cfg.AnnotationDir())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "slideprep.yaml")
	cfg := Default()
	cfg.ScaleFactor = 4
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.ScaleFactor)
}
