// Package config holds slideprep's configuration: where the dataset lives,
// which dataset is chosen, the conversion scale and output format.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all slideprep configuration.
type Config struct {
	// Dataset layout
	DatasetDir string `yaml:"dataset_dir"`
	Dataset    string `yaml:"dataset"`

	// Conversion
	ScaleFactor    int    `yaml:"scale_factor"`
	ImageFormat    string `yaml:"image_format"` // png, jpg, jpeg
	TileSize       int    `yaml:"tile_size"`
	Workers        int    `yaml:"workers"` // 0 = one per CPU
	ForceReconvert bool   `yaml:"force_reconvert"`
	FailFast       bool   `yaml:"fail_fast"`
	JPEGQuality    int    `yaml:"jpeg_quality"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DatasetDir:  "data",
		Dataset:     "LN20210301_201slides",
		ScaleFactor: 16,
		ImageFormat: "png",
		TileSize:    1024,
		JPEGQuality: 95,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid config: %w", err)
			}
		}
	}
	cfg.applyEnvOverrides()
	cfg.ensureDefaults()
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("SLIDEPREP_DATASET_DIR"); dir != "" {
		c.DatasetDir = dir
	}
	if name := os.Getenv("SLIDEPREP_DATASET"); name != "" {
		c.Dataset = name
	}
	if v := os.Getenv("SLIDEPREP_SCALE_FACTOR"); v != "" {
		if scale, err := strconv.Atoi(v); err == nil {
			c.ScaleFactor = scale
		}
	}
	if v := os.Getenv("SLIDEPREP_WORKERS"); v != "" {
		if workers, err := strconv.Atoi(v); err == nil {
			c.Workers = workers
		}
	}
}

func (c *Config) ensureDefaults() {
	if c.TileSize <= 0 {
		c.TileSize = 1024
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 95
	}
	c.ImageFormat = strings.ToLower(strings.TrimPrefix(c.ImageFormat, "."))
	if c.ImageFormat == "" {
		c.ImageFormat = "png"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the config for values the pipeline cannot work with.
func (c *Config) Validate() error {
	if c.DatasetDir == "" {
		return errors.New("dataset_dir is required")
	}
	if c.Dataset == "" {
		return errors.New("dataset is required")
	}
	if c.ScaleFactor <= 0 {
		return fmt.Errorf("scale_factor must be positive, got %d", c.ScaleFactor)
	}
	switch c.ImageFormat {
	case "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("unsupported image_format %q", c.ImageFormat)
	}
	if c.TileSize <= 0 {
		return fmt.Errorf("tile_size must be positive, got %d", c.TileSize)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be within 1..100, got %d", c.JPEGQuality)
	}
	return nil
}

// WorkerCount resolves Workers, 0 meaning one per CPU.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

// RawDir is where the chosen dataset's slides live.
func (c *Config) RawDir() string {
	return filepath.Join(c.DatasetDir, "raw", c.Dataset)
}

// ConvertedDir is the output root for slides converted at scale.
func (c *Config) ConvertedDir(scale int) string {
	return filepath.Join(c.DatasetDir, "preprocessed", c.Dataset, fmt.Sprintf("%dX", scale))
}

// StatDir is where statistics logs and plots are written.
func (c *Config) StatDir() string {
	return filepath.Join(c.DatasetDir, "stats", c.Dataset)
}

// AnnotationDir holds one ASAP XML file per annotated slide.
func (c *Config) AnnotationDir() string {
	return filepath.Join(c.DatasetDir, "annotation", c.Dataset)
}
