package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every configuration problem found by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full configuration of an extraction run.
type Config struct {
	SplitFile string `yaml:"split_file"`
	Split     string `yaml:"split"`

	Storage    StorageConfig    `yaml:"storage"`
	Frames     FramesConfig     `yaml:"frames"`
	Scratch    ScratchConfig    `yaml:"scratch"`
	Timeouts   TimeoutConfig    `yaml:"timeouts"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`

	// OnError decides what a storage failure does to the run: "stop" | "skip".
	OnError string `yaml:"on_error"`
	// Progress draws a progress bar on stderr.
	Progress bool `yaml:"progress"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
	Type string `yaml:"type"` // "ordered-map" | "hierarchical"

	// MmapSize pre-sizes the ordered-map address space, in bytes.
	MmapSize int `yaml:"mmap_size"`

	// S3-compatible endpoint and region for s3:// hierarchical stores.
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
}

// FramesConfig holds the raw scale and sampling options as they come from
// flags or YAML. Scale and Sample turn them into modes.
type FramesConfig struct {
	AsIs     bool    `yaml:"asis"`
	Short    int     `yaml:"short"`
	Height   int     `yaml:"height"`
	Width    int     `yaml:"width"`
	Skip     int     `yaml:"skip"`
	NumFrame int     `yaml:"num_frame"`
	Interval float64 `yaml:"interval"`
}

type ScratchConfig struct {
	Dir string `yaml:"dir"`
}

type TimeoutConfig struct {
	Probe  time.Duration `yaml:"probe"`
	Decode time.Duration `yaml:"decode"`
}

type CheckpointConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Resume  bool   `yaml:"resume"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

type MetricsConfig struct {
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

const (
	OnErrorStop = "stop"
	OnErrorSkip = "skip"
)

// Default returns a Config with every default applied.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			MmapSize: 1 << 30,
		},
		Frames: FramesConfig{
			Skip: 1,
		},
		Scratch: ScratchConfig{
			Dir: defaultScratchDir(),
		},
		Timeouts: TimeoutConfig{
			Probe:  30 * time.Second,
			Decode: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Namespace: "vid2frame",
		},
		OnError:  OnErrorStop,
		Progress: true,
	}
}

// Load reads a YAML config file on top of the defaults.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the whole configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.SplitFile == "" {
		errs = append(errs, errors.New("split_file is required"))
	}
	if c.Split == "" {
		errs = append(errs, errors.New("split is required"))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage path is required"))
	}
	if c.Storage.Type == "" {
		errs = append(errs, errors.New("storage type is required"))
	}
	if c.Storage.MmapSize < 0 {
		errs = append(errs, fmt.Errorf("mmap_size must not be negative, got %d", c.Storage.MmapSize))
	}
	if _, err := c.Frames.Scale(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Frames.Sample(); err != nil {
		errs = append(errs, err)
	}
	if c.Scratch.Dir == "" {
		errs = append(errs, errors.New("scratch dir is required"))
	}
	if c.Timeouts.Probe <= 0 || c.Timeouts.Decode <= 0 {
		errs = append(errs, errors.New("probe and decode timeouts must be positive"))
	}
	if c.OnError != OnErrorStop && c.OnError != OnErrorSkip {
		errs = append(errs, fmt.Errorf("on_error must be %q or %q, got %q", OnErrorStop, OnErrorSkip, c.OnError))
	}
	if c.Checkpoint.Resume && !c.Checkpoint.Enabled {
		errs = append(errs, errors.New("resume requires checkpoints to be enabled"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func defaultScratchDir() string {
	return os.TempDir() + string(os.PathSeparator) + "vid2frame"
}
