// Package config provides configuration loading and management for the fusion engine.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
// It is passed by value into the fusion control and engines and is not
// modified after Validate.
type Config struct {
	// Fusion parameters
	Fusion struct {
		// Scale is the integer downsampling factor of the output grid
		Scale int `yaml:"scale"`

		// CropOffset is the origin of the crop box in world units, relative to the fused bounds
		CropOffset [3]int `yaml:"cropOffset,flow"`

		// CropSize is the size of the crop box in world units; 0 on an axis means automatic
		CropSize [3]int `yaml:"cropSize,flow"`

		// NumThreads specifies how many workers each parallel stage uses
		NumThreads int `yaml:"numThreads"`

		// ParallelViewThreshold is the largest view count fused with every view resident
		ParallelViewThreshold int `yaml:"parallelViewThreshold"`

		// ViewsPerBatch is how many views the sequential engines keep resident at once
		ViewsPerBatch int `yaml:"viewsPerBatch"`

		// Method is one of "blend", "max" or "predeconvolution"
		Method string `yaml:"method"`

		// MultipleOutput produces one output per view instead of one fused volume
		MultipleOutput bool `yaml:"multipleOutput"`

		// Interpolation is "linear" or "nearest"
		Interpolation string `yaml:"interpolation"`

		// Timepoint is substituted into output names
		Timepoint int `yaml:"timepoint"`
	} `yaml:"fusion"`

	// Blending controls the combined (cross-view) weighting
	Blending struct {
		// Linear enables blending at view borders; when false all overlapping views count equally
		Linear bool `yaml:"linear"`

		// Mode is "border" (distance to border) or "cosine" (cosine ramp)
		Mode string `yaml:"mode"`

		// Alpha is the exponent applied to the border-distance weight
		Alpha float64 `yaml:"alpha"`

		// MarginPercent is the ramp width of the cosine blend as a percentage of the view extent
		MarginPercent float64 `yaml:"marginPercent"`

		// Border is the number of voxels at each view edge that receive zero weight in cosine mode
		Border float64 `yaml:"border"`
	} `yaml:"blending"`

	// Content controls the isolated (per-view) content-based weighting
	Content struct {
		Entropy       bool    `yaml:"entropy"`
		Gauss         bool    `yaml:"gauss"`
		WindowRadius  int     `yaml:"windowRadius"`
		HistogramBins int     `yaml:"histogramBins"`
		Sigma1        float64 `yaml:"sigma1"`
		Sigma2        float64 `yaml:"sigma2"`
	} `yaml:"content"`

	// Storage selects how large volumes are allocated
	Storage struct {
		// Factory is "array" or "limited"
		Factory string `yaml:"factory"`

		// MaxVoxels is the total voxel budget of the limited factory
		MaxVoxels int64 `yaml:"maxVoxels"`
	} `yaml:"storage"`

	// Output parameters
	Output struct {
		// Write saves results as TIFF slice sequences
		Write bool `yaml:"write"`

		// Show hands results to the display collaborator
		Show bool `yaml:"show"`

		// Directory is where written results go
		Directory string `yaml:"directory"`

		// NamePattern supports {t}, {c} and {a} for timepoint, channel and angle
		NamePattern string `yaml:"namePattern"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Fusion.Scale = 1
	cfg.Fusion.NumThreads = runtime.NumCPU() // Use all available cores by default
	cfg.Fusion.ParallelViewThreshold = 4
	cfg.Fusion.ViewsPerBatch = 2
	cfg.Fusion.Method = "blend"
	cfg.Fusion.Interpolation = "linear"

	cfg.Blending.Linear = true
	cfg.Blending.Mode = "border"
	cfg.Blending.Alpha = 1.5
	cfg.Blending.MarginPercent = 10
	cfg.Blending.Border = 0

	cfg.Content.WindowRadius = 2
	cfg.Content.HistogramBins = 256
	cfg.Content.Sigma1 = 2.0
	cfg.Content.Sigma2 = 4.0

	cfg.Storage.Factory = "array"

	cfg.Output.Write = true
	cfg.Output.Directory = "fused"
	cfg.Output.NamePattern = "img_tl{t}_ch{c}_angle{a}"
	cfg.Output.Verbose = true

	return cfg
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	f := c.Fusion
	if f.Scale < 1 {
		return fmt.Errorf("fusion.scale must be >= 1, got %d", f.Scale)
	}
	for d := 0; d < 3; d++ {
		if f.CropSize[d] < 0 {
			return fmt.Errorf("fusion.cropSize[%d] must not be negative, got %d", d, f.CropSize[d])
		}
		if f.CropSize[d] > 0 && f.CropSize[d] < f.Scale {
			return fmt.Errorf("fusion.cropSize[%d]=%d is smaller than the scale %d", d, f.CropSize[d], f.Scale)
		}
	}
	if f.ViewsPerBatch < 1 {
		return fmt.Errorf("fusion.viewsPerBatch must be >= 1, got %d", f.ViewsPerBatch)
	}
	switch f.Method {
	case "blend", "max", "predeconvolution":
	default:
		return fmt.Errorf("fusion.method %q is not one of blend, max, predeconvolution", f.Method)
	}
	switch f.Interpolation {
	case "linear", "nearest":
	default:
		return fmt.Errorf("fusion.interpolation %q is not one of linear, nearest", f.Interpolation)
	}

	switch c.Blending.Mode {
	case "border", "cosine":
	default:
		return fmt.Errorf("blending.mode %q is not one of border, cosine", c.Blending.Mode)
	}
	if c.Blending.Alpha <= 0 {
		return fmt.Errorf("blending.alpha must be positive, got %g", c.Blending.Alpha)
	}
	if c.Blending.MarginPercent < 0 || c.Blending.MarginPercent > 50 {
		return fmt.Errorf("blending.marginPercent must be within [0, 50], got %g", c.Blending.MarginPercent)
	}

	if c.Content.Entropy {
		if c.Content.WindowRadius < 1 || c.Content.HistogramBins < 2 {
			return fmt.Errorf("content entropy needs windowRadius >= 1 and histogramBins >= 2")
		}
	}
	if c.Content.Gauss && (c.Content.Sigma1 <= 0 || c.Content.Sigma2 <= 0) {
		return fmt.Errorf("content gauss needs positive sigma1 and sigma2")
	}

	switch c.Storage.Factory {
	case "array":
	case "limited":
		if c.Storage.MaxVoxels <= 0 {
			return fmt.Errorf("storage.maxVoxels must be positive for the limited factory")
		}
	default:
		return fmt.Errorf("storage.factory %q is not one of array, limited", c.Storage.Factory)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
