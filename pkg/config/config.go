// Package config provides configuration loading and management for uct2ccf.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// TransformKind selects the transform family solved from landmarks:
		// "rigid", "similarity" or "affine"
		TransformKind string `yaml:"transformKind"`

		// MovingSpacingUM is the subject voxel size in micrometers, (Z, Y, X) order
		MovingSpacingUM [3]float64 `yaml:"movingSpacingUM"`

		// FixedSpacingUM is the reference atlas voxel size in micrometers, (Z, Y, X) order
		FixedSpacingUM [3]float64 `yaml:"fixedSpacingUM"`

		// NumCores specifies how many CPU cores to use for resampling
		NumCores int `yaml:"numCores"`
	} `yaml:"registration"`

	// Refinement parameters for the intensity-based stage
	Refinement struct {
		// Enabled turns mutual-information refinement on
		Enabled bool `yaml:"enabled"`

		// MaxIterations caps the optimizer iterations per pyramid level
		MaxIterations int `yaml:"maxIterations"`

		// Tolerance is the metric convergence tolerance
		Tolerance float64 `yaml:"tolerance"`

		// ShrinkFactors lists per-level downsampling factors, coarsest first
		ShrinkFactors []int `yaml:"shrinkFactors"`

		// SmoothingSigmas lists per-level Gaussian sigmas in mm
		SmoothingSigmas []float64 `yaml:"smoothingSigmas"`

		// SamplingPercent is the fraction of voxels sampled for the metric
		SamplingPercent float64 `yaml:"samplingPercent"`

		// HistogramBins is the joint histogram size per axis
		HistogramBins int `yaml:"histogramBins"`

		// Seed makes the random sampling reproducible
		Seed uint64 `yaml:"seed"`
	} `yaml:"refinement"`

	// Midline plane estimation parameters
	Midline struct {
		// Reverse flips the rotation direction applied after plane fitting
		Reverse bool `yaml:"reverse"`

		// AngleThreshold is the rotation angle in radians below which the
		// volume is left untouched
		AngleThreshold float64 `yaml:"angleThreshold"`
	} `yaml:"midline"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default registration parameters
	cfg.Registration.TransformKind = "similarity"
	cfg.Registration.MovingSpacingUM = [3]float64{50, 50, 50}
	cfg.Registration.FixedSpacingUM = [3]float64{25, 25, 25}
	cfg.Registration.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default refinement parameters
	cfg.Refinement.Enabled = false
	cfg.Refinement.MaxIterations = 100
	cfg.Refinement.Tolerance = 1e-6
	cfg.Refinement.ShrinkFactors = []int{4, 2, 1}
	cfg.Refinement.SmoothingSigmas = []float64{2, 1, 0}
	cfg.Refinement.SamplingPercent = 0.01
	cfg.Refinement.HistogramBins = 50
	cfg.Refinement.Seed = 1

	// Set default midline parameters
	cfg.Midline.Reverse = false
	cfg.Midline.AngleThreshold = 0.001

	// Set default output parameters
	cfg.Output.Verbose = true

	return cfg
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
