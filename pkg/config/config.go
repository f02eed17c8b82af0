// Package config provides configuration loading and management for
// atlasfusion. It handles loading configuration from YAML files and provides
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"atlasfusion/pkg/fusion"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Fusion parameters
	Fusion struct {
		// VoteType selects the weighting scheme: unweighted, global, local,
		// block or patch_correlation
		VoteType string `yaml:"voteType"`

		// Sigma is the Gaussian smoothing scale (mm) of the local scheme
		Sigma float64 `yaml:"sigma"`

		// Epsilon regularizes the local scheme's denominator
		Epsilon float64 `yaml:"epsilon"`

		// Factor scales the global and block schemes
		Factor float64 `yaml:"factor"`

		// Gain controls the exponent sharpness of the block scheme
		Gain float64 `yaml:"gain"`

		// BlockSize is the block scheme's window size in voxels
		BlockSize int `yaml:"blockSize"`

		// Normalise divides local/block weight maps by their global maximum
		Normalise bool `yaml:"normalise"`

		// PatchWindowMM is the physical patch size of patch correlation
		PatchWindowMM float64 `yaml:"patchWindowMM"`

		// ResampledVoxelSizeMM is the downsampling target of patch correlation
		ResampledVoxelSizeMM float64 `yaml:"resampledVoxelSizeMM"`

		// Threshold zeroes combined-label voxels below it; 0 disables
		Threshold float64 `yaml:"threshold"`

		// SmoothSigma is the Gaussian scale applied to combined labels
		SmoothSigma float64 `yaml:"smoothSigma"`
	} `yaml:"fusion"`

	// STAPLE parameters
	Staple struct {
		// MaxIterations caps the EM loop
		MaxIterations int `yaml:"maxIterations"`

		// Tolerance is the per-voxel convergence threshold
		Tolerance float64 `yaml:"tolerance"`
	} `yaml:"staple"`

	// Postprocessing parameters
	Postprocess struct {
		// ProbabilityThreshold binarizes the consensus probability image
		ProbabilityThreshold float64 `yaml:"probabilityThreshold"`
	} `yaml:"postprocess"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default fusion parameters
	p := fusion.DefaultParams()
	cfg.Fusion.VoteType = "unweighted"
	cfg.Fusion.Sigma = p.Sigma
	cfg.Fusion.Epsilon = p.Epsilon
	cfg.Fusion.Factor = p.Factor
	cfg.Fusion.Gain = p.Gain
	cfg.Fusion.BlockSize = p.BlockSize
	cfg.Fusion.Normalise = false
	cfg.Fusion.PatchWindowMM = p.PatchWindowMM
	cfg.Fusion.ResampledVoxelSizeMM = p.ResampledVoxelSizeMM
	cfg.Fusion.Threshold = 1e-4
	cfg.Fusion.SmoothSigma = 1.0

	// Set default STAPLE parameters
	opts := fusion.DefaultStapleOptions()
	cfg.Staple.MaxIterations = opts.MaxIterations
	cfg.Staple.Tolerance = opts.Tolerance

	// Set default postprocessing parameters
	cfg.Postprocess.ProbabilityThreshold = 0.5

	// Set default output parameters
	cfg.Output.Verbose = true

	return cfg
}

// VoteParams converts the fusion section into the typed parameter bag used
// to construct vote schemes.
func (c *Config) VoteParams() fusion.Params {
	p := fusion.DefaultParams()
	p.Sigma = c.Fusion.Sigma
	p.Epsilon = c.Fusion.Epsilon
	p.Factor = c.Fusion.Factor
	p.Gain = c.Fusion.Gain
	p.BlockSize = c.Fusion.BlockSize
	if c.Fusion.Normalise {
		p.Norm = fusion.NormGlobalMax()
	} else {
		p.Norm = fusion.NormNone()
	}
	p.PatchWindowMM = c.Fusion.PatchWindowMM
	p.ResampledVoxelSizeMM = c.Fusion.ResampledVoxelSizeMM
	return p
}

// StapleOptions converts the staple section into EM loop controls.
func (c *Config) StapleOptions() fusion.StapleOptions {
	return fusion.StapleOptions{
		MaxIterations: c.Staple.MaxIterations,
		Tolerance:     c.Staple.Tolerance,
	}
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
