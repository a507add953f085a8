// ============================================================================
// Rawbatch Configuration - YAML Config Management
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Typed configuration with defaults, loaded from a YAML file.
//
// Every field has a working default so the tool runs without a config file;
// `rawbatch configure` writes a commented default file for users who want to
// tune the performance section to their hardware.
//
// ============================================================================

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no --config flag is given.
const DefaultPath = "rawbatch.yaml"

// Config maps the YAML config file. The performance section mirrors the
// worker profile generator inputs; see internal/profile.
type Config struct {
	Renderer struct {
		// CLIPath is the external renderer executable (darktable-cli).
		CLIPath string `yaml:"cli_path"`
	} `yaml:"renderer"`

	Output struct {
		Width       int `yaml:"width"`
		Height      int `yaml:"height"`
		JPEGQuality int `yaml:"jpeg_quality"`
	} `yaml:"output"`

	Performance struct {
		// MaxWorkers caps concurrent renderer instances; multiple instances
		// beyond the thread budget make the renderer hang.
		MaxWorkers int `yaml:"max_workers"`
		// GPUInstances caps instances launched with the accelerator enabled.
		GPUInstances int `yaml:"gpu_instances"`
		// GPUThreadWidth/CPUThreadWidth are CPU threads per instance kind.
		GPUThreadWidth int `yaml:"gpu_thread_width"`
		CPUThreadWidth int `yaml:"cpu_thread_width"`
		// ReservedCores stay with the OS and background tasks.
		ReservedCores int `yaml:"reserved_cores"`
		MaxRetry      int `yaml:"max_retry"`
	} `yaml:"performance"`

	Updates struct {
		CheckUpdates bool `yaml:"check_updates"`
		CacheDays    int  `yaml:"cache_days"`
	} `yaml:"updates"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.Renderer.CLIPath = "/usr/bin/darktable-cli"
	cfg.Output.Width = 2048
	cfg.Output.Height = 2048
	cfg.Output.JPEGQuality = 90
	cfg.Performance.MaxWorkers = 3
	cfg.Performance.GPUInstances = 2
	cfg.Performance.GPUThreadWidth = 4
	cfg.Performance.CPUThreadWidth = 4
	cfg.Performance.ReservedCores = 4
	cfg.Performance.MaxRetry = 5
	cfg.Updates.CheckUpdates = true
	cfg.Updates.CacheDays = 7
	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 9090
	return cfg
}

// Load reads the config at path, falling back to defaults for a missing file.
// A present but unparsable file is an error; silently running with defaults
// against a broken config hides user mistakes.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// defaultFile is the commented config written by `rawbatch configure`.
// Hand-written rather than marshalled so the comments survive.
const defaultFile = `renderer:
  # Path to the darktable-cli executable.
  cli_path: /usr/bin/darktable-cli

output:
  width: 2048
  height: 2048
  jpeg_quality: 90

performance:
  # Max number of renderer instances the system can spawn.
  max_workers: 3
  # Max limit of instances assigned GPU affinity; the rest fall back to
  # CPU-only profiles.
  gpu_instances: 2
  # CPU threads pinned to each GPU instance / each CPU-only instance.
  gpu_thread_width: 4
  cpu_thread_width: 4
  # CPU threads reserved for the OS and background tasks.
  reserved_cores: 4
  max_retry: 5

updates:
  check_updates: true
  cache_days: 7

metrics:
  enabled: false
  port: 9090
`

// WriteDefault writes the commented default config file to path.
func WriteDefault(path string) error {
	if err := os.WriteFile(path, []byte(defaultFile), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
