package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the fusegraph configuration file
// (~/.config/fusegraph/config.yaml). Numeric fields are pointers so we
// can distinguish "not set" from zero values.
type Config struct {
	// Step shape defaults
	InputSize  *int64 `yaml:"input_size"`
	Batch      *int64 `yaml:"batch"`
	NumUnits   *int64 `yaml:"num_units"`
	OutputSize *int64 `yaml:"output_size"`
	DType      string `yaml:"dtype"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "fusegraph", "config.yaml")
}

// applyStepConfig applies config file defaults to the step-shape flag
// variables when the corresponding CLI flag was not explicitly set.
func applyStepConfig(c *cli.Command, cfg Config) {
	if cfg.InputSize != nil && !c.IsSet("input-size") {
		inputSize = *cfg.InputSize
	}
	if cfg.Batch != nil && !c.IsSet("batch") {
		batch = *cfg.Batch
	}
	if cfg.NumUnits != nil && !c.IsSet("num-units") {
		numUnits = *cfg.NumUnits
	}
	if cfg.OutputSize != nil && !c.IsSet("output-size") {
		outputSize = *cfg.OutputSize
	}
	if cfg.DType != "" && !c.IsSet("dtype") {
		dtypeName = cfg.DType
	}
	applyLoggingConfig(c, cfg)
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	applyLoggingConfig(c, cfg)
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
