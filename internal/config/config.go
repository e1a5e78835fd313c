package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultVerbosity = "info"
	DefaultPlatform  = "-1"
	DefaultLockDir   = "/tmp"
	DefaultKernel    = "kernel.cl"
)

type Config struct {
	Logger struct {
		Verbosity   string   `yaml:"verbosity"`
		OutputPaths []string `yaml:"outputPaths"`
	} `yaml:"logger"`
	Platform struct {
		// Preferred is a vendor key (nvidia, amd, intel, apple) or "-1" for the first one.
		Preferred string `yaml:"preferred"`
	} `yaml:"platform"`
	Lock struct {
		Dir      string `yaml:"dir"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"lock"`
	Simulation struct {
		// Path to a topology file. When set, the simulated compute API is used.
		Path string `yaml:"path"`
	} `yaml:"simulation"`
	Kernel struct {
		Path    string `yaml:"path"`
		Name    string `yaml:"name"`
		Options string `yaml:"options"`
		Global  []int  `yaml:"global"`
		Local   []int  `yaml:"local"`
	} `yaml:"kernel"`
	Metrics struct {
		ListenAddress string `yaml:"listenAddress"`
	} `yaml:"metrics"`
}

// Default returns a configuration holding only default values.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}
	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Logger.Verbosity == "" {
		c.Logger.Verbosity = DefaultVerbosity
	}
	if c.Platform.Preferred == "" {
		c.Platform.Preferred = DefaultPlatform
	}
	if c.Lock.Dir == "" {
		c.Lock.Dir = DefaultLockDir
	}
	if c.Kernel.Path == "" {
		c.Kernel.Path = DefaultKernel
	}
	if len(c.Kernel.Global) == 0 {
		c.Kernel.Global = []int{1024, 1024}
	}
	if len(c.Kernel.Local) == 0 {
		c.Kernel.Local = []int{16, 16}
	}
}

func (c *Config) validate() error {
	if len(c.Kernel.Global) != 2 {
		return fmt.Errorf("kernel.global must have 2 dimensions, got %d", len(c.Kernel.Global))
	}
	if len(c.Kernel.Local) != 2 {
		return fmt.Errorf("kernel.local must have 2 dimensions, got %d", len(c.Kernel.Local))
	}
	return nil
}
