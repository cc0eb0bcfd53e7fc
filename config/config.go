// Package config loads render settings from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds every setting except the image dimensions, which always come from
// the command line.
type Config struct {
	Workers   int        `yaml:"workers"`   // ranks for the local transport
	Strategy  string     `yaml:"strategy"`  // block, cyclic
	Pattern   string     `yaml:"pattern"`   // gather, sendrecv
	Transport string     `yaml:"transport"` // local, rpc, nats
	Output    string     `yaml:"output"`    // .png, .bmp or .tiff
	Palette   string     `yaml:"palette"`   // hsv, gray, wheel
	LogLevel  string     `yaml:"log_level"` // debug, info, warn, error
	Summary   bool       `yaml:"summary"`
	Preview   bool       `yaml:"preview"`
	RPC       RPCConfig  `yaml:"rpc"`
	NATS      NATSConfig `yaml:"nats"`
}

// RPCConfig contains net/rpc transport settings
type RPCConfig struct {
	Addr         string `yaml:"addr"`
	DialTimeoutS int    `yaml:"dial_timeout_s"`
}

// NATSConfig contains NATS transport settings
type NATSConfig struct {
	URL      string `yaml:"url"`
	Job      string `yaml:"job"`
	Compress bool   `yaml:"compress"`
}

// Default returns a validated configuration with every default filled in.
func Default() *Config {
	cfg := &Config{}
	_ = Validate(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
