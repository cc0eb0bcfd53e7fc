package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid setting")

// Validate checks cfg and fills in defaults.
func Validate(cfg *Config) error {
	if cfg.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrInvalid, cfg.Workers)
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}

	cfg.Strategy = strings.ToLower(cfg.Strategy)
	switch cfg.Strategy {
	case "":
		cfg.Strategy = "cyclic"
	case "block", "cyclic", "joe", "susie":
	default:
		return fmt.Errorf("%w: strategy %q", ErrInvalid, cfg.Strategy)
	}

	cfg.Pattern = strings.ToLower(cfg.Pattern)
	switch cfg.Pattern {
	case "":
		cfg.Pattern = "gather"
	case "gather", "sendrecv", "send-recv", "p2p":
	default:
		return fmt.Errorf("%w: pattern %q", ErrInvalid, cfg.Pattern)
	}

	cfg.Transport = strings.ToLower(cfg.Transport)
	switch cfg.Transport {
	case "":
		cfg.Transport = "local"
	case "local", "rpc", "nats":
	default:
		return fmt.Errorf("%w: transport %q", ErrInvalid, cfg.Transport)
	}

	if cfg.Output == "" {
		cfg.Output = "mandelbrot.png"
	}
	if cfg.Palette == "" {
		cfg.Palette = "hsv"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log_level %q", ErrInvalid, cfg.LogLevel)
	}

	if cfg.RPC.Addr == "" {
		cfg.RPC.Addr = "127.0.0.1:8030"
	}
	if cfg.RPC.DialTimeoutS <= 0 {
		cfg.RPC.DialTimeoutS = 30
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = nats.DefaultURL
	}
	if cfg.NATS.Job == "" {
		cfg.NATS.Job = "default"
	}
	return nil
}
