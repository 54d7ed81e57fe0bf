// Package config loads controller configuration from a YAML file with
// environment fallbacks. The UVC_DEVICE environment variable keeps its
// historical comma-separated list semantics; the device factory itself
// only ever sees the resolved Config value.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxDevices bounds the number of gadget endpoints one device may own.
const MaxDevices = 32

// Memory backing names for the proxy shared-memory region.
const (
	MemoryMemfd = "memfd"
	MemoryShm   = "shm"
)

// Config carries everything the controller needs at startup.
type Config struct {
	// Devices lists the gadget character devices, e.g. /dev/video0.
	Devices []string `yaml:"devices"`
	// BufferCount is the MMAP slot count requested on STREAMON.
	BufferCount uint32 `yaml:"buffer_count"`
	// SocketPath, when set, switches frame delivery to the proxy
	// connection bound at this unix socket path.
	SocketPath string `yaml:"socket_path"`
	// Memory selects the proxy shared-memory backing: memfd or shm.
	Memory string `yaml:"memory"`
	// DebugDir, when set, receives periodic raw frame dumps.
	DebugDir string `yaml:"debug_dir"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// MetricsAddr, when set, serves prometheus metrics over HTTP.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		BufferCount: 2,
		Memory:      MemoryMemfd,
		LogLevel:    "info",
	}
}

// Load reads the YAML file at path (optional, may be empty), applies
// environment fallbacks and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv fills fields the file left empty from the environment.
// UVC_DEVICE is a comma-separated device list, UVC_SOCKET a proxy socket
// path.
func (c *Config) applyEnv() {
	if len(c.Devices) == 0 {
		if list := os.Getenv("UVC_DEVICE"); list != "" {
			for _, p := range strings.Split(list, ",") {
				if p = strings.TrimSpace(p); p != "" {
					c.Devices = append(c.Devices, p)
				}
			}
		}
	}
	if c.SocketPath == "" {
		c.SocketPath = os.Getenv("UVC_SOCKET")
	}
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 && c.SocketPath == "" {
		return fmt.Errorf("config: no devices configured (set devices or UVC_DEVICE)")
	}
	if len(c.Devices) > MaxDevices {
		return fmt.Errorf("config: %d devices exceeds limit of %d", len(c.Devices), MaxDevices)
	}
	if c.BufferCount == 0 {
		return fmt.Errorf("config: buffer_count must be positive")
	}
	switch c.Memory {
	case MemoryMemfd, MemoryShm:
	default:
		return fmt.Errorf("config: unknown memory backing %q", c.Memory)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}
