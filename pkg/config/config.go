// Package config handles configuration for uia2-server.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/uia2-server/pkg/lifecycle"
	"github.com/devicelab-dev/uia2-server/pkg/settings"
)

// Defaults.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 6790
	DefaultWakeLockDir     = "/sys/power"
	DefaultPowerSupplyFile = "/sys/class/power_supply/usb/online"
)

// Config represents the server configuration (uia2-server.yaml).
type Config struct {
	// Listener
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Logging
	LogFile  string `yaml:"logFile"`
	LogLevel string `yaml:"logLevel"`

	// Device integration
	WakeLockDir     string `yaml:"wakeLockDir"`
	WakeDisplay     *bool  `yaml:"wakeDisplay"`
	PowerSupplyFile string `yaml:"powerSupplyFile"`

	// Tree is a UI tree fixture served instead of a device.
	Tree string `yaml:"tree"`

	Metrics bool `yaml:"metrics"`

	// Settings override the defaults of every new session.
	Settings map[string]interface{} `yaml:"settings"`
}

// Load loads configuration from a file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided config file
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromDir looks for uia2-server.yaml or uia2-server.yml in the directory.
func LoadFromDir(dir string) (*Config, error) {
	// Try .yaml first
	configPath := filepath.Join(dir, "uia2-server.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	configPath = filepath.Join(dir, "uia2-server.yml")
	if _, err := os.Stat(configPath); err == nil {
		return Load(configPath)
	}

	// No config file found, return empty config
	return &Config{}, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.WakeLockDir == "" {
		c.WakeLockDir = DefaultWakeLockDir
	}
	if c.PowerSupplyFile == "" {
		c.PowerSupplyFile = DefaultPowerSupplyFile
	}
	if c.WakeDisplay == nil {
		wake := true
		c.WakeDisplay = &wake
	}
}

// Validate checks the port range and the setting overrides.
func (c *Config) Validate() error {
	if c.Port < lifecycle.MinPort || c.Port > lifecycle.MaxPort {
		return fmt.Errorf("port %d is outside %d-%d", c.Port, lifecycle.MinPort, lifecycle.MaxPort)
	}
	for name, v := range c.Settings {
		if _, err := settings.Normalize(name, v); err != nil {
			return fmt.Errorf("settings.%s: %w", name, err)
		}
	}
	return nil
}
