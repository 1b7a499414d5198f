package app

import (
	"github.com/spf13/viper"

	"wavectl/internal/config"
)

// Config holds the application configuration
type Config struct {
	// ConfigPath is an explicit config file layered last; may be empty.
	ConfigPath string

	// Overrides carries environment and flag values bound by the CLI.
	Overrides *viper.Viper

	// Version is reported to telemetry and the MCP server.
	Version string

	// WavectlConfig is filled in by NewApplication.
	WavectlConfig *config.WavectlConfig
}

// NewConfig creates a new application configuration
func NewConfig(configPath, version string, overrides *viper.Viper) *Config {
	return &Config{
		ConfigPath: configPath,
		Overrides:  overrides,
		Version:    version,
	}
}
