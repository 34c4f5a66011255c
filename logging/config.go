package logging

import (
	"os"
	"strings"
)

// Environment names recognized by GetConfigFromEnv.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv builds a logger configuration from POSSYNC_LOG_* variables,
// falling back to environment-appropriate defaults.
func GetConfigFromEnv() Config {
	config := DefaultConfig

	if env := os.Getenv("POSSYNC_ENV"); env != "" {
		config.Environment = strings.ToLower(env)
	}
	if level := os.Getenv("POSSYNC_LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}
	if format := os.Getenv("POSSYNC_LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}
	if addSource := os.Getenv("POSSYNC_LOG_SOURCE"); addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	switch config.Environment {
	case EnvProduction:
		// Machine-readable output, no source lookup overhead.
		config.Format = "json"
		config.AddSource = false
	case EnvTest:
		config.Format = "text"
		config.Level = "debug"
	}

	return config
}
