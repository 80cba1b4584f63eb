package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "INSYNC_CONFIG"
	EnvLogFile  = "INSYNC_LOG_FILE"
	EnvLogLevel = "INSYNC_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // INSYNC_CONFIG: config file path
	LogFile    string // INSYNC_LOG_FILE: log file path
	LogLevel   string // INSYNC_LOG_LEVEL: minimum log level
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		LogFile:    os.Getenv(EnvLogFile),
		LogLevel:   os.Getenv(EnvLogLevel),
	}
}
