package config

// Default values for configuration options. They are the base layer of the
// defaults -> config file -> environment -> CLI flags override chain.
const (
	defaultSettleDelay     = "500ms"
	defaultWatchBackend    = "auto"
	defaultTransport       = "scp"
	defaultTransferTimeout = "10m"
	defaultSCPCommand      = "scp"
	defaultLogLevel        = "info"
	defaultLogFile         = "./insync.log"
	defaultLogFormat       = "auto"
	defaultLogMaxSize      = "100MB"
	defaultLogMaxBackups   = 5
	defaultLogMaxAgeDays   = 30
	defaultSSHPort         = 22
)

// DefaultConfig returns a Config populated with all default values and no
// roots. It is the starting point for decoding so unset keys keep defaults.
func DefaultConfig() *Config {
	return &Config{
		WatchConfig:     defaultWatchConfig(),
		TransportConfig: defaultTransportConfig(),
		LoggingConfig:   defaultLoggingConfig(),
	}
}

func defaultWatchConfig() WatchConfig {
	return WatchConfig{
		SettleDelay:   defaultSettleDelay,
		WatchBackend:  defaultWatchBackend,
		FirstRootOnly: true,
	}
}

func defaultTransportConfig() TransportConfig {
	return TransportConfig{
		Transport:       defaultTransport,
		TransferTimeout: defaultTransferTimeout,
		SCPCommand:      defaultSCPCommand,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:      defaultLogLevel,
		LogFile:       defaultLogFile,
		LogFormat:     defaultLogFormat,
		LogMaxSize:    defaultLogMaxSize,
		LogMaxBackups: defaultLogMaxBackups,
		LogMaxAgeDays: defaultLogMaxAgeDays,
	}
}

// applyRootDefaults fills per-root fields that were left unset.
func applyRootDefaults(roots []RootConfig) {
	for i := range roots {
		if roots[i].Port == 0 {
			roots[i].Port = defaultSSHPort
		}
	}
}
