// Package config implements configuration loading, validation, and default
// path resolution for insync. Two file formats are accepted: TOML (with
// [[root]] tables) and the legacy YAML layout, a top-level mapping from local
// directory to remote destination. Both preserve the order in which roots
// were written, because root order decides which root owns a nested path.
package config

// Config is the top-level configuration structure. Global settings are flat
// top-level keys; each watched directory is one entry in Roots.
type Config struct {
	WatchConfig     `yaml:",inline"`
	TransportConfig `yaml:",inline"`
	LoggingConfig   `yaml:",inline"`

	Roots []RootConfig `toml:"root" yaml:"-"`
}

// WatchConfig controls how filesystem events are observed and admitted.
type WatchConfig struct {
	SettleDelay   string `toml:"settle_delay" yaml:"settle_delay"`
	WatchBackend  string `toml:"watch_backend" yaml:"watch_backend"`
	FirstRootOnly bool   `toml:"first_root_only" yaml:"first_root_only"`
}

// TransportConfig selects and tunes the remote copy mechanism.
type TransportConfig struct {
	Transport       string   `toml:"transport" yaml:"transport"`
	TransferTimeout string   `toml:"transfer_timeout" yaml:"transfer_timeout"`
	SCPCommand      string   `toml:"scp_command" yaml:"scp_command"`
	SCPArgs         []string `toml:"scp_args" yaml:"scp_args"`
	KnownHosts      string   `toml:"known_hosts" yaml:"known_hosts"`
	IdentityFiles   []string `toml:"identity_files" yaml:"identity_files"`
}

// LoggingConfig controls log output: level, format, and file rotation.
type LoggingConfig struct {
	LogLevel      string `toml:"log_level" yaml:"log_level"`
	LogFile       string `toml:"log_file" yaml:"log_file"`
	LogFormat     string `toml:"log_format" yaml:"log_format"`
	LogMaxSize    string `toml:"log_max_size" yaml:"log_max_size"`
	LogMaxBackups int    `toml:"log_max_backups" yaml:"log_max_backups"`
	LogMaxAgeDays int    `toml:"log_max_age_days" yaml:"log_max_age_days"`
}

// RootConfig is one watched directory and the remote location it mirrors to.
// In YAML files LocalPath comes from the mapping key rather than a field.
type RootConfig struct {
	LocalPath string   `toml:"local_path" yaml:"-"`
	Host      string   `toml:"host" yaml:"host"`
	Port      int      `toml:"port" yaml:"port"`
	User      string   `toml:"user" yaml:"user"`
	Path      string   `toml:"path" yaml:"path"`
	Exclude   []string `toml:"exclude" yaml:"exclude"`
}

// CLIOverrides holds values from command-line flags. Empty strings mean
// "not specified".
type CLIOverrides struct {
	ConfigPath string // -c/--config
	LogFile    string // -l/--log-file
}
