package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// settingsKey is the reserved top-level YAML key holding global settings.
// Every other top-level key in a YAML file is a watched directory.
const settingsKey = "settings"

// ErrNoRoots is returned when a configuration defines no watch roots.
var ErrNoRoots = errors.New("no watch roots configured")

// ConfigError reports a configuration problem that must stop startup:
// a missing or unreadable file, malformed entries, or invalid patterns.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "config: " + e.Err.Error()
	}

	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Resolved is the effective configuration after defaults, the config file,
// environment variables, and CLI flags have been applied, with durations and
// sizes parsed into their typed forms.
type Resolved struct {
	ConfigPath string
	Roots      []RootConfig

	SettleDelay   time.Duration
	WatchBackend  string
	FirstRootOnly bool

	Transport       string
	TransferTimeout time.Duration
	SCPCommand      string
	SCPArgs         []string
	KnownHosts      string
	IdentityFiles   []string

	Logging      LoggingConfig
	LogMaxSizeMB int
}

// Load reads, decodes, and validates a config file. The format is chosen by
// extension: .yaml/.yml use the legacy layout, everything else is TOML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(data, cfg)
	default:
		err = decodeTOML(data, cfg)
	}

	if err != nil {
		return nil, err
	}

	for i := range cfg.Roots {
		cfg.Roots[i].LocalPath = expandTilde(cfg.Roots[i].LocalPath)
	}

	applyRootDefaults(cfg.Roots)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// decodeTOML decodes a TOML document into cfg and rejects unknown keys.
func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
	if err != nil {
		return fmt.Errorf("parsing TOML: %w", err)
	}

	return checkUnknownKeys(&md)
}

// decodeYAML decodes the legacy YAML layout. The document is walked as a node
// tree so that root order follows the file rather than map iteration order.
func decodeYAML(data []byte, cfg *Config) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	// An empty document is an empty configuration.
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil
	}

	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return fmt.Errorf("parsing YAML: top level must be a mapping of directories, got %s", nodeKindName(top))
	}

	var errs []error

	for i := 0; i+1 < len(top.Content); i += 2 {
		key, value := top.Content[i], top.Content[i+1]

		if key.Value == settingsKey {
			errs = append(errs, decodeYAMLSettings(value, cfg)...)

			continue
		}

		root, rootErrs := decodeYAMLRoot(key.Value, value)
		if len(rootErrs) > 0 {
			errs = append(errs, rootErrs...)

			continue
		}

		cfg.Roots = append(cfg.Roots, root)
	}

	return errors.Join(errs...)
}

func decodeYAMLSettings(node *yaml.Node, cfg *Config) []error {
	if node.Kind != yaml.MappingNode {
		return []error{fmt.Errorf("%s: must be a mapping", settingsKey)}
	}

	errs := yamlUnknownKeys(node, knownGlobalKeys, knownGlobalKeysList, settingsKey)

	if err := node.Decode(cfg); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", settingsKey, err))
	}

	return errs
}

func decodeYAMLRoot(localPath string, node *yaml.Node) (RootConfig, []error) {
	if node.Kind != yaml.MappingNode {
		return RootConfig{}, []error{fmt.Errorf("root %q: must be a mapping with host, user, and path", localPath)}
	}

	where := fmt.Sprintf("root %q", localPath)
	errs := yamlUnknownKeys(node, yamlRootKeys, yamlRootKeysList, where)

	var root RootConfig
	if err := node.Decode(&root); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", where, err))
	}

	root.LocalPath = localPath

	return root, errs
}

// yamlRootKeys are the keys of a YAML root entry (local_path is the key itself).
var yamlRootKeys = func() map[string]bool {
	keys := make(map[string]bool, len(knownRootKeys))
	for k := range knownRootKeys {
		if k != "local_path" {
			keys[k] = true
		}
	}

	return keys
}()

var yamlRootKeysList = sortedKeys(yamlRootKeys)

// yamlUnknownKeys reports keys of a mapping node that are not in known.
func yamlUnknownKeys(node *yaml.Node, known map[string]bool, knownList []string, where string) []error {
	var errs []error

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !known[key] {
			errs = append(errs, unknownKeyError(key, where, knownList))
		}
	}

	return errs
}

func nodeKindName(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags. Any failure
// is returned as a *ConfigError.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		return nil, &ConfigError{Path: cfgPath, Err: err}
	}

	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}

	if env.LogFile != "" {
		cfg.LogFile = env.LogFile
	}

	if cli.LogFile != "" {
		cfg.LogFile = cli.LogFile
	}

	// The env level bypassed Validate, so check it again here.
	if err := errors.Join(validateLogLevel(cfg.LogLevel)...); err != nil {
		return nil, &ConfigError{Path: cfgPath, Err: err}
	}

	resolved, err := resolve(cfg)
	if err != nil {
		return nil, &ConfigError{Path: cfgPath, Err: err}
	}

	resolved.ConfigPath = cfgPath

	return resolved, nil
}

// resolve converts a validated Config into its typed form.
func resolve(cfg *Config) (*Resolved, error) {
	settle, err := time.ParseDuration(cfg.SettleDelay)
	if err != nil {
		return nil, fmt.Errorf("settle_delay: %w", err)
	}

	timeout, err := parseOptionalDuration(cfg.TransferTimeout)
	if err != nil {
		return nil, fmt.Errorf("transfer_timeout: %w", err)
	}

	maxSize, err := parseSize(cfg.LogMaxSize)
	if err != nil {
		return nil, fmt.Errorf("log_max_size: %w", err)
	}

	return &Resolved{
		Roots:           cfg.Roots,
		SettleDelay:     settle,
		WatchBackend:    cfg.WatchBackend,
		FirstRootOnly:   cfg.FirstRootOnly,
		Transport:       cfg.Transport,
		TransferTimeout: timeout,
		SCPCommand:      cfg.SCPCommand,
		SCPArgs:         cfg.SCPArgs,
		KnownHosts:      expandTilde(cfg.KnownHosts),
		IdentityFiles:   expandAll(cfg.IdentityFiles),
		Logging:         cfg.LoggingConfig,
		LogMaxSizeMB:    bytesToMegabytes(maxSize),
	}, nil
}

// parseOptionalDuration parses a duration where "0" or "" means disabled.
func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}

	return time.ParseDuration(s)
}

func expandAll(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}

	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = expandTilde(p)
	}

	return out
}

// bytesToMegabytes converts a byte count to whole megabytes for the log
// rotator, rounding up so that any non-zero size rotates at >= 1 MB.
func bytesToMegabytes(n int64) int {
	if n <= 0 {
		return 0
	}

	return int((n + megabyte - 1) / megabyte)
}
