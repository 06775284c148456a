// Package config provides configuration management for kcsync.
//
// Configuration is loaded from three sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (KCSYNC_ prefix)
//  3. Config file (.kcsync.yaml)
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Sync defaults.
const (
	DefaultSyncPath    = "~/.kube"
	DefaultManagedDir  = "~/.kcsync/kubeconfigs"
	DefaultDebounce    = 50 * time.Millisecond
	DefaultMaxFileSize = 2 * 1024 * 1024
)

// Config represents the global configuration for kcsync.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat"`

	// NoColor disables colored output.
	NoColor bool `mapstructure:"no-color" json:"noColor"`

	// Quiet suppresses all log output below error level.
	Quiet bool `mapstructure:"quiet" json:"quiet"`

	// LogFile sends log output to a size-rotated file instead of stderr.
	LogFile string `mapstructure:"log-file" json:"logFile,omitempty"`

	// SyncPaths are the user-configured kubeconfig files and directories.
	SyncPaths []string `mapstructure:"sync-paths" json:"syncPaths"`

	// ManagedDir is the well-known folder that is always synced in addition
	// to SyncPaths. Imported kubeconfigs are written here.
	ManagedDir string `mapstructure:"managed-dir" json:"managedDir"`

	// Debounce coalesces rapid filesystem events for one file. Zero disables it.
	Debounce time.Duration `mapstructure:"debounce" json:"debounce"`

	// MaxFileSize is the largest kubeconfig file, in bytes, that is read.
	MaxFileSize int64 `mapstructure:"max-file-size" json:"maxFileSize"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load(), never read from the config itself.
	ConfigFile string `mapstructure:"-" json:"-"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:    LogLevelInfo,
		LogFormat:   LogFormatText,
		NoColor:     false,
		Quiet:       false,
		SyncPaths:   []string{DefaultSyncPath},
		ManagedDir:  DefaultManagedDir,
		Debounce:    DefaultDebounce,
		MaxFileSize: DefaultMaxFileSize,
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		// valid
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	if c.ManagedDir == "" {
		return fmt.Errorf("managed-dir must not be empty")
	}

	if c.Debounce < 0 {
		return fmt.Errorf("invalid debounce %s: must not be negative", c.Debounce)
	}

	if c.MaxFileSize <= 0 {
		return fmt.Errorf("invalid max-file-size %d: must be positive", c.MaxFileSize)
	}

	for i, p := range c.SyncPaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("sync-paths[%d]: path must not be empty", i)
		}
	}

	return nil
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	return c.LogLevel
}

// ResolvedSyncPaths returns SyncPaths with "~" expanded and made absolute.
// Duplicates are removed, first occurrence wins.
func (c *Config) ResolvedSyncPaths() []string {
	seen := make(map[string]bool, len(c.SyncPaths))
	paths := make([]string, 0, len(c.SyncPaths))

	for _, p := range c.SyncPaths {
		resolved := ExpandPath(p)
		if seen[resolved] {
			continue
		}

		seen[resolved] = true
		paths = append(paths, resolved)
	}

	return paths
}

// ResolvedManagedDir returns ManagedDir with "~" expanded and made absolute.
func (c *Config) ResolvedManagedDir() string {
	return ExpandPath(c.ManagedDir)
}

// ExpandPath expands a leading "~" to the user's home directory and cleans
// the result into an absolute path. Paths that cannot be made absolute are
// returned cleaned.
func ExpandPath(p string) string {
	p = strings.TrimSpace(p)

	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}

	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}

	return filepath.Clean(p)
}

// Load initialises configuration from flags, environment variables, and an
// optional config file. A fresh viper instance is used on every call so that
// Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v, err := newViper(cmd, configFile)
	if err != nil {
		return nil, err
	}

	return decode(v)
}

// Watch loads the config file at path and invokes onChange with the freshly
// decoded configuration every time the file is written. Invalid revisions are
// reported through onError and otherwise ignored.
//
// viper offers no way to stop its file watcher, so the watch lives until the
// process exits.
func Watch(cmd *cobra.Command, path string, onChange func(*Config), onError func(error)) error {
	if path == "" {
		return fmt.Errorf("no config file to watch")
	}

	v, err := newViper(cmd, path)
	if err != nil {
		return err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, decErr := decode(v)
		if decErr != nil {
			if onError != nil {
				onError(decErr)
			}

			return
		}

		onChange(cfg)
	})
	v.WatchConfig()

	return nil
}

func newViper(cmd *cobra.Command, configFile string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store the resolved config file path so downstream code can locate it.
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("no-color", d.NoColor)
	v.SetDefault("quiet", d.Quiet)
	v.SetDefault("log-file", d.LogFile)
	v.SetDefault("sync-paths", d.SyncPaths)
	v.SetDefault("managed-dir", d.ManagedDir)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("max-file-size", d.MaxFileSize)
}

// configureEnv sets up environment variable support.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("KCSYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// configureFile sets up the config file source.
func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	// Auto-discovery mode.
	v.SetConfigName(".kcsync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "kcsync"))
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file found → perfectly fine in auto-discovery.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}

		// Found a file but it was malformed.
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	// Bind the current command's own flags.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	// Walk up to root and bind all persistent flags at each level.
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}
