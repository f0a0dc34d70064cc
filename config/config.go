// Package config loads taskboard settings from defaults, an optional YAML
// file, TASKBOARD_* environment variables and command-line flags, in that
// order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"taskboard/store"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"

	envPrefix = "TASKBOARD"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Sync    SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type StorageConfig struct {
	Backend  string        `mapstructure:"backend" yaml:"backend"`
	Path     string        `mapstructure:"path" yaml:"path"`
	Key      string        `mapstructure:"key" yaml:"key"`
	MaxBytes int           `mapstructure:"max_bytes" yaml:"max_bytes"`
	Checksum string        `mapstructure:"checksum" yaml:"checksum"`
	Backups  int           `mapstructure:"backups" yaml:"backups"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type SyncConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// File receives log output; empty means stderr.
	File string `mapstructure:"file" yaml:"file"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"backend":   "storage.backend",
	"path":      "storage.path",
	"key":       "storage.key",
	"checksum":  "storage.checksum",
	"timeout":   "storage.timeout",
	"log-level": "log.level",
	"log-file":  "log.file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.path", DefaultDataDir())
	v.SetDefault("storage.key", store.DefaultKey)
	v.SetDefault("storage.max_bytes", store.DefaultMaxBytes)
	v.SetDefault("storage.checksum", store.AlgorithmSHA256)
	v.SetDefault("storage.backups", 10)
	v.SetDefault("storage.timeout", 2*time.Second)
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.poll_interval", 500*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load reads the config file at path, or the default location when path is
// empty. A missing default file is not an error; a missing explicit one is.
// Flags that were set on the command line override everything else.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	return load(viper.New(), path, flags)
}

func load(v *viper.Viper, path string, flags *pflag.FlagSet) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	switch {
	case path != "":
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	default:
		if def := DefaultPath(); def != "" {
			if _, err := os.Stat(def); err == nil {
				v.SetConfigFile(def)
				if err := v.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("read config %s: %w", def, err)
				}
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
		if f := flags.Lookup("no-sync"); f != nil && f.Changed {
			v.Set("sync.enabled", false)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Log.File = expandHome(cfg.Log.File)
	return cfg, nil
}

// Validate reports every problem in cfg.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of file, sqlite, memory", c.Storage.Backend))
	}
	if c.Storage.Backend != BackendMemory && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.Key == "" {
		errs = append(errs, errors.New("storage.key is required"))
	}
	if !store.ValidAlgorithm(c.Storage.Checksum) {
		errs = append(errs, fmt.Errorf("storage.checksum %q is not one of sha256, blake3", c.Storage.Checksum))
	}
	if c.Storage.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("storage.max_bytes must be positive, got %d", c.Storage.MaxBytes))
	}
	if c.Storage.Backups < 0 {
		errs = append(errs, fmt.Errorf("storage.backups must not be negative, got %d", c.Storage.Backups))
	}
	if c.Storage.Timeout < 0 {
		errs = append(errs, fmt.Errorf("storage.timeout must not be negative, got %s", c.Storage.Timeout))
	}
	if c.Sync.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("sync.poll_interval must be positive, got %s", c.Sync.PollInterval))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of auto, text, json", c.Log.Format))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// DefaultPath is $XDG_CONFIG_HOME/taskboard/config.yaml (or the platform
// equivalent).
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "taskboard", "config.yaml")
}

// DefaultDataDir is $XDG_DATA_HOME/taskboard, falling back to
// ~/.local/share/taskboard.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "taskboard")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "taskboard")
	}
	return filepath.Join(home, ".local", "share", "taskboard")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
