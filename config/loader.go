package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. CMAGENT_LOG_LEVEL.
const EnvPrefix = "CMAGENT"

// FlagKeys maps command-line flag names to configuration keys.
var FlagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"transport":  "transport",
	"output":     "output",
	"computer":   "computers",
	"pwsh":       "shell.executable",
	"ssh":        "shell.ssh",
}

// Loader handles configuration loading.
type Loader struct {
	configPath string
	flags      *pflag.FlagSet
}

// NewLoader creates a loader for configPath. An empty path means
// ~/.cmagent/config.yaml. Flags present in flags and FlagKeys override
// the file and environment when set.
func NewLoader(configPath string, flags *pflag.FlagSet) *Loader {
	return &Loader{configPath: configPath, flags: flags}
}

// Path returns the config file path.
func (l *Loader) Path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".cmagent", "config.yaml"), nil
}

// Load reads and validates the configuration. A missing file is not an
// error.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("computers"); err != nil {
		return nil, fmt.Errorf("failed to bind env: %w", err)
	}

	if l.flags != nil {
		for name, key := range FlagKeys {
			if f := l.flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	path, err := l.Path()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("transport", d.Transport)
	v.SetDefault("output", d.Output)
	v.SetDefault("shell.executable", d.Shell.Executable)
	v.SetDefault("shell.remoteExecutable", d.Shell.RemoteExecutable)
	v.SetDefault("shell.ssh", d.Shell.SSH)
	v.SetDefault("shell.controlDir", d.Shell.ControlDir)
	v.SetDefault("shell.batchMode", d.Shell.BatchMode)
	v.SetDefault("shell.depth", d.Shell.Depth)
}

// Load is a convenience function that creates a loader and loads the config.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	return NewLoader(configPath, flags).Load()
}
