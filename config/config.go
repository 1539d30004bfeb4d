// Package config loads cmagent settings from a YAML file, CMAGENT_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smnsjas/go-cmagent/logging"
	"github.com/smnsjas/go-cmagent/session"
	"github.com/smnsjas/go-cmagent/target"
)

// ErrInvalid is returned for configuration values that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Session kinds.
const (
	KindStructured = "structured"
	KindShell      = "shell"
)

// Output modes.
const (
	OutputAuto = "auto"
	OutputJSON = "json"
	OutputText = "text"
)

// Config is the complete cmagent configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Transport string          `mapstructure:"transport"`
	Output    string          `mapstructure:"output"`
	Computers []string        `mapstructure:"computers"`
	Shell     ShellConfig     `mapstructure:"shell"`
	Sessions  []SessionConfig `mapstructure:"sessions"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ShellConfig configures the PowerShell and ssh executables.
type ShellConfig struct {
	Executable       string `mapstructure:"executable"`
	RemoteExecutable string `mapstructure:"remoteExecutable"`
	SSH              string `mapstructure:"ssh"`
	ControlDir       string `mapstructure:"controlDir"`
	BatchMode        bool   `mapstructure:"batchMode"`
	Depth            int    `mapstructure:"depth"`
}

// SessionConfig describes a session opened before a command runs.
type SessionConfig struct {
	Computer     string `mapstructure:"computer"`
	Kind         string `mapstructure:"kind"`
	Destination  string `mapstructure:"destination"`
	Port         int    `mapstructure:"port"`
	IdentityFile string `mapstructure:"identityFile"`
	Protocol     string `mapstructure:"protocol"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Log:       LogConfig{Level: "warn", Format: string(logging.FormatText)},
		Transport: "none",
		Output:    OutputAuto,
		Shell: ShellConfig{
			Executable:       "pwsh",
			RemoteExecutable: "pwsh",
			SSH:              "ssh",
			BatchMode:        true,
			Depth:            4,
		},
	}
}

// Preference returns the parsed transport preference.
func (c *Config) Preference() (target.Preference, error) {
	return target.ParsePreference(c.Transport)
}

// Validate checks every enumerated value.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Preference(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Output) {
	case "", OutputAuto, OutputJSON, OutputText:
	default:
		errs = append(errs, fmt.Errorf("unknown output %q", c.Output))
	}
	if c.Shell.Depth < 1 {
		errs = append(errs, fmt.Errorf("shell.depth must be positive, got %d", c.Shell.Depth))
	}
	for i, s := range c.Sessions {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sessions[%d]: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Validate checks the session entry.
func (s SessionConfig) Validate() error {
	if strings.TrimSpace(s.Computer) == "" {
		return errors.New("computer is required")
	}
	switch s.NormalizedKind() {
	case KindStructured:
		if _, err := session.ParseProtocol(s.Protocol); err != nil {
			return err
		}
	case KindShell:
		if s.Port < 0 || s.Port > 65535 {
			return fmt.Errorf("port %d out of range", s.Port)
		}
	default:
		return fmt.Errorf("unknown session kind %q", s.Kind)
	}
	return nil
}

// NormalizedKind maps kind aliases to KindStructured or KindShell.
func (s SessionConfig) NormalizedKind() string {
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case KindStructured, "cim", "wmi":
		return KindStructured
	case KindShell, "ssh", "remoteshell":
		return KindShell
	}
	return s.Kind
}
