package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "chatty" }, wantErr: "invalid log level"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: "invalid log format"},
		{name: "transport", mutate: func(c *Config) { c.Transport = "telnet" }, wantErr: "telnet"},
		{name: "output", mutate: func(c *Config) { c.Output = "yaml" }, wantErr: "unknown output"},
		{name: "depth", mutate: func(c *Config) { c.Shell.Depth = 0 }, wantErr: "shell.depth"},
		{
			name:    "session without computer",
			mutate:  func(c *Config) { c.Sessions = []SessionConfig{{Kind: "shell"}} },
			wantErr: "sessions[0]: computer is required",
		},
		{
			name:    "session kind",
			mutate:  func(c *Config) { c.Sessions = []SessionConfig{{Computer: "srv1", Kind: "rdp"}} },
			wantErr: `unknown session kind "rdp"`,
		},
		{
			name:    "session protocol",
			mutate:  func(c *Config) { c.Sessions = []SessionConfig{{Computer: "srv1", Kind: "structured", Protocol: "smb"}} },
			wantErr: `unknown CIM protocol "smb"`,
		},
		{
			name:    "session port",
			mutate:  func(c *Config) { c.Sessions = []SessionConfig{{Computer: "srv1", Kind: "shell", Port: 70000}} },
			wantErr: "port 70000 out of range",
		},
		{
			name: "valid sessions",
			mutate: func(c *Config) {
				c.Sessions = []SessionConfig{
					{Computer: "srv1", Kind: "ssh", Port: 22},
					{Computer: "srv2", Kind: "wmi", Protocol: "wsman"},
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalid)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNormalizedKind(t *testing.T) {
	assert.Equal(t, KindStructured, SessionConfig{Kind: "CIM"}.NormalizedKind())
	assert.Equal(t, KindShell, SessionConfig{Kind: " ssh "}.NormalizedKind())
	assert.Equal(t, "rdp", SessionConfig{Kind: "rdp"}.NormalizedKind())
}
