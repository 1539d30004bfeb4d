package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-cmagent/target"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("cmagent", pflag.ContinueOnError)
	fs.String("log-level", "warn", "")
	fs.String("transport", "", "")
	fs.StringSlice("computer", nil, "")
	return fs
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("file values", func(t *testing.T) {
		path := writeConfig(t, `
log:
  level: debug
  format: json
transport: shell
computers: [srv1, srv2]
shell:
  executable: /usr/local/bin/pwsh
  controlDir: /run/cmagent
  batchMode: false
sessions:
  - computer: srv1
    kind: ssh
    destination: admin@srv1.corp.example.com
    port: 2222
    identityFile: ~/.ssh/id_ed25519
  - computer: srv2
    kind: cim
    protocol: dcom
`)
		cfg, err := Load(path, nil)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "json", cfg.Log.Format)
		assert.Equal(t, []string{"srv1", "srv2"}, cfg.Computers)
		assert.Equal(t, "/usr/local/bin/pwsh", cfg.Shell.Executable)
		assert.Equal(t, "/run/cmagent", cfg.Shell.ControlDir)
		assert.False(t, cfg.Shell.BatchMode)
		assert.Equal(t, "ssh", cfg.Shell.SSH, "unset keys keep defaults")

		require.Len(t, cfg.Sessions, 2)
		assert.Equal(t, KindShell, cfg.Sessions[0].NormalizedKind())
		assert.Equal(t, 2222, cfg.Sessions[0].Port)
		assert.Equal(t, "~/.ssh/id_ed25519", cfg.Sessions[0].IdentityFile)
		assert.Equal(t, KindStructured, cfg.Sessions[1].NormalizedKind())

		pref, err := cfg.Preference()
		require.NoError(t, err)
		assert.Equal(t, target.PreferRemoteShell, pref)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "log:\n  level: info\n")
		t.Setenv("CMAGENT_LOG_LEVEL", "error")
		t.Setenv("CMAGENT_SHELL_SSH", "/usr/bin/ssh")

		cfg, err := Load(path, nil)
		require.NoError(t, err)
		assert.Equal(t, "error", cfg.Log.Level)
		assert.Equal(t, "/usr/bin/ssh", cfg.Shell.SSH)
	})

	t.Run("changed flags override environment", func(t *testing.T) {
		path := writeConfig(t, "transport: structured\n")
		t.Setenv("CMAGENT_LOG_LEVEL", "error")

		fs := testFlags()
		require.NoError(t, fs.Parse([]string{"--log-level", "debug", "--computer", "a,b"}))

		cfg, err := Load(path, fs)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "structured", cfg.Transport, "unchanged flags do not override the file")
		assert.Equal(t, []string{"a", "b"}, cfg.Computers)
	})

	t.Run("invalid YAML", func(t *testing.T) {
		_, err := Load(writeConfig(t, "log: [unterminated\n"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "transport: carrier-pigeon\n"), nil)
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestLoaderPath(t *testing.T) {
	p, err := NewLoader("/etc/cmagent.yaml", nil).Path()
	require.NoError(t, err)
	assert.Equal(t, "/etc/cmagent.yaml", p)

	t.Setenv("HOME", "/home/ops")
	p, err = NewLoader("", nil).Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/ops", ".cmagent", "config.yaml"), p)
}
