package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-cmagent/pipeline"
	"github.com/smnsjas/go-cmagent/proc"
	"github.com/smnsjas/go-cmagent/serialization"
)

// fakeHost answers pwsh and ssh invocations without starting processes.
type fakeHost struct {
	t        *testing.T
	mu       sync.Mutex
	commands []proc.Command
	// down lists computers whose CIM calls raise.
	down []string
}

func (h *fakeHost) Run(_ context.Context, c proc.Command) (proc.Result, error) {
	h.mu.Lock()
	h.commands = append(h.commands, c)
	h.mu.Unlock()

	if c.Name == "ssh" && (slices.Contains(c.Args, "-M") || slices.Contains(c.Args, "-O")) {
		return proc.Result{}, nil
	}
	program := string(c.Stdin)
	if c.Name == "ssh" {
		return h.reply(int32(42)), nil
	}
	for _, d := range h.down {
		if strings.Contains(program, "<S>"+d+"</S>") {
			res := h.reply(&serialization.PSObject{Properties: map[string]interface{}{
				"CmAgentError":  true,
				"Message":       "The WinRM client cannot process the request.",
				"ExceptionType": "Microsoft.Management.Infrastructure.CimException",
			}})
			res.ExitCode = 1
			return res, nil
		}
	}
	switch {
	case strings.Contains(program, "Get-CimInstance"):
		return h.reply(&serialization.PSObject{Properties: map[string]interface{}{
			"ClientVersion":  "5.00.9122.1000",
			"ClientId":       "GUID:3F2504E0-4F89-11D3-9A0C-0305E82C3301",
			"Name":           "SMS:PS1",
			"PSComputerName": "SRV1",
		}}), nil
	case strings.Contains(program, "Invoke-CimMethod"):
		return h.reply(&serialization.PSObject{Properties: map[string]interface{}{"ReturnValue": uint32(0)}}), nil
	default:
		return h.reply(int32(42)), nil
	}
}

func (h *fakeHost) reply(values ...interface{}) proc.Result {
	data, err := serialization.NewSerializer().Serialize(values)
	require.NoError(h.t, err)
	return proc.Result{Stdout: append([]byte(pipeline.OutputMarker), data...)}
}

func (h *fakeHost) sawArgs(want ...string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.commands {
		if len(c.Args) >= len(want) {
			for i := 0; i+len(want) <= len(c.Args); i++ {
				if slices.Equal(c.Args[i:i+len(want)], want) {
					return true
				}
			}
		}
	}
	return false
}

type runResult struct {
	code   int
	stdout string
	stderr string
}

func invoke(t *testing.T, host *fakeHost, args ...string) runResult {
	t.Helper()
	old := newRunner
	newRunner = func() proc.Runner { return host }
	t.Cleanup(func() { newRunner = old })

	if !slices.Contains(args, "--config") {
		args = append(args, "--config", filepath.Join(t.TempDir(), "none.yaml"))
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

type jsonResult struct {
	Target    string          `json:"target"`
	Computer  string          `json:"computer"`
	Transport string          `json:"transport"`
	Success   bool            `json:"success"`
	Degraded  string          `json:"degraded"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
}

func decodeResults(t *testing.T, out string) []jsonResult {
	t.Helper()
	var results []jsonResult
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	return results
}

func TestRunLocalDefault(t *testing.T) {
	host := &fakeHost{t: t}
	res := invoke(t, host, "run", "42", "--json")
	require.Equal(t, 0, res.code, res.stderr)

	results := decodeResults(t, res.stdout)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "Local", results[0].Transport)
	assert.JSONEq(t, "[42]", string(results[0].Payload))
	assert.Equal(t, "pwsh", host.commands[0].Name)
}

func TestQueryIsolatesFailures(t *testing.T) {
	host := &fakeHost{t: t, down: []string{"srv2"}}
	res := invoke(t, host, "query", "SMS_Client", "-n", `root\ccm`, "-c", "srv1,srv2,srv3", "--json")
	assert.Equal(t, 1, res.code)
	assert.NotContains(t, res.stderr, "Error:")

	results := decodeResults(t, res.stdout)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"srv1", "srv2", "srv3"}, []string{results[0].Computer, results[1].Computer, results[2].Computer})
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "CimException")
	assert.True(t, results[2].Success)
	assert.Equal(t, "BareHostname", results[2].Transport)
}

func TestInfoText(t *testing.T) {
	host := &fakeHost{t: t}
	res := invoke(t, host, "info", "-c", "srv1", "--text")
	require.Equal(t, 0, res.code, res.stderr)

	assert.Contains(t, res.stdout, "srv1 [BareHostname] OK")
	assert.Contains(t, res.stdout, "5.00.9122.1000")
	assert.Contains(t, res.stdout, "siteCode")
	assert.Contains(t, res.stdout, "PS1")
}

func TestRunOnBareHostnameFails(t *testing.T) {
	host := &fakeHost{t: t}
	res := invoke(t, host, "run", "1", "-c", "srv1", "--text")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "srv1 [BareHostname] FAILED")
	assert.Contains(t, res.stdout, "cannot run arbitrary logic")
	assert.Empty(t, host.commands)
}

func TestDegradedPreferenceReported(t *testing.T) {
	host := &fakeHost{t: t}
	res := invoke(t, host, "schedule", "machinepolicy", "-c", "remote2", "--transport", "shell", "--text")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "remote2 [BareHostname] OK")
	assert.Contains(t, res.stdout, "note: shell preference unmet: no open remote-shell session")
	assert.Contains(t, res.stderr, "transport preference unmet")
}

func TestConfiguredSessions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
shell:
  controlDir: `+dir+`
sessions:
  - computer: remote1
    kind: shell
    destination: admin@remote1
    port: 2222
`), 0o600))

	host := &fakeHost{t: t}
	res := invoke(t, host, "run", "42", "-c", "remote1", "--json", "--config", path)
	require.Equal(t, 0, res.code, res.stderr)

	results := decodeResults(t, res.stdout)
	require.Len(t, results, 1)
	assert.Equal(t, "RemoteShellSession", results[0].Transport)
	assert.JSONEq(t, "[42]", string(results[0].Payload))

	assert.True(t, host.sawArgs("-M", "-N", "-f"), "session opened")
	assert.True(t, host.sawArgs("-p", "2222"))
	assert.True(t, host.sawArgs("-O", "exit"), "session closed")
}

func TestInvalidConfiguration(t *testing.T) {
	res := invoke(t, &fakeHost{t: t}, "info", "--transport", "carrier-pigeon")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, `Error: invalid configuration: unknown transport preference "carrier-pigeon"`)
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown schedule", []string{"schedule", "reboot"}, `unknown schedule "reboot"`},
		{"provisioning", []string{"provisioning", "maybe"}, "want on or off"},
		{"hive", []string{"registry", "get", "HKXX", `SOFTWARE\x`, "v"}, "unknown registry hive"},
		{"query", []string{"query"}, "query needs a class name or WQL"},
		{"run", []string{"run"}, "a script or --file is required"},
		{"json and text", []string{"info", "--json", "--text"}, "none of the others can be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := invoke(t, &fakeHost{t: t}, tt.args...)
			assert.Equal(t, 1, res.code)
			assert.Contains(t, res.stderr, tt.want)
		})
	}
}

func TestUseJSON(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, useJSON(rootOptions{json: true}, "text", &buf))
	assert.False(t, useJSON(rootOptions{text: true}, "json", &buf))
	assert.True(t, useJSON(rootOptions{}, "json", &buf))
	assert.False(t, useJSON(rootOptions{}, "text", &buf))
	assert.True(t, useJSON(rootOptions{}, "auto", &buf), "pipes get JSON")
}

func TestWritePayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePayload(&buf, []map[string]interface{}{{"b": 2, "a": "x"}, {"a": "y"}}))
	assert.Equal(t, "  a  x\n  b  2\n  -\n  a  y\n", buf.String())

	buf.Reset()
	require.NoError(t, writePayload(&buf, []string{}))
	assert.Equal(t, "  (none)\n", buf.String())

	buf.Reset()
	require.NoError(t, writePayload(&buf, uint32(7)))
	assert.Equal(t, "  7\n", buf.String())
}
