package pwsh

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/pipeline"
	"github.com/smnsjas/go-cmagent/proc"
	"github.com/smnsjas/go-cmagent/serialization"
	"github.com/smnsjas/go-cmagent/session"
	"github.com/smnsjas/go-cmagent/target"
)

// scriptedRunner replies to every command with the same result and keeps
// the commands it saw.
type scriptedRunner struct {
	mu       sync.Mutex
	commands []proc.Command
	result   proc.Result
	err      error
}

func (r *scriptedRunner) Run(_ context.Context, c proc.Command) (proc.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, c)
	return r.result, r.err
}

func (r *scriptedRunner) last(t *testing.T) proc.Command {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.commands)
	return r.commands[len(r.commands)-1]
}

func reply(t *testing.T, values ...interface{}) proc.Result {
	t.Helper()
	data, err := serialization.NewSerializer().Serialize(values)
	require.NoError(t, err)
	return proc.Result{Stdout: append([]byte(pipeline.OutputMarker), data...)}
}

func record(props map[string]interface{}) *serialization.PSObject {
	return &serialization.PSObject{
		TypeNames:  []string{"Microsoft.Management.Infrastructure.CimInstance", "System.Object"},
		Properties: props,
	}
}

func newBackend(t *testing.T, r proc.Runner, opts ...Option) *Backend {
	t.Helper()
	b, err := New(r, opts...)
	require.NoError(t, err)
	return b
}

func TestEncodeCommand(t *testing.T) {
	encoded, err := EncodeCommand("Get-Date")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte{'G', 0, 'e', 0, 't', 0, '-', 0, 'D', 0, 'a', 0, 't', 0, 'e', 0}, raw)
}

func TestBootstrapArgs(t *testing.T) {
	r := &scriptedRunner{result: reply(t)}
	b := newBackend(t, r, WithExecutable("/usr/local/bin/pwsh"))

	_, err := b.Local().Run(context.Background(), objects.ScriptBlock{Text: "Get-Date"}, nil)
	require.NoError(t, err)

	c := r.last(t)
	assert.Equal(t, "/usr/local/bin/pwsh", c.Name)
	require.Len(t, c.Args, 5)
	assert.Equal(t, []string{"-NoLogo", "-NoProfile", "-NonInteractive", "-EncodedCommand"}, c.Args[:4])

	raw, err := base64.StdEncoding.DecodeString(c.Args[4])
	require.NoError(t, err)
	decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	require.NoError(t, err)
	assert.Equal(t, bootstrap, string(decoded))

	assert.Contains(t, string(c.Stdin), "PSSerializer]::Deserialize(")
}

func TestLocalRun(t *testing.T) {
	r := &scriptedRunner{result: reply(t, int32(42))}
	b := newBackend(t, r)

	out, err := b.Local().Run(context.Background(), objects.ScriptBlock{Text: "param($a) $a * 2"}, []interface{}{21})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(42)}, out)
	assert.Contains(t, string(r.last(t).Stdin), "<I32>21</I32>")
}

func TestQueryBindings(t *testing.T) {
	cim, err := session.NewCim("srv2", "wsman", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		binding execute.Binding
		want    []string
		absent  []string
	}{
		{
			name:    "local",
			binding: execute.Binding{Kind: target.KindLocal, Computer: "ws1"},
			absent:  []string{"<S>ws1</S>"},
		},
		{
			name:    "bare hostname",
			binding: execute.Binding{Kind: target.KindBareHostname, Computer: "srv1"},
			want:    []string{"<S>srv1</S>"},
			absent:  []string{"<S>Wsman</S>"},
		},
		{
			name:    "cim session",
			binding: execute.Binding{Kind: target.KindStructuredSession, Computer: "srv2", Session: cim},
			want:    []string{"<S>srv2</S>", "<S>Wsman</S>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scriptedRunner{result: reply(t,
				record(map[string]interface{}{"ClientVersion": "5.00.9122.1000", "PSComputerName": "SRV1"}),
			)}
			b := newBackend(t, r)

			records, err := b.Query(context.Background(), tt.binding, execute.Query{Namespace: `root\ccm`, ClassName: "SMS_Client"})
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "5.00.9122.1000", records[0]["ClientVersion"])

			c := r.last(t)
			assert.Equal(t, "pwsh", c.Name, "structured calls run from the local pwsh")
			program := string(c.Stdin)
			assert.Contains(t, program, "Get-CimInstance @p")
			assert.Contains(t, program, `<S>root\ccm</S>`)
			assert.Contains(t, program, "<S>SMS_Client</S>")
			for _, w := range tt.want {
				assert.Contains(t, program, w)
			}
			for _, a := range tt.absent {
				assert.NotContains(t, program, a)
			}
		})
	}
}

func TestQueryEmpty(t *testing.T) {
	b := newBackend(t, &scriptedRunner{result: reply(t)})
	records, err := b.Query(context.Background(), execute.Binding{Kind: target.KindLocal}, execute.Query{ClassName: "Win32_Empty"})
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestInvokeMethod(t *testing.T) {
	r := &scriptedRunner{result: reply(t, record(map[string]interface{}{
		"ReturnValue": uint32(0),
		"sValue":      "5.00.9122.1000",
	}))}
	b := newBackend(t, r)

	rc, err := b.InvokeMethod(context.Background(),
		execute.Binding{Kind: target.KindBareHostname, Computer: "srv1"},
		execute.Method{Namespace: `root\default`, ClassName: "StdRegProv", Name: "GetStringValue",
			Args: map[string]interface{}{"hDefKey": uint32(0x80000002), "sSubKeyName": `SOFTWARE\Microsoft\SMS\Mobile Client`, "sValueName": "ProductVersion"}})
	require.NoError(t, err)
	assert.True(t, rc.OK())
	assert.Equal(t, "5.00.9122.1000", rc.Outputs["sValue"])

	program := string(r.last(t).Stdin)
	assert.Contains(t, program, "Invoke-CimMethod @p")
	assert.Contains(t, program, `<U32 N="Value">2147483650</U32>`)
}

func TestInvokeMethodWithoutReturnValue(t *testing.T) {
	r := &scriptedRunner{result: reply(t, record(map[string]interface{}{"sValue": "x"}))}
	b := newBackend(t, r)
	e := execute.New(b, b.Remote(), b.Local())

	_, err := e.InvokeMethod(context.Background(), target.BareHostnameContext("srv1"),
		execute.Method{ClassName: "SMS_Client", Name: "ResetPolicy"})
	assert.ErrorIs(t, err, execute.ErrTransport)
	assert.ErrorIs(t, err, objects.ErrNoReturnValue)
	assert.Contains(t, string(r.last(t).Stdin), "[uint32]0", "void methods report zero")
}

func TestRemoteRunThroughShellSession(t *testing.T) {
	r := &scriptedRunner{result: reply(t, int32(42))}
	b := newBackend(t, r, WithRemoteExecutable("/opt/microsoft/powershell/7/pwsh"))
	sh := session.NewShell(session.ShellConfig{Computer: "remote1", Destination: "admin@remote1"}, r)

	out, err := b.Remote().Run(context.Background(), sh, objects.ScriptBlock{Text: "42"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(42)}, out)

	c := r.last(t)
	assert.Equal(t, "ssh", c.Name)
	assert.Equal(t, "-o", c.Args[0])
	assert.Equal(t, "ControlPath="+sh.ControlPath(), c.Args[1])
	assert.Equal(t, "admin@remote1", c.Args[2])
	assert.Equal(t, "/opt/microsoft/powershell/7/pwsh", c.Args[3])
	assert.Equal(t, "-EncodedCommand", c.Args[len(c.Args)-2])
	assert.Contains(t, string(c.Stdin), "<S>42</S>")
}

type plainShell struct{}

func (plainShell) ComputerName() string { return "remote3" }
func (plainShell) Destination() string  { return "ops@remote3" }

func TestRemoteRunPlainSession(t *testing.T) {
	r := &scriptedRunner{result: reply(t, "ok")}
	b := newBackend(t, r, WithSSH("/usr/bin/ssh"))

	_, err := b.Remote().Run(context.Background(), plainShell{}, objects.ScriptBlock{Text: "'ok'"}, nil)
	require.NoError(t, err)

	c := r.last(t)
	assert.Equal(t, "/usr/bin/ssh", c.Name)
	assert.Equal(t, []string{"ops@remote3", "pwsh", "-NoLogo"}, c.Args[:3])
}

func TestRemoteSSHFailure(t *testing.T) {
	r := &scriptedRunner{result: proc.Result{ExitCode: 255, Stderr: []byte("ssh: Could not resolve hostname remote3\n")}}
	b := newBackend(t, r)

	_, err := b.Remote().Run(context.Background(), plainShell{}, objects.ScriptBlock{Text: "1"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSSH)
	assert.Contains(t, err.Error(), "Could not resolve hostname")
}

func TestRemoteException(t *testing.T) {
	errObj := record(map[string]interface{}{
		"CmAgentError":  true,
		"Message":       "Cannot find path 'HKLM:\\SOFTWARE\\Microsoft\\CCM'",
		"ExceptionType": "System.Management.Automation.ItemNotFoundException",
	})
	res := reply(t)
	data, err := serialization.NewSerializer().Serialize(errObj)
	require.NoError(t, err)
	res.Stdout = append([]byte(pipeline.OutputMarker), data...)
	res.ExitCode = 1

	b := newBackend(t, &scriptedRunner{result: res})
	_, err = b.Remote().Run(context.Background(), plainShell{}, objects.ScriptBlock{Text: "Get-Item HKLM:\\SOFTWARE\\Microsoft\\CCM"}, nil)

	var er *objects.ErrorRecord
	require.ErrorAs(t, err, &er)
	assert.True(t, strings.HasPrefix(er.Error(), "System.Management.Automation.ItemNotFoundException: "))
}

func TestVerifyCim(t *testing.T) {
	r := &scriptedRunner{result: reply(t)}
	b := newBackend(t, r)
	require.NoError(t, b.VerifyCim(context.Background(), "srv1", "Dcom"))
	assert.Contains(t, string(r.last(t).Stdin), "<S>Dcom</S>")

	cause := errors.New("exec: \"pwsh\": executable file not found in $PATH")
	b = newBackend(t, &scriptedRunner{err: cause})
	assert.ErrorIs(t, b.VerifyCim(context.Background(), "srv1", "Dcom"), cause)
}

func TestBackendWithExecutor(t *testing.T) {
	r := &scriptedRunner{result: reply(t, int32(42))}
	b := newBackend(t, r)
	e := execute.New(b, b.Remote(), b.Local())

	cc := target.RemoteShellContext("remote1", plainShell{})
	out, err := e.Run(context.Background(), cc, execute.Logic{Body: objects.ScriptBlock{Text: "42"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(42)}, out)

	_, err = e.Run(context.Background(), target.BareHostnameContext("srv1"), execute.Logic{Body: objects.ScriptBlock{Text: "42"}})
	assert.ErrorIs(t, err, execute.ErrUnsupportedTransport)
}
