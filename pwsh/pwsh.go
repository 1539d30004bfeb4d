// Package pwsh implements the transports on top of PowerShell 7.
//
// Every call is one pipeline program (see package pipeline) delivered on the
// stdin of a pwsh process. The process is started either locally or at the
// far end of an ssh connection:
//
//	pwsh -NoLogo -NoProfile -NonInteractive -EncodedCommand <bootstrap>
//	ssh [-o ControlPath=…] destination pwsh … -EncodedCommand <bootstrap>
//
// The bootstrap switches the console to UTF-8, reads the program from stdin
// and runs it, so the size of arguments is not bounded by the command line.
//
// Backend is the structured transport (CIM calls made from the local pwsh,
// bound to nothing, a hostname or a CIM session), Local() is the local
// engine and Remote() is the remote-shell transport.
package pwsh

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/text/encoding/unicode"

	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/pipeline"
	"github.com/smnsjas/go-cmagent/proc"
	"github.com/smnsjas/go-cmagent/target"
)

// ErrSSH is returned when ssh itself failed (exit status 255): the
// connection, not the remote program.
var ErrSSH = errors.New("ssh connection failed")

// sshFailureExit is the exit status ssh uses for its own errors.
const sshFailureExit = 255

const bootstrap = `$ErrorActionPreference='Stop';` +
	`$u=[System.Text.UTF8Encoding]::new($false);` +
	`[Console]::InputEncoding=$u;[Console]::OutputEncoding=$u;` +
	`$s=[Console]::In.ReadToEnd();` +
	`& ([scriptblock]::Create($s))`

// EncodeCommand encodes script for pwsh -EncodedCommand.
func EncodeCommand(script string) (string, error) {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	data, err := enc.Bytes([]byte(script))
	if err != nil {
		return "", fmt.Errorf("encode command: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Option configures a Backend.
type Option func(*Backend)

// WithExecutable sets the local pwsh binary. Default "pwsh".
func WithExecutable(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.exe = path
		}
	}
}

// WithRemoteExecutable sets the pwsh binary run at the far end of ssh.
// Default "pwsh".
func WithRemoteExecutable(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.remoteExe = path
		}
	}
}

// WithSSH sets the ssh binary used for sessions that do not build their own
// command. Default "ssh".
func WithSSH(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.ssh = path
		}
	}
}

// WithDepth sets the output serialization depth.
func WithDepth(depth int) Option {
	return func(b *Backend) {
		if depth > 0 {
			b.depth = depth
		}
	}
}

// WithLogger sets the logger for program executions.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// Backend runs pipeline programs through pwsh.
type Backend struct {
	runner    proc.Runner
	exe       string
	remoteExe string
	ssh       string
	depth     int
	args      []string
	logger    *slog.Logger
}

// New creates a Backend running processes through runner.
func New(runner proc.Runner, opts ...Option) (*Backend, error) {
	b := &Backend{
		runner:    runner,
		exe:       "pwsh",
		remoteExe: "pwsh",
		ssh:       "ssh",
		depth:     pipeline.DefaultDepth,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	encoded, err := EncodeCommand(bootstrap)
	if err != nil {
		return nil, err
	}
	b.args = []string{"-NoLogo", "-NoProfile", "-NonInteractive", "-EncodedCommand", encoded}
	return b, nil
}

var (
	_ execute.StructuredTransport = (*Backend)(nil)
	_ execute.LocalEngine         = Local{}
	_ execute.ShellTransport      = Remote{}
)

// Local returns the local engine.
func (b *Backend) Local() Local { return Local{b: b} }

// Remote returns the remote-shell transport.
func (b *Backend) Remote() Remote { return Remote{b: b} }

// Query implements execute.StructuredTransport.
func (b *Backend) Query(ctx context.Context, bind execute.Binding, q execute.Query) ([]objects.Record, error) {
	computer, protocol := cimTarget(bind)
	out, err := b.invoke(ctx, b.localEngine(), execute.QueryScript, execute.QueryArgs(q, computer, protocol))
	if err != nil {
		return nil, err
	}
	return execute.RecordsFromOutput(out), nil
}

// InvokeMethod implements execute.StructuredTransport.
func (b *Backend) InvokeMethod(ctx context.Context, bind execute.Binding, m execute.Method) (objects.ReturnCode, error) {
	computer, protocol := cimTarget(bind)
	out, err := b.invoke(ctx, b.localEngine(), execute.MethodScript, execute.MethodArgs(m, computer, protocol))
	if err != nil {
		return objects.ReturnCode{}, err
	}
	return execute.ReturnCodeFromOutput(out)
}

// verifyScript opens and removes a CIM session.
var verifyScript = objects.ScriptBlock{Text: `param([string]$ComputerName, [string]$Protocol)
$ErrorActionPreference = 'Stop'
$opt = New-CimSessionOption -Protocol $Protocol
$s = New-CimSession -ComputerName $ComputerName -SessionOption $opt
Remove-CimSession -CimSession $s`}

// VerifyCim checks that a CIM session can be established. It satisfies
// session.Verifier.
func (b *Backend) VerifyCim(ctx context.Context, computer, protocol string) error {
	_, err := b.invoke(ctx, b.localEngine(), verifyScript, []interface{}{computer, protocol})
	return err
}

// Local runs logic on this machine through a local pwsh.
type Local struct{ b *Backend }

// Run implements execute.LocalEngine.
func (l Local) Run(ctx context.Context, body objects.ScriptBlock, args []interface{}) ([]interface{}, error) {
	return l.b.invoke(ctx, l.b.localEngine(), body, args)
}

// Remote runs logic over remote-shell sessions.
type Remote struct{ b *Backend }

// Run implements execute.ShellTransport.
func (r Remote) Run(ctx context.Context, s target.RemoteShellSession, body objects.ScriptBlock, args []interface{}) ([]interface{}, error) {
	return r.b.invoke(ctx, sshEngine{b: r.b, session: s}, body, args)
}

func (b *Backend) invoke(ctx context.Context, engine pipeline.Engine, body objects.ScriptBlock, args []interface{}) ([]interface{}, error) {
	p := pipeline.NewScript(engine, body).AddArguments(args...).SetDepth(b.depth)
	return p.Invoke(ctx)
}

func (b *Backend) localEngine() pipeline.Engine {
	return localEngine{b: b}
}

// cimTarget maps a binding to the QueryScript/MethodScript binding
// arguments.
func cimTarget(bind execute.Binding) (computer, protocol string) {
	switch bind.Kind {
	case target.KindStructuredSession:
		if bind.Session != nil {
			return bind.Session.ComputerName(), bind.Session.Protocol()
		}
		return bind.Computer, ""
	case target.KindBareHostname:
		return bind.Computer, ""
	default:
		return "", ""
	}
}

type localEngine struct{ b *Backend }

func (e localEngine) Execute(ctx context.Context, id uuid.UUID, program string) (proc.Result, error) {
	cmd := proc.Command{Name: e.b.exe, Args: e.b.args, Stdin: []byte(program)}
	e.b.logger.Debug("executing program", "invocation", id.String(), "engine", "local")
	return e.b.runner.Run(ctx, cmd)
}

// commander is implemented by sessions that build their own ssh command,
// such as *session.Shell.
type commander interface {
	Command(stdin []byte, remote ...string) proc.Command
}

type sshEngine struct {
	b       *Backend
	session target.RemoteShellSession
}

func (e sshEngine) Execute(ctx context.Context, id uuid.UUID, program string) (proc.Result, error) {
	remote := append([]string{e.b.remoteExe}, e.b.args...)
	var cmd proc.Command
	if c, ok := e.session.(commander); ok {
		cmd = c.Command([]byte(program), remote...)
	} else {
		cmd = proc.Command{
			Name:  e.b.ssh,
			Args:  append([]string{e.session.Destination()}, remote...),
			Stdin: []byte(program),
		}
	}

	e.b.logger.Debug("executing program",
		"invocation", id.String(),
		"engine", "ssh",
		"computer", e.session.ComputerName(),
		"destination", e.session.Destination(),
	)
	res, err := e.b.runner.Run(ctx, cmd)
	if err != nil {
		return res, err
	}
	if res.ExitCode == sshFailureExit {
		return res, fmt.Errorf("%w to %s: %s", ErrSSH, e.session.Destination(), res.StderrText())
	}
	return res, nil
}
