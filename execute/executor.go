// Package execute runs structured queries, remote logic and CIM method calls
// against a resolved target.ConnectionContext.
//
// The Executor routes each call by the context's transport kind:
//
//	                  Query          Run                    InvokeMethod
//	Local             structured     native / local engine  structured
//	StructuredSession structured     UnsupportedTransport   structured
//	BareHostname      structured     UnsupportedTransport   structured
//	RemoteShell       shell script   shell                  shell script
//
// On a remote-shell context, Query and InvokeMethod are re-expressed as
// QueryScript and MethodScript running on the far end.
//
// Every call makes exactly one attempt. Nothing is retried.
package execute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/target"
)

var errNoTransport = errors.New("no transport configured")

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger for transport calls.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Executor dispatches calls to the transport a context resolved to. It holds
// no per-call state; concurrency safety is that of its transports.
type Executor struct {
	structured StructuredTransport
	shell      ShellTransport
	local      LocalEngine
	logger     *slog.Logger
}

// New creates an Executor. A nil transport makes every call needing it fail
// with a TransportError.
func New(structured StructuredTransport, shell ShellTransport, local LocalEngine, opts ...Option) *Executor {
	e := &Executor{
		structured: structured,
		shell:      shell,
		local:      local,
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query returns the records matching q. It returns an empty slice, never
// nil, when nothing matches.
func (e *Executor) Query(ctx context.Context, cc target.ConnectionContext, q Query) ([]objects.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	e.logger.Debug("query", "computer", cc.Name(), "kind", cc.Kind().String(), "query", q.String())

	var (
		records []objects.Record
		err     error
	)
	if sess, ok := cc.ShellSession(); ok {
		var out []interface{}
		out, err = e.runShell(ctx, sess, QueryScript, QueryArgs(q, "", ""))
		records = RecordsFromOutput(out)
	} else {
		b, berr := bindingFor(cc)
		if berr != nil {
			return nil, berr
		}
		if e.structured == nil {
			err = errNoTransport
		} else {
			records, err = e.structured.Query(ctx, b, q)
		}
	}
	if err != nil {
		return nil, transportError(cc, "query "+q.String(), err)
	}
	if records == nil {
		records = []objects.Record{}
	}
	return records, nil
}

// Run executes l and returns its output values. Structured-only contexts
// fail with an UnsupportedTransportError before anything runs.
func (e *Executor) Run(ctx context.Context, cc target.ConnectionContext, l Logic) ([]interface{}, error) {
	if cc.Kind().IsStructured() {
		return nil, &UnsupportedTransportError{Kind: cc.Kind(), Computer: cc.Name(), Op: "run"}
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	e.logger.Debug("run", "computer", cc.Name(), "kind", cc.Kind().String(), "native", l.Native != nil)

	var (
		out []interface{}
		err error
	)
	switch cc.Kind() {
	case target.KindLocal:
		out, err = e.runLocal(ctx, l)
		if err != nil {
			return nil, &LocalExecutionFault{Computer: cc.Name(), Err: err}
		}
	case target.KindRemoteShell:
		sess, ok := cc.ShellSession()
		if !ok || l.Body.IsZero() {
			return nil, &UnsupportedTransportError{Kind: cc.Kind(), Computer: cc.Name(), Op: "run native logic"}
		}
		out, err = e.runShell(ctx, sess, l.Body, l.Args)
		if err != nil {
			return nil, transportError(cc, "run", err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown transport kind %s", ErrInvalidRequest, cc.Kind())
	}
	if out == nil {
		out = []interface{}{}
	}
	return out, nil
}

// InvokeMethod calls a static CIM method. It is the only form of
// remote action available on structured contexts.
func (e *Executor) InvokeMethod(ctx context.Context, cc target.ConnectionContext, m Method) (objects.ReturnCode, error) {
	if err := m.Validate(); err != nil {
		return objects.ReturnCode{}, err
	}
	e.logger.Debug("invoke method", "computer", cc.Name(), "kind", cc.Kind().String(), "method", m.String())

	var (
		rc  objects.ReturnCode
		err error
	)
	if sess, ok := cc.ShellSession(); ok {
		var out []interface{}
		out, err = e.runShell(ctx, sess, MethodScript, MethodArgs(m, "", ""))
		if err == nil {
			rc, err = ReturnCodeFromOutput(out)
		}
	} else {
		b, berr := bindingFor(cc)
		if berr != nil {
			return objects.ReturnCode{}, berr
		}
		if e.structured == nil {
			err = errNoTransport
		} else {
			rc, err = e.structured.InvokeMethod(ctx, b, m)
		}
	}
	if err != nil {
		return objects.ReturnCode{}, transportError(cc, "invoke "+m.String(), err)
	}
	if rc.Outputs == nil {
		rc.Outputs = objects.Record{}
	}
	return rc, nil
}

func (e *Executor) runShell(ctx context.Context, s target.RemoteShellSession, body objects.ScriptBlock, args []interface{}) ([]interface{}, error) {
	if e.shell == nil {
		return nil, errNoTransport
	}
	return e.shell.Run(ctx, s, body, args)
}

// runLocal runs native logic in process, recovering panics, or hands the
// body to the local engine.
func (e *Executor) runLocal(ctx context.Context, l Logic) (out []interface{}, err error) {
	if l.Native != nil {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("native logic panicked", "panic", r, "stack", string(debug.Stack()))
				out, err = nil, fmt.Errorf("panic: %v", r)
			}
		}()
		return l.Native(ctx, l.Args)
	}
	if e.local == nil {
		return nil, errNoTransport
	}
	return e.local.Run(ctx, l.Body, l.Args)
}

func bindingFor(cc target.ConnectionContext) (Binding, error) {
	b := Binding{Kind: cc.Kind(), Computer: cc.Name()}
	switch cc.Kind() {
	case target.KindLocal, target.KindBareHostname:
	case target.KindStructuredSession:
		s, ok := cc.StructuredSession()
		if !ok {
			return Binding{}, fmt.Errorf("%w: structured context without a session", ErrInvalidRequest)
		}
		b.Session = s
	default:
		return Binding{}, fmt.Errorf("%w: %s has no structured binding", ErrInvalidRequest, cc.Kind())
	}
	return b, nil
}

func transportError(cc target.ConnectionContext, op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Kind: cc.Kind(), Computer: cc.Name(), Op: op, Err: err}
}
