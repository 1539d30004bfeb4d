// Package resolve turns a target.Target into a target.ConnectionContext.
//
// Resolution is a small finite-state procedure run once per target and per
// operation. Nothing is cached between calls.
//
// # State Machine
//
//	ProbePreferred → ProbeAlternate → BareHostname → Resolved
//	      ↓                ↓
//	      └──────→ Resolved ←┘
//
//   - ProbePreferred: look for an open session of the preferred kind
//     (structured when no preference is given).
//   - ProbeAlternate: look for an open session of the other kind.
//   - BareHostname: neither kind is open; address the hostname directly
//     through the structured transport.
//
// There is no failed terminal state: a malformed or unreachable hostname is
// only discovered when an executor uses the context.
//
// Local names short-circuit the machine: a hostname, or a session handle,
// naming this machine always resolves to target.KindLocal.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/smnsjas/go-cmagent/target"
)

// State is a step of the resolution procedure.
type State int

const (
	// StateProbePreferred probes for a session of the preferred kind.
	StateProbePreferred State = iota
	// StateProbeAlternate probes for a session of the other kind.
	StateProbeAlternate
	// StateBareHostname falls back to addressing the hostname directly.
	StateBareHostname
	// StateResolved is the terminal state.
	StateResolved
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateProbePreferred:
		return "ProbePreferred"
	case StateProbeAlternate:
		return "ProbeAlternate"
	case StateBareHostname:
		return "BareHostname"
	case StateResolved:
		return "Resolved"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Probe reports the open sessions bound to a computer name.
// Implementations must only report sessions that are currently usable.
type Probe interface {
	LookupStructured(ctx context.Context, computer string) (target.StructuredSession, bool)
	LookupShell(ctx context.Context, computer string) (target.RemoteShellSession, bool)
}

// ProbeFuncs adapts two functions to the Probe interface. A nil function
// reports no session.
type ProbeFuncs struct {
	Structured func(ctx context.Context, computer string) (target.StructuredSession, bool)
	Shell      func(ctx context.Context, computer string) (target.RemoteShellSession, bool)
}

// LookupStructured implements Probe.
func (p ProbeFuncs) LookupStructured(ctx context.Context, computer string) (target.StructuredSession, bool) {
	if p.Structured == nil {
		return nil, false
	}
	return p.Structured(ctx, computer)
}

// LookupShell implements Probe.
func (p ProbeFuncs) LookupShell(ctx context.Context, computer string) (target.RemoteShellSession, bool) {
	if p.Shell == nil {
		return nil, false
	}
	return p.Shell(ctx, computer)
}

// NoSessions is a Probe that never finds a session.
var NoSessions Probe = ProbeFuncs{}

// Option configures a Resolver.
type Option func(*Resolver)

// WithProbe sets the session probe. The default finds no sessions.
func WithProbe(p Probe) Option {
	return func(r *Resolver) {
		if p != nil {
			r.probe = p
		}
	}
}

// WithLocalIdentity overrides the local machine identity.
func WithLocalIdentity(id target.LocalIdentity) Option {
	return func(r *Resolver) {
		r.local = id
	}
}

// WithLogger sets the logger for resolution events.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// Resolver resolves targets against a probe and a local identity. It holds
// no mutable state and is safe for concurrent use.
type Resolver struct {
	probe  Probe
	local  target.LocalIdentity
	logger *slog.Logger
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		probe:  NoSessions,
		local:  target.DetectLocalIdentity(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Outcome is a resolved context together with the states visited.
type Outcome struct {
	Context target.ConnectionContext
	Path    []State
}

// Resolve resolves t with the given preference. It only fails when t itself
// is invalid.
func (r *Resolver) Resolve(ctx context.Context, t target.Target, pref target.Preference) (target.ConnectionContext, error) {
	out, err := r.Trace(ctx, t, pref)
	if err != nil {
		return target.ConnectionContext{}, err
	}
	return out.Context, nil
}

// Trace resolves t like Resolve and also returns the path through the
// state machine.
func (r *Resolver) Trace(ctx context.Context, t target.Target, pref target.Preference) (Outcome, error) {
	if err := t.Validate(); err != nil {
		return Outcome{}, err
	}

	name := t.Name()
	if r.local.IsLocal(name) {
		cc := target.LocalContext(r.canonicalLocal(name))
		r.logger.Debug("target resolved", "target", t.String(), "kind", cc.Kind().String())
		return Outcome{Context: cc, Path: []State{StateResolved}}, nil
	}

	if s, ok := t.StructuredSession(); ok {
		cc := target.StructuredSessionContext(name, s)
		r.logger.Debug("target resolved", "target", t.String(), "kind", cc.Kind().String())
		return Outcome{Context: cc, Path: []State{StateResolved}}, nil
	}
	if s, ok := t.ShellSession(); ok {
		cc := target.RemoteShellContext(name, s)
		r.logger.Debug("target resolved", "target", t.String(), "kind", cc.Kind().String())
		return Outcome{Context: cc, Path: []State{StateResolved}}, nil
	}

	out := r.fallback(ctx, name, pref)
	r.logger.Debug("target resolved",
		"target", t.String(),
		"kind", out.Context.Kind().String(),
		"path", pathString(out.Path),
	)
	if d, ok := out.Context.Degradation(); ok {
		r.logger.Warn("transport preference unmet",
			"target", name,
			"preferred", d.Preferred.String(),
			"kind", out.Context.Kind().String(),
			"err", d.Err(),
		)
	}
	return out, nil
}

// fallback runs the probe states for a non-local hostname.
func (r *Resolver) fallback(ctx context.Context, name string, pref target.Preference) Outcome {
	shellFirst := pref == target.PreferRemoteShell
	path := make([]State, 0, 4)
	state := StateProbePreferred
	var cc target.ConnectionContext

	for state != StateResolved {
		path = append(path, state)
		switch state {
		case StateProbePreferred:
			if found, ok := r.probeKind(ctx, name, shellFirst); ok {
				cc = found
				state = StateResolved
				continue
			}
			state = StateProbeAlternate
		case StateProbeAlternate:
			if found, ok := r.probeKind(ctx, name, !shellFirst); ok {
				cc = found
				state = StateResolved
				continue
			}
			state = StateBareHostname
		case StateBareHostname:
			cc = target.BareHostnameContext(name)
			state = StateResolved
		}
	}
	path = append(path, StateResolved)

	if !pref.SatisfiedBy(cc.Kind()) {
		reason := "no open " + kindNoun(shellFirst) + " session"
		cc = cc.WithDegradation(target.Degradation{Preferred: pref, Reason: reason})
	}
	return Outcome{Context: cc, Path: path}
}

func (r *Resolver) probeKind(ctx context.Context, name string, shell bool) (target.ConnectionContext, bool) {
	if shell {
		if s, ok := r.probe.LookupShell(ctx, name); ok && s != nil {
			return target.RemoteShellContext(name, s), true
		}
		return target.ConnectionContext{}, false
	}
	if s, ok := r.probe.LookupStructured(ctx, name); ok && s != nil {
		return target.StructuredSessionContext(name, s), true
	}
	return target.ConnectionContext{}, false
}

// canonicalLocal keeps the caller's spelling unless it is a loopback alias.
func (r *Resolver) canonicalLocal(name string) string {
	switch strings.ToLower(name) {
	case ".", "localhost", "127.0.0.1", "::1", "":
		return r.local.PrimaryName()
	}
	return name
}

func kindNoun(shell bool) string {
	if shell {
		return "remote-shell"
	}
	return "structured"
}

func pathString(path []State) string {
	parts := make([]string, len(path))
	for i, s := range path {
		parts[i] = s.String()
	}
	return strings.Join(parts, "→")
}
