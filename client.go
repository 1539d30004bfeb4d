package cmagent

import (
	"context"
	"log/slog"

	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/resolve"
	"github.com/smnsjas/go-cmagent/target"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	probe      resolve.Probe
	local      *target.LocalIdentity
	preference target.Preference
	logger     *slog.Logger
}

// WithProbe sets where the resolver looks for open sessions.
func WithProbe(p resolve.Probe) Option {
	return func(o *options) { o.probe = p }
}

// WithLocalIdentity overrides local machine detection.
func WithLocalIdentity(id target.LocalIdentity) Option {
	return func(o *options) { o.local = &id }
}

// WithPreference sets the transport preference applied to hostname targets.
func WithPreference(p target.Preference) Option {
	return func(o *options) { o.preference = p }
}

// WithLogger sets the logger shared by the resolver and executor.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Client resolves targets and executes operations against them.
type Client struct {
	resolver   *resolve.Resolver
	executor   *execute.Executor
	preference target.Preference
	logger     *slog.Logger
}

// New creates a Client over the given transports.
func New(structured execute.StructuredTransport, shell execute.ShellTransport, local execute.LocalEngine, opts ...Option) *Client {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	ropts := []resolve.Option{resolve.WithProbe(o.probe), resolve.WithLogger(o.logger)}
	if o.local != nil {
		ropts = append(ropts, resolve.WithLocalIdentity(*o.local))
	}
	return &Client{
		resolver:   resolve.New(ropts...),
		executor:   execute.New(structured, shell, local, execute.WithLogger(o.logger)),
		preference: o.preference,
		logger:     o.logger,
	}
}

// Preference returns the transport preference applied to hostname targets.
func (c *Client) Preference() target.Preference { return c.preference }

// Resolve resolves t with the client's preference.
func (c *Client) Resolve(ctx context.Context, t target.Target) (target.ConnectionContext, error) {
	return c.resolver.Resolve(ctx, t, c.preference)
}

// Executor returns the executor, for callers that resolve contexts themselves.
func (c *Client) Executor() *execute.Executor { return c.executor }

// Query resolves t and runs q against it.
func (c *Client) Query(ctx context.Context, t target.Target, q execute.Query) ([]objects.Record, error) {
	cc, err := c.Resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	return c.executor.Query(ctx, cc, q)
}

// Run resolves t and runs l against it.
func (c *Client) Run(ctx context.Context, t target.Target, l execute.Logic) ([]interface{}, error) {
	cc, err := c.Resolve(ctx, t)
	if err != nil {
		return nil, err
	}
	return c.executor.Run(ctx, cc, l)
}

// InvokeMethod resolves t and calls m against it.
func (c *Client) InvokeMethod(ctx context.Context, t target.Target, m execute.Method) (objects.ReturnCode, error) {
	cc, err := c.Resolve(ctx, t)
	if err != nil {
		return objects.ReturnCode{}, err
	}
	return c.executor.InvokeMethod(ctx, cc, m)
}

// Operation is one per-target step of a batch.
type Operation func(ctx context.Context, cc target.ConnectionContext) (interface{}, error)

// ForEach resolves every target and runs op on it, one target at a time,
// returning one Result per target in input order. A failed target does not
// stop the batch. Cancellation is only observed between targets; targets
// not yet started when ctx is done get ctx.Err().
func (c *Client) ForEach(ctx context.Context, targets []target.Target, op Operation) []Result {
	results := make([]Result, 0, len(targets))
	for _, t := range targets {
		r := Result{Target: t.String(), Computer: t.Name()}
		if err := ctx.Err(); err != nil {
			r.Err = err
			results = append(results, r)
			continue
		}

		cc, err := c.Resolve(ctx, t)
		if err != nil {
			r.Err = err
			c.logger.Warn("target failed", "target", r.Target, "err", err)
			results = append(results, r)
			continue
		}
		r.Computer = cc.Name()
		r.Resolved = true
		r.Kind = cc.Kind()
		if d, ok := cc.Degradation(); ok {
			r.Degradation = &d
		}

		r.Payload, r.Err = op(ctx, cc)
		if r.Err != nil {
			r.Payload = nil
			c.logger.Warn("target failed",
				"target", r.Target,
				"computer", r.Computer,
				"kind", r.Kind.String(),
				"err", r.Err,
			)
		}
		results = append(results, r)
	}
	return results
}

// QueryAll runs q against every target. Payloads are []objects.Record.
func (c *Client) QueryAll(ctx context.Context, targets []target.Target, q execute.Query) []Result {
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		return c.executor.Query(ctx, cc, q)
	})
}

// RunAll runs l against every target. Payloads are []interface{}.
func (c *Client) RunAll(ctx context.Context, targets []target.Target, l execute.Logic) []Result {
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		return c.executor.Run(ctx, cc, l)
	})
}

// InvokeMethodAll calls m against every target. Payloads are
// objects.ReturnCode.
func (c *Client) InvokeMethodAll(ctx context.Context, targets []target.Target, m execute.Method) []Result {
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		return c.executor.InvokeMethod(ctx, cc, m)
	})
}
