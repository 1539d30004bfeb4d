// Package cmclient implements Configuration Manager client management
// features on top of the cmagent core. Every feature runs against a list
// of targets and returns one cmagent.Result per target, in order; payloads
// are the typed structs declared here.
//
// Features that only need CIM queries and methods work over every
// transport. Features that need arbitrary logic (full inventory, cache
// clearing) fail with execute.ErrUnsupportedTransport on structured-only
// targets.
package cmclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	cmagent "github.com/smnsjas/go-cmagent"
	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/target"
)

// CIM namespaces used by the client agent.
const (
	NamespaceCCM       = `root\ccm`
	NamespaceInvAgent  = `root\ccm\invagt`
	NamespaceSoftMgmt  = `root\ccm\SoftMgmtAgent`
	NamespaceClientSDK = `root\ccm\ClientSDK`
	NamespaceDefault   = `root\default`
)

// ErrMethodFailed is matched by every MethodError.
var ErrMethodFailed = errors.New("method returned failure")

// MethodError reports a CIM method that ran but returned a non-zero
// ReturnValue.
type MethodError struct {
	Computer string
	Method   string
	Code     int64
}

func (e *MethodError) Error() string {
	return fmt.Sprintf("%s on %s returned %d", e.Method, e.Computer, e.Code)
}

// Is reports whether err is ErrMethodFailed.
func (e *MethodError) Is(err error) bool { return err == ErrMethodFailed }

// Query runs q against every target. Payloads are []objects.Record.
func Query(ctx context.Context, c *cmagent.Client, targets []target.Target, q execute.Query) []cmagent.Result {
	return c.QueryAll(ctx, targets, q)
}

// Run runs l against every target. Payloads are []interface{}.
func Run(ctx context.Context, c *cmagent.Client, targets []target.Target, l execute.Logic) []cmagent.Result {
	return c.RunAll(ctx, targets, l)
}

// decode copies a record's properties into out, matching "cim" struct tags
// case-insensitively. Transport metadata is dropped first.
func decode(r objects.Record, out interface{}) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "cim",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return d.Decode(map[string]interface{}(r.WithoutMetadata()))
}

func decodeAll[T any](records []objects.Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := decode(r, &v); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// queryAll queries every target and decodes the records into []T.
func queryAll[T any](ctx context.Context, c *cmagent.Client, targets []target.Target, q execute.Query) []cmagent.Result {
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		records, err := c.Executor().Query(ctx, cc, q)
		if err != nil {
			return nil, err
		}
		return decodeAll[T](records)
	})
}

// invoke calls m and turns a non-zero ReturnValue into a MethodError.
func invoke(ctx context.Context, c *cmagent.Client, cc target.ConnectionContext, m execute.Method) (objects.ReturnCode, error) {
	rc, err := c.Executor().InvokeMethod(ctx, cc, m)
	if err != nil {
		return objects.ReturnCode{}, err
	}
	if !rc.OK() {
		return rc, &MethodError{Computer: cc.Name(), Method: m.ClassName + "." + m.Name, Code: rc.Value}
	}
	return rc, nil
}

// invokeAll calls m on every target. Payloads are objects.ReturnCode.
func invokeAll(ctx context.Context, c *cmagent.Client, targets []target.Target, m execute.Method) []cmagent.Result {
	return c.ForEach(ctx, targets, func(ctx context.Context, cc target.ConnectionContext) (interface{}, error) {
		return invoke(ctx, c, cc, m)
	})
}

// decodeValue converts a single scalar with weak typing.
func decodeValue(in, out interface{}) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return d.Decode(in)
}
