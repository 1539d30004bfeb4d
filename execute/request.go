package execute

import (
	"context"
	"fmt"

	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/target"
)

// DefaultNamespace is used when a Query or Method names no namespace.
const DefaultNamespace = `root\cimv2`

// Query selects structured records, either by class and optional filter or
// by a raw WQL query string.
type Query struct {
	Namespace string
	ClassName string
	Filter    string
	WQL       string
}

// Validate reports whether the query names either a class or a WQL string.
func (q Query) Validate() error {
	switch {
	case q.ClassName == "" && q.WQL == "":
		return fmt.Errorf("%w: query needs a class name or WQL", ErrInvalidRequest)
	case q.ClassName != "" && q.WQL != "":
		return fmt.Errorf("%w: query has both a class name and WQL", ErrInvalidRequest)
	case q.WQL != "" && q.Filter != "":
		return fmt.Errorf("%w: filter cannot be combined with WQL", ErrInvalidRequest)
	}
	return nil
}

// NS returns the namespace, defaulting to root\cimv2.
func (q Query) NS() string {
	if q.Namespace == "" {
		return DefaultNamespace
	}
	return q.Namespace
}

// String returns a short description for logs.
func (q Query) String() string {
	if q.WQL != "" {
		return q.NS() + ":" + q.WQL
	}
	if q.Filter != "" {
		return q.NS() + ":" + q.ClassName + "[" + q.Filter + "]"
	}
	return q.NS() + ":" + q.ClassName
}

// NativeFunc is logic that runs in this process when the context is local.
type NativeFunc func(ctx context.Context, args []interface{}) ([]interface{}, error)

// Logic is a script body plus positional arguments. Body runs on a shell;
// when Native is set and the context is local, Native runs in process
// instead of Body.
type Logic struct {
	Body   objects.ScriptBlock
	Args   []interface{}
	Native NativeFunc
}

// Validate reports whether the logic has something to run.
func (l Logic) Validate() error {
	if l.Body.IsZero() && l.Native == nil {
		return fmt.Errorf("%w: logic has no body", ErrInvalidRequest)
	}
	return nil
}

// Method is a named static method invocation with a fixed argument mapping.
type Method struct {
	Namespace string
	ClassName string
	Name      string
	Args      map[string]interface{}
}

// Validate reports whether the method is fully named.
func (m Method) Validate() error {
	if m.ClassName == "" || m.Name == "" {
		return fmt.Errorf("%w: method needs a class and a name", ErrInvalidRequest)
	}
	return nil
}

// NS returns the namespace, defaulting to root\cimv2.
func (m Method) NS() string {
	if m.Namespace == "" {
		return DefaultNamespace
	}
	return m.Namespace
}

// String returns a short description for logs.
func (m Method) String() string {
	return m.NS() + ":" + m.ClassName + "." + m.Name
}

// Binding tells a StructuredTransport where to send a call.
type Binding struct {
	// Kind is KindLocal, KindStructuredSession or KindBareHostname.
	Kind     target.Kind
	Computer string
	// Session is set for KindStructuredSession.
	Session target.StructuredSession
}

// StructuredTransport runs CIM queries and method calls.
type StructuredTransport interface {
	Query(ctx context.Context, b Binding, q Query) ([]objects.Record, error)
	InvokeMethod(ctx context.Context, b Binding, m Method) (objects.ReturnCode, error)
}

// ShellTransport runs a script with positional arguments over an open
// remote-shell session and returns its deserialized output.
type ShellTransport interface {
	Run(ctx context.Context, s target.RemoteShellSession, body objects.ScriptBlock, args []interface{}) ([]interface{}, error)
}

// LocalEngine runs a script with positional arguments on this machine.
type LocalEngine interface {
	Run(ctx context.Context, body objects.ScriptBlock, args []interface{}) ([]interface{}, error)
}
