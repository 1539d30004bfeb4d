package execute

import (
	"errors"
	"fmt"

	"github.com/smnsjas/go-cmagent/target"
)

var (
	// ErrTransport matches any *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrUnsupportedTransport matches any *UnsupportedTransportError.
	ErrUnsupportedTransport = errors.New("unsupported transport")
	// ErrLocalExecution matches any *LocalExecutionFault.
	ErrLocalExecution = errors.New("local execution fault")
	// ErrInvalidRequest is returned when a request is incomplete.
	ErrInvalidRequest = errors.New("invalid request")
)

// TransportError reports that a structured-query or remote-logic call
// faulted: access denied, namespace not found, broken session, remote
// exception.
type TransportError struct {
	Kind     target.Kind
	Computer string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s on %s via %s: %v", e.Op, e.Computer, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches ErrTransport.
func (e *TransportError) Is(err error) bool { return err == ErrTransport }

// UnsupportedTransportError reports arbitrary logic requested against a
// structured-only context.
type UnsupportedTransportError struct {
	Kind     target.Kind
	Computer string
	Op       string
}

func (e *UnsupportedTransportError) Error() string {
	return fmt.Sprintf("%s on %s: %s transport cannot run arbitrary logic", e.Op, e.Computer, e.Kind)
}

// Is matches ErrUnsupportedTransport.
func (e *UnsupportedTransportError) Is(err error) bool { return err == ErrUnsupportedTransport }

// LocalExecutionFault reports that logic run on this machine raised.
type LocalExecutionFault struct {
	Computer string
	Err      error
}

func (e *LocalExecutionFault) Error() string {
	return fmt.Sprintf("local execution on %s: %v", e.Computer, e.Err)
}

func (e *LocalExecutionFault) Unwrap() error { return e.Err }

// Is matches ErrLocalExecution.
func (e *LocalExecutionFault) Is(err error) bool { return err == ErrLocalExecution }
