// Package session provides caller-owned session handles and a registry the
// resolver probes for them.
//
// A Shell is an SSH connection multiplexed through a ControlMaster socket;
// commands sent through it reuse the authenticated connection. A Cim is a
// structured-query session description whose connectivity was verified at
// Open. Both follow the same state machine:
//
//	BeforeOpen → Opening → Opened → Closing → Closed
//	             ↓           ↓         ↓
//	             └─────→ Broken ←──────┘
//
// State transitions:
//   - BeforeOpen: Initial state, nothing established
//   - Opening: Open in progress
//   - Opened: Session is usable
//   - Closing: Close requested, cleanup in progress
//   - Closed: Session is closed and cannot be reopened
//   - Broken: Open or a health check failed
//
// The executors never open or close sessions. Whoever opens a session puts
// it in a Registry and closes it when done.
package session

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrInvalidState is returned when an operation is attempted in an invalid state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrOpen is returned when a session could not be established.
	ErrOpen = errors.New("open session")
	// ErrBroken is returned when a health check fails.
	ErrBroken = errors.New("session is broken")
)

// State represents the current state of a session.
type State int

const (
	// StateBeforeOpen is the initial state before the session is opened.
	StateBeforeOpen State = iota
	// StateOpening indicates the session is being established.
	StateOpening
	// StateOpened indicates the session is ready for use.
	StateOpened
	// StateClosing indicates the session is being closed.
	StateClosing
	// StateClosed indicates the session is closed.
	StateClosed
	// StateBroken indicates an error occurred and the session is unusable.
	StateBroken
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateBeforeOpen:
		return "BeforeOpen"
	case StateOpening:
		return "Opening"
	case StateOpened:
		return "Opened"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	case StateBroken:
		return "Broken"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Option configures a session.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for session lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
