package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CIM session protocols.
const (
	ProtocolDefault = "Default"
	ProtocolDcom    = "Dcom"
	ProtocolWsman   = "Wsman"
)

// ParseProtocol normalizes a protocol name. Empty means ProtocolDefault.
func ParseProtocol(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ProtocolDefault, nil
	case "dcom":
		return ProtocolDcom, nil
	case "wsman", "winrm":
		return ProtocolWsman, nil
	default:
		return "", fmt.Errorf("unknown CIM protocol %q", s)
	}
}

// Verifier checks that a CIM session to computer can be established.
type Verifier func(ctx context.Context, computer, protocol string) error

// Cim is a structured-query session. Every call made through it rebuilds
// the CIM connection from these parameters; Open verifies they work.
type Cim struct {
	mu sync.RWMutex

	id       uuid.UUID
	computer string
	protocol string
	verify   Verifier
	state    State
	logger   *slog.Logger
}

// NewCim creates a Cim in StateBeforeOpen. A nil verify makes Open succeed
// without contacting the computer.
func NewCim(computer, protocol string, verify Verifier, opts ...Option) (*Cim, error) {
	p, err := ParseProtocol(protocol)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	o := buildOptions(opts)
	return &Cim{
		id:       id,
		computer: computer,
		protocol: p,
		verify:   verify,
		state:    StateBeforeOpen,
		logger:   o.logger.With("session", id.String(), "computer", computer),
	}, nil
}

// ID returns the session identifier.
func (c *Cim) ID() uuid.UUID { return c.id }

// ComputerName returns the computer the session is bound to.
func (c *Cim) ComputerName() string { return c.computer }

// Protocol returns the session protocol.
func (c *Cim) Protocol() string { return c.protocol }

// State returns the current state of the session.
func (c *Cim) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Open verifies connectivity and moves the session to StateOpened.
func (c *Cim) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateBeforeOpen {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot open session in state %s", ErrInvalidState, state)
	}
	c.state = StateOpening
	c.mu.Unlock()

	if c.verify != nil {
		if err := c.verify(ctx, c.computer, c.protocol); err != nil {
			c.setState(StateBroken)
			c.logger.Warn("cim session failed to open", "protocol", c.protocol, "err", err)
			return fmt.Errorf("%w to %s: %w", ErrOpen, c.computer, err)
		}
	}
	c.setState(StateOpened)
	c.logger.Info("cim session opened", "protocol", c.protocol)
	return nil
}

// Close marks the session closed.
func (c *Cim) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOpening {
		return fmt.Errorf("%w: cannot close session in state %s", ErrInvalidState, c.state)
	}
	c.state = StateClosed
	return nil
}

func (c *Cim) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}
