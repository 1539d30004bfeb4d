package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/smnsjas/go-cmagent/proc"
)

// ShellConfig describes how to reach a computer over SSH.
type ShellConfig struct {
	// Computer is the name targets use for this session.
	Computer string
	// Destination is the ssh destination; defaults to Computer.
	Destination string
	Port        int
	// IdentityFile is passed to ssh -i.
	IdentityFile string
	// SSH is the ssh binary; defaults to "ssh".
	SSH string
	// ControlDir holds the ControlMaster socket; defaults to the temp dir.
	ControlDir string
	// BatchMode makes ssh fail instead of prompting for credentials.
	BatchMode bool
}

// Shell is an SSH session multiplexed through a ControlMaster socket.
type Shell struct {
	mu sync.RWMutex

	id          uuid.UUID
	cfg         ShellConfig
	runner      proc.Runner
	state       State
	controlPath string
	logger      *slog.Logger
}

// NewShell creates a Shell in StateBeforeOpen.
func NewShell(cfg ShellConfig, runner proc.Runner, opts ...Option) *Shell {
	if cfg.Destination == "" {
		cfg.Destination = cfg.Computer
	}
	if cfg.SSH == "" {
		cfg.SSH = "ssh"
	}
	if cfg.ControlDir == "" {
		cfg.ControlDir = os.TempDir()
	}
	id := uuid.New()
	o := buildOptions(opts)
	return &Shell{
		id:          id,
		cfg:         cfg,
		runner:      runner,
		state:       StateBeforeOpen,
		controlPath: filepath.Join(cfg.ControlDir, "cmagent-"+id.String()[:8]+".sock"),
		logger:      o.logger.With("session", id.String(), "computer", cfg.Computer),
	}
}

// ID returns the session identifier.
func (s *Shell) ID() uuid.UUID { return s.id }

// ComputerName returns the computer the session is bound to.
func (s *Shell) ComputerName() string { return s.cfg.Computer }

// Destination returns the ssh destination.
func (s *Shell) Destination() string { return s.cfg.Destination }

// ControlPath returns the ControlMaster socket path.
func (s *Shell) ControlPath() string { return s.controlPath }

// State returns the current state of the session.
func (s *Shell) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Open starts the ControlMaster. ssh backgrounds itself once authenticated.
func (s *Shell) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateBeforeOpen {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot open session in state %s", ErrInvalidState, state)
	}
	s.state = StateOpening
	s.mu.Unlock()

	s.logger.Debug("opening shell session", "destination", s.cfg.Destination)
	args := append([]string{"-M", "-N", "-f", "-o", "ControlMaster=yes", "-o", "ControlPersist=yes"}, s.commonArgs()...)
	args = append(args, s.cfg.Destination)

	res, err := s.runner.Run(ctx, proc.Command{Name: s.cfg.SSH, Args: args})
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("ssh exited %d: %s", res.ExitCode, res.StderrText())
	}
	if err != nil {
		s.setState(StateBroken)
		s.logger.Warn("shell session failed to open", "err", err)
		return fmt.Errorf("%w to %s: %w", ErrOpen, s.cfg.Destination, err)
	}

	s.setState(StateOpened)
	s.logger.Info("shell session opened", "destination", s.cfg.Destination)
	return nil
}

// Check asks the ControlMaster whether it is alive. A failed check moves
// the session to StateBroken.
func (s *Shell) Check(ctx context.Context) error {
	if state := s.State(); state != StateOpened {
		return fmt.Errorf("%w: cannot check session in state %s", ErrInvalidState, state)
	}
	res, err := s.runner.Run(ctx, s.control("check"))
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("ssh -O check exited %d: %s", res.ExitCode, res.StderrText())
	}
	if err != nil {
		s.setState(StateBroken)
		s.logger.Warn("shell session broken", "err", err)
		return fmt.Errorf("%w: %w", ErrBroken, err)
	}
	return nil
}

// Close stops the ControlMaster. Closing a closed session is a no-op.
func (s *Shell) Close(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil
	case StateBeforeOpen:
		s.state = StateClosed
		s.mu.Unlock()
		return nil
	case StateOpening, StateClosing:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot close session in state %s", ErrInvalidState, state)
	}
	s.state = StateClosing
	s.mu.Unlock()

	res, err := s.runner.Run(ctx, s.control("exit"))
	s.setState(StateClosed)
	if err == nil && res.ExitCode != 0 {
		// The master is already gone; nothing left to stop.
		s.logger.Debug("control master not running", "stderr", res.StderrText())
	}
	if err != nil {
		return fmt.Errorf("close shell session: %w", err)
	}
	s.logger.Info("shell session closed")
	return nil
}

// Command builds an ssh invocation running remote through the session.
func (s *Shell) Command(stdin []byte, remote ...string) proc.Command {
	args := append(s.commonArgs(), s.cfg.Destination)
	args = append(args, remote...)
	return proc.Command{Name: s.cfg.SSH, Args: args, Stdin: stdin}
}

func (s *Shell) control(op string) proc.Command {
	args := append([]string{"-O", op}, s.commonArgs()...)
	args = append(args, s.cfg.Destination)
	return proc.Command{Name: s.cfg.SSH, Args: args}
}

func (s *Shell) commonArgs() []string {
	args := []string{"-o", "ControlPath=" + s.controlPath}
	if s.cfg.Port > 0 {
		args = append(args, "-p", strconv.Itoa(s.cfg.Port))
	}
	if s.cfg.IdentityFile != "" {
		args = append(args, "-i", s.cfg.IdentityFile)
	}
	if s.cfg.BatchMode {
		args = append(args, "-o", "BatchMode=yes")
	}
	return args
}

func (s *Shell) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}
