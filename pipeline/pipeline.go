package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/smnsjas/go-cmagent/objects"
	"github.com/smnsjas/go-cmagent/proc"
	"github.com/smnsjas/go-cmagent/serialization"
)

var (
	// ErrInvalidState is returned when an operation is attempted in an invalid state.
	ErrInvalidState = errors.New("invalid pipeline state")
	// ErrNoCommands is returned when a pipeline with no commands is invoked.
	ErrNoCommands = errors.New("pipeline has no commands")
	// ErrNoOutput is returned when the program exited without writing output.
	ErrNoOutput = errors.New("program wrote no output")
)

// State represents the current state of a Pipeline.
type State int

const (
	// StateNotStarted indicates the pipeline has not been invoked yet.
	StateNotStarted State = iota
	// StateRunning indicates the pipeline is currently executing.
	StateRunning
	// StateCompleted indicates the pipeline completed successfully.
	StateCompleted
	// StateFailed indicates the pipeline failed with an error.
	StateFailed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Engine executes a rendered program and returns the raw process result.
type Engine interface {
	Execute(ctx context.Context, id uuid.UUID, program string) (proc.Result, error)
}

// ExitError reports a program that exited non-zero without an error object.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Stderr)
}

// Pipeline is a single-use command pipeline.
type Pipeline struct {
	mu sync.RWMutex

	id     uuid.UUID
	state  State
	engine Engine
	depth  int

	// powerShell represents the pipeline definition (commands and parameters)
	powerShell *objects.PowerShell

	output []interface{}
	err    error
}

// New creates a Pipeline whose first command is the given command name.
func New(engine Engine, command string) *Pipeline {
	p := NewBuilder(engine)
	p.powerShell.AddCommand(command, false)
	return p
}

// NewScript creates a Pipeline whose first command is script text.
func NewScript(engine Engine, script objects.ScriptBlock) *Pipeline {
	p := NewBuilder(engine)
	p.powerShell.AddCommand(script.Text, true)
	return p
}

// NewBuilder creates a new Pipeline with an empty command list.
// Use AddCommand/AddParameter to build the pipeline.
func NewBuilder(engine Engine) *Pipeline {
	return &Pipeline{
		id:         uuid.New(),
		state:      StateNotStarted,
		engine:     engine,
		depth:      DefaultDepth,
		powerShell: objects.NewPowerShell(),
	}
}

// AddCommand adds a cmdlet or script to the pipeline.
// isScript should be true if name is a script block or raw script code.
func (p *Pipeline) AddCommand(name string, isScript bool) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.powerShell.AddCommand(name, isScript)
	return p
}

// AddParameter adds a named parameter to the last added command.
func (p *Pipeline) AddParameter(name string, value interface{}) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.powerShell.AddParameter(name, value)
	return p
}

// AddArgument adds a positional argument to the last added command.
func (p *Pipeline) AddArgument(value interface{}) *Pipeline {
	return p.AddParameter("", value)
}

// AddArguments adds positional arguments to the last added command.
func (p *Pipeline) AddArguments(values ...interface{}) *Pipeline {
	for _, v := range values {
		p.AddArgument(v)
	}
	return p
}

// SetDepth sets the serialization depth of the output. Values below 1 are
// ignored.
func (p *Pipeline) SetDepth(depth int) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	if depth > 0 {
		p.depth = depth
	}
	return p
}

// ID returns the unique identifier of the pipeline.
func (p *Pipeline) ID() uuid.UUID {
	return p.id
}

// State returns the current state of the pipeline.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Commands returns a copy of the pipeline's commands.
func (p *Pipeline) Commands() []objects.Command {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]objects.Command(nil), p.powerShell.Commands...)
}

// Invoke runs the pipeline once and returns its decoded output. The output
// is never nil on success.
func (p *Pipeline) Invoke(ctx context.Context) ([]interface{}, error) {
	p.mu.Lock()
	if p.state != StateNotStarted {
		state := p.state
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pipeline already invoked (state=%s)", ErrInvalidState, state)
	}
	p.state = StateRunning
	p.mu.Unlock()

	program, err := p.Program()
	if err != nil {
		p.transition(StateFailed, nil, err)
		return nil, err
	}

	res, err := p.engine.Execute(ctx, p.id, program)
	if err != nil {
		p.transition(StateFailed, nil, err)
		return nil, err
	}

	out, err := ParseResult(res)
	if err != nil {
		p.transition(StateFailed, nil, err)
		return nil, err
	}
	p.transition(StateCompleted, out, nil)
	return out, nil
}

// Output returns the output of a completed pipeline.
func (p *Pipeline) Output() []interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.output
}

// Err returns the error of a failed pipeline.
func (p *Pipeline) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// transition updates the state and records the outcome.
func (p *Pipeline) transition(newState State, out []interface{}, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = newState
	p.output = out
	p.err = err
}

// ParseResult decodes the output of a wrapper program. A program that
// exited 1 with an error object yields an *objects.ErrorRecord; any other
// non-zero exit yields an *ExitError.
func ParseResult(res proc.Result) ([]interface{}, error) {
	idx := bytes.LastIndex(res.Stdout, []byte(OutputMarker))
	if idx < 0 {
		if res.ExitCode != 0 {
			return nil, &ExitError{Code: res.ExitCode, Stderr: res.StderrText()}
		}
		return nil, ErrNoOutput
	}

	values, err := serialization.DecodeOutput(res.Stdout[idx+len(OutputMarker):])
	if err != nil {
		if res.ExitCode != 0 {
			return nil, &ExitError{Code: res.ExitCode, Stderr: res.StderrText()}
		}
		return nil, fmt.Errorf("decode output: %w", err)
	}

	if res.ExitCode != 0 {
		if er := errorRecord(values); er != nil {
			return nil, er
		}
		return nil, &ExitError{Code: res.ExitCode, Stderr: res.StderrText()}
	}
	return values, nil
}

func errorRecord(values []interface{}) *objects.ErrorRecord {
	if len(values) != 1 {
		return nil
	}
	rec, ok := values[0].(objects.Record)
	if !ok {
		return nil
	}
	if flag, _ := rec["CmAgentError"].(bool); !flag {
		return nil
	}
	return objects.ErrorRecordFromRecord(rec)
}
