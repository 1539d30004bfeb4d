// Package objects defines the values exchanged with management transports.
//
// This package provides Go representations of what flows through the
// structured-query and remote-shell transports: structured records returned
// by CIM queries, script blocks and command pipelines sent to a shell, method
// return codes, and the error records a remote PowerShell reports.
//
// # Record
//
// A Record is one structured instance (a CIM instance or any PowerShell
// object with properties):
//
//	rec := objects.Record{"ClientVersion": "5.00.9122.1000"}
//	v, ok := rec.String("ClientVersion")
//
// # PowerShell
//
// PowerShell is an ordered list of commands forming one pipeline:
//
//	ps := objects.NewPowerShell()
//	ps.AddCommand("Get-CimInstance", false)
//	ps.AddParameter("ClassName", "SMS_Client")
package objects

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Record is a single structured record keyed by property name.
type Record map[string]interface{}

// metadataKeys are properties the CIM transport attaches to every instance.
var metadataKeys = map[string]struct{}{
	"CimClass":              {},
	"CimInstanceProperties": {},
	"CimSystemProperties":   {},
	"PSComputerName":        {},
	"PSShowComputerName":    {},
}

// IsMetadata reports whether key is transport-added metadata rather than
// data of the queried class.
func IsMetadata(key string) bool {
	_, ok := metadataKeys[key]
	return ok
}

// WithoutMetadata returns a copy of r without transport-added metadata.
func (r Record) WithoutMetadata() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if IsMetadata(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// Get returns a property by name. Lookup falls back to a case-insensitive
// match because CIM property names are case-insensitive.
func (r Record) Get(name string) (interface{}, bool) {
	if v, ok := r[name]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

// String returns a property as a string.
func (r Record) String(name string) (string, bool) {
	v, ok := r.Get(name)
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Keys returns the property names in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ScriptBlock represents a PowerShell ScriptBlock.
// Serialization: <SBK>text</SBK>
type ScriptBlock struct {
	Text string
}

// String returns the script block text.
func (s ScriptBlock) String() string {
	return s.Text
}

// IsZero reports whether the script block has no text.
func (s ScriptBlock) IsZero() bool {
	return strings.TrimSpace(s.Text) == ""
}

// CommandParameter represents a parameter for a PowerShell command.
// An empty Name marks a positional argument.
type CommandParameter struct {
	Name  string
	Value interface{}
}

// Command represents a single PowerShell command (cmdlet or script).
type Command struct {
	Name       string
	IsScript   bool
	Parameters []CommandParameter
}

// Positional returns the positional arguments in order.
func (c Command) Positional() []interface{} {
	args := make([]interface{}, 0, len(c.Parameters))
	for _, p := range c.Parameters {
		if p.Name == "" {
			args = append(args, p.Value)
		}
	}
	return args
}

// Named returns the named parameters.
func (c Command) Named() map[string]interface{} {
	named := make(map[string]interface{})
	for _, p := range c.Parameters {
		if p.Name != "" {
			named[p.Name] = p.Value
		}
	}
	return named
}

// PowerShell represents a pipeline of commands to be executed.
type PowerShell struct {
	Commands []Command
}

// NewPowerShell creates a new PowerShell pipeline object.
func NewPowerShell() *PowerShell {
	return &PowerShell{
		Commands: make([]Command, 0),
	}
}

// AddCommand adds a command to the pipeline.
func (p *PowerShell) AddCommand(name string, isScript bool) {
	p.Commands = append(p.Commands, Command{
		Name:       name,
		IsScript:   isScript,
		Parameters: make([]CommandParameter, 0),
	})
}

// AddParameter adds a parameter to the last command in the pipeline.
func (p *PowerShell) AddParameter(name string, value interface{}) {
	if len(p.Commands) == 0 {
		return
	}
	idx := len(p.Commands) - 1
	p.Commands[idx].Parameters = append(p.Commands[idx].Parameters, CommandParameter{
		Name:  name,
		Value: value,
	})
}

// ReturnCode is the outcome of a CIM method invocation.
type ReturnCode struct {
	// Value is the method's ReturnValue; zero means success for most
	// management classes.
	Value int64
	// Outputs holds the method's out parameters.
	Outputs Record
}

// OK reports whether the method returned zero.
func (r ReturnCode) OK() bool {
	return r.Value == 0
}

// ErrNoReturnValue is returned when a method result carries no integer
// ReturnValue.
var ErrNoReturnValue = errors.New("method result has no integer ReturnValue")

// ReturnCodeFromRecord builds a ReturnCode from a method result object.
// ReturnValue is split out; every other non-metadata property is an output.
func ReturnCodeFromRecord(r Record) (ReturnCode, error) {
	rc := ReturnCode{Outputs: Record{}}
	found := false
	for k, v := range r.WithoutMetadata() {
		if strings.EqualFold(k, "ReturnValue") {
			n, ok := toInt64(v)
			if !ok {
				return ReturnCode{}, fmt.Errorf("%w: got %T", ErrNoReturnValue, v)
			}
			rc.Value = n
			found = true
			continue
		}
		rc.Outputs[k] = v
	}
	if !found {
		return ReturnCode{}, ErrNoReturnValue
	}
	return rc, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
