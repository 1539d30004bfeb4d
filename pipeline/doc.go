// Package pipeline builds and runs a PowerShell command pipeline as one
// self-contained program.
//
// A Pipeline is an ordered list of commands, each a command name or script
// text with positional arguments and named parameters. Invoke renders the
// pipeline into a wrapper program, hands it to an Engine (a local pwsh
// process or a pwsh at the end of an SSH connection) and decodes the single
// CLIXML document the program writes back.
//
// # Wire Format
//
// All commands and arguments travel as one CLIXML document embedded in the
// program and revived with PSSerializer::Deserialize, so any value the
// serialization package can write reaches the far end with its type intact.
// The program writes a marker followed by PSSerializer::Serialize(@(output)).
// A terminating error is written the same way as an object carrying
// CmAgentError=$true, and the program exits 1; Invoke returns it as an
// *objects.ErrorRecord.
//
// # State Machine
//
//	NotStarted → Running → Completed
//	                ↓
//	              Failed
//
// A Pipeline runs at most once. A second Invoke returns ErrInvalidState.
//
// # Usage
//
//	p := pipeline.New(engine, "Get-CimInstance").
//	    AddParameter("ClassName", "Win32_OperatingSystem")
//	out, err := p.Invoke(ctx)
package pipeline
