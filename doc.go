// Package cmagent runs management operations against a list of computers
// over whichever transport each one can be reached by.
//
// A caller names targets (hostnames, or session handles it already opened)
// and asks for a structured query, a piece of logic to run, or a CIM method
// call. For every target the Client re-resolves a transport, runs exactly
// one attempt, and reports a Result. Targets are processed one at a time in
// the order given; one target's failure never stops the others.
//
// # Architecture
//
// The library is organized into layers:
//
//   - Client: per-target batch runner producing Results in input order
//   - resolve: Target → ConnectionContext fallback state machine
//   - execute: Query, Run and InvokeMethod routed by transport kind
//   - pwsh, pipeline, proc: the PowerShell-backed transports
//   - session: caller-owned SSH and CIM sessions and their registry
//   - cmclient: Configuration Manager client features built on the above
//
// # Transport Kinds
//
//	Local              this machine, no network
//	StructuredSession  CIM calls bound to an open CIM session
//	BareHostname       CIM calls addressed by hostname
//	RemoteShell        scripts run over an open SSH session
//
// Arbitrary logic cannot run on the two structured kinds; Run fails there
// with execute.ErrUnsupportedTransport. InvokeMethod works everywhere.
//
// # Basic Usage
//
//	backend, err := pwsh.New(proc.ExecRunner{})
//	if err != nil {
//	    return err
//	}
//	client := cmagent.New(backend, backend.Remote(), backend.Local(),
//	    cmagent.WithProbe(registry))
//
//	results := client.QueryAll(ctx, target.Hostnames("srv1", "srv2"),
//	    execute.Query{Namespace: `root\ccm`, ClassName: "SMS_Client"})
//	for _, r := range results {
//	    if r.Err != nil {
//	        log.Printf("%s: %v", r.Target, r.Err)
//	    }
//	}
package cmagent

// Version is the library version.
const Version = "0.1.0-dev"
