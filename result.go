package cmagent

import (
	"encoding/json"

	"github.com/smnsjas/go-cmagent/target"
)

// Result is the outcome of one operation on one target.
type Result struct {
	// Target is the target as the caller named it.
	Target string
	// Computer is the resolved computer name.
	Computer string
	// Resolved is false when the target never got a transport, either
	// because it was invalid or because the batch was cancelled first.
	Resolved bool
	// Kind is the transport the target resolved to, when Resolved.
	Kind target.Kind
	// Degradation is set when the transport preference could not be met.
	Degradation *target.Degradation
	Payload     interface{}
	Err         error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Err == nil }

type resultJSON struct {
	Target    string      `json:"target"`
	Computer  string      `json:"computer,omitempty"`
	Transport string      `json:"transport,omitempty"`
	Success   bool        `json:"success"`
	Degraded  string      `json:"degraded,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// MarshalJSON renders the result for machine-readable output.
func (r Result) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Target:   r.Target,
		Computer: r.Computer,
		Success:  r.OK(),
		Payload:  r.Payload,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	if r.Resolved {
		out.Transport = r.Kind.String()
	}
	if r.Degradation != nil {
		out.Degraded = r.Degradation.Reason
	}
	return json.Marshal(out)
}

// Failed returns the failed results, preserving order.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}
