package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	cmagent "github.com/smnsjas/go-cmagent"
)

// errTargetsFailed is returned after the results were printed, so main
// only sets the exit status.
var errTargetsFailed = errors.New("targets failed")

// report prints results and fails when any target failed.
func (a *app) report(results []cmagent.Result) error {
	var err error
	if a.json {
		err = writeJSON(a.stdout, results)
	} else {
		err = a.writeText(results)
	}
	if err != nil {
		return err
	}
	if failed := cmagent.Failed(results); len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d", errTargetsFailed, len(failed), len(results))
	}
	return nil
}

func writeJSON(w io.Writer, results []cmagent.Result) error {
	enc := json.NewEncoder(w)
	if isTerminal(w) {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(results)
}

func (a *app) writeText(results []cmagent.Result) error {
	ok := color.New(color.FgGreen)
	failed := color.New(color.FgRed)
	warn := color.New(color.FgYellow)
	if !isTerminal(a.stdout) {
		ok.DisableColor()
		failed.DisableColor()
		warn.DisableColor()
	}

	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(a.stdout)
		}
		header := r.Computer
		if header == "" {
			header = r.Target
		}
		if r.Resolved {
			header += " [" + r.Kind.String() + "]"
		}
		if r.Err != nil {
			fmt.Fprintf(a.stdout, "%s %s %v\n", header, failed.Sprint("FAILED"), r.Err)
		} else {
			fmt.Fprintf(a.stdout, "%s %s\n", header, ok.Sprint("OK"))
		}
		if r.Degradation != nil {
			fmt.Fprintf(a.stdout, "  %s %s preference unmet: %s\n", warn.Sprint("note:"), r.Degradation.Preferred, r.Degradation.Reason)
		}
		if r.Err == nil && r.Payload != nil {
			if err := writePayload(a.stdout, r.Payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// writePayload renders any payload through its JSON form: objects become
// key/value tables, lists become a table per item, scalars one line.
func writePayload(w io.Writer, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch val := v.(type) {
	case []interface{}:
		if len(val) == 0 {
			fmt.Fprintln(tw, "  (none)")
		}
		for i, item := range val {
			if i > 0 {
				fmt.Fprintln(tw, "  -")
			}
			writeItem(tw, item)
		}
	default:
		writeItem(tw, val)
	}
	return tw.Flush()
}

func writeItem(w io.Writer, item interface{}) {
	m, ok := item.(map[string]interface{})
	if !ok {
		fmt.Fprintf(w, "  %s\n", scalar(item))
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s\t%s\n", k, scalar(m[k]))
	}
}

func scalar(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]interface{}, []interface{}:
		data, _ := json.Marshal(val)
		return string(data)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
