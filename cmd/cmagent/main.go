// Command cmagent manages Configuration Manager clients on a list of
// computers over CIM or SSH.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
// Sessions opened for the command are closed before it returns.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, a := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	a.close(context.WithoutCancel(ctx))
	if err != nil {
		if !errors.Is(err, errTargetsFailed) {
			fmt.Fprintf(stderr, "Error: %s\n", err)
		}
		return 1
	}
	return 0
}
