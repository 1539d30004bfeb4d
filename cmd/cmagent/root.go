package main

import (
	"io"

	"github.com/spf13/cobra"

	cmagent "github.com/smnsjas/go-cmagent"
)

type rootOptions struct {
	configPath string
	json       bool
	text       bool
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *app) {
	var opts rootOptions
	a := &app{stdout: stdout, stderr: stderr}

	cmd := &cobra.Command{
		Use:   "cmagent",
		Short: "Manage Configuration Manager clients on remote computers",
		Long: `cmagent runs client actions, inventory, policy and cache operations on a
list of computers. Each computer is reached through an open SSH or CIM
session when one is configured, or by CIM over its hostname otherwise.
Computers are processed one at a time; a failure on one does not stop the
others, but makes cmagent exit with status 1.`,
		Version:       cmagent.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.cmagent/config.yaml)")
	pf.StringSliceP("computer", "c", nil, "target computers (default: this machine)")
	pf.String("transport", "", "preferred transport: structured or shell")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: text or json")
	pf.String("pwsh", "", "local pwsh executable")
	pf.String("ssh", "", "ssh executable")
	pf.BoolVar(&opts.json, "json", false, "output JSON")
	pf.BoolVar(&opts.text, "text", false, "output text")
	cmd.MarkFlagsMutuallyExclusive("json", "text")

	cmd.AddCommand(
		newInfoCmd(a),
		newInventoryCmd(a),
		newScheduleCmd(a),
		newPolicyCmd(a),
		newProvisioningCmd(a),
		newCacheCmd(a),
		newAppsCmd(a),
		newUpdatesCmd(a),
		newWindowsCmd(a),
		newRegistryCmd(a),
		newQueryCmd(a),
		newRunCmd(a),
	)
	return cmd, a
}
