package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smnsjas/go-cmagent/cmclient"
	"github.com/smnsjas/go-cmagent/execute"
	"github.com/smnsjas/go-cmagent/objects"
)

func newQueryCmd(a *app) *cobra.Command {
	var q execute.Query
	cmd := &cobra.Command{
		Use:   "query [class]",
		Short: "Query CIM instances",
		Example: `  cmagent query SMS_Client --namespace 'root\ccm'
  cmagent query --wql "SELECT Name FROM Win32_Service WHERE State='Running'"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				q.ClassName = args[0]
			}
			if err := q.Validate(); err != nil {
				return err
			}
			return a.report(cmclient.Query(cmd.Context(), a.client, a.targets, q))
		},
	}
	cmd.Flags().StringVarP(&q.Namespace, "namespace", "n", execute.DefaultNamespace, "CIM namespace")
	cmd.Flags().StringVarP(&q.Filter, "filter", "f", "", "WQL filter")
	cmd.Flags().StringVar(&q.WQL, "wql", "", "full WQL query instead of a class")
	return cmd
}

func newRunCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "run <script> [args...]",
		Short: "Run a PowerShell script (local target or SSH session only)",
		Long: `Run a PowerShell script on every target and print its output. Arguments
are passed positionally as strings. Targets reached only by CIM cannot run
scripts and fail.`,
		Example: `  cmagent run 'param($n) Get-Service $n' ccmexec
  cmagent run --file check.ps1 -c srv1,srv2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			switch {
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				text = string(data)
			case len(args) > 0:
				text, args = args[0], args[1:]
			default:
				return fmt.Errorf("run: a script or --file is required")
			}
			l := execute.Logic{Body: objects.ScriptBlock{Text: text}}
			for _, arg := range args {
				l.Args = append(l.Args, arg)
			}
			return a.report(cmclient.Run(cmd.Context(), a.client, a.targets, l))
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read the script from a file")
	return cmd
}
