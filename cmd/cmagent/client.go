package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smnsjas/go-cmagent/cmclient"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show client version, client id, site and management point",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmclient.GetClientInfo(cmd.Context(), a.client, a.targets))
		},
	}
}

func newInventoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Inspect and trigger inventory cycles",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the last run of each inventory cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmclient.InventoryStatus(cmd.Context(), a.client, a.targets))
		},
	}

	var full bool
	trigger := &cobra.Command{
		Use:       "trigger <hardware|software|discovery|filecollection>",
		Short:     "Start an inventory cycle",
		Long:      "Start an inventory cycle. --full makes the client send a full report and needs a local target or an SSH session.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"hardware", "software", "discovery", "filecollection"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.report(cmclient.TriggerInventory(cmd.Context(), a.client, a.targets, args[0], full))
		},
	}
	trigger.Flags().BoolVar(&full, "full", false, "send a full report instead of a delta")

	cmd.AddCommand(status, trigger)
	return cmd
}

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule <id|name>",
		Short: "Trigger a client action by schedule id or name",
		Long:  "Trigger a client action. Known names: " + strings.Join(cmclient.ScheduleNames(), ", ") + ".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := cmclient.ScheduleID(args[0])
			if err != nil {
				return err
			}
			return a.report(cmclient.TriggerSchedule(cmd.Context(), a.client, a.targets, id))
		},
	}
}

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage client policy",
	}
	var full bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Reset machine policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmclient.ResetPolicy(cmd.Context(), a.client, a.targets, full))
		},
	}
	reset.Flags().BoolVar(&full, "full", false, "purge all policy instead of resetting versions")
	cmd.AddCommand(reset)
	return cmd
}

func newProvisioningCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "provisioning <on|off>",
		Short:     "Turn client provisioning mode on or off",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var enable bool
			switch strings.ToLower(args[0]) {
			case "on", "true", "enable":
				enable = true
			case "off", "false", "disable":
			default:
				return fmt.Errorf("provisioning: want on or off, got %q", args[0])
			}
			return a.report(cmclient.SetProvisioningMode(cmd.Context(), a.client, a.targets, enable))
		},
	}
}

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the content cache",
	}
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Show cache location and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmclient.GetCacheConfig(cmd.Context(), a.client, a.targets))
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List cached content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmclient.CacheContent(cmd.Context(), a.client, a.targets))
		},
	}
	var persisted bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached content (local target or SSH session only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmclient.ClearCache(cmd.Context(), a.client, a.targets, persisted))
		},
	}
	clearCmd.Flags().BoolVar(&persisted, "include-persisted", false, "also delete content marked persist-in-cache")
	cmd.AddCommand(cfg, list, clearCmd)
	return cmd
}

func newAppsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List deployed applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmclient.Applications(cmd.Context(), a.client, a.targets))
		},
	}
}

func newUpdatesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "updates",
		Short: "List deployed software updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmclient.SoftwareUpdates(cmd.Context(), a.client, a.targets))
		},
	}
}

func newWindowsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "List maintenance windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.report(cmclient.MaintenanceWindows(cmd.Context(), a.client, a.targets))
		},
	}
}

func newRegistryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Read and write registry values through StdRegProv",
	}
	var valueType string

	value := func(args []string) (cmclient.RegistryValue, error) {
		hive, err := cmclient.ParseHive(args[0])
		if err != nil {
			return cmclient.RegistryValue{}, err
		}
		vt, err := cmclient.ParseValueType(valueType)
		if err != nil {
			return cmclient.RegistryValue{}, err
		}
		return cmclient.RegistryValue{Hive: hive, Key: args[1], Name: args[2], Type: vt}, nil
	}

	get := &cobra.Command{
		Use:   "get <hive> <key> <name>",
		Short: "Read a registry value",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := value(args)
			if err != nil {
				return err
			}
			return a.report(cmclient.GetRegistryValue(cmd.Context(), a.client, a.targets, v))
		},
	}
	set := &cobra.Command{
		Use:   "set <hive> <key> <name> <value>",
		Short: "Write a registry value",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := value(args)
			if err != nil {
				return err
			}
			return a.report(cmclient.SetRegistryValue(cmd.Context(), a.client, a.targets, v, args[3]))
		},
	}
	cmd.PersistentFlags().StringVarP(&valueType, "type", "t", "string", "value type: string or dword")
	cmd.AddCommand(get, set)
	return cmd
}
