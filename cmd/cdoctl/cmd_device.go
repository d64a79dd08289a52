package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/cdoctl/pkg/cli"
	"github.com/newtron-network/cdoctl/pkg/engine"
	"github.com/newtron-network/cdoctl/pkg/inventory"
)

var configAll bool

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect devices",
	Long: `Inspect devices in the inventory.

Examples:
  cdoctl -d asa-edge-1 device show
  cdoctl -d asa-edge-1 device config
  cdoctl -d asa-edge-1 device config --all object-group`,
}

var deviceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show inventory record and sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := app.newRunner()
		if err != nil {
			return err
		}
		runs, err := onDevices(context.Background(), app, func(ctx context.Context, t engine.Target) (inventory.Device, error) {
			return runner.Resolve(ctx, t)
		})
		if app.jsonOutput {
			if jerr := printJSON(runs); jerr != nil {
				return jerr
			}
			return err
		}

		t := cli.NewTableTo(cmd.OutOrStdout(), "DEVICE", "UID", "TYPE", "IPV4", "SYNC")
		for _, r := range runs {
			if r.Error != "" {
				t.Row(r.Device, "-", "-", "-", red("lookup failed"))
				continue
			}
			d := r.Result
			t.Row(d.Name, d.UID, d.DeviceType, d.IPv4, cli.SyncLabel(d))
		}
		t.Flush()
		return err
	},
}

var deviceConfigCmd = &cobra.Command{
	Use:   "config [filter]",
	Short: "Show the running configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		extra := strings.Join(args, " ")
		runner, err := app.newRunner()
		if err != nil {
			return err
		}
		runs, err := onDevices(context.Background(), app, func(ctx context.Context, t engine.Target) ([]string, error) {
			return runner.RunningConfig(ctx, t, extra, configAll)
		})
		if app.jsonOutput {
			if jerr := printJSON(runs); jerr != nil {
				return jerr
			}
			return err
		}
		for _, r := range runs {
			if len(runs) > 1 {
				fmt.Println(bold(r.Device + ":"))
			}
			cli.PrintLines(cmd.OutOrStdout(), "", r.Result)
		}
		return err
	},
}

func init() {
	deviceConfigCmd.Flags().BoolVar(&configAll, "all", false, "Include default values (show run all)")

	deviceCmd.AddCommand(deviceShowCmd)
	deviceCmd.AddCommand(deviceConfigCmd)
}
