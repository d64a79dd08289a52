package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/cdoctl/pkg/cli"
	"github.com/newtron-network/cdoctl/pkg/engine"
)

var (
	aclFile          string
	aclEntries       []string
	aclSkipConverged bool
)

var aclCmd = &cobra.Command{
	Use:   "acl",
	Short: "Show and reconcile access lists",
	Long: `Show and reconcile ASA access lists.

Requires -d (device) flag.

The desired entries come from a file (-f, one entry per line) or from
repeated -e flags. Entries matching a running rule, ignoring line numbers
and trailing log, inactive and time-range clauses, are removed and re-added
so the final order follows the template; running entries beyond the
template length are removed afterwards.

Examples:
  cdoctl -d asa-edge-1 acl show OUTSIDE-IN
  cdoctl -d asa-edge-1 acl plan OUTSIDE-IN -f outside-in.acl
  cdoctl -d asa-edge-1 acl apply OUTSIDE-IN -f outside-in.acl
  cdoctl -d asa-edge-1 acl apply MGMT -e "access-list MGMT extended permit tcp any host 10.0.0.5 eq 22"`,
}

var aclShowCmd = &cobra.Command{
	Use:   "show <acl-name>",
	Short: "Show the running entries of an access list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, err := app.newRunner()
		if err != nil {
			return err
		}
		runs, err := onDevices(context.Background(), app, func(ctx context.Context, t engine.Target) ([]string, error) {
			return runner.AccessList(ctx, t, args[0])
		})
		if app.jsonOutput {
			if jerr := printJSON(runs); jerr != nil {
				return jerr
			}
			return err
		}
		for _, r := range runs {
			if r.Error != "" {
				continue
			}
			title := r.Device + " " + args[0]
			if len(r.Result) == 0 {
				title += " (not configured)"
			}
			cli.Section(cmd.OutOrStdout(), title, r.Result)
		}
		return err
	},
}

var aclPlanCmd = &cobra.Command{
	Use:   "plan <acl-name>",
	Short: "Show the commands that would reconcile an access list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runACL(cmd, args[0], false)
	},
}

var aclApplyCmd = &cobra.Command{
	Use:   "apply <acl-name>",
	Short: "Reconcile an access list to the desired entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runACL(cmd, args[0], true)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{aclPlanCmd, aclApplyCmd} {
		cmd.Flags().StringVarP(&aclFile, "file", "f", "", "Read desired entries from file (- for stdin)")
		cmd.Flags().StringArrayVarP(&aclEntries, "entry", "e", nil, "Desired entry (repeatable)")
	}
	aclApplyCmd.Flags().BoolVar(&aclSkipConverged, "skip-converged", false, "Send nothing when the running list already matches")

	aclCmd.AddCommand(aclShowCmd)
	aclCmd.AddCommand(aclPlanCmd)
	aclCmd.AddCommand(aclApplyCmd)
}

func runACL(cmd *cobra.Command, name string, apply bool) error {
	entries, err := commandsFrom(aclEntries, aclFile)
	if err != nil {
		return err
	}
	runner, err := app.newRunner()
	if err != nil {
		return err
	}

	runs, err := onDevices(context.Background(), app, func(ctx context.Context, t engine.Target) (*engine.ACLResult, error) {
		req := engine.ACLRequest{Target: t, Name: name, Entries: entries, SkipConverged: aclSkipConverged}
		if apply {
			return runner.ApplyAccessList(ctx, req)
		}
		return runner.PlanAccessList(ctx, req)
	})
	if app.jsonOutput {
		if jerr := printJSON(runs); jerr != nil {
			return jerr
		}
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range runs {
		res := r.Result
		if res == nil {
			continue
		}
		fmt.Fprintln(out, bold(r.Device+" "+name))
		if !apply {
			if res.Converged {
				fmt.Fprintln(out, "  "+green("running entries already match"))
			}
			cli.Section(out, "Plan:", res.Commands)
			fmt.Fprintln(out, "  "+yellow(fmt.Sprintf("%d removals, %d additions; entries past %d are pruned after apply",
				len(res.Plan.Removals()), len(res.Plan.Additions()), len(entries))))
			continue
		}
		cli.PrintLines(out, "  ", res.Output)
		if res.Message != "" {
			fmt.Fprintln(out, "  "+green(res.Message))
		}
		if len(res.Pruned) > 0 {
			cli.Section(out, "Pruned:", res.Pruned)
			cli.PrintLines(out, "  ", res.PruneOutput)
			if res.PruneMsg != "" {
				fmt.Fprintln(out, "  "+green(res.PruneMsg))
			}
		}
		if r.Error != "" {
			fmt.Fprintln(out, "  "+red("FAILED: "+r.Error))
		}
	}
	return err
}
