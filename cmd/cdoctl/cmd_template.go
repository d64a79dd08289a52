package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/cdoctl/pkg/cli"
	"github.com/newtron-network/cdoctl/pkg/engine"
)

var (
	templateSections      []string
	templateSkipConverged bool
)

var applyTemplateCmd = &cobra.Command{
	Use:   "apply-template <template.yaml>",
	Short: "Apply a configuration template",
	Args:  cobra.ExactArgs(1),
	Long: fmt.Sprintf(`Apply a YAML configuration template to the selected devices.

Sections are applied in this order, skipping any the template leaves out:
  %s

access-lists maps each ACL name to its entries and is reconciled entry by
entry; every other section is a list of command lines. The first failing
section stops the run on that device.

Examples:
  cdoctl -d asa-edge-1 apply-template branch.yaml
  cdoctl -d asa-edge-1 apply-template branch.yaml --section access-lists --section access-groups`,
		strings.Join(engine.SectionOrder, ", ")),
	RunE: func(cmd *cobra.Command, args []string) error {
		tmpl, err := engine.LoadTemplate(args[0])
		if err != nil {
			return err
		}
		runner, err := app.newRunner()
		if err != nil {
			return err
		}

		runs, err := onDevices(context.Background(), app, func(ctx context.Context, t engine.Target) ([]engine.SectionResult, error) {
			return runner.ApplyTemplate(ctx, engine.TemplateRequest{
				Target:        t,
				Template:      tmpl,
				Sections:      templateSections,
				SkipConverged: templateSkipConverged,
			})
		})
		if app.jsonOutput {
			if jerr := printJSON(runs); jerr != nil {
				return jerr
			}
			return err
		}

		out := cmd.OutOrStdout()
		for _, r := range runs {
			fmt.Fprintln(out, bold(r.Device))
			t := cli.NewTableTo(out, "SECTION", "COMMANDS", "RESULT").WithPrefix("  ")
			for _, s := range r.Result {
				result := s.Message
				if result == "" {
					result = strings.Join(s.Output, " / ")
				}
				t.Row(s.Section, fmt.Sprint(len(s.Commands)), result)
			}
			t.Flush()
			if r.Error != "" {
				fmt.Fprintln(out, "  "+red("FAILED: "+r.Error))
			}
		}
		return err
	},
}

func init() {
	applyTemplateCmd.Flags().StringArrayVar(&templateSections, "section", nil, "Apply only this section (repeatable)")
	applyTemplateCmd.Flags().BoolVar(&templateSkipConverged, "skip-converged", false, "Leave access lists that already match untouched")
}
