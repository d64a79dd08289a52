package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/cdoctl/pkg/cli"
	"github.com/newtron-network/cdoctl/pkg/command"
)

var batchesFile string

var batchesCmd = &cobra.Command{
	Use:         "batches [command...]",
	Short:       "Show how commands would be split into request batches",
	Annotations: map[string]string{"offline": "true"},
	Long: fmt.Sprintf(`Split commands into the batches that would be submitted, without
contacting any device. A batch holds at most %d characters, counting two
extra per line; a sub-command that starts a new batch is preceded by its
parent line.

Examples:
  cdoctl batches -f changes.txt
  cdoctl batches --json -f changes.txt`, command.MaxBatchChars),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmds, err := commandsFrom(args, batchesFile)
		if err != nil {
			return err
		}
		batches := command.SplitStrings(cmds)

		if app.jsonOutput {
			out := make([][]string, len(batches))
			for i, b := range batches {
				out[i] = b.Strings()
			}
			return printJSON(out)
		}

		for i, b := range batches {
			fmt.Printf("%s %d lines, %d chars\n", cli.DotPad(fmt.Sprintf("batch %d", i+1), 16), len(b), b.Size())
			cli.PrintLines(cmd.OutOrStdout(), "  ", b.Strings())
		}
		fmt.Printf("\n%d commands in %d batches\n", len(cmds), len(batches))
		return nil
	},
}

func init() {
	batchesCmd.Flags().StringVarP(&batchesFile, "file", "f", "", "Read commands from file (- for stdin)")
}
