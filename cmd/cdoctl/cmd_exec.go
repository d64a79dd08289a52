package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/cdoctl/pkg/engine"
)

var execFile string

var execCmd = &cobra.Command{
	Use:   "exec [command...]",
	Short: "Run CLI commands on devices",
	Long: `Run CLI commands on the selected devices.

Each argument is one command line. With -f the commands are read from a file
(or stdin with -f -), one per line; lines indented with whitespace are
sub-commands of the line above them.

Devices out of sync with CDO only accept read-only commands (show, ping,
traceroute, vpn-sessiondb, changeto, dir, write, copy).

Examples:
  cdoctl -d asa-edge-1 exec "show version" "show run object"
  cdoctl -d asa-edge-1 -d asa-edge-2 exec -f changes.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmds, err := commandsFrom(args, execFile)
		if err != nil {
			return err
		}
		runner, err := app.newRunner()
		if err != nil {
			return err
		}

		ctx := context.Background()
		runs, err := onDevices(ctx, app, func(ctx context.Context, t engine.Target) (*engine.CommandResult, error) {
			return runner.RunCommands(ctx, engine.CommandRequest{Target: t, Commands: cmds})
		})
		if runs == nil {
			return err
		}

		if app.jsonOutput {
			out := make([]deviceRun[[]string], len(runs))
			for i, r := range runs {
				out[i] = deviceRun[[]string]{Device: r.Device, Error: r.Error}
				if r.Result != nil {
					out[i].Result = r.Result.Output
				}
			}
			if jerr := printJSON(out); jerr != nil {
				return jerr
			}
			return err
		}

		for _, r := range runs {
			if len(runs) > 1 {
				fmt.Println(bold(r.Device + ":"))
			}
			if r.Result != nil {
				for _, line := range r.Result.Output {
					fmt.Println(line)
				}
			}
		}
		return err
	},
}

func init() {
	execCmd.Flags().StringVarP(&execFile, "file", "f", "", "Read commands from file (- for stdin)")
}

// commandsFrom returns args, or the commands in file when args is empty.
func commandsFrom(args []string, file string) ([]string, error) {
	if len(args) > 0 && file != "" {
		return nil, fmt.Errorf("give commands as arguments or with -f, not both")
	}
	if len(args) > 0 {
		return args, nil
	}
	if file == "" {
		return nil, fmt.Errorf("no commands given")
	}
	return readCommandFile(file)
}

// readCommandFile reads one command per line. Blank lines and lines starting
// with "!" are skipped; leading whitespace is kept so sub-commands stay
// attached to their parent.
func readCommandFile(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return parseCommands(r)
}

func parseCommands(r io.Reader) ([]string, error) {
	var cmds []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "!") {
			continue
		}
		cmds = append(cmds, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading commands: %w", err)
	}
	return cmds, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
