package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/newtron-network/cdoctl/pkg/cli"
	"github.com/newtron-network/cdoctl/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.cdoctl/settings.toml.

Settings provide defaults for the global flags; a flag given on the command
line always wins.

Examples:
  cdoctl settings show
  cdoctl settings set region eu
  cdoctl settings set token_file ~/.cdo-token
  cdoctl settings set inventory /etc/cdoctl/lab.yaml
  cdoctl settings clear`,
}

func settingsPath() string {
	if app.configPath != "" {
		return app.configPath
	}
	return settings.DefaultSettingsPath()
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.LoadFrom(settingsPath())
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if app.jsonOutput {
			return printJSON(s)
		}

		fmt.Printf("Settings file: %s\n\n", settingsPath())
		t := cli.NewTableTo(cmd.OutOrStdout(), "SETTING", "VALUE")
		for _, key := range settings.Keys() {
			value, _ := s.Get(key)
			if value == "" {
				value = cli.Dim("(not set)")
			}
			t.Row(key, value)
		}
		t.Flush()
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <setting>",
	Short: "Get a setting value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.LoadFrom(settingsPath())
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		value, err := s.Get(args[0])
		if err != nil {
			return err
		}
		if value == "" {
			fmt.Println("(not set)")
		} else {
			fmt.Println(value)
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.LoadFrom(settingsPath())
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := s.SaveTo(settingsPath()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Reset all settings to defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		s.Clear()
		if err := s.SaveTo(settingsPath()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("All settings reset to defaults.")
		return nil
	},
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show settings file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(settingsPath())
	},
}

func init() {
	settingsCmd.Annotations = map[string]string{"offline": "true"}
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
	settingsCmd.AddCommand(settingsPathCmd)
}
