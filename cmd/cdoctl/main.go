// cdoctl - command execution and ACL reconciliation for CDO-managed firewalls
//
// Commands are sent to devices through the Cisco Defense Orchestrator API,
// or over SSH for devices listed in a static inventory file. Every run reads
// the device's sync state first: a device that is out of sync with CDO only
// accepts read-only commands.
//
// Examples:
//
//	cdoctl -d asa-edge-1 exec "show version"
//	cdoctl -d asa-edge-1 -d asa-edge-2 exec -f changes.txt
//	cdoctl -d asa-edge-1 acl plan OUTSIDE-IN -f outside-in.acl
//	cdoctl -d asa-edge-1 acl apply OUTSIDE-IN -f outside-in.acl
//	cdoctl -d asa-edge-1 apply-template branch.yaml --section access-lists
//	cdoctl batches -f changes.txt
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/newtron-network/cdoctl/pkg/audit"
	"github.com/newtron-network/cdoctl/pkg/cli"
	"github.com/newtron-network/cdoctl/pkg/settings"
	"github.com/newtron-network/cdoctl/pkg/util"
	"github.com/newtron-network/cdoctl/pkg/version"
)

// App holds flag values and the state built from them for one invocation.
type App struct {
	// Context flags
	devices    []string
	deviceType string

	// Backend flags
	region      string
	baseURL     string
	token       string
	inventory   string
	sshUser     string
	sshPassword string
	sshKey      string

	// Polling
	retries     int
	interval    string
	concurrency int

	// Output and logging
	configPath  string
	auditLog    string
	metricsFile string
	verbose     bool
	logJSON     bool
	jsonOutput  bool
	noColor     bool

	settings *settings.Settings
	registry *prometheus.Registry
	closers  []func() error
}

var app = &App{}

func main() {
	err := rootCmd.Execute()
	app.shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: "+err.Error())
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "cdoctl",
	Short:             "Run commands and reconcile ACLs on CDO-managed firewalls",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `cdoctl sends CLI commands to firewalls managed by Cisco Defense Orchestrator
and reconciles access lists against a desired template.

Context flags select the devices; commands act on every selected device.

  cdoctl -d <device> [-d <device>...] <command> [args]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.setup(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringArrayVarP(&app.devices, "device", "d", nil, "Device name, IPv4 address or serial (repeatable)")
	pf.StringVar(&app.deviceType, "device-type", "", "Device type filter: asa, ios or all")

	pf.StringVar(&app.region, "region", "", "CDO region: us, eu or apj")
	pf.StringVar(&app.baseURL, "base-url", "", "CDO API base URL (overrides --region)")
	pf.StringVar(&app.token, "token", "", "CDO API token (default $CDO_API_TOKEN or token_file)")
	pf.StringVar(&app.inventory, "inventory", "", "Static inventory file; sends commands over SSH instead of CDO")
	pf.StringVar(&app.sshUser, "ssh-user", "", "SSH user for inventory devices")
	pf.StringVar(&app.sshPassword, "ssh-password", "", "SSH password (default $CDOCTL_SSH_PASSWORD; enable uses $CDOCTL_ENABLE_PASSWORD when set)")
	pf.StringVar(&app.sshKey, "ssh-key", "", "SSH private key file")

	pf.IntVar(&app.retries, "retries", settings.DefaultRetries, "Status checks after the first before giving up")
	pf.StringVar(&app.interval, "interval", settings.DefaultInterval, "Wait between status checks")
	pf.IntVar(&app.concurrency, "concurrency", settings.DefaultConcurrency, "Devices processed at once")

	pf.StringVar(&app.configPath, "config", "", "Settings file (default ~/.cdoctl/settings.toml)")
	pf.StringVar(&app.auditLog, "audit-log", "", "Audit log file")
	pf.StringVar(&app.metricsFile, "metrics-textfile", "", "Write executor metrics to this file on exit")
	pf.BoolVarP(&app.verbose, "verbose", "v", false, "Verbose output")
	pf.BoolVar(&app.logJSON, "log-json", false, "Log in JSON format")
	pf.BoolVar(&app.jsonOutput, "json", false, "JSON output")
	pf.BoolVar(&app.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Device Operations:"},
		&cobra.Group{ID: "offline", Title: "Offline Tools:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{execCmd, aclCmd, applyTemplateCmd, deviceCmd} {
		cmd.GroupID = "run"
		rootCmd.AddCommand(cmd)
	}
	batchesCmd.GroupID = "offline"
	rootCmd.AddCommand(batchesCmd)
	for _, cmd := range []*cobra.Command{settingsCmd, auditCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("cdoctl dev build")
			return
		}
		fmt.Println("cdoctl " + version.Info())
	},
}

// setup loads settings and applies them beneath any flag given explicitly.
func (a *App) setup(cmd *cobra.Command) error {
	if a.verbose {
		util.SetLogLevel("debug")
	} else {
		util.SetLogLevel("warn")
	}
	if a.logJSON {
		util.SetJSONFormat()
	}
	if a.noColor {
		cli.SetColor(false)
	}
	if isSettingsOrHelp(cmd) {
		return nil
	}

	path := a.configPath
	if path == "" {
		path = settings.DefaultSettingsPath()
	}
	s, err := settings.LoadFrom(path)
	if err != nil {
		return err
	}
	a.settings = s
	a.applySettings(cmd)

	if needsAudit(cmd) {
		a.initAudit()
	}
	return nil
}

func (a *App) applySettings(cmd *cobra.Command) {
	s := a.settings
	flags := cmd.Flags()
	setString := func(name string, dst *string, value string) {
		if !flags.Changed(name) && value != "" {
			*dst = value
		}
	}
	setString("region", &a.region, s.Region)
	setString("base-url", &a.baseURL, s.BaseURL)
	setString("device-type", &a.deviceType, s.DeviceType)
	setString("interval", &a.interval, s.Interval)
	setString("inventory", &a.inventory, s.Inventory)
	setString("ssh-user", &a.sshUser, s.SSHUser)
	setString("ssh-key", &a.sshKey, s.SSHKey)
	setString("audit-log", &a.auditLog, s.AuditLogPath())
	if !flags.Changed("retries") {
		a.retries = s.Retries
	}
	if !flags.Changed("concurrency") && s.Concurrency > 0 {
		a.concurrency = s.Concurrency
	}
}

// initAudit installs the default audit logger. Audit failures are warned
// about and never block a run.
func (a *App) initAudit() {
	if addr := a.settings.AuditRedis; addr != "" {
		rl := audit.NewRedisLogger(addr, 0, "")
		if err := rl.Connect(); err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
			return
		}
		audit.SetDefaultLogger(rl)
		a.closers = append(a.closers, rl.Close)
		return
	}

	fl, err := audit.NewFileLogger(a.auditLog, audit.RotationConfig{
		MaxSize:    10 * 1024 * 1024, // 10MB
		MaxBackups: 10,
	})
	if err != nil {
		util.Warnf("Could not initialize audit logging: %v", err)
		return
	}
	audit.SetDefaultLogger(fl)
	a.closers = append(a.closers, fl.Close)
}

// shutdown writes metrics and releases backends.
func (a *App) shutdown() {
	if a.metricsFile != "" && a.registry != nil {
		if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
			util.Warnf("Could not write metrics: %v", err)
		}
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		util.Warnf("shutdown: %v", err)
	}
}

func (a *App) pollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(a.interval)
	if err != nil {
		return 0, fmt.Errorf("invalid --interval %q: %w", a.interval, err)
	}
	return d, nil
}

// isSettingsOrHelp checks whether cmd (or any ancestor) is a settings, help,
// or version command.
func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "version", "settings":
			return true
		}
	}
	return false
}

// needsAudit reports whether cmd records or reads the audit trail.
func needsAudit(cmd *cobra.Command) bool {
	return cmd.Annotations["offline"] != "true"
}

// Color helpers
func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
func bold(s string) string   { return cli.Bold(s) }
