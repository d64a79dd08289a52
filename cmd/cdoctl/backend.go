package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/term"

	"github.com/newtron-network/cdoctl/pkg/cdo"
	"github.com/newtron-network/cdoctl/pkg/engine"
	"github.com/newtron-network/cdoctl/pkg/executor"
	"github.com/newtron-network/cdoctl/pkg/inventory"
	"github.com/newtron-network/cdoctl/pkg/sshexec"
	"github.com/newtron-network/cdoctl/pkg/util"
)

const (
	envToken          = "CDO_API_TOKEN"
	envSSHPassword    = "CDOCTL_SSH_PASSWORD"
	envEnablePassword = "CDOCTL_ENABLE_PASSWORD"
)

// newRunner builds the pipeline for the selected backend: the CDO API by
// default, or SSH when an inventory file is configured.
func (a *App) newRunner() (*engine.Runner, error) {
	interval, err := a.pollInterval()
	if err != nil {
		return nil, err
	}

	var (
		dir    inventory.Directory
		remote executor.RemoteExecutor
	)
	if a.inventory != "" {
		static := inventory.NewStaticDirectory(a.inventory)
		password := a.sshPassword
		if password == "" {
			password = os.Getenv(envSSHPassword)
		}
		if password == "" && a.sshKey == "" {
			if password, err = prompt(fmt.Sprintf("SSH password for %s: ", a.sshUser)); err != nil {
				return nil, err
			}
		}
		ssh, err := sshexec.New(static, sshexec.Config{
			User:           a.sshUser,
			Password:       password,
			EnablePassword: os.Getenv(envEnablePassword),
			KeyFile:        a.sshKey,
		}, sshexec.WithLogger(util.WithField("backend", "ssh")))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ssh.Close)
		dir, remote = static, ssh
	} else {
		client, err := a.newCDOClient()
		if err != nil {
			return nil, err
		}
		dir, remote = client, client
	}

	a.registry = prometheus.NewRegistry()
	poller := executor.NewPoller(remote,
		executor.Config{Retries: a.retries, Interval: interval},
		executor.WithLogger(util.NewEntry()),
		executor.WithMetrics(executor.NewMetrics(a.registry)))

	return engine.NewRunner(dir, poller,
		engine.WithLogger(util.NewEntry()),
		engine.WithUser(currentUser())), nil
}

func (a *App) newCDOClient() (*cdo.Client, error) {
	base := a.baseURL
	if base == "" {
		var err error
		if base, err = cdo.RegionURL(a.region); err != nil {
			return nil, err
		}
	}
	tokenFile := ""
	if a.settings != nil {
		tokenFile = a.settings.TokenFile
	}
	token, err := resolveToken(a.token, os.Getenv, tokenFile, prompt)
	if err != nil {
		return nil, err
	}
	return cdo.NewClient(base, token, cdo.WithLogger(util.WithField("backend", "cdo")))
}

// resolveToken picks the API token from the flag, the environment, the
// token file, and finally an interactive prompt, in that order.
func resolveToken(flag string, getenv func(string) string, tokenFile string, ask func(string) (string, error)) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := getenv(envToken); env != "" {
		return env, nil
	}
	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		if t := strings.TrimSpace(string(data)); t != "" {
			return t, nil
		}
		return "", fmt.Errorf("%w: token file %s is empty", util.ErrCredentials, tokenFile)
	}
	if ask == nil {
		return "", fmt.Errorf("%w: no API token (use --token or $%s)", util.ErrCredentials, envToken)
	}
	return ask("CDO API token: ")
}

// prompt reads a secret from the terminal without echo.
func prompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: %sno terminal to prompt on", util.ErrCredentials, label)
	}
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// targets returns the selected devices, deduplicated in flag order.
func (a *App) targets() ([]engine.Target, error) {
	if len(a.devices) == 0 {
		return nil, fmt.Errorf("device required: use -d <device> flag")
	}
	seen := make(map[string]bool)
	var out []engine.Target
	for _, d := range a.devices {
		for _, name := range util.SplitCommaSeparated(d) {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, engine.Target{Device: name, DeviceType: a.deviceType})
		}
	}
	return out, nil
}

// deviceRun is the outcome of one device in a multi-device command.
type deviceRun[T any] struct {
	Device string `json:"device"`
	Result T      `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// onDevices runs fn for every selected device, at most a.concurrency at a
// time, and returns the outcomes in flag order along with the joined errors.
func onDevices[T any](ctx context.Context, a *App, fn func(ctx context.Context, t engine.Target) (T, error)) ([]deviceRun[T], error) {
	targets, err := a.targets()
	if err != nil {
		return nil, err
	}
	byName := make(map[string]engine.Target, len(targets))
	names := make([]string, len(targets))
	for i, t := range targets {
		byName[t.Device] = t
		names[i] = t.Device
	}

	var mu sync.Mutex
	runs := make(map[string]deviceRun[T], len(targets))
	err = engine.ForEachDevice(ctx, names, a.concurrency, func(ctx context.Context, device string) error {
		res, err := fn(ctx, byName[device])
		run := deviceRun[T]{Device: device, Result: res}
		if err != nil {
			run.Error = err.Error()
		}
		mu.Lock()
		runs[device] = run
		mu.Unlock()
		return err
	})

	out := make([]deviceRun[T], 0, len(names))
	for _, n := range names {
		out = append(out, runs[n])
	}
	return out, err
}
