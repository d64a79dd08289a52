// Package sshexec runs device commands over SSH for devices that are not
// managed through CDO, such as lab ASAs listed in a static inventory. It
// presents the same submit-then-poll contract as the CDO API: Submit starts
// the session in the background and Status reports its progress.
package sshexec

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/newtron-network/cdoctl/pkg/executor"
	"github.com/newtron-network/cdoctl/pkg/util"
)

// Resolver maps a device uid to its SSH address (host:port).
type Resolver interface {
	Endpoint(uid string) (string, error)
}

// Config holds SSH credentials.
type Config struct {
	User     string
	Password string
	KeyFile  string
	Timeout  time.Duration

	// EnablePassword answers the enable prompt; Password is used when empty.
	EnablePassword string
}

// Wide enough that "show run" lines are never wrapped.
const ptyWidth = 511

// RunFunc executes command text on addr and returns its output.
type RunFunc func(ctx context.Context, addr, text string) (string, error)

// Executor implements executor.RemoteExecutor over SSH. Transactions live
// in memory until their terminal state has been read once.
type Executor struct {
	endpoints Resolver
	run       RunFunc
	log       *logrus.Entry

	mu  sync.Mutex
	txs map[string]*executor.Status
	wg  sync.WaitGroup
}

// Option configures an Executor.
type Option func(*Executor)

// WithRunFunc replaces the SSH session runner.
func WithRunFunc(run RunFunc) Option {
	return func(e *Executor) { e.run = run }
}

// WithLogger sets the log entry used by the executor.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Executor) { e.log = log }
}

// New creates an executor dialing the addresses endpoints returns.
func New(endpoints Resolver, cfg Config, opts ...Option) (*Executor, error) {
	e := &Executor{
		endpoints: endpoints,
		log:       util.NewEntry(),
		txs:       make(map[string]*executor.Status),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.run == nil {
		clientCfg, err := clientConfig(cfg)
		if err != nil {
			return nil, err
		}
		enable := cfg.EnablePassword
		if enable == "" {
			enable = cfg.Password
		}
		e.run = func(ctx context.Context, addr, text string) (string, error) {
			out, err := runShell(ctx, addr, clientCfg, enable, text)
			if err != nil && ctx.Err() != nil {
				return "", ctx.Err()
			}
			return out, err
		}
	}
	return e, nil
}

func clientConfig(cfg Config) (*ssh.ClientConfig, error) {
	if cfg.User == "" {
		return nil, fmt.Errorf("ssh user is required")
	}
	var auth []ssh.AuthMethod
	if cfg.KeyFile != "" {
		key, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key %s: %w", cfg.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("ssh password or key file is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ssh.ClientConfig{
		User: cfg.User,
		Auth: auth,
		// Lab devices regenerate host keys on every rebuild.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}

// runShell opens an interactive shell on a pty, enters privileged and
// configuration mode, runs each line of text and returns what the device
// printed for those lines only.
func runShell(ctx context.Context, addr string, cfg *ssh.ClientConfig, enablePassword, text string) (string, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("SSH dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return "", fmt.Errorf("SSH handshake %s: %w", addr, err)
	}
	client := ssh.NewClient(c, chans, reqs)
	defer client.Close()

	// Closing the client unblocks a console waiting for a prompt.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("SSH session %s: %w", addr, err)
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty("vt100", 0, ptyWidth, modes); err != nil {
		return "", fmt.Errorf("SSH pty %s: %w", addr, err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("SSH stdin %s: %w", addr, err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("SSH stdout %s: %w", addr, err)
	}
	if err := session.Shell(); err != nil {
		return "", fmt.Errorf("SSH shell %s: %w", addr, err)
	}

	con := newConsole(stdin, stdout)
	out, err := con.runBatch(enablePassword, text)
	if err != nil {
		return "", fmt.Errorf("SSH session %s: %w", addr, err)
	}
	con.send(cmdExit)
	stdin.Close()
	return strings.Join(out, "\n"), nil
}

// Submit resolves the device address and starts the session. Resolution
// errors are returned directly; session errors surface through Status.
func (e *Executor) Submit(ctx context.Context, deviceUID, text, transactionID string) error {
	addr, err := e.endpoints.Endpoint(deviceUID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, dup := e.txs[transactionID]; dup {
		e.mu.Unlock()
		return fmt.Errorf("%w: transaction %s already submitted", util.ErrDuplicate, transactionID)
	}
	e.txs[transactionID] = &executor.Status{State: executor.StatePending}
	e.mu.Unlock()

	log := e.log.WithFields(logrus.Fields{"device": deviceUID, "transaction": transactionID, "addr": addr})
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		out, err := e.run(ctx, addr, text)

		st := executor.Status{State: executor.StateDone, Response: out}
		if err != nil {
			log.WithError(err).Warn("ssh execution failed")
			st = executor.Status{State: executor.StateError, ErrorMessage: err.Error()}
		}
		e.mu.Lock()
		e.txs[transactionID] = &st
		e.mu.Unlock()
	}()
	return nil
}

// Status reports the state of transactionID.
func (e *Executor) Status(ctx context.Context, transactionID string) (executor.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.txs[transactionID]
	if !ok {
		return executor.Status{}, fmt.Errorf("%w: transaction %s", util.ErrNotFound, transactionID)
	}
	if st.State != executor.StatePending {
		delete(e.txs, transactionID)
	}
	return *st, nil
}

// Close waits for sessions still running.
func (e *Executor) Close() error {
	e.wg.Wait()
	return nil
}
