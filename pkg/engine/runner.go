// Package engine runs command pipelines against managed devices: every run
// resolves the device, applies the sync gate, splits the commands into
// batches and executes them in order through the poller.
package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/cdoctl/pkg/audit"
	"github.com/newtron-network/cdoctl/pkg/command"
	"github.com/newtron-network/cdoctl/pkg/executor"
	"github.com/newtron-network/cdoctl/pkg/inventory"
	"github.com/newtron-network/cdoctl/pkg/util"
)

// Target selects one device in the directory.
type Target struct {
	Device     string
	DeviceType string
}

func (t Target) filter() inventory.Filter {
	return inventory.Filter{Query: t.Device, DeviceType: t.DeviceType}
}

// CommandRequest is one pipeline run.
type CommandRequest struct {
	Target
	Commands []string

	// Operation and Subject label the audit event; Operation defaults to
	// audit.OpExec.
	Operation string
	Subject   string
}

// CommandResult holds what a run sent and what came back.
type CommandResult struct {
	Device       inventory.Device
	Commands     []string
	Batches      []command.Batch
	Transactions []*executor.Transaction
	Output       []string
}

// TransactionIDs lists the ids of the transactions attempted.
func (r *CommandResult) TransactionIDs() []string {
	ids := make([]string, 0, len(r.Transactions))
	for _, tx := range r.Transactions {
		ids = append(ids, tx.ID)
	}
	return ids
}

// Runner composes directory, gate, batcher and poller. It holds no state
// between runs and is safe for concurrent use on different devices.
type Runner struct {
	dir    inventory.Directory
	poller *executor.Poller
	log    *logrus.Entry
	audit  audit.Logger
	user   string
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the log entry used by the runner.
func WithLogger(log *logrus.Entry) Option {
	return func(r *Runner) { r.log = log }
}

// WithAuditLogger records runs to l instead of the default audit logger.
func WithAuditLogger(l audit.Logger) Option {
	return func(r *Runner) { r.audit = l }
}

// WithUser sets the user recorded in audit events.
func WithUser(user string) Option {
	return func(r *Runner) { r.user = user }
}

// NewRunner creates a runner.
func NewRunner(dir inventory.Directory, poller *executor.Poller, opts ...Option) *Runner {
	r := &Runner{
		dir:    dir,
		poller: poller,
		log:    util.NewEntry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up the device a target selects.
func (r *Runner) Resolve(ctx context.Context, t Target) (inventory.Device, error) {
	return inventory.Resolve(ctx, r.dir, t.filter())
}

// RunCommands executes one pipeline: the device is resolved and its sync
// state read fresh, the gate checks every command, and the batches run in
// order. Output lines of all batches are concatenated in order. On failure
// the result still carries the transactions attempted so far.
func (r *Runner) RunCommands(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	res := &CommandResult{Commands: req.Commands}
	if len(req.Commands) == 0 {
		return res, nil
	}

	dev, err := r.Resolve(ctx, req.Target)
	if err != nil {
		return res, err
	}
	res.Device = dev
	log := r.log.WithField("device", dev.Name)

	if err := command.CheckSyncGate(dev.Name, dev.InSync(), req.Commands); err != nil {
		log.WithField("config_state", dev.ConfigState).Warn(err.Error())
		r.record(req, res, 0, err)
		return res, err
	}

	res.Batches = command.SplitStrings(req.Commands)
	log.WithFields(logrus.Fields{
		"commands": len(req.Commands),
		"batches":  len(res.Batches),
	}).Debug("running commands")

	start := time.Now()
	res.Transactions, err = r.poller.Run(ctx, dev.UID, res.Batches)
	res.Output = executor.Output(res.Transactions)
	r.record(req, res, time.Since(start), err)
	if err != nil {
		return res, err
	}
	return res, nil
}

func (r *Runner) record(req CommandRequest, res *CommandResult, d time.Duration, runErr error) {
	op := req.Operation
	if op == "" {
		op = audit.OpExec
	}
	event := audit.NewEvent(r.user, res.Device.Name, op).
		WithDeviceUID(res.Device.UID).
		WithTarget(req.Subject).
		WithCommands(req.Commands, len(res.Batches)).
		WithTransactions(res.TransactionIDs()).
		WithDuration(d).
		WithResult(runErr)

	var err error
	if r.audit != nil {
		err = r.audit.Log(event)
	} else {
		err = audit.Log(event)
	}
	if err != nil {
		r.log.WithError(err).Warn("writing audit event")
	}
}
