package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/newtron-network/cdoctl/pkg/command"
	"github.com/newtron-network/cdoctl/pkg/util"
)

// Config bounds how long a transaction is polled. The poller checks status
// at most Retries+1 times, sleeping Interval between checks. There are no
// built-in defaults: a zero Config checks once and gives up.
type Config struct {
	Retries  int
	Interval time.Duration
}

// Poller submits batches and waits for them. It holds no per-run state and
// may be shared by concurrent pipelines.
type Poller struct {
	remote  RemoteExecutor
	cfg     Config
	log     *logrus.Entry
	metrics *Metrics
	sleep   func(time.Duration)
	newID   func() string
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the log entry used for transaction logging.
func WithLogger(log *logrus.Entry) Option {
	return func(p *Poller) { p.log = log }
}

// WithMetrics records submissions and poll outcomes.
func WithMetrics(m *Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithSleep replaces the wait between status checks.
func WithSleep(sleep func(time.Duration)) Option {
	return func(p *Poller) { p.sleep = sleep }
}

// WithIDGenerator replaces the transaction id generator.
func WithIDGenerator(newID func() string) Option {
	return func(p *Poller) { p.newID = newID }
}

// NewPoller creates a poller over remote.
func NewPoller(remote RemoteExecutor, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		remote: remote,
		cfg:    cfg,
		log:    util.NewEntry(),
		sleep:  time.Sleep,
		newID:  NewTransactionID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the poll bounds.
func (p *Poller) Config() Config {
	return p.cfg
}

// Execute submits one batch to the device and waits for its output. The
// returned transaction is non-nil whenever submission was attempted.
func (p *Poller) Execute(ctx context.Context, deviceUID string, batch command.Batch) (*Transaction, error) {
	tx := &Transaction{
		ID:        p.newID(),
		DeviceUID: deviceUID,
		Command:   batch.Text(),
		State:     StatePending,
		Submitted: time.Now(),
	}
	log := p.log.WithFields(logrus.Fields{"device": deviceUID, "transaction": tx.ID})

	log.WithField("lines", len(batch)).Debug("submitting batch")
	if err := p.remote.Submit(ctx, deviceUID, tx.Command, tx.ID); err != nil {
		tx.State = StateError
		tx.ErrorMessage = err.Error()
		p.metrics.finished(OutcomeFailed)
		return tx, fmt.Errorf("submitting commands to %s: %w", deviceUID, err)
	}
	p.metrics.submitted(deviceUID, batch.Size())

	_, err := p.poll(ctx, tx, log)
	tx.Duration = time.Since(tx.Submitted)
	return tx, err
}

// Poll waits for an already submitted transaction and returns its output.
// A DONE state without a response yields "" and no error.
func (p *Poller) Poll(ctx context.Context, transactionID string) (string, error) {
	tx := &Transaction{ID: transactionID, State: StatePending}
	return p.poll(ctx, tx, p.log.WithField("transaction", transactionID))
}

func (p *Poller) poll(ctx context.Context, tx *Transaction, log *logrus.Entry) (string, error) {
	attempt := 0
	for {
		if attempt > p.cfg.Retries {
			p.metrics.finished(OutcomeTimeout)
			log.WithField("polls", tx.Polls).Warn("gave up waiting for transaction")
			return "", &util.RetriesExceededError{TransactionID: tx.ID, Attempts: tx.Polls}
		}

		st, err := p.remote.Status(ctx, tx.ID)
		tx.Polls++
		p.metrics.polled()
		if err != nil {
			tx.State = StateError
			tx.ErrorMessage = err.Error()
			p.metrics.finished(OutcomeFailed)
			return "", fmt.Errorf("checking transaction %s: %w", tx.ID, err)
		}

		switch {
		case st.State == StateDone:
			tx.State = StateDone
			tx.Response = st.Response
			p.metrics.finished(OutcomeDone)
			log.WithField("polls", tx.Polls).Debug("transaction done")
			return st.Response, nil
		case st.ErrorMessage != "" || st.State == StateError:
			msg := st.ErrorMessage
			if msg == "" {
				msg = "command execution failed without an error message"
			}
			tx.State = StateError
			tx.ErrorMessage = msg
			p.metrics.finished(OutcomeError)
			log.WithField("error", msg).Warn("transaction failed")
			return "", &util.CommandExecutionError{
				Device:        tx.DeviceUID,
				TransactionID: tx.ID,
				Message:       msg,
			}
		}

		log.WithField("attempt", attempt).Debug("transaction pending")
		p.sleep(p.cfg.Interval)
		attempt++
	}
}

// Run executes batches strictly in order, each one polled to completion
// before the next is submitted, since later batches may depend on line
// numbers changed by earlier ones. The first failure stops the run; the
// transactions attempted so far are returned with the error.
func (p *Poller) Run(ctx context.Context, deviceUID string, batches []command.Batch) ([]*Transaction, error) {
	txs := make([]*Transaction, 0, len(batches))
	for i, b := range batches {
		tx, err := p.Execute(ctx, deviceUID, b)
		if tx != nil {
			txs = append(txs, tx)
		}
		if err != nil {
			return txs, fmt.Errorf("batch %d of %d: %w", i+1, len(batches), err)
		}
	}
	return txs, nil
}

// Output concatenates the responses of txs, split into lines, in
// submission order.
func Output(txs []*Transaction) []string {
	var out []string
	for _, tx := range txs {
		out = append(out, util.SplitLines(tx.Response)...)
	}
	return out
}
