package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/newtron-network/cdoctl/pkg/command"
	"github.com/newtron-network/cdoctl/pkg/util"
)

// scriptedRemote replays a fixed status sequence per submitted transaction;
// the last status repeats once the script runs out.
type scriptedRemote struct {
	mu        sync.Mutex
	script    []Status
	submitErr error
	statusErr error
	submitted []string
	checks    map[string]int
}

func (r *scriptedRemote) Submit(ctx context.Context, deviceUID, text, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitErr != nil {
		return r.submitErr
	}
	r.submitted = append(r.submitted, text)
	return nil
}

func (r *scriptedRemote) Status(ctx context.Context, id string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statusErr != nil {
		return Status{}, r.statusErr
	}
	if r.checks == nil {
		r.checks = make(map[string]int)
	}
	n := r.checks[id]
	r.checks[id]++
	if n >= len(r.script) {
		n = len(r.script) - 1
	}
	return r.script[n], nil
}

func (r *scriptedRemote) totalChecks() int {
	total := 0
	for _, n := range r.checks {
		total += n
	}
	return total
}

type sleepCounter struct {
	n     int
	total time.Duration
}

func (s *sleepCounter) sleep(d time.Duration) {
	s.n++
	s.total += d
}

func newTestPoller(r RemoteExecutor, cfg Config, s *sleepCounter, opts ...Option) *Poller {
	opts = append([]Option{WithSleep(s.sleep), WithLogger(util.DiscardEntry())}, opts...)
	return NewPoller(r, cfg, opts...)
}

func TestPoll_DoneAfterPending(t *testing.T) {
	r := &scriptedRemote{script: []Status{
		{State: StatePending},
		{State: StatePending},
		{State: StateDone, Response: "ok"},
	}}
	s := &sleepCounter{}
	p := newTestPoller(r, Config{Retries: 5, Interval: 2 * time.Second}, s)

	out, err := p.Poll(context.Background(), "tx-1")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if out != "ok" {
		t.Errorf("output = %q, want %q", out, "ok")
	}
	if s.n != 2 {
		t.Errorf("sleeps = %d, want 2", s.n)
	}
	if s.total != 4*time.Second {
		t.Errorf("slept %v, want 4s", s.total)
	}
}

func TestPoll_RetriesExceeded(t *testing.T) {
	r := &scriptedRemote{script: []Status{{State: StatePending}}}
	s := &sleepCounter{}
	p := newTestPoller(r, Config{Retries: 2, Interval: time.Second}, s)

	_, err := p.Poll(context.Background(), "tx-1")
	if !errors.Is(err, util.ErrRetriesExceeded) {
		t.Fatalf("expected ErrRetriesExceeded, got %v", err)
	}
	if got := r.totalChecks(); got != 3 {
		t.Errorf("status checks = %d, want 3 (initial + 2 retries)", got)
	}
	var re *util.RetriesExceededError
	if !errors.As(err, &re) || re.Attempts != 3 {
		t.Errorf("Attempts = %+v, want 3", re)
	}
}

func TestPoll_ZeroConfigChecksOnce(t *testing.T) {
	r := &scriptedRemote{script: []Status{{State: StatePending}}}
	s := &sleepCounter{}
	p := newTestPoller(r, Config{}, s)

	if _, err := p.Poll(context.Background(), "tx"); !errors.Is(err, util.ErrRetriesExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if r.totalChecks() != 1 {
		t.Errorf("status checks = %d, want 1", r.totalChecks())
	}
}

func TestPoll_DoneWithoutResponse(t *testing.T) {
	r := &scriptedRemote{script: []Status{{State: StateDone}}}
	p := newTestPoller(r, Config{Retries: 1}, &sleepCounter{})

	out, err := p.Poll(context.Background(), "tx")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if out != "" {
		t.Errorf("output = %q, want empty", out)
	}
}

func TestPoll_ErrorMessageIsNotRetried(t *testing.T) {
	r := &scriptedRemote{script: []Status{
		{State: StatePending},
		{State: StatePending, ErrorMessage: "Device is not reachable"},
		{State: StateDone, Response: "never"},
	}}
	s := &sleepCounter{}
	p := newTestPoller(r, Config{Retries: 10}, s)

	_, err := p.Poll(context.Background(), "tx")
	if !errors.Is(err, util.ErrCommandExecution) {
		t.Fatalf("expected ErrCommandExecution, got %v", err)
	}
	if err.Error() != "Device is not reachable" {
		t.Errorf("message should be verbatim, got %q", err.Error())
	}
	if r.totalChecks() != 2 || s.n != 1 {
		t.Errorf("checks=%d sleeps=%d, want 2 and 1", r.totalChecks(), s.n)
	}
}

func TestPoll_ErrorStateWithoutMessage(t *testing.T) {
	r := &scriptedRemote{script: []Status{{State: StateError}}}
	p := newTestPoller(r, Config{Retries: 3}, &sleepCounter{})

	_, err := p.Poll(context.Background(), "tx")
	if !errors.Is(err, util.ErrCommandExecution) {
		t.Fatalf("expected ErrCommandExecution, got %v", err)
	}
}

func TestPoll_StatusTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	r := &scriptedRemote{statusErr: boom}
	p := newTestPoller(r, Config{Retries: 3}, &sleepCounter{})

	_, err := p.Poll(context.Background(), "tx")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestExecute_SubmitsJoinedBatch(t *testing.T) {
	r := &scriptedRemote{script: []Status{{State: StateDone, Response: "a\nb"}}}
	p := newTestPoller(r, Config{Retries: 1}, &sleepCounter{},
		WithIDGenerator(func() string { return "fixed-id" }))

	tx, err := p.Execute(context.Background(), "uid-1", command.Batch{"show run", "show version"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if tx.ID != "fixed-id" || tx.DeviceUID != "uid-1" || tx.State != StateDone {
		t.Errorf("unexpected transaction %+v", tx)
	}
	if len(r.submitted) != 1 || r.submitted[0] != "show run\nshow version" {
		t.Errorf("submitted = %q", r.submitted)
	}
	if tx.Polls != 1 {
		t.Errorf("Polls = %d, want 1", tx.Polls)
	}
}

func TestExecute_SubmitError(t *testing.T) {
	r := &scriptedRemote{submitErr: &util.APIError{StatusCode: 500, Method: "PUT", Path: "/x"}}
	p := newTestPoller(r, Config{Retries: 1}, &sleepCounter{})

	tx, err := p.Execute(context.Background(), "uid-1", command.Batch{"show run"})
	if !errors.Is(err, util.ErrAPI) {
		t.Fatalf("expected ErrAPI, got %v", err)
	}
	if tx == nil || tx.State != StateError {
		t.Errorf("transaction should be recorded as failed: %+v", tx)
	}
}

// failingRemote fails every transaction after the first n successes.
type failingRemote struct {
	ok        int
	submitted []string
	ids       map[string]int
}

func (r *failingRemote) Submit(ctx context.Context, deviceUID, text, id string) error {
	if r.ids == nil {
		r.ids = make(map[string]int)
	}
	r.ids[id] = len(r.submitted)
	r.submitted = append(r.submitted, text)
	return nil
}

func (r *failingRemote) Status(ctx context.Context, id string) (Status, error) {
	idx := r.ids[id]
	if idx < r.ok {
		return Status{State: StateDone, Response: fmt.Sprintf("out-%d", idx)}, nil
	}
	return Status{State: StateError, ErrorMessage: "Device went out of sync"}, nil
}

func TestRun_SequentialAndAbortsOnFailure(t *testing.T) {
	r := &failingRemote{ok: 1}
	p := newTestPoller(r, Config{Retries: 1}, &sleepCounter{})

	batches := []command.Batch{{"a"}, {"b"}, {"c"}}
	txs, err := p.Run(context.Background(), "uid", batches)
	if !errors.Is(err, util.ErrCommandExecution) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if !strings.Contains(err.Error(), "batch 2 of 3") {
		t.Errorf("error should name the failing batch: %v", err)
	}
	if len(r.submitted) != 2 {
		t.Errorf("batch 3 should not be submitted, submitted %q", r.submitted)
	}
	if len(txs) != 2 || txs[0].Response != "out-0" {
		t.Errorf("unexpected transactions %+v", txs)
	}
}

func TestRun_CollectsOutputInOrder(t *testing.T) {
	r := &failingRemote{ok: 3}
	p := newTestPoller(r, Config{Retries: 1}, &sleepCounter{})

	txs, err := p.Run(context.Background(), "uid", []command.Batch{{"a"}, {"b"}, {"c"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := Output(txs)
	want := []string{"out-0", "out-1", "out-2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Output = %v, want %v", got, want)
	}
}

func TestNewTransactionID(t *testing.T) {
	layout := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTransactionID()
		if !layout.MatchString(id) {
			t.Fatalf("id %q does not match UUID layout", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	r := &scriptedRemote{script: []Status{{State: StatePending}, {State: StateDone, Response: "ok"}}}
	p := newTestPoller(r, Config{Retries: 3}, &sleepCounter{}, WithMetrics(m))

	if _, err := p.Execute(context.Background(), "uid-1", command.Batch{"show run"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if got := testutil.ToFloat64(m.submissions.WithLabelValues("uid-1")); got != 1 {
		t.Errorf("submissions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.polls); got != 2 {
		t.Errorf("polls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues(OutcomeDone)); got != 1 {
		t.Errorf("done outcomes = %v, want 1", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.submitted("d", 10)
	m.polled()
	m.finished(OutcomeDone)
}
