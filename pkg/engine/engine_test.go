package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/newtron-network/cdoctl/internal/testutil"
	"github.com/newtron-network/cdoctl/pkg/acl"
	"github.com/newtron-network/cdoctl/pkg/audit"
	"github.com/newtron-network/cdoctl/pkg/executor"
	"github.com/newtron-network/cdoctl/pkg/inventory"
	"github.com/newtron-network/cdoctl/pkg/util"
)

type memAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *memAudit) Log(e *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memAudit) Query(f audit.Filter) ([]*audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*audit.Event
	for _, e := range m.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) Close() error { return nil }

type fixture struct {
	runner *Runner
	asa    *testutil.FakeASA
	dir    *testutil.Directory
	audit  *memAudit
}

func newFixture(t *testing.T, devices ...inventory.Device) *fixture {
	t.Helper()
	if len(devices) == 0 {
		devices = []inventory.Device{testutil.SyncedASA("asa-edge-1", "uid-1")}
	}
	f := &fixture{
		asa:   testutil.NewFakeASA(),
		dir:   testutil.NewDirectory(devices...),
		audit: &memAudit{},
	}
	poller := executor.NewPoller(f.asa, executor.Config{Retries: 3, Interval: time.Millisecond},
		executor.WithSleep(func(time.Duration) {}),
		executor.WithLogger(util.DiscardEntry()))
	f.runner = NewRunner(f.dir, poller,
		WithLogger(util.DiscardEntry()),
		WithAuditLogger(f.audit),
		WithUser("tester"))
	return f
}

var edge = Target{Device: "asa-edge-1"}

func TestRunCommands_SplitsOutputLines(t *testing.T) {
	f := newFixture(t)
	f.asa.Respond("show version", "Cisco Adaptive Security Appliance Software Version 9.16(2)\nHardware:   ASA5516")

	res, err := f.runner.RunCommands(context.Background(), CommandRequest{Target: edge, Commands: []string{"show version"}})
	if err != nil {
		t.Fatalf("RunCommands: %v", err)
	}
	want := []string{"Cisco Adaptive Security Appliance Software Version 9.16(2)", "Hardware:   ASA5516"}
	if diff := cmp.Diff(want, res.Output); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
	if res.Device.UID != "uid-1" {
		t.Errorf("device = %+v", res.Device)
	}

	if len(f.audit.events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(f.audit.events))
	}
	ev := f.audit.events[0]
	if !ev.Success || ev.User != "tester" || ev.Operation != audit.OpExec || len(ev.Transactions) != 1 {
		t.Errorf("unexpected audit event %+v", ev)
	}
}

func TestRunCommands_EmptyListDoesNothing(t *testing.T) {
	f := newFixture(t)
	res, err := f.runner.RunCommands(context.Background(), CommandRequest{Target: edge})
	if err != nil {
		t.Fatalf("RunCommands: %v", err)
	}
	if len(res.Output) != 0 || f.dir.Calls != 0 || len(f.asa.Batches) != 0 {
		t.Errorf("expected no work, got output=%v calls=%d batches=%d", res.Output, f.dir.Calls, len(f.asa.Batches))
	}
}

func TestRunCommands_SyncGate(t *testing.T) {
	dev := testutil.SyncedASA("asa-edge-1", "uid-1")
	dev.ConfigState = inventory.ConfigStateNotSynced

	tests := []struct {
		name    string
		cmds    []string
		wantErr bool
	}{
		{"read-only allowed", []string{"show run", "ping 10.0.0.1"}, false},
		{"config rejected", []string{"show run", "hostname edge"}, true},
		{"single write verb", []string{"write memory"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, dev)
			_, err := f.runner.RunCommands(context.Background(), CommandRequest{Target: edge, Commands: tt.cmds})
			if tt.wantErr {
				if !errors.Is(err, util.ErrNotInSync) {
					t.Fatalf("expected ErrNotInSync, got %v", err)
				}
				if len(f.asa.Batches) != 0 {
					t.Errorf("rejected run submitted %q", f.asa.Batches)
				}
				if len(f.audit.events) != 1 || f.audit.events[0].Success {
					t.Errorf("rejection should be audited as a failure: %+v", f.audit.events)
				}
				return
			}
			if err != nil {
				t.Fatalf("RunCommands: %v", err)
			}
		})
	}
}

func TestRunCommands_GateReadsFreshState(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.Context(t)
	req := CommandRequest{Target: edge, Commands: []string{"hostname edge"}}

	if _, err := f.runner.RunCommands(ctx, req); err != nil {
		t.Fatalf("first run: %v", err)
	}
	f.dir.SetConfigState("asa-edge-1", inventory.ConfigStateNotSynced)
	if _, err := f.runner.RunCommands(ctx, req); !errors.Is(err, util.ErrNotInSync) {
		t.Fatalf("second run should see the new state, got %v", err)
	}
	if f.dir.Calls != 2 {
		t.Errorf("directory calls = %d, want 2", f.dir.Calls)
	}
}

func TestRunCommands_DeviceResolution(t *testing.T) {
	f := newFixture(t,
		testutil.SyncedASA("asa-edge-1", "uid-1"),
		testutil.SyncedASA("asa-edge-1", "uid-2"),
	)
	ctx := testutil.Context(t)

	_, err := f.runner.RunCommands(ctx, CommandRequest{Target: Target{Device: "missing"}, Commands: []string{"show run"}})
	if !errors.Is(err, util.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_, err = f.runner.RunCommands(ctx, CommandRequest{Target: edge, Commands: []string{"show run"}})
	if !errors.Is(err, util.ErrTooManyMatches) {
		t.Errorf("expected ErrTooManyMatches, got %v", err)
	}
	if len(f.asa.Batches) != 0 {
		t.Errorf("nothing should be submitted, got %q", f.asa.Batches)
	}
}

func objectCommands(n int) []string {
	cmds := make([]string, n)
	for i := range cmds {
		cmds[i] = fmt.Sprintf("object network OBJ-%05d", i)
	}
	return cmds
}

func TestRunCommands_LongListRunsInBatches(t *testing.T) {
	f := newFixture(t)
	cmds := objectCommands(75)

	res, err := f.runner.RunCommands(context.Background(), CommandRequest{Target: edge, Commands: cmds})
	if err != nil {
		t.Fatalf("RunCommands: %v", err)
	}
	if len(res.Batches) != 4 || len(f.asa.Batches) != 4 {
		t.Fatalf("batches = %d, submitted = %d, want 4", len(res.Batches), len(f.asa.Batches))
	}
	if diff := cmp.Diff(cmds, f.asa.Config()); diff != "" {
		t.Errorf("device received commands out of order (-want +got):\n%s", diff)
	}
}

func TestRunCommands_FailureStopsRemainingBatches(t *testing.T) {
	f := newFixture(t)
	f.asa.FailOn = "OBJ-00030"
	f.asa.FailMessage = "Device is not reachable"

	res, err := f.runner.RunCommands(context.Background(), CommandRequest{Target: edge, Commands: objectCommands(75)})
	if !errors.Is(err, util.ErrCommandExecution) {
		t.Fatalf("expected ErrCommandExecution, got %v", err)
	}
	if !strings.Contains(err.Error(), "Device is not reachable") {
		t.Errorf("error should carry the device message: %v", err)
	}
	if len(f.asa.Batches) != 2 || len(res.Transactions) != 2 {
		t.Errorf("submitted %d batches, recorded %d transactions, want 2", len(f.asa.Batches), len(res.Transactions))
	}
	if f.audit.events[0].Success || f.audit.events[0].Error == "" {
		t.Errorf("failure should be audited: %+v", f.audit.events[0])
	}
}

func TestRunningConfig(t *testing.T) {
	f := newFixture(t)
	f.asa.Respond("show run all aaa", "aaa authentication ssh console LOCAL")

	lines, err := f.runner.RunningConfig(context.Background(), edge, "aaa", true)
	if err != nil {
		t.Fatalf("RunningConfig: %v", err)
	}
	if len(lines) != 1 || f.asa.Batches[0] != "show run all aaa" {
		t.Errorf("lines = %q, submitted = %q", lines, f.asa.Batches)
	}

	if _, err := f.runner.RunningConfig(context.Background(), edge, "", false); err != nil {
		t.Fatalf("RunningConfig: %v", err)
	}
	if f.asa.Batches[1] != "show run" {
		t.Errorf("submitted %q, want %q", f.asa.Batches[1], "show run")
	}
}

func TestAccessList_MissingIsEmpty(t *testing.T) {
	f := newFixture(t)
	entries, err := f.runner.AccessList(context.Background(), edge, "NOPE")
	if err != nil {
		t.Fatalf("AccessList: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("missing ACL should be empty, got %q", entries)
	}

	f.asa.SetACL("A", "access-list A extended permit ip any any")
	entries, _ = f.runner.AccessList(context.Background(), edge, "A")
	if len(entries) != 1 {
		t.Errorf("entries = %q", entries)
	}
}

func TestApplyAccessList_ReconcilesAndPrunes(t *testing.T) {
	f := newFixture(t)
	f.asa.SetACL("A",
		"access-list A extended permit tcp any any eq 443",
		"access-list A extended deny ip any any log",
		"access-list A extended permit udp any any eq 53",
	)
	desired := []string{
		"access-list A line 1 extended permit tcp any any eq 22",
		"access-list A line 2 extended deny ip any any",
	}

	res, err := f.runner.ApplyAccessList(context.Background(), ACLRequest{Target: edge, Name: "A", Entries: desired})
	if err != nil {
		t.Fatalf("ApplyAccessList: %v", err)
	}

	wantPlan := []string{
		"access-list A line 1 extended permit tcp any any eq 22",
		"no access-list A extended deny ip any any log",
		"access-list A line 2 extended deny ip any any",
	}
	if diff := cmp.Diff(wantPlan, res.Commands); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}
	wantPruned := []string{
		"no access-list A extended permit tcp any any eq 443",
		"no access-list A extended permit udp any any eq 53",
	}
	if diff := cmp.Diff(wantPruned, res.Pruned); diff != "" {
		t.Errorf("prune mismatch (-want +got):\n%s", diff)
	}
	if res.Message != msgACLApplied || res.PruneMsg != msgACLPruned {
		t.Errorf("messages = %q / %q", res.Message, res.PruneMsg)
	}
	if !acl.Converged(desired, f.asa.ACL("A")) {
		t.Errorf("device ACL not converged: %q", f.asa.ACL("A"))
	}

	var ops []string
	for _, e := range f.audit.events {
		ops = append(ops, e.Operation)
	}
	wantOps := []string{audit.OpExec, audit.OpACLApply, audit.OpExec, audit.OpACLPrune}
	if diff := cmp.Diff(wantOps, ops); diff != "" {
		t.Errorf("audit operations (-want +got):\n%s", diff)
	}
}

func TestApplyAccessList_NewACL(t *testing.T) {
	f := newFixture(t)
	desired := []string{"access-list NEW extended permit ip any any"}

	res, err := f.runner.ApplyAccessList(context.Background(), ACLRequest{Target: edge, Name: "NEW", Entries: desired})
	if err != nil {
		t.Fatalf("ApplyAccessList: %v", err)
	}
	if len(res.Running) != 0 || len(res.Plan.Removals()) != 0 || res.Pruned != nil {
		t.Errorf("new ACL should be pure additions: %+v", res)
	}
	if diff := cmp.Diff(desired, f.asa.ACL("NEW")); diff != "" {
		t.Errorf("device ACL (-want +got):\n%s", diff)
	}
}

func TestApplyAccessList_SecondPassLeavesDeviceUnchanged(t *testing.T) {
	f := newFixture(t)
	f.asa.SetACL("A", "access-list A extended permit tcp any any eq 443")
	req := ACLRequest{Target: edge, Name: "A", Entries: []string{
		"access-list A line 1 extended permit tcp any any eq 22",
		"access-list A line 2 extended deny ip any any",
	}}
	ctx := testutil.Context(t)

	if _, err := f.runner.ApplyAccessList(ctx, req); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	first := f.asa.ACL("A")

	res, err := f.runner.ApplyAccessList(ctx, req)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Pruned != nil {
		t.Errorf("second pass pruned %q", res.Pruned)
	}
	if diff := cmp.Diff(first, f.asa.ACL("A")); diff != "" {
		t.Errorf("second pass changed the device (-first +second):\n%s", diff)
	}
}

func TestApplyAccessList_SkipConverged(t *testing.T) {
	f := newFixture(t)
	f.asa.SetACL("A", "access-list A extended permit ip any any log")

	res, err := f.runner.ApplyAccessList(context.Background(), ACLRequest{
		Target:        edge,
		Name:          "A",
		Entries:       []string{"access-list A line 1 extended permit ip any any"},
		SkipConverged: true,
	})
	if err != nil {
		t.Fatalf("ApplyAccessList: %v", err)
	}
	if !res.Converged || res.Message != msgACLConverged {
		t.Errorf("expected converged result, got %+v", res)
	}
	if len(f.asa.Batches) != 1 {
		t.Errorf("only the read should be submitted, got %q", f.asa.Batches)
	}
}

func TestACLRequest_Validate(t *testing.T) {
	err := ACLRequest{Entries: []string{"access-list A permit ip any any", "  "}}.Validate()
	var ve *util.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("errors = %q, want 3", ve.Errors)
	}
}

const sampleTemplate = `
config:
  global:
    - hostname edge
    - domain-name example.net
  access-groups:
    - access-group OUTSIDE_IN in interface outside
  access-lists:
    OUTSIDE_IN:
      - access-list OUTSIDE_IN line 1 extended permit tcp any any eq 443
    INSIDE_IN:
      - access-list INSIDE_IN line 1 extended permit ip any any
  users:
    - username admin privilege 15
`

func TestParseTemplate(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(sampleTemplate))
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if len(tmpl.Sections["global"]) != 2 || len(tmpl.Sections["users"]) != 1 {
		t.Errorf("sections = %v", tmpl.Sections)
	}
	var names []string
	for _, a := range tmpl.AccessLists {
		names = append(names, a.Name)
	}
	if diff := cmp.Diff([]string{"OUTSIDE_IN", "INSIDE_IN"}, names); diff != "" {
		t.Errorf("access-list order (-want +got):\n%s", diff)
	}
	if !tmpl.Has(SectionAccessLists) || tmpl.Has("aaa") {
		t.Error("Has() reports the wrong sections")
	}
}

func TestParseTemplate_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown section", "banner:\n  - hello\n"},
		{"section not a list", "global: hostname edge\n"},
		{"access-lists not a map", "access-lists:\n  - access-list A permit ip any any\n"},
		{"not a mapping", "- global\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTemplate([]byte(tt.doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func mustTemplate(t *testing.T, src string) *Template {
	t.Helper()
	tmpl, err := ParseTemplate([]byte(src))
	return testutil.Must(t, tmpl, err)
}

func TestApplyTemplate_SectionOrder(t *testing.T) {
	f := newFixture(t)
	tmpl := mustTemplate(t, sampleTemplate)

	results, err := f.runner.ApplyTemplate(testutil.Context(t), TemplateRequest{Target: edge, Template: tmpl})
	if err != nil {
		t.Fatalf("ApplyTemplate: %v", err)
	}
	var got []string
	for _, r := range results {
		got = append(got, r.Section)
	}
	want := []string{"global", "access-lists/OUTSIDE_IN", "access-lists/INSIDE_IN", "access-groups", "users"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("section order (-want +got):\n%s", diff)
	}
	if results[0].Message != "global config appears to have been added successfully" {
		t.Errorf("message = %q", results[0].Message)
	}
	if len(f.asa.ACL("OUTSIDE_IN")) != 1 || len(f.asa.ACL("INSIDE_IN")) != 1 {
		t.Errorf("ACLs not applied")
	}
}

func TestApplyTemplate_Subset(t *testing.T) {
	f := newFixture(t)
	tmpl := mustTemplate(t, sampleTemplate)
	ctx := testutil.Context(t)

	results, err := f.runner.ApplyTemplate(ctx, TemplateRequest{
		Target:   edge,
		Template: tmpl,
		Sections: []string{"users", "global"},
	})
	if err != nil {
		t.Fatalf("ApplyTemplate: %v", err)
	}
	if len(results) != 2 || results[0].Section != "global" || results[1].Section != "users" {
		t.Errorf("results = %+v", results)
	}

	_, err = f.runner.ApplyTemplate(ctx, TemplateRequest{Target: edge, Template: tmpl, Sections: []string{"banner"}})
	if err == nil {
		t.Error("unknown section should be rejected")
	}
}

func TestApplyTemplate_StopsAtFailingSection(t *testing.T) {
	f := newFixture(t)
	f.asa.FailOn = "access-group"
	f.asa.FailMessage = "ERROR: access-list OUTSIDE_IN does not exist"
	tmpl := mustTemplate(t, sampleTemplate)

	results, err := f.runner.ApplyTemplate(context.Background(), TemplateRequest{Target: edge, Template: tmpl})
	if !errors.Is(err, util.ErrCommandExecution) {
		t.Fatalf("expected ErrCommandExecution, got %v", err)
	}
	last := results[len(results)-1]
	if last.Section != "access-groups" || last.Message != "" {
		t.Errorf("last result = %+v", last)
	}
	for _, b := range f.asa.Batches {
		if strings.Contains(b, "username") {
			t.Errorf("users section should not run after a failure")
		}
	}
}

func TestForEachDevice(t *testing.T) {
	devices := []string{"asa-1", "asa-2", "asa-3", "asa-4"}
	var (
		mu      sync.Mutex
		running int
		peak    int
		seen    []string
	)
	err := ForEachDevice(context.Background(), devices, 2, func(ctx context.Context, device string) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		seen = append(seen, device)
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		if device == "asa-2" || device == "asa-4" {
			return util.ErrNotInSync
		}
		return nil
	})

	if len(seen) != 4 {
		t.Errorf("every device should run, saw %v", seen)
	}
	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if !errors.Is(err, util.ErrNotInSync) {
		t.Fatalf("expected joined ErrNotInSync, got %v", err)
	}
	var de *DeviceError
	if !errors.As(err, &de) || de.Device != "asa-2" {
		t.Errorf("first device error = %+v", de)
	}
	if !strings.Contains(err.Error(), "asa-4") || strings.Contains(err.Error(), "asa-1") {
		t.Errorf("error = %v", err)
	}
}

func TestForEachDevice_AllSucceed(t *testing.T) {
	f := newFixture(t,
		testutil.SyncedASA("asa-1", "uid-1"),
		testutil.SyncedASA("asa-2", "uid-2"),
	)
	err := ForEachDevice(context.Background(), []string{"asa-1", "asa-2"}, 0, func(ctx context.Context, device string) error {
		_, err := f.runner.RunCommands(ctx, CommandRequest{Target: Target{Device: device}, Commands: []string{"hostname " + device}})
		return err
	})
	if err != nil {
		t.Fatalf("ForEachDevice: %v", err)
	}
	if len(f.asa.ByDevice["uid-1"]) != 1 || len(f.asa.ByDevice["uid-2"]) != 1 {
		t.Errorf("per-device submissions = %v", f.asa.ByDevice)
	}
}
