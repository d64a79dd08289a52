package testutil

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/newtron-network/cdoctl/pkg/acl"
	"github.com/newtron-network/cdoctl/pkg/executor"
	"github.com/newtron-network/cdoctl/pkg/inventory"
	"github.com/newtron-network/cdoctl/pkg/util"
)

var (
	showACLRE  = regexp.MustCompile(`^show\s+run(?:ning-config)?(?:\s+all)?\s+access-list\s+(\S+)$`)
	aclEntryRE = regexp.MustCompile(`^access-list\s+(\S+)\s+(?:line\s+(\d+)\s+)?`)
)

// FakeASA is an in-memory executor.RemoteExecutor. Submitted command text
// is applied line by line to a simulated device and every transaction is
// answered from the resulting state.
type FakeASA struct {
	mu sync.Mutex

	acls      map[string][]string
	aclOrder  []string
	config    []string
	responses map[string]string
	txs       map[string]*fakeTx

	// Batches records submitted command text in submission order.
	Batches []string
	// ByDevice records submitted command text per device uid.
	ByDevice map[string][]string

	// A batch containing FailOn ends in ERROR with FailMessage.
	FailOn      string
	FailMessage string
	// Pending is the number of PENDING answers before a transaction ends.
	Pending int
}

type fakeTx struct {
	status  executor.Status
	pending int
}

// NewFakeASA returns an empty simulated device.
func NewFakeASA() *FakeASA {
	return &FakeASA{
		acls:      make(map[string][]string),
		responses: make(map[string]string),
		txs:       make(map[string]*fakeTx),
		ByDevice:  make(map[string][]string),
	}
}

// SetACL replaces the named ACL. Entries are stored as the device would
// show them, without line numbers.
func (f *FakeASA) SetACL(name string, entries ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.acls[name]; !ok {
		f.aclOrder = append(f.aclOrder, name)
	}
	stored := make([]string, len(entries))
	for i, e := range entries {
		stored[i] = acl.StripLineNumber(e)
	}
	f.acls[name] = stored
}

// ACL returns the current entries of the named ACL.
func (f *FakeASA) ACL(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acls[name]...)
}

// Config returns the non-ACL configuration lines applied so far.
func (f *FakeASA) Config() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.config...)
}

// Respond sets a canned answer for a show command.
func (f *FakeASA) Respond(cmd, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[cmd] = output
}

// Submit applies text and stores the outcome under id.
func (f *FakeASA) Submit(ctx context.Context, deviceUID, text, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Batches = append(f.Batches, text)
	f.ByDevice[deviceUID] = append(f.ByDevice[deviceUID], text)

	tx := &fakeTx{pending: f.Pending}
	if f.FailOn != "" && strings.Contains(text, f.FailOn) {
		tx.status = executor.Status{State: executor.StateError, ErrorMessage: f.FailMessage}
	} else {
		var out []string
		for _, line := range util.SplitLines(text) {
			out = append(out, f.apply(line)...)
		}
		tx.status = executor.Status{State: executor.StateDone, Response: strings.Join(out, "\n")}
	}
	f.txs[id] = tx
	return nil
}

// Status answers PENDING Pending times, then the stored outcome.
func (f *FakeASA) Status(ctx context.Context, id string) (executor.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx, ok := f.txs[id]
	if !ok {
		return executor.Status{}, fmt.Errorf("unknown transaction %s", id)
	}
	if tx.pending > 0 {
		tx.pending--
		return executor.Status{State: executor.StatePending}, nil
	}
	return tx.status, nil
}

func (f *FakeASA) apply(line string) []string {
	cmd := strings.TrimSpace(line)
	if out, ok := f.responses[cmd]; ok {
		return util.SplitLines(out)
	}

	if m := showACLRE.FindStringSubmatch(cmd); m != nil {
		entries, ok := f.acls[m[1]]
		if !ok {
			return []string{fmt.Sprintf("ERROR: access-list <%s> does not exist", m[1])}
		}
		return append([]string(nil), entries...)
	}
	if cmd == "show run" || cmd == "show running-config" {
		out := append([]string(nil), f.config...)
		for _, name := range f.aclOrder {
			out = append(out, f.acls[name]...)
		}
		return out
	}
	if strings.HasPrefix(cmd, "show ") {
		return nil
	}

	if strings.HasPrefix(cmd, "no access-list ") {
		f.removeEntry(strings.TrimPrefix(cmd, "no "))
		return nil
	}
	if m := aclEntryRE.FindStringSubmatch(cmd); m != nil {
		f.insertEntry(m[1], m[2], cmd)
		return nil
	}
	f.config = append(f.config, line)
	return nil
}

func (f *FakeASA) removeEntry(target string) {
	m := aclEntryRE.FindStringSubmatch(target)
	if m == nil {
		return
	}
	entries := f.acls[m[1]]
	for i, e := range entries {
		if acl.SameRule(e, target) {
			f.acls[m[1]] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(f.acls[m[1]]) == 0 {
		delete(f.acls, m[1])
		for i, n := range f.aclOrder {
			if n == m[1] {
				f.aclOrder = append(f.aclOrder[:i], f.aclOrder[i+1:]...)
				break
			}
		}
	}
}

func (f *FakeASA) insertEntry(name, lineNum, cmd string) {
	entries, ok := f.acls[name]
	if !ok {
		f.aclOrder = append(f.aclOrder, name)
	}
	pos := len(entries)
	if n, err := strconv.Atoi(lineNum); err == nil && n-1 < pos {
		pos = n - 1
		if pos < 0 {
			pos = 0
		}
	}
	entry := acl.StripLineNumber(cmd)
	out := make([]string, 0, len(entries)+1)
	out = append(out, entries[:pos]...)
	out = append(out, entry)
	out = append(out, entries[pos:]...)
	f.acls[name] = out
}

// Directory is an in-memory inventory.Directory.
type Directory struct {
	mu      sync.Mutex
	Devices []inventory.Device
	Err     error
	Calls   int
}

// NewDirectory returns a directory holding devices.
func NewDirectory(devices ...inventory.Device) *Directory {
	return &Directory{Devices: devices}
}

// FindDevices returns the devices matching filter.
func (d *Directory) FindDevices(ctx context.Context, filter inventory.Filter) ([]inventory.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls++
	if d.Err != nil {
		return nil, d.Err
	}
	var out []inventory.Device
	for _, dev := range d.Devices {
		if filter.Matches(dev) {
			out = append(out, dev)
		}
	}
	return out, nil
}

// SetConfigState changes the sync state of the named device.
func (d *Directory) SetConfigState(name, state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.Devices {
		if d.Devices[i].Name == name {
			d.Devices[i].ConfigState = state
		}
	}
}

// SyncedASA returns an in-sync ASA inventory record.
func SyncedASA(name, uid string) inventory.Device {
	return inventory.Device{
		UID:               uid,
		Name:              name,
		DeviceType:        inventory.DeviceTypeASA,
		ConfigState:       inventory.ConfigStateSynced,
		OOBDetectionState: inventory.OOBNoChange,
	}
}
