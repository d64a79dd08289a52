// Package audit records every command run against a device.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Operations recorded by the engine.
const (
	OpExec          = "exec"
	OpACLApply      = "acl.apply"
	OpACLPrune      = "acl.prune"
	OpTemplateApply = "template.apply"
)

// Event is one auditable run of commands against a device.
type Event struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	User         string        `json:"user"`
	Device       string        `json:"device"`
	DeviceUID    string        `json:"device_uid,omitempty"`
	Operation    string        `json:"operation"`
	Target       string        `json:"target,omitempty"` // ACL or template section
	Commands     []string      `json:"commands,omitempty"`
	Batches      int           `json:"batches"`
	Transactions []string      `json:"transactions,omitempty"`
	Success      bool          `json:"success"`
	Error        string        `json:"error,omitempty"`
	DryRun       bool          `json:"dry_run"`
	Duration     time.Duration `json:"duration"`
}

// Filter defines criteria for querying audit events
type Filter struct {
	Device      string
	User        string
	Operation   string
	Target      string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates a new audit event
func NewEvent(user, device, operation string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		User:      user,
		Device:    device,
		Operation: operation,
	}
}

// WithDeviceUID sets the inventory uid of the device.
func (e *Event) WithDeviceUID(uid string) *Event {
	e.DeviceUID = uid
	return e
}

// WithTarget names the ACL or template section the event concerns.
func (e *Event) WithTarget(target string) *Event {
	e.Target = target
	return e
}

// WithCommands sets the submitted commands and the number of batches they
// were split into.
func (e *Event) WithCommands(cmds []string, batches int) *Event {
	e.Commands = cmds
	e.Batches = batches
	return e
}

// WithTransactions records the transaction ids of the run.
func (e *Event) WithTransactions(ids []string) *Event {
	e.Transactions = ids
	return e
}

// WithSuccess marks the event as successful
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithResult marks the event successful when err is nil, failed otherwise.
func (e *Event) WithResult(err error) *Event {
	if err != nil {
		return e.WithError(err)
	}
	return e.WithSuccess()
}

// WithDuration sets the operation duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithDryRun marks an event for commands that were planned but not sent.
func (e *Event) WithDryRun(dryRun bool) *Event {
	e.DryRun = dryRun
	return e
}

// Matches reports whether the event satisfies every criterion of f.
// Limit and Offset are applied by the caller.
func (f Filter) Matches(event *Event) bool {
	if f.Device != "" && event.Device != f.Device {
		return false
	}
	if f.User != "" && event.User != f.User {
		return false
	}
	if f.Operation != "" && event.Operation != f.Operation {
		return false
	}
	if f.Target != "" && event.Target != f.Target {
		return false
	}
	if !f.StartTime.IsZero() && event.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && event.Timestamp.After(f.EndTime) {
		return false
	}
	if f.SuccessOnly && !event.Success {
		return false
	}
	if f.FailureOnly && event.Success {
		return false
	}
	return true
}

// page applies Offset and Limit.
func (f Filter) page(events []*Event) []*Event {
	if f.Offset > 0 {
		if f.Offset >= len(events) {
			return nil
		}
		events = events[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(events) {
		events = events[:f.Limit]
	}
	return events
}
