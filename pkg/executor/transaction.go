// Package executor submits command batches to a remote command-execution
// service and polls each one to a terminal state.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// State is the execution state reported for a transaction.
type State string

const (
	StatePending State = "PENDING"
	StateDone    State = "DONE"
	StateError   State = "ERROR"
)

// Status is one status report for a transaction.
type Status struct {
	State        State
	Response     string
	ErrorMessage string
}

// RemoteExecutor runs command text on a device asynchronously. Submit must
// return once the request is accepted; Status reports progress by the
// caller-generated transaction id. Implementations must be safe for
// concurrent use.
type RemoteExecutor interface {
	Submit(ctx context.Context, deviceUID, commandText, transactionID string) error
	Status(ctx context.Context, transactionID string) (Status, error)
}

// Transaction records one remote execution. It lives only for the duration
// of the batch it carries.
type Transaction struct {
	ID           string        `json:"id"`
	DeviceUID    string        `json:"device_uid"`
	Command      string        `json:"command"`
	State        State         `json:"state"`
	Response     string        `json:"response,omitempty"`
	ErrorMessage string        `json:"error,omitempty"`
	Polls        int           `json:"polls"`
	Submitted    time.Time     `json:"submitted"`
	Duration     time.Duration `json:"duration"`
}

// NewTransactionID returns a random RFC 4122 UUID in the usual
// 8-4-4-4-12 hex layout.
func NewTransactionID() string {
	return uuid.NewString()
}
