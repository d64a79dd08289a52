package cdo

import (
	"context"
	"fmt"
	"net/url"

	"github.com/newtron-network/cdoctl/pkg/executor"
)

const executionsResolve = "[cli/executions.{createdDate,command,jobUid,deviceUid,transactionId,deviceType," +
	"deviceName,responseHash,executionState,errorMsg,response}]"

type cliRequest struct {
	QueueTriggerState   string     `json:"queueTriggerState"`
	StateMachineContext cliContext `json:"stateMachineContext"`
}

type cliContext struct {
	Command       string  `json:"command"`
	TransactionID string  `json:"transactionId"`
	CLIMacroUID   *string `json:"cliMacroUid"`
}

// Execution is one CLI execution record.
type Execution struct {
	TransactionID  string `json:"transactionId"`
	DeviceUID      string `json:"deviceUid"`
	DeviceName     string `json:"deviceName"`
	Command        string `json:"command"`
	ExecutionState string `json:"executionState"`
	Response       string `json:"response"`
	ErrorMsg       string `json:"errorMsg"`
}

// Submit queues text for execution on the device uid under transactionID.
func (c *Client) Submit(ctx context.Context, deviceUID, text, transactionID string) error {
	sd, err := c.SpecificDevice(ctx, deviceUID)
	if err != nil {
		return err
	}
	req := cliRequest{
		QueueTriggerState: "INITIATE_CLI",
		StateMachineContext: cliContext{
			Command:       text,
			TransactionID: transactionID,
		},
	}
	path := pathASAConfigs + "/" + url.PathEscape(sd.UID)
	if err := c.put(ctx, path, req, nil); err != nil {
		return fmt.Errorf("submitting transaction %s: %w", transactionID, err)
	}
	return nil
}

// Status reads the execution state of transactionID. No record yet means
// the transaction is still pending.
func (c *Client) Status(ctx context.Context, transactionID string) (executor.Status, error) {
	query := url.Values{
		"q":       {"transactionId:" + transactionID},
		"resolve": {executionsResolve},
	}
	var execs []Execution
	if err := c.get(ctx, pathCLIExecutions, query, &execs); err != nil {
		return executor.Status{}, err
	}
	if len(execs) == 0 {
		return executor.Status{State: executor.StatePending}, nil
	}

	e := execs[0]
	st := executor.Status{Response: e.Response, ErrorMessage: e.ErrorMsg}
	switch executor.State(e.ExecutionState) {
	case executor.StateDone:
		st.State = executor.StateDone
	case executor.StateError:
		st.State = executor.StateError
	default:
		st.State = executor.StatePending
	}
	return st, nil
}
