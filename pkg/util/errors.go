// Package util provides logging, common error types and small string helpers.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrTooManyMatches   = errors.New("filter matched more than one device")
	ErrNotInSync        = errors.New("device not in sync")
	ErrCommandExecution = errors.New("command execution failed")
	ErrRetriesExceeded  = errors.New("retries exceeded")
	ErrAPI              = errors.New("API error")
	ErrCredentials      = errors.New("credentials rejected")
	ErrDuplicate        = errors.New("duplicate object")
	ErrValidationFailed = errors.New("validation failed")
)

// PolicyRejectedError is returned when a device is out of sync and a command
// outside the read-only verb set was requested.
type PolicyRejectedError struct {
	Device  string
	Command string
	Allowed []string
}

func (e *PolicyRejectedError) Error() string {
	msg := "Device is not in a synced state. The only allowed commands are: " + strings.Join(e.Allowed, ", ")
	if e.Command != "" {
		msg += fmt.Sprintf(" (rejected %q", e.Command)
		if e.Device != "" {
			msg += " on " + e.Device
		}
		msg += ")"
	}
	return msg
}

func (e *PolicyRejectedError) Unwrap() error {
	return ErrNotInSync
}

// CommandExecutionError carries the error message reported by the remote
// executor for a transaction, e.g. device unreachable.
type CommandExecutionError struct {
	Device        string
	TransactionID string
	Message       string
}

func (e *CommandExecutionError) Error() string {
	return e.Message
}

func (e *CommandExecutionError) Unwrap() error {
	return ErrCommandExecution
}

// RetriesExceededError is returned when polling gives up before the
// transaction reached a terminal state.
type RetriesExceededError struct {
	TransactionID string
	Attempts      int
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("Timeout waiting for the command(s) to execute on the device after %d attempts. "+
		"Perhaps try raising the retries or interval values.", e.Attempts)
}

func (e *RetriesExceededError) Unwrap() error {
	return ErrRetriesExceeded
}

// LookupError reports a device filter that did not select exactly one device.
type LookupError struct {
	Filter  string
	Matches int
}

func (e *LookupError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("Device %s not found in CDO inventory", e.Filter)
	}
	return fmt.Sprintf("Device %s matched more than 1 device in CDO inventory (%d matches)", e.Filter, e.Matches)
}

func (e *LookupError) Unwrap() error {
	if e.Matches == 0 {
		return ErrNotFound
	}
	return ErrTooManyMatches
}

// NewLookupError creates a lookup error for a filter and its match count
func NewLookupError(filter string, matches int) *LookupError {
	return &LookupError{Filter: filter, Matches: matches}
}

// APIError is a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	switch e.StatusCode {
	case 401:
		return "API token was rejected by CDO API"
	case 404:
		return fmt.Sprintf("404 not found: %s %s", e.Method, e.Path)
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == 404:
		return ErrNotFound
	case e.StatusCode == 401:
		return ErrCredentials
	case strings.Contains(e.Body, "Duplicate"):
		return ErrDuplicate
	}
	return ErrAPI
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
