package pipeline

import (
	"errors"
	"fmt"
)

// RunError is a failed pipeline stage.
//
// Codes map to the stage that failed so the CLI and the run ledger can
// report them without parsing messages.
type RunError struct {
	// Code identifies the failing stage.
	Code RunErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run.
	RunID string

	// Err is the underlying cause.
	Err error
}

// RunErrorCode categorizes run failures.
type RunErrorCode string

const (
	// ErrCodeNoWatermark: the output or input watermark is unavailable. The
	// run aborts rather than guessing a window.
	ErrCodeNoWatermark RunErrorCode = "NO_WATERMARK"

	// ErrCodeRegistryUnavailable: the registry snapshot could not be read.
	ErrCodeRegistryUnavailable RunErrorCode = "REGISTRY_UNAVAILABLE"

	// ErrCodeFetchFailed: the access log scan failed.
	ErrCodeFetchFailed RunErrorCode = "FETCH_FAILED"

	// ErrCodeRetryPersist: the retry store could not be read or written.
	ErrCodeRetryPersist RunErrorCode = "RETRY_PERSIST"

	// ErrCodeSinkFailed: resolved, no-match or activity output failed.
	ErrCodeSinkFailed RunErrorCode = "SINK_FAILED"

	// ErrCodeLedgerFailed: the run ledger or review queue failed.
	ErrCodeLedgerFailed RunErrorCode = "LEDGER_FAILED"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RunID != "" {
		msg += fmt.Sprintf(" (run=%s)", e.RunID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error { return e.Err }

func newRunError(code RunErrorCode, runID, message string, err error) *RunError {
	return &RunError{Code: code, Message: message, RunID: runID, Err: err}
}

// Code returns the RunErrorCode of err, or "" when err is not a RunError.
// Uses errors.As to handle wrapped errors.
func Code(err error) RunErrorCode {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNoWatermark reports whether err aborted the run for lack of a watermark.
func IsNoWatermark(err error) bool { return Code(err) == ErrCodeNoWatermark }

// IsRegistryUnavailable reports whether the registry snapshot failed.
func IsRegistryUnavailable(err error) bool { return Code(err) == ErrCodeRegistryUnavailable }

// IsFetchFailed reports whether the access log scan failed.
func IsFetchFailed(err error) bool { return Code(err) == ErrCodeFetchFailed }

// IsRetryPersist reports whether the retry store failed.
func IsRetryPersist(err error) bool { return Code(err) == ErrCodeRetryPersist }

// IsSinkFailed reports whether writing output failed.
func IsSinkFailed(err error) bool { return Code(err) == ErrCodeSinkFailed }

// IsLedgerFailed reports whether the run ledger failed.
func IsLedgerFailed(err error) bool { return Code(err) == ErrCodeLedgerFailed }
