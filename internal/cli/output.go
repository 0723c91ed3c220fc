package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // run failed, or the rule set is invalid
	ExitCommandError = 2 // bad flags or configuration, unreadable local files
)

// Codes for failures that happen outside a run. A failed run reports the
// pipeline's own code instead (NO_WATERMARK, FETCH_FAILED, ...).
const (
	ErrCodeConfig  = "CONFIG_INVALID"
	ErrCodeRules   = "RULES_INVALID"
	ErrCodeArgs    = "BAD_ARGS"
	ErrCodeLookup  = "LOOKUP_FAILED"
	ErrCodeStore   = "STORE_FAILED"
	ErrCodeRetry   = "RETRY_UNREADABLE"
	ErrCodeGeneric = "ERROR"
)

// ExitError is returned by a command that has already reported its failure;
// main only turns it into an exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

// Exit builds an ExitError. err may be nil.
func Exit(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// GetExitCode maps a command error to the process exit code. Errors that
// are not ExitErrors count as failures.
func GetExitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitSuccess
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}

// Response is the envelope every command prints with --format json.
type Response struct {
	Status string         `json:"status"` // ok | error
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
	RunID  string         `json:"run_id,omitempty"`
}

// ResponseError describes a failed command.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or JSON. In text mode
// errors go to ErrWriter so stdout only carries reports.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
}

// JSON reports whether output is machine-readable.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

// Success prints data, wrapped in a Response in JSON mode.
func (f *OutputFormatter) Success(data any) error {
	if !f.JSON() {
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	return f.encode(Response{Status: "ok", Data: data})
}

// Render prints data as JSON, or hands the writer to text.
func (f *OutputFormatter) Render(data any, text func(io.Writer) error) error {
	if f.JSON() {
		return f.Success(data)
	}
	return text(f.Writer)
}

// Error reports a failure. details only appear in JSON output.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.JSON() {
		return f.encode(Response{
			Status: "error",
			Error:  &ResponseError{Code: code, Message: message, Details: details},
		})
	}
	_, err := fmt.Fprintf(f.errWriter(), "Error [%s]: %s\n", code, message)
	return err
}

// Fail reports err under code and returns the ExitError for the command to
// return.
func (f *OutputFormatter) Fail(exitCode int, code, message string, err error) error {
	exitErr := Exit(exitCode, message, err)
	_ = f.Error(code, exitErr.Error(), nil)
	return exitErr
}

func (f *OutputFormatter) encode(resp Response) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter == nil {
		return f.Writer
	}
	return f.ErrWriter
}
