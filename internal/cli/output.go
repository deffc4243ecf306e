package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Process exit codes.
const (
	ExitSuccess = 0
	// ExitFailure means the command ran but the outcome was bad: the
	// server was unreachable, or a drain left operations behind.
	ExitFailure = 1
	// ExitCommandError means the command could not run at all.
	ExitCommandError = 2
)

// Codes carried in JSON error responses.
const (
	ErrCodeConfig   = "E001"
	ErrCodeStore    = "E002"
	ErrCodeRemote   = "E003"
	ErrCodeNotFound = "E004"
	ErrCodeArgs     = "E005"
)

// ExitError carries the process exit code a command failed with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError whose cause is err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that carry no
// code exit with ExitFailure.
func GetExitCode(err error) int {
	if exitErr := (*ExitError)(nil); errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or JSON. Diagnostics go
// to ErrWriter so they never interleave with a JSON document on Writer.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command result.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error half of CLIResponse.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// TextRenderer is implemented by results with a custom text layout.
type TextRenderer interface {
	RenderText(w io.Writer)
}

// Success writes data as a result.
func (f *OutputFormatter) Success(data any) error {
	if f.isJSON() {
		return f.writeJSON(CLIResponse{Status: "ok", Data: data})
	}

	if r, ok := data.(TextRenderer); ok {
		r.RenderText(f.Writer)
		return nil
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes a failure. Text output includes details only in verbose
// mode; JSON output always carries them.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.isJSON() {
		return f.writeJSON(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog writes one diagnostic line when verbose mode is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.diag(), format+"\n", args...)
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) writeJSON(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func (f *OutputFormatter) diag() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
