package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Lookup found nothing, or check found inconsistencies
	ExitCommandError = 2 // Invalid arguments, missing environment, storage errors
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, ExitCommandError for
// errors that don't carry one.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Print writes data as indented JSON in json format, and calls text otherwise.
func (f *OutputFormatter) Print(data any, text func(w io.Writer) error) error {
	if f.Format == "json" {
		raw, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode output", err)
		}
		raw = append(raw, '\n')
		_, err = f.Writer.Write(raw)
		return err
	}
	return text(f.Writer)
}

// textValue renders a decoded record on one line.
func textValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
