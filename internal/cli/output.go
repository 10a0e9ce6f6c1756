// internal/cli/output.go
package cli

import (
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"libracirc/internal/circulation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the service refused the operation
	ExitCommandError = 2 // bad flags, unreachable service
)

// ExitError carries the process exit code for an error.
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

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// apiError classifies a client error: rejections by the engine are
// failures, anything else means the command could not run.
func apiError(message string, err error) *ExitError {
	if circulation.ErrorForReason(circulation.Reason(err)) != nil {
		return WrapExitError(ExitFailure, message, err)
	}
	return WrapExitError(ExitCommandError, message, err)
}

var printer = message.NewPrinter(language.English)

func formatMoney(d decimal.Decimal) string {
	return printer.Sprintf("%.2f", d.InexactFloat64())
}

func formatCount(n int) string {
	return printer.Sprintf("%d", n)
}

func writeJSON(w io.Writer, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}
