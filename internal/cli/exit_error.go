package cli

import (
	"errors"
	"fmt"

	"github.com/contriboss/python-extension-go"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitBuildFailed = 1 // a required target failed
	ExitUsage       = 2 // invalid declaration, configuration or command line
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

// classify picks the exit code for an error returned by the library.
func classify(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	switch kind := pyext.KindOf(err); {
	case kind.IsDeclaration(), kind == pyext.KindUnsupportedPlatform:
		return usageError(err)
	default:
		return &ExitError{Code: ExitBuildFailed, Err: err}
	}
}

// exitCode maps an error returned by command execution to a process exit code.
// Errors that are not *ExitError come from cobra's argument handling.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}
