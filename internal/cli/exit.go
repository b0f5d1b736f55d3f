package cli

import (
	"errors"

	"github.com/randalmurphal/dbrecovery/pkg/dbrecovery"
)

// Process exit codes.
const (
	exitOK            = 0
	exitError         = 1
	exitDiskSpace     = 2
	exitUnrecoverable = 3
)

type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	return &exitCodeError{code: code, err: err}
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var codeErr *exitCodeError
	if errors.As(err, &codeErr) {
		return codeErr.code
	}
	switch {
	case errors.Is(err, dbrecovery.ErrRanOutOfDiskSpace):
		return exitDiskSpace
	case errors.Is(err, dbrecovery.ErrUnrecoverablyCorrupted):
		return exitUnrecoverable
	default:
		return exitError
	}
}
