package shell

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by Exec, Fork, and SetVar on a closed session.
var ErrClosed = errors.New("shell: session is closed")

// TimeoutError reports that the requested timeout elapsed before the
// command's end marker was observed. It carries whatever output was
// captured up to that point; the persistent child process is left
// running.
type TimeoutError struct {
	Timeout time.Duration
	Result  *Result
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("shell: command timed out after %s", e.Timeout)
}

// Is matches context.DeadlineExceeded so callers can treat driver
// timeouts and context deadlines uniformly.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}

// ExitError reports a non-zero exit status. It is only returned when
// the caller opted into strict checking; otherwise the status is
// surfaced in the Result alone.
type ExitError struct {
	Result *Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("shell: command exited with status %d", e.Result.ExitCode)
}

// SpawnError reports that the underlying shell process could not be
// started. Fatal for the session's persistent mode; never retried.
type SpawnError struct {
	Shell string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("shell: start %s: %v", e.Shell, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitCode extracts the exit status from an execution error, or 0 for
// nil. Unrecognized errors report -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Result.ExitCode
	}
	return -1
}

// IsTimeout reports whether err is a driver timeout or a context
// deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
