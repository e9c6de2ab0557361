package exitcode

// Calling scripts branch on these numbers. Do not renumber.

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// OK is a clean run. It is the only code that resets the lock.
	OK = 0
	// Usage is returned for bad flags or configuration.
	Usage = 1
	// Internal covers every failure of the supervisor itself.
	Internal = 111
	// Skipped means the run is not due yet.
	Skipped = 121
	// SignalBase is added to the number of the signal that killed the child.
	SignalBase = 128
)

// FromStatus maps a wait status to a process exit code.
func FromStatus(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return SignalBase + int(ws.Signal())
	default:
		return Internal
	}
}

// Resetter marks a run as successful.
type Resetter interface {
	Reset() error
}

// Finalize resets the lock when code is OK. A failed reset turns the run
// into an internal failure. Other codes leave the lock alone so the run
// stays due.
func Finalize(code int, lock Resetter) (int, error) {
	if code != OK {
		return code, nil
	}
	if err := lock.Reset(); err != nil {
		return Internal, err
	}
	return OK, nil
}

// Error carries a process exit code out of a command.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
