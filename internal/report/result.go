package report

import (
	"fmt"
	"time"

	"github.com/psantana5/runlock/internal/logging"
)

// Result is the record of one invocation. Set once at the end, never changed.
type Result struct {
	// Identity
	Lock string `json:"lock"`
	PID  int    `json:"pid,omitempty"`

	// Decision is "proceed", "skip" or "dryrun"
	Decision string `json:"decision"`

	// Timing
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_seconds"`

	// Outcome
	ExitCode  int           `json:"exit_code"`
	Timeout   time.Duration `json:"timeout_seconds"`
	TimedOut  bool          `json:"timed_out"`
	LockMTime int64         `json:"lock_mtime"`
}

// NewResult creates a result for a run that never started a child
func NewResult(lock, decision string, exitCode int, lockMTime int64) *Result {
	now := time.Now()
	return &Result{
		Lock:      lock,
		Decision:  decision,
		ExitCode:  exitCode,
		StartTime: now,
		EndTime:   now,
		LockMTime: lockMTime,
	}
}

// SetRun records the supervised child.
func (r *Result) SetRun(pid int, start, end time.Time, timeout time.Duration, timedOut bool) {
	r.PID = pid
	r.StartTime = start
	r.EndTime = end
	r.Duration = end.Sub(start)
	r.Timeout = timeout
	r.TimedOut = timedOut
}

// LogSummary writes the one-line summary ops grep for.
func (r *Result) LogSummary(logger *logging.Logger) {
	timeout := "off"
	if r.Timeout > 0 {
		timeout = fmt.Sprintf("%.0fs", r.Timeout.Seconds())
		if r.TimedOut {
			timeout += " (fired)"
		}
	}

	logger.Info(fmt.Sprintf("RUN lock=%s | decision=%s | exit=%d | runtime=%.1fs | timeout=%s | pid=%d",
		r.Lock,
		r.Decision,
		r.ExitCode,
		r.Duration.Seconds(),
		timeout,
		r.PID,
	))
}
