package wrapper

// Lock, decide, run, finalize. In that order, once.
// Every failure of our own is exit 111; nothing is retried.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/psantana5/runlock/internal/exitcode"
	"github.com/psantana5/runlock/internal/lockfile"
	"github.com/psantana5/runlock/internal/logging"
	"github.com/psantana5/runlock/internal/relay"
	"github.com/psantana5/runlock/internal/report"
	"github.com/psantana5/runlock/internal/staleness"
	"github.com/psantana5/runlock/internal/supervisor"
)

// Request is one fully parsed invocation.
type Request struct {
	LockPath string
	// Threshold is the caller's "due since" time; 0 means unset.
	Threshold uint32
	// Timeout in seconds; 0 derives it from the threshold, negative disables it.
	Timeout       int32
	TimeoutSignal unix.Signal
	DryRun        bool
	Print         bool

	Command string
	Args    []string

	// MetricsFile, if set, receives a Prometheus textfile after the run.
	MetricsFile string
}

// Runner executes requests.
type Runner struct {
	logger *logging.Logger
	stdout io.Writer
	now    func() time.Time
}

// NewRunner creates a runner. stdout receives the --print delta.
func NewRunner(logger *logging.Logger, stdout io.Writer) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	return &Runner{logger: logger, stdout: stdout, now: time.Now}
}

// Run performs the whole lock/decide/supervise/finalize sequence and
// returns the process exit code.
func (w *Runner) Run(ctx context.Context, req Request) int {
	if req.LockPath == "" {
		req.LockPath = lockfile.DefaultPath
	}
	log := w.logger.WithField("lock", req.LockPath).WithField("run", uuid.NewString())
	threshold := int64(req.Threshold)

	lock, err := lockfile.Acquire(req.LockPath, threshold, req.DryRun)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			log.Debug("another instance holds the lock")
		} else {
			log.Error(err.Error())
		}
		return exitcode.Internal
	}
	defer lock.Close()

	mtime, err := lock.ModTime()
	if err != nil {
		log.Error(err.Error())
		return exitcode.Internal
	}

	log.Debug("checking staleness", map[string]interface{}{
		"timestamp": threshold,
		"file":      mtime,
		"created":   lock.Created(),
		"locked":    lock.Locked(),
	})

	if req.Print {
		fmt.Fprintf(w.stdout, "%d\n", staleness.Delta(threshold, mtime))
	}

	action := staleness.Decide(threshold, mtime, req.DryRun)
	switch action {
	case staleness.SkipFresh:
		log.Debug("run not due", map[string]interface{}{"delta": staleness.Delta(threshold, mtime)})
		w.finish(log, req, report.NewResult(req.LockPath, action.String(), exitcode.Skipped, mtime))
		return exitcode.Skipped
	case staleness.DryRunExit:
		w.finish(log, req, report.NewResult(req.LockPath, action.String(), exitcode.OK, mtime))
		return exitcode.OK
	}

	r := relay.New(req.TimeoutSignal, log)
	defer r.Disarm()

	spec := supervisor.Spec{
		Command: req.Command,
		Args:    req.Args,
		Timeout: supervisor.ResolveTimeout(req.Timeout, threshold, w.now()),
	}
	sess, err := supervisor.New(r, log).Run(ctx, spec)
	if err != nil {
		log.Error(err.Error())
		result := report.NewResult(req.LockPath, action.String(), exitcode.Internal, mtime)
		if sess != nil {
			sess.Timing.Complete()
			result.SetRun(sess.PID, sess.Timing.StartedAt, sess.Timing.CompletedAt, sess.Timeout, sess.TimedOut)
		}
		w.finish(log, req, result)
		return exitcode.Internal
	}

	code := exitcode.FromStatus(sess.Status)
	log.Trace("command finished", map[string]interface{}{
		"status":     int(sess.Status),
		"exit_value": code,
		"utime":      time.Duration(sess.Rusage.Utime.Nano()).String(),
		"stime":      time.Duration(sess.Rusage.Stime.Nano()).String(),
		"maxrss_kb":  sess.Rusage.Maxrss,
	})

	code, err = exitcode.Finalize(code, lock)
	if err != nil {
		log.Error(err.Error())
	} else if code == exitcode.OK {
		if m, err := lock.ModTime(); err == nil {
			mtime = m
		}
	}

	result := report.NewResult(req.LockPath, action.String(), code, mtime)
	result.SetRun(sess.PID, sess.Timing.StartedAt, sess.Timing.CompletedAt, sess.Timeout, sess.TimedOut)
	w.finish(log, req, result)
	return code
}

func (w *Runner) finish(log *logging.Logger, req Request, result *report.Result) {
	result.LogSummary(log)

	if req.MetricsFile == "" {
		return
	}
	m := report.NewMetrics(req.LockPath)
	m.Record(result)
	if err := m.WriteTextfile(req.MetricsFile); err != nil {
		log.Warn(err.Error())
	}
}
