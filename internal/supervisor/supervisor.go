package supervisor

// The child runs in its own process group.
// We only ever reap our own child, and we never give up on the wait.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/psantana5/runlock/internal/logging"
	"github.com/psantana5/runlock/internal/observe"
)

var (
	// ErrStart covers fork and exec failures.
	ErrStart = errors.New("start command")
	// ErrRelay is returned when signal forwarding could not be set up.
	ErrRelay = errors.New("install signal relay")
	// ErrWait is returned when the child could not be waited for.
	ErrWait = errors.New("wait")
)

// Relay forwards signals received while the child runs.
type Relay interface {
	Arm(pid int) error
	Signals() <-chan os.Signal
	Forward(sig os.Signal) error
	TimeoutSignal() unix.Signal
}

// Spec describes the command to supervise.
type Spec struct {
	Command string
	Args    []string
	// Timeout <= 0 disables the alarm.
	Timeout time.Duration

	// nil means inherit from this process
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// Session is one supervised child, from start to reap.
type Session struct {
	PID      int
	PGID     int
	Timeout  time.Duration
	TimedOut bool
	Status   unix.WaitStatus
	Rusage   unix.Rusage
	Timing   *observe.Timing
}

// Supervisor runs a command and forwards signals to it until it exits.
type Supervisor struct {
	relay  Relay
	logger *logging.Logger
}

// New creates a supervisor using relay for signal forwarding.
func New(relay Relay, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Supervisor{relay: relay, logger: logger}
}

// ResolveTimeout picks the alarm duration. An explicit nonzero timeout wins;
// otherwise the timeout is how overdue the run already is (now - threshold).
// Zero or negative disables the alarm.
func ResolveTimeout(explicit int32, threshold int64, now time.Time) time.Duration {
	secs := int64(explicit)
	if secs == 0 {
		secs = now.Unix() - threshold
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

type waitResult struct {
	status unix.WaitStatus
	rusage unix.Rusage
	err    error
}

// Run starts the command and blocks until it terminates. Signals queued by
// the relay are forwarded from here, as is timeout expiry and context
// cancellation (both delivered as SIGALRM, which the relay remaps).
func (s *Supervisor) Run(ctx context.Context, spec Spec) (*Session, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
	cmd.Stdin = orDefault(spec.Stdin, os.Stdin)
	cmd.Stdout = orDefault(spec.Stdout, os.Stdout)
	cmd.Stderr = orDefault(spec.Stderr, os.Stderr)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStart, err)
	}

	pid := cmd.Process.Pid
	sess := &Session{
		PID:     pid,
		PGID:    pid,
		Timeout: spec.Timeout,
		Timing:  observe.Start(),
	}
	log := s.logger.WithField("pid", pid)

	if err := s.relay.Arm(pid); err != nil {
		// Not reaped here: the caller exits 111 right after, or reaps
		// sess.PID itself.
		_ = unix.Kill(-pid, s.relay.TimeoutSignal())
		return sess, fmt.Errorf("%w: %v", ErrRelay, err)
	}
	log.Debug("command started", map[string]interface{}{"command": spec.Command})

	done := make(chan waitResult, 1)
	go func() {
		var res waitResult
		res.status, res.rusage, res.err = waitfor(pid)
		done <- res
	}()

	var alarm <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		alarm = timer.C
		log.Info(fmt.Sprintf("command timeout set to %ds", int64(spec.Timeout/time.Second)))
	}

	cancelled := ctx.Done()
	for {
		select {
		case sig := <-s.relay.Signals():
			s.forward(log, sig)

		case <-alarm:
			alarm = nil
			sess.TimedOut = true
			log.Info("command timed out", map[string]interface{}{"signal": s.relay.TimeoutSignal().String()})
			s.forward(log, unix.SIGALRM)

		case <-cancelled:
			cancelled = nil
			log.Debug("context cancelled, stopping command")
			s.forward(log, unix.SIGALRM)

		case res := <-done:
			sess.Timing.Complete()
			_ = cmd.Process.Release()
			if res.err != nil {
				return sess, fmt.Errorf("%w: %v", ErrWait, res.err)
			}
			sess.Status = res.status
			sess.Rusage = res.rusage
			log.Trace("command reaped", map[string]interface{}{"status": int(res.status)})
			return sess, nil
		}
	}
}

func (s *Supervisor) forward(log *logging.Logger, sig os.Signal) {
	if err := s.relay.Forward(sig); err != nil {
		log.Warn("forward signal", map[string]interface{}{"signal": sig.String(), "err": err.Error()})
	}
}

// waitfor reaps pid, retrying when interrupted.
func waitfor(pid int) (unix.WaitStatus, unix.Rusage, error) {
	var status unix.WaitStatus
	var rusage unix.Rusage
	for {
		_, err := unix.Wait4(pid, &status, 0, &rusage)
		if err == nil {
			return status, rusage, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return status, rusage, err
	}
}

func orDefault(f, def *os.File) *os.File {
	if f != nil {
		return f
	}
	return def
}
