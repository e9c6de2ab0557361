package relay

// Signals sent to the supervisor belong to the child.
// Forward them to the whole group. Never keep one for ourselves,
// except SIGCHLD, which tells us to reap.

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/psantana5/runlock/internal/logging"
)

// AlarmSignal is what timeout expiry is delivered as. The relay forwards it
// as the configured timeout signal instead.
const AlarmSignal = unix.SIGALRM

var (
	// ErrArmed is returned when Arm is called on an armed relay.
	ErrArmed = errors.New("relay already armed")
	// ErrNotArmed is returned when forwarding without a child.
	ErrNotArmed = errors.New("relay not armed")
)

// Relay forwards signals received by this process to a child process group.
type Relay struct {
	timeoutSignal unix.Signal
	logger        *logging.Logger

	mu    sync.Mutex
	armed bool
	pgid  int
	ch    chan os.Signal

	kill func(pid int, sig unix.Signal) error
}

// New creates an unarmed relay. timeoutSignal replaces AlarmSignal on
// forwarding.
func New(timeoutSignal unix.Signal, logger *logging.Logger) *Relay {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Relay{
		timeoutSignal: timeoutSignal,
		logger:        logger,
		ch:            make(chan os.Signal, 32),
		kill:          unix.Kill,
	}
}

// Catchable returns every signal the relay subscribes to.
func Catchable() []os.Signal {
	sigs := make([]os.Signal, 0, numSig)
	for n := 1; n < numSig; n++ {
		sig := unix.Signal(n)
		if skip(sig) {
			continue
		}
		sigs = append(sigs, sig)
	}
	return sigs
}

func skip(sig unix.Signal) bool {
	switch sig {
	case unix.SIGCHLD:
		// reaping is done by a blocking wait
		return true
	case unix.SIGKILL, unix.SIGSTOP:
		return true
	case unix.SIGURG:
		// the Go runtime preempts goroutines with SIGURG
		return true
	}
	return reserved[sig]
}

// Arm starts intercepting signals for the process group led by pid.
func (r *Relay) Arm(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("arm relay: invalid pid %d", pid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.armed {
		return ErrArmed
	}
	r.pgid = pid
	r.armed = true
	signal.Notify(r.ch, Catchable()...)

	r.logger.Trace("signal relay armed", map[string]interface{}{"pgid": pid})
	return nil
}

// Armed reports whether a child group is known.
func (r *Relay) Armed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.armed
}

// Signals is the queue of intercepted signals. It has a single consumer.
func (r *Relay) Signals() <-chan os.Signal {
	return r.ch
}

// TimeoutSignal returns the signal sent on timeout.
func (r *Relay) TimeoutSignal() unix.Signal {
	return r.timeoutSignal
}

// Translate maps an intercepted signal to the one sent to the child.
func (r *Relay) Translate(sig os.Signal) unix.Signal {
	s, ok := sig.(unix.Signal)
	if !ok {
		return r.timeoutSignal
	}
	if s == AlarmSignal {
		return r.timeoutSignal
	}
	return s
}

// Forward sends the translated signal to the child's process group.
// A group that no longer exists is not an error.
func (r *Relay) Forward(sig os.Signal) error {
	r.mu.Lock()
	armed, pgid := r.armed, r.pgid
	r.mu.Unlock()

	if !armed {
		return ErrNotArmed
	}

	out := r.Translate(sig)
	r.logger.Trace("forwarding signal", map[string]interface{}{
		"received": sig.String(),
		"sent":     out.String(),
		"pgid":     pgid,
	})

	if err := r.kill(-pgid, out); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill %d: %w", -pgid, err)
	}
	return nil
}

// Disarm stops intercepting. Signals still queued are dropped.
func (r *Relay) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.armed {
		return
	}
	signal.Stop(r.ch)
	r.armed = false
	for {
		select {
		case <-r.ch:
		default:
			return
		}
	}
}

// ParseSignal accepts a signal number (0 to NSIG-1) or a name such as
// "TERM" or "SIGTERM".
func ParseSignal(s string) (unix.Signal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty signal")
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= numSig {
			return 0, fmt.Errorf("signal %d out of range (0-%d)", n, numSig-1)
		}
		return unix.Signal(n), nil
	}

	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", s)
	}
	return sig, nil
}
