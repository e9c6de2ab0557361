package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/psantana5/runlock/internal/relay"
)

func TestResolveTimeout(t *testing.T) {
	now := time.Unix(10_000, 0)

	tests := []struct {
		explicit  int32
		threshold int64
		expected  time.Duration
		desc      string
	}{
		{30, 0, 30 * time.Second, "explicit wins"},
		{30, 9_999, 30 * time.Second, "explicit ignores threshold"},
		{-5, 0, 0, "negative explicit disables"},
		{0, 9_000, 1000 * time.Second, "implicit from staleness"},
		{0, 10_000, 0, "implicit zero disables"},
		{0, 12_000, 0, "threshold in the future disables"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got := ResolveTimeout(tt.explicit, tt.threshold, now)
			if got != tt.expected {
				t.Errorf("ResolveTimeout(%d, %d) = %v, expected %v", tt.explicit, tt.threshold, got, tt.expected)
			}
		})
	}
}

func run(t *testing.T, r Relay, timeout time.Duration, script string) *Session {
	t.Helper()
	sess, err := New(r, nil).Run(context.Background(), Spec{
		Command: "/bin/sh",
		Args:    []string{"-c", script},
		Timeout: timeout,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return sess
}

func TestExitStatusPassthrough(t *testing.T) {
	r := relay.New(unix.SIGTERM, nil)
	defer r.Disarm()

	sess := run(t, r, 0, "exit 7")
	if !sess.Status.Exited() || sess.Status.ExitStatus() != 7 {
		t.Errorf("expected exit 7, got status %v", sess.Status)
	}
	if sess.PGID != sess.PID {
		t.Errorf("expected pgid == pid, got %d != %d", sess.PGID, sess.PID)
	}
	if sess.Timing.Duration() <= 0 {
		t.Error("expected positive duration")
	}
}

func TestSignalDeath(t *testing.T) {
	r := relay.New(unix.SIGTERM, nil)
	defer r.Disarm()

	sess := run(t, r, 0, "kill -TERM $$")
	if !sess.Status.Signaled() || sess.Status.Signal() != unix.SIGTERM {
		t.Errorf("expected death by SIGTERM, got status %v", sess.Status)
	}
}

func TestStartFailure(t *testing.T) {
	r := relay.New(unix.SIGTERM, nil)
	defer r.Disarm()

	_, err := New(r, nil).Run(context.Background(), Spec{Command: "/nonexistent/runlock-test-binary"})
	if !errors.Is(err, ErrStart) {
		t.Fatalf("expected ErrStart, got %v", err)
	}
	if r.Armed() {
		t.Error("relay must stay unarmed when the command never started")
	}
}

func TestTimeoutSendsConfiguredSignal(t *testing.T) {
	r := relay.New(unix.SIGKILL, nil)
	defer r.Disarm()

	start := time.Now()
	sess := run(t, r, 200*time.Millisecond, "sleep 5")

	if !sess.TimedOut {
		t.Error("expected TimedOut")
	}
	if !sess.Status.Signaled() || sess.Status.Signal() != unix.SIGKILL {
		t.Errorf("expected death by SIGKILL, got status %v", sess.Status)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("timeout did not stop the command")
	}
}

func TestTimeoutRemapIsTrappable(t *testing.T) {
	r := relay.New(unix.SIGUSR1, nil)
	defer r.Disarm()

	sess := run(t, r, 300*time.Millisecond, `trap "exit 42" USR1; sleep 5 & wait`)
	if !sess.Status.Exited() || sess.Status.ExitStatus() != 42 {
		t.Errorf("expected trap exit 42, got status %v", sess.Status)
	}
}

func TestForwardsSignalsToGroup(t *testing.T) {
	r := relay.New(unix.SIGTERM, nil)
	defer r.Disarm()

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for !r.Armed() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(300 * time.Millisecond)
		_ = unix.Kill(os.Getpid(), unix.SIGHUP)
	}()

	sess := run(t, r, 0, `trap "exit 43" HUP; sleep 5 & wait`)
	if !sess.Status.Exited() || sess.Status.ExitStatus() != 43 {
		t.Errorf("expected child to trap forwarded SIGHUP, got status %v", sess.Status)
	}
}

func TestContextCancelStopsCommand(t *testing.T) {
	r := relay.New(unix.SIGTERM, nil)
	defer r.Disarm()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	sess, err := New(r, nil).Run(ctx, Spec{Command: "sleep", Args: []string{"5"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !sess.Status.Signaled() || sess.Status.Signal() != unix.SIGTERM {
		t.Errorf("expected SIGTERM after cancel, got status %v", sess.Status)
	}
	if sess.TimedOut {
		t.Error("cancellation is not a timeout")
	}
}

type brokenRelay struct {
	ch  chan os.Signal
	pid int
}

func (b *brokenRelay) Arm(pid int) error {
	b.pid = pid
	return fmt.Errorf("no signals today")
}
func (b *brokenRelay) Signals() <-chan os.Signal  { return b.ch }
func (b *brokenRelay) Forward(os.Signal) error    { return nil }
func (b *brokenRelay) TimeoutSignal() unix.Signal { return unix.SIGKILL }

func TestRelayFailureKillsChild(t *testing.T) {
	b := &brokenRelay{ch: make(chan os.Signal)}

	sess, err := New(b, nil).Run(context.Background(), Spec{Command: "sleep", Args: []string{"5"}})
	if !errors.Is(err, ErrRelay) {
		t.Fatalf("expected ErrRelay, got %v", err)
	}
	if sess == nil || sess.PID != b.pid {
		t.Fatalf("expected session for pid %d, got %+v", b.pid, sess)
	}

	var status unix.WaitStatus
	if _, err := unix.Wait4(sess.PID, &status, 0, nil); err != nil {
		t.Fatalf("wait4: %v", err)
	}
	if !status.Signaled() || status.Signal() != unix.SIGKILL {
		t.Errorf("expected fallback SIGKILL, got status %v", status)
	}
}

type pgidRelay struct {
	*relay.Relay
	pgid int
	err  error
}

func (p *pgidRelay) Arm(pid int) error {
	p.pgid, p.err = unix.Getpgid(pid)
	return p.Relay.Arm(pid)
}

func TestChildLeadsOwnGroup(t *testing.T) {
	p := &pgidRelay{Relay: relay.New(unix.SIGTERM, nil)}
	defer p.Disarm()

	sess := run(t, p, 0, "exit 0")
	if p.err != nil {
		t.Fatalf("getpgid: %v", p.err)
	}
	if p.pgid != sess.PID {
		t.Errorf("expected child pgid %d, got %d", sess.PID, p.pgid)
	}
	if p.pgid == unix.Getpgrp() {
		t.Error("child shares the supervisor's process group")
	}
}
