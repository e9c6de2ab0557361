package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireCreatesWithSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runlock.lock")

	l, err := Acquire(path, 1000, false)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Close()

	if !l.Created() {
		t.Error("expected Created() on first acquire")
	}
	if !l.Locked() {
		t.Error("expected exclusive lock to be held")
	}

	mtime, err := l.ModTime()
	if err != nil {
		t.Fatalf("ModTime failed: %v", err)
	}
	if mtime != 1000 {
		t.Errorf("expected mtime 1000, got %d", mtime)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %o", info.Mode().Perm())
	}
	if info.Size() != 0 {
		t.Errorf("expected empty lock file, got %d bytes", info.Size())
	}
}

func TestAcquireExistingPreservesModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runlock.lock")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatal(err)
	}
	ts := time.Unix(2000, 0)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(path, 1000, false)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Close()

	if l.Created() {
		t.Error("existing file reported as created")
	}
	mtime, err := l.ModTime()
	if err != nil {
		t.Fatalf("ModTime failed: %v", err)
	}
	if mtime != 2000 {
		t.Errorf("expected existing mtime 2000 to be kept, got %d", mtime)
	}
}

func TestAcquireBusyFailsFast(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runlock.lock")

	holder, err := Acquire(path, 1, false)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer holder.Close()

	start := time.Now()
	_, err = Acquire(path, 1, false)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("busy lock should fail immediately")
	}

	holder.Close()
	again, err := Acquire(path, 1, false)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	again.Close()
}

func TestDryRunDoesNotLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runlock.lock")

	holder, err := Acquire(path, 1, false)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer holder.Close()

	dry, err := Acquire(path, 1, true)
	if err != nil {
		t.Fatalf("dry-run Acquire should ignore the held lock: %v", err)
	}
	defer dry.Close()

	if dry.Locked() {
		t.Error("dry-run must not take the exclusive lock")
	}
}

func TestResetAdvancesModTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runlock.lock")

	l, err := Acquire(path, 1000, false)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer l.Close()

	before := time.Now().Unix()
	if err := l.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	mtime, err := l.ModTime()
	if err != nil {
		t.Fatalf("ModTime failed: %v", err)
	}
	if mtime <= 1000 {
		t.Errorf("expected mtime newer than seed, got %d", mtime)
	}
	if mtime < before-1 {
		t.Errorf("expected mtime close to now (%d), got %d", before, mtime)
	}
}

func TestOpenMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "runlock.lock")

	if _, err := Acquire(path, 1, false); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}

func TestOpenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	l, err := Open("", 5)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer l.Close()

	if l.Path() != DefaultPath {
		t.Errorf("expected default path %q, got %q", DefaultPath, l.Path())
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultPath)); err != nil {
		t.Errorf("default lock file not created: %v", err)
	}
}
