//go:build linux

package relay

import "syscall"

// numSig is one past the highest signal number (NSIG).
const numSig = 65

// reserved signals are used internally by the C threading library
// (SIGCANCEL, SIGSETXID) and cannot be caught.
var reserved = map[syscall.Signal]bool{
	32: true,
	33: true,
}
