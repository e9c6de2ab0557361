//go:build unix && !linux

package relay

import "syscall"

// numSig is one past the highest signal number (NSIG).
const numSig = 32

var reserved = map[syscall.Signal]bool{}
