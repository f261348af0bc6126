//go:build linux || darwin
// +build linux darwin

// Package priority gives the calling goroutine's OS thread a best-effort
// scheduling boost, the way the original mixer worker requested the
// OBOS-specific "URGENT" thread priority before entering its per-frame
// loop (src/mixer.c).
package priority

import "golang.org/x/sys/unix"

// BumpCurrentThread raises the calling OS thread's scheduling priority.
// It must be called from the goroutine that is to be boosted, locked to
// its OS thread via runtime.LockOSThread, since priority is a per-thread
// attribute on Unix. Failures are non-fatal; callers should log and
// continue, since a mixer worker runs correctly, just less promptly,
// without the boost.
func BumpCurrentThread() error {
	return unix.Setpriority(unix.PRIO_PROCESS, 0, -10)
}
