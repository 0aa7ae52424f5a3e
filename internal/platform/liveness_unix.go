//go:build unix

package platform

import (
	"errors"

	"golang.org/x/sys/unix"
)

// processLiveness probes pids with signal 0.
type processLiveness struct{}

// Alive implements monitor.LivenessChecker. A process owned by another
// user answers EPERM, which still means it exists.
func (processLiveness) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
