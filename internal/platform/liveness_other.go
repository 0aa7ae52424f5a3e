//go:build !unix

package platform

import "github.com/shirou/gopsutil/v4/process"

// processLiveness asks gopsutil whether a pid exists.
type processLiveness struct{}

// Alive implements monitor.LivenessChecker.
func (processLiveness) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}
