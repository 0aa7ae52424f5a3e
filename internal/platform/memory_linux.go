//go:build linux

package platform

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

// privateBytes returns resident memory not shared with other processes,
// the closest procfs equivalent of a private working set.
func privateBytes(ctx context.Context, proc *process.Process) uint64 {
	ex, err := proc.MemoryInfoExWithContext(ctx)
	if err != nil || ex.Shared > ex.RSS {
		return 0
	}
	return ex.RSS - ex.Shared
}
