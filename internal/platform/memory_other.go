//go:build !linux

package platform

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

// privateBytes is not sampled outside Linux.
func privateBytes(context.Context, *process.Process) uint64 {
	return 0
}
