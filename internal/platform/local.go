package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// localPlatform reads the local process table through gopsutil.
type localPlatform struct {
	target Target
	logger monitor.Logger
}

func newLocalPlatform(target Target, logger monitor.Logger) *localPlatform {
	if logger == nil {
		logger = monitor.NopLogger()
	}
	return &localPlatform{target: target, logger: logger}
}

func (p *localPlatform) Name() string { return "local" }

func (p *localPlatform) Initialize(ctx context.Context) error {
	if p.target.RootPID <= 0 {
		return nil
	}
	exists, err := process.PidExistsWithContext(ctx, int32(p.target.RootPID))
	if err != nil {
		return fmt.Errorf("checking root pid %d: %w", p.target.RootPID, err)
	}
	if !exists {
		return fmt.Errorf("%w: pid %d", ErrRootNotFound, p.target.RootPID)
	}
	return nil
}

func (p *localPlatform) Close() error { return nil }

func (p *localPlatform) AppMetrics() monitor.AppMetricsSource {
	return &localApps{target: p.target, logger: p.logger}
}

func (p *localPlatform) Processes() monitor.SystemProcessSource {
	return localSystem{}
}

func (p *localPlatform) Liveness() monitor.LivenessChecker {
	return processLiveness{}
}

func (p *localPlatform) Diagnostics() monitor.DiagnosticsOpener {
	return &inspector{inspect: inspectLocal, logger: p.logger}
}

// listProcesses reads pid, parent pid and name of every process. Start
// times are read only for processes named wantName.
func listProcesses(ctx context.Context, wantName string) ([]ProcessInfo, map[int]*process.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing processes: %w", err)
	}

	infos := make([]ProcessInfo, 0, len(procs))
	handles := make(map[int]*process.Process, len(procs))
	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ppid, err := proc.PpidWithContext(ctx)
		if err != nil {
			// exited between listing and reading
			continue
		}
		name, _ := proc.NameWithContext(ctx)
		info := ProcessInfo{PID: int(proc.Pid), PPID: int(ppid), Name: name}
		if wantName != "" && name == wantName {
			if ms, err := proc.CreateTimeWithContext(ctx); err == nil {
				info.CreateTime = time.UnixMilli(ms)
			}
		}
		infos = append(infos, info)
		handles[info.PID] = proc
	}
	return infos, handles, nil
}

// localSystem is the local OS process table.
type localSystem struct{}

// Processes implements monitor.SystemProcessSource.
func (localSystem) Processes(ctx context.Context) ([]monitor.RawSystemProcess, error) {
	infos, _, err := listProcesses(ctx, "")
	if err != nil {
		return nil, err
	}
	return toSystemProcesses(infos), nil
}

// localApps reports the target application's processes.
type localApps struct {
	target Target
	logger monitor.Logger
}

// AppMetrics implements monitor.AppMetricsSource.
func (a *localApps) AppMetrics(ctx context.Context) ([]monitor.RawAppMetric, error) {
	infos, handles, err := listProcesses(ctx, a.target.RootName)
	if err != nil {
		return nil, err
	}
	tree, err := selectTree(infos, a.target)
	if err != nil {
		return nil, err
	}

	out := tree[:0]
	for _, info := range tree {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readDetails(ctx, handles[info.PID], &info); err != nil {
			a.logger.Debug("process vanished during sampling", "pid", info.PID, "error", err)
			continue
		}
		out = append(out, info)
	}
	return toAppMetrics(out, !a.target.IsZero()), nil
}

// readDetails fills the resource usage of one process. Only failures of
// the cpu and memory reads are reported; the rest is best effort.
func readDetails(ctx context.Context, proc *process.Process, info *ProcessInfo) error {
	times, err := proc.TimesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("cpu times: %w", err)
	}
	info.CPUTime = time.Duration((times.User + times.System) * float64(time.Second))

	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("memory info: %w", err)
	}
	info.RSS = mem.RSS
	info.Private = privateBytes(ctx, proc)

	if info.CreateTime.IsZero() {
		if ms, err := proc.CreateTimeWithContext(ctx); err == nil {
			info.CreateTime = time.UnixMilli(ms)
		}
	}
	if cmd, err := proc.CmdlineSliceWithContext(ctx); err == nil {
		info.Cmdline = cmd
	}
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		info.Threads = int(n)
	}
	return nil
}

// inspectLocal gathers an Inspection with gopsutil.
func inspectLocal(ctx context.Context, pid int) (*Inspection, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("opening pid %d: %w", pid, err)
	}
	in := &Inspection{PID: pid}
	in.Name, _ = proc.NameWithContext(ctx)
	in.Exe, _ = proc.ExeWithContext(ctx)
	in.Cmdline, _ = proc.CmdlineSliceWithContext(ctx)
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		in.Threads = int(n)
	}
	if files, err := proc.OpenFilesWithContext(ctx); err == nil {
		in.OpenFiles = len(files)
	}
	if st, err := proc.StatusWithContext(ctx); err == nil {
		in.State = strings.Join(st, ",")
	}
	return in, nil
}
