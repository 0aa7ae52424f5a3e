package platform

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// ErrRootNotFound is returned when the target's root process is not running.
var ErrRootNotFound = errors.New("root process not found")

// selectTree returns the target's root followed by its descendants in
// breadth-first order, children by ascending pid. A zero target returns
// procs unchanged.
func selectTree(procs []ProcessInfo, target Target) ([]ProcessInfo, error) {
	if target.IsZero() {
		return procs, nil
	}

	root := -1
	for i := range procs {
		p := &procs[i]
		if target.RootPID > 0 {
			if p.PID == target.RootPID {
				root = i
				break
			}
			continue
		}
		if p.Name != target.RootName {
			continue
		}
		if root < 0 || older(p, &procs[root]) {
			root = i
		}
	}
	if root < 0 {
		if target.RootPID > 0 {
			return nil, fmt.Errorf("%w: pid %d", ErrRootNotFound, target.RootPID)
		}
		return nil, fmt.Errorf("%w: name %q", ErrRootNotFound, target.RootName)
	}

	children := make(map[int][]int, len(procs))
	for i, p := range procs {
		if p.PPID != p.PID {
			children[p.PPID] = append(children[p.PPID], i)
		}
	}
	for _, idx := range children {
		slices.SortFunc(idx, func(a, b int) int { return procs[a].PID - procs[b].PID })
	}

	out := []ProcessInfo{procs[root]}
	seen := map[int]bool{procs[root].PID: true}
	for next := 0; next < len(out); next++ {
		for _, i := range children[out[next].PID] {
			if seen[procs[i].PID] {
				continue
			}
			seen[procs[i].PID] = true
			out = append(out, procs[i])
		}
	}
	return out, nil
}

// older reports whether a started before b. Unknown start times sort
// last; ties go to the lower pid.
func older(a, b *ProcessInfo) bool {
	switch {
	case a.CreateTime.IsZero() != b.CreateTime.IsZero():
		return !a.CreateTime.IsZero()
	case !a.CreateTime.Equal(b.CreateTime):
		return a.CreateTime.Before(b.CreateTime)
	default:
		return a.PID < b.PID
	}
}

// chromiumTypes maps Chromium --type values to process kinds.
var chromiumTypes = map[string]monitor.ProcessKind{
	"renderer":    monitor.KindTab,
	"gpu-process": monitor.KindGPU,
	"utility":     monitor.KindUtility,
	"zygote":      monitor.KindZygote,
}

// classifyKind derives a process kind from its command line.
func classifyKind(cmdline []string, isRoot bool) monitor.ProcessKind {
	if t, ok := flagValue(cmdline, "--type"); ok {
		if kind, known := chromiumTypes[t]; known {
			return kind
		}
		if t != "" {
			return monitor.ProcessKind(t)
		}
	}
	if isRoot {
		return monitor.KindBrowser
	}
	return monitor.KindUnknown
}

// sandboxState reports whether a Chromium helper runs sandboxed. It is nil
// for kinds the heuristic knows nothing about.
func sandboxState(cmdline []string, kind monitor.ProcessKind) *bool {
	var sandboxed bool
	switch kind {
	case monitor.KindUnknown:
		return nil
	case monitor.KindBrowser:
		sandboxed = false
	default:
		sandboxed = !slices.Contains(cmdline, "--no-sandbox")
		if v, ok := flagValue(cmdline, "--service-sandbox-type"); ok && v == "none" {
			sandboxed = false
		}
	}
	return &sandboxed
}

// flagValue finds --name=value in args.
func flagValue(args []string, name string) (string, bool) {
	prefix := name + "="
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, prefix); ok {
			return v, true
		}
	}
	return "", false
}

// toAppMetrics converts a selected process tree into application metrics.
// When rooted is set the first entry is the application's main process.
func toAppMetrics(procs []ProcessInfo, rooted bool) []monitor.RawAppMetric {
	out := make([]monitor.RawAppMetric, 0, len(procs))
	for i, p := range procs {
		kind := classifyKind(p.Cmdline, rooted && i == 0)
		out = append(out, monitor.RawAppMetric{
			PID:             p.PID,
			Kind:            kind,
			CumulativeCPU:   p.CPUTime,
			WorkingSetBytes: p.RSS,
			PrivateBytes:    p.Private,
			Sandboxed:       sandboxState(p.Cmdline, kind),
			CreationTime:    p.CreateTime,
		})
	}
	return out
}

// toSystemProcesses converts process table entries. A zero parent pid
// means no parent.
func toSystemProcesses(procs []ProcessInfo) []monitor.RawSystemProcess {
	out := make([]monitor.RawSystemProcess, 0, len(procs))
	for _, p := range procs {
		sp := monitor.RawSystemProcess{PID: p.PID, Name: p.Name}
		if p.PPID > 0 {
			ppid := p.PPID
			sp.ParentPID = &ppid
		}
		out = append(out, sp)
	}
	return out
}
