package platform

import (
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

func pids(procs []ProcessInfo) []int {
	out := make([]int, len(procs))
	for i, p := range procs {
		out[i] = p.PID
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSelectTree(t *testing.T) {
	now := time.Now()
	table := []ProcessInfo{
		{PID: 1, PPID: 0, Name: "init"},
		{PID: 200, PPID: 1, Name: "app", CreateTime: now},
		{PID: 100, PPID: 1, Name: "app", CreateTime: now.Add(-time.Hour)},
		{PID: 130, PPID: 100, Name: "app"},
		{PID: 110, PPID: 100, Name: "app"},
		{PID: 150, PPID: 110, Name: "app"},
		{PID: 300, PPID: 2, Name: "other"},
	}

	tests := []struct {
		name   string
		target Target
		want   []int
	}{
		{"whole table", Target{}, []int{1, 200, 100, 130, 110, 150, 300}},
		{"by pid", Target{RootPID: 100}, []int{100, 110, 130, 150}},
		{"by name picks oldest", Target{RootName: "app"}, []int{100, 110, 130, 150}},
		{"leaf", Target{RootPID: 150}, []int{150}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectTree(table, tt.target)
			if err != nil {
				t.Fatalf("selectTree() error = %v", err)
			}
			if !equalInts(pids(got), tt.want) {
				t.Errorf("selectTree() = %v, want %v", pids(got), tt.want)
			}
		})
	}
}

func TestSelectTree_NotFound(t *testing.T) {
	table := []ProcessInfo{{PID: 1, Name: "init"}}
	for _, target := range []Target{{RootPID: 9}, {RootName: "missing"}} {
		if _, err := selectTree(table, target); !errors.Is(err, ErrRootNotFound) {
			t.Errorf("selectTree(%+v) error = %v, want ErrRootNotFound", target, err)
		}
	}
}

func TestSelectTree_ParentCycle(t *testing.T) {
	table := []ProcessInfo{
		{PID: 10, PPID: 11},
		{PID: 11, PPID: 10},
		{PID: 12, PPID: 12},
	}
	got, err := selectTree(table, Target{RootPID: 10})
	if err != nil {
		t.Fatalf("selectTree() error = %v", err)
	}
	if !equalInts(pids(got), []int{10, 11}) {
		t.Errorf("selectTree() = %v, want [10 11]", pids(got))
	}
}

func TestOlder(t *testing.T) {
	now := time.Now()
	a := &ProcessInfo{PID: 5, CreateTime: now}
	b := &ProcessInfo{PID: 3}
	if !older(a, b) {
		t.Error("known start time should sort before unknown")
	}
	c := &ProcessInfo{PID: 9, CreateTime: now}
	if !older(a, c) || older(c, a) {
		t.Error("equal start times should fall back to pid")
	}
}

func TestClassifyKind(t *testing.T) {
	tests := []struct {
		cmdline []string
		root    bool
		want    monitor.ProcessKind
	}{
		{[]string{"/app", "--type=renderer"}, false, monitor.KindTab},
		{[]string{"/app", "--type=gpu-process"}, false, monitor.KindGPU},
		{[]string{"/app", "--type=utility", "--utility-sub-type=network.mojom.NetworkService"}, false, monitor.KindUtility},
		{[]string{"/app", "--type=zygote"}, false, monitor.KindZygote},
		{[]string{"/app", "--type=broker"}, false, monitor.ProcessKind("broker")},
		{[]string{"/app"}, true, monitor.KindBrowser},
		{[]string{"/app"}, false, monitor.KindUnknown},
		{nil, false, monitor.KindUnknown},
	}
	for _, tt := range tests {
		if got := classifyKind(tt.cmdline, tt.root); got != tt.want {
			t.Errorf("classifyKind(%v, %v) = %q, want %q", tt.cmdline, tt.root, got, tt.want)
		}
	}
}

func TestSandboxState(t *testing.T) {
	tests := []struct {
		name    string
		cmdline []string
		kind    monitor.ProcessKind
		want    *bool
	}{
		{"unknown kind", nil, monitor.KindUnknown, nil},
		{"browser", []string{"/app"}, monitor.KindBrowser, boolPtr(false)},
		{"sandboxed renderer", []string{"/app", "--type=renderer"}, monitor.KindTab, boolPtr(true)},
		{"no-sandbox", []string{"/app", "--type=renderer", "--no-sandbox"}, monitor.KindTab, boolPtr(false)},
		{"unsandboxed service", []string{"/app", "--type=utility", "--service-sandbox-type=none"}, monitor.KindUtility, boolPtr(false)},
		{"network service", []string{"/app", "--type=utility", "--service-sandbox-type=network"}, monitor.KindUtility, boolPtr(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sandboxState(tt.cmdline, tt.kind)
			switch {
			case got == nil && tt.want == nil:
			case got == nil || tt.want == nil:
				t.Errorf("sandboxState() = %v, want %v", got, tt.want)
			case *got != *tt.want:
				t.Errorf("sandboxState() = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestToAppMetrics(t *testing.T) {
	created := time.Unix(1700000000, 0)
	tree := []ProcessInfo{
		{PID: 100, CPUTime: 2 * time.Second, RSS: 1 << 20, Private: 1 << 19, CreateTime: created},
		{PID: 101, Cmdline: []string{"/app", "--type=renderer"}, RSS: 2 << 20},
	}

	rooted := toAppMetrics(tree, true)
	if len(rooted) != 2 {
		t.Fatalf("got %d metrics, want 2", len(rooted))
	}
	root := rooted[0]
	if root.Kind != monitor.KindBrowser {
		t.Errorf("root kind = %q, want Browser", root.Kind)
	}
	if root.CumulativeCPU != 2*time.Second || root.WorkingSetBytes != 1<<20 || root.PrivateBytes != 1<<19 {
		t.Errorf("root metric = %+v", root)
	}
	if !root.CreationTime.Equal(created) {
		t.Errorf("CreationTime = %v, want %v", root.CreationTime, created)
	}
	if rooted[1].Kind != monitor.KindTab || rooted[1].Sandboxed == nil || !*rooted[1].Sandboxed {
		t.Errorf("renderer metric = %+v", rooted[1])
	}

	flat := toAppMetrics(tree, false)
	if flat[0].Kind != monitor.KindUnknown {
		t.Errorf("unrooted first kind = %q, want Unknown", flat[0].Kind)
	}
	if flat[0].Sandboxed != nil {
		t.Error("unknown kind should have no sandbox state")
	}
}

func TestToSystemProcesses(t *testing.T) {
	got := toSystemProcesses([]ProcessInfo{
		{PID: 1, PPID: 0, Name: "init"},
		{PID: 2, PPID: 1, Name: "sh"},
	})
	if len(got) != 2 {
		t.Fatalf("got %d processes, want 2", len(got))
	}
	if got[0].ParentPID != nil {
		t.Errorf("init parent = %v, want nil", *got[0].ParentPID)
	}
	if got[1].ParentPID == nil || *got[1].ParentPID != 1 || got[1].Name != "sh" {
		t.Errorf("sh = %+v", got[1])
	}
}
