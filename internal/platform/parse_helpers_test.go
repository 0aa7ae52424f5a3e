package platform

import (
	"fmt"
	"slices"
	"testing"
	"time"
)

// statLine builds a /proc/[pid]/stat line with the fields the parser reads.
func statLine(pid, ppid int, comm string, utime, stime, threads, start, rss int) string {
	return fmt.Sprintf("%d (%s) S %d 0 0 0 -1 0 0 0 0 0 %d %d 0 0 20 0 %d 0 %d 1000 %d",
		pid, comm, ppid, utime, stime, threads, start, rss)
}

func TestParseProcessStat(t *testing.T) {
	boot := time.Unix(1700000000, 0)
	params := hostParams{clockTicks: 100, pageSize: 4096, bootTime: boot}

	proc, err := parseProcessStat(statLine(4242, 1, "Web Content (x)", 250, 50, 12, 1000, 2500), params)
	if err != nil {
		t.Fatalf("parseProcessStat() error = %v", err)
	}
	if proc.PID != 4242 || proc.PPID != 1 {
		t.Errorf("pid/ppid = %d/%d, want 4242/1", proc.PID, proc.PPID)
	}
	if proc.Name != "Web Content (x)" {
		t.Errorf("Name = %q, want %q", proc.Name, "Web Content (x)")
	}
	if proc.CPUTime != 3*time.Second {
		t.Errorf("CPUTime = %v, want 3s", proc.CPUTime)
	}
	if proc.Threads != 12 {
		t.Errorf("Threads = %d, want 12", proc.Threads)
	}
	if want := boot.Add(10 * time.Second); !proc.CreateTime.Equal(want) {
		t.Errorf("CreateTime = %v, want %v", proc.CreateTime, want)
	}
	if proc.RSS != 2500*4096 {
		t.Errorf("RSS = %d, want %d", proc.RSS, 2500*4096)
	}
}

func TestParseProcessStat_NoBootTime(t *testing.T) {
	proc, err := parseProcessStat(statLine(7, 1, "sh", 0, 0, 1, 500, 10), defaultHostParams)
	if err != nil {
		t.Fatalf("parseProcessStat() error = %v", err)
	}
	if !proc.CreateTime.IsZero() {
		t.Errorf("CreateTime = %v, want zero without a boot time", proc.CreateTime)
	}
}

func TestParseProcessStat_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no parentheses", "12 bash S 1"},
		{"bad pid", "abc (bash) S 1 0 0 0 -1 0 0 0 0 0 1 1 0 0 20 0 1 0 1 1 1"},
		{"too few fields", "12 (bash) S 1 0 0"},
		{"bad ppid", "12 (bash) S x 0 0 0 -1 0 0 0 0 0 1 1 0 0 20 0 1 0 1 1 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseProcessStat(tt.content, defaultHostParams); err == nil {
				t.Errorf("parseProcessStat(%q) expected error", tt.content)
			}
		})
	}
}

func TestParseStatOutput(t *testing.T) {
	output := statLine(1, 0, "init", 1, 1, 1, 1, 1) + "\n" +
		"garbage line\n" +
		"\n" +
		statLine(2, 1, "kthreadd", 0, 0, 1, 2, 0) + "\n"

	procs, skipped := parseStatOutput(output, defaultHostParams)
	if len(procs) != 2 {
		t.Fatalf("got %d processes, want 2", len(procs))
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if procs[1].Name != "kthreadd" || procs[1].PPID != 1 {
		t.Errorf("procs[1] = %+v", procs[1])
	}
}

func TestParseHostParams(t *testing.T) {
	params, err := parseHostParams("250\n16384\nbtime 1700000000\n")
	if err != nil {
		t.Fatalf("parseHostParams() error = %v", err)
	}
	if params.clockTicks != 250 || params.pageSize != 16384 {
		t.Errorf("params = %+v", params)
	}
	if !params.bootTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("bootTime = %v", params.bootTime)
	}

	for _, bad := range []string{
		"",
		"100\n4096\n",
		"0\n4096\nbtime 1\n",
		"100\nx\nbtime 1\n",
		"100\n4096\nuptime 1\n",
	} {
		if _, err := parseHostParams(bad); err == nil {
			t.Errorf("parseHostParams(%q) expected error", bad)
		}
	}
}

func TestTicksToDuration(t *testing.T) {
	if got := ticksToDuration(150, 100); got != 1500*time.Millisecond {
		t.Errorf("ticksToDuration(150, 100) = %v, want 1.5s", got)
	}
	if got := ticksToDuration(150, 0); got != 0 {
		t.Errorf("ticksToDuration with zero rate = %v, want 0", got)
	}
}

func TestParsePsOutput(t *testing.T) {
	output := "    1     0 systemd\n  812     1 Web Content\n\n"
	procs, err := parsePsOutput(output)
	if err != nil {
		t.Fatalf("parsePsOutput() error = %v", err)
	}
	if len(procs) != 2 {
		t.Fatalf("got %d processes, want 2", len(procs))
	}
	if procs[1].PID != 812 || procs[1].PPID != 1 || procs[1].Name != "Web Content" {
		t.Errorf("procs[1] = %+v", procs[1])
	}

	if _, err := parsePsOutput("1 0\n"); err == nil {
		t.Error("short line should be rejected")
	}
	if _, err := parsePsOutput("x 0 init\n"); err == nil {
		t.Error("non-numeric pid should be rejected")
	}
}

func TestParseCmdlines(t *testing.T) {
	output := "100 /opt/app/electron --enable-logging\n" +
		"101 /opt/app/electron --type=renderer\n" +
		"102 \n" +
		"junk\n"
	got := parseCmdlines(output)

	if !slices.Equal(got[101], []string{"/opt/app/electron", "--type=renderer"}) {
		t.Errorf("cmdline[101] = %v", got[101])
	}
	if args, ok := got[102]; !ok || len(args) != 0 {
		t.Errorf("cmdline[102] = %v, %v; want empty entry", args, ok)
	}
	if len(got) != 3 {
		t.Errorf("got %d entries, want 3", len(got))
	}
}

func TestParseStatus(t *testing.T) {
	output := "/usr/bin/app --flag\n" +
		"Name:\tapp\n" +
		"State:\tS (sleeping)\n" +
		"Threads:\t9\n" +
		"Files: 42\n" +
		"Exe: /usr/bin/app\n"

	in, err := parseStatus(55, output)
	if err != nil {
		t.Fatalf("parseStatus() error = %v", err)
	}
	want := Inspection{
		PID:       55,
		Name:      "app",
		Exe:       "/usr/bin/app",
		Threads:   9,
		OpenFiles: 42,
		State:     "S (sleeping)",
	}
	if in.PID != want.PID || in.Name != want.Name || in.Exe != want.Exe ||
		in.Threads != want.Threads || in.OpenFiles != want.OpenFiles || in.State != want.State {
		t.Errorf("parseStatus() = %+v, want %+v", *in, want)
	}
	if !slices.Equal(in.Cmdline, []string{"/usr/bin/app", "--flag"}) {
		t.Errorf("Cmdline = %v", in.Cmdline)
	}

	if _, err := parseStatus(55, "\n"); err == nil {
		t.Error("empty output should be rejected")
	}
}
