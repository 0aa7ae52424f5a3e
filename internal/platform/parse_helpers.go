package platform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field offsets in /proc/[pid]/stat counted from the first field after the
// closing parenthesis of comm.
const (
	statFieldState      = 0
	statFieldPPID       = 1
	statFieldUtime      = 11
	statFieldStime      = 12
	statFieldNumThreads = 17
	statFieldStarttime  = 19
	statFieldRss        = 21
	statMinFields       = 22
)

// hostParams are the per-host constants needed to interpret procfs.
type hostParams struct {
	clockTicks uint64
	pageSize   uint64
	bootTime   time.Time
}

// defaultHostParams matches virtually every Linux host.
var defaultHostParams = hostParams{clockTicks: 100, pageSize: 4096}

// parseHostParams parses the output of
// "getconf CLK_TCK; getconf PAGESIZE; grep btime /proc/stat".
func parseHostParams(output string) (hostParams, error) {
	params := defaultHostParams
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 3 {
		return params, fmt.Errorf("unexpected host parameter output: %q", output)
	}

	ticks, err := strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil || ticks == 0 {
		return params, fmt.Errorf("parsing CLK_TCK %q: %v", lines[0], err)
	}
	params.clockTicks = ticks

	page, err := strconv.ParseUint(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil || page == 0 {
		return params, fmt.Errorf("parsing PAGESIZE %q: %v", lines[1], err)
	}
	params.pageSize = page

	fields := strings.Fields(lines[2])
	if len(fields) != 2 || fields[0] != "btime" {
		return params, fmt.Errorf("unexpected btime line: %q", lines[2])
	}
	boot, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return params, fmt.Errorf("parsing btime: %w", err)
	}
	params.bootTime = time.Unix(boot, 0)
	return params, nil
}

// parseProcessStat parses one /proc/[pid]/stat line.
// The format is: pid (comm) state ppid pgrp session tty_nr tpgid flags
// minflt cminflt majflt cmajflt utime stime cutime cstime priority nice
// num_threads itrealvalue starttime vsize rss ...
func parseProcessStat(content string, params hostParams) (ProcessInfo, error) {
	var proc ProcessInfo

	// comm may itself contain spaces and parentheses
	openParen := strings.IndexByte(content, '(')
	closeParen := strings.LastIndexByte(content, ')')
	if openParen == -1 || closeParen == -1 || closeParen <= openParen {
		return proc, fmt.Errorf("invalid stat format: missing parentheses")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(content[:openParen]))
	if err != nil {
		return proc, fmt.Errorf("parsing pid: %w", err)
	}
	proc.PID = pid
	proc.Name = content[openParen+1 : closeParen]

	fields := strings.Fields(content[closeParen+1:])
	if len(fields) < statMinFields {
		return proc, fmt.Errorf("invalid stat format: not enough fields (got %d, need %d)", len(fields), statMinFields)
	}

	ppid, err := strconv.Atoi(fields[statFieldPPID])
	if err != nil {
		return proc, fmt.Errorf("parsing ppid: %w", err)
	}
	proc.PPID = ppid

	utime, err := strconv.ParseUint(fields[statFieldUtime], 10, 64)
	if err != nil {
		return proc, fmt.Errorf("parsing utime: %w", err)
	}
	stime, err := strconv.ParseUint(fields[statFieldStime], 10, 64)
	if err != nil {
		return proc, fmt.Errorf("parsing stime: %w", err)
	}
	proc.CPUTime = ticksToDuration(utime+stime, params.clockTicks)

	threads, err := strconv.Atoi(fields[statFieldNumThreads])
	if err != nil {
		return proc, fmt.Errorf("parsing num_threads: %w", err)
	}
	proc.Threads = threads

	starttime, err := strconv.ParseUint(fields[statFieldStarttime], 10, 64)
	if err != nil {
		return proc, fmt.Errorf("parsing starttime: %w", err)
	}
	if !params.bootTime.IsZero() {
		proc.CreateTime = params.bootTime.Add(ticksToDuration(starttime, params.clockTicks))
	}

	rss, err := strconv.ParseUint(fields[statFieldRss], 10, 64)
	if err != nil {
		return proc, fmt.Errorf("parsing rss: %w", err)
	}
	proc.RSS = rss * params.pageSize

	return proc, nil
}

func ticksToDuration(ticks, perSecond uint64) time.Duration {
	if perSecond == 0 {
		return 0
	}
	return time.Duration(ticks) * time.Second / time.Duration(perSecond)
}

// parseStatOutput parses concatenated stat lines. Malformed lines are
// counted and skipped; processes exit while their files are being read.
func parseStatOutput(output string, params hostParams) ([]ProcessInfo, int) {
	var (
		procs   []ProcessInfo
		skipped int
	)
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		proc, err := parseProcessStat(line, params)
		if err != nil {
			skipped++
			continue
		}
		procs = append(procs, proc)
	}
	return procs, skipped
}

// parsePsOutput parses "ps -eo pid=,ppid=,comm=" output.
func parsePsOutput(output string) ([]ProcessInfo, error) {
	var procs []ProcessInfo
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("unexpected ps line: %q", line)
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("parsing pid in %q: %w", line, err)
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("parsing ppid in %q: %w", line, err)
		}
		procs = append(procs, ProcessInfo{
			PID:  pid,
			PPID: ppid,
			Name: strings.Join(fields[2:], " "),
		})
	}
	return procs, nil
}

// parseCmdlines parses lines of "pid arg0 arg1 ..." as produced by
// cmdlineCommand. Arguments containing spaces are split.
func parseCmdlines(output string) map[int][]string {
	out := make(map[int][]string)
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		out[pid] = fields[1:]
	}
	return out
}

// parseStatus parses the output of inspectCommand: the command line on the
// first line followed by selected /proc/[pid]/status lines.
func parseStatus(pid int, output string) (*Inspection, error) {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) < 2 {
		return nil, fmt.Errorf("pid %d: no status available", pid)
	}

	in := &Inspection{PID: pid, Cmdline: strings.Fields(lines[0])}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Name":
			in.Name = value
		case "State":
			in.State = value
		case "Threads":
			if n, err := strconv.Atoi(value); err == nil {
				in.Threads = n
			}
		case "Files":
			if n, err := strconv.Atoi(value); err == nil {
				in.OpenFiles = n
			}
		case "Exe":
			in.Exe = value
		}
	}
	return in, nil
}
