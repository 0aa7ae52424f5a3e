package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	headerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	columnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	flashStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	selectStyle   = lipgloss.NewStyle().Background(lipgloss.Color("6")).Foreground(lipgloss.Color("0"))
	hotStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warmStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// column widths
const (
	colPID     = 7
	colKind    = 8
	colCPU     = 7
	colMem     = 9
	colPrivate = 9
	colStarted = 8
	colUp      = 15
	colWindow  = 6
	minName    = 12
)

// flash messages disappear after this long
const flashTTL = 3 * time.Second

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteByte('\n')
	b.WriteString(columnStyle.Render(m.formatLine("PID", "NAME", "KIND", "CPU", "MEM", "PRIVATE", "STARTED", "UP", "WIN")))
	b.WriteByte('\n')

	if len(m.rows) == 0 {
		b.WriteString(dimStyle.Render("  waiting for the first sample..."))
		b.WriteByte('\n')
	}
	end := min(len(m.rows), m.offset+m.pageSize())
	for i := m.offset; i < end; i++ {
		b.WriteString(m.renderRow(m.rows[i], i == m.cursor))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m model) renderHeader() string {
	if m.snap == nil {
		return headerStyle.Render("procmon")
	}
	h := headerStyle.Render(fmt.Sprintf("procmon  tick #%d  %d processes  %s",
		m.snap.Sequence, m.snap.Count, m.snap.TakenAt.Local().Format("15:04:05")))
	if m.snap.Degraded {
		h += "  " + degradedStyle.Render("DEGRADED: system process list unavailable")
	}
	return h
}

func (m model) renderFooter() string {
	if m.flash != "" && m.now().Sub(m.flashTime) < flashTTL {
		return flashStyle.Render(m.flash)
	}
	return helpStyle.Render("↑/↓ move  enter diagnostics  q quit")
}

func (m model) nameWidth() int {
	fixed := colPID + colKind + colCPU + colMem + colPrivate + colStarted + colUp + colWindow + 9*2
	return max(minName, m.width-fixed)
}

func (m model) formatLine(pid, name, kind, cpu, mem, private, started, up, win string) string {
	return "  " + truncOrPad(pid, colPID) +
		"  " + truncOrPad(name, m.nameWidth()) +
		"  " + truncOrPad(kind, colKind) +
		"  " + padLeft(cpu, colCPU) +
		"  " + padLeft(mem, colMem) +
		"  " + padLeft(private, colPrivate) +
		"  " + truncOrPad(started, colStarted) +
		"  " + truncOrPad(up, colUp) +
		"  " + truncOrPad(win, colWindow)
}

func (m model) renderRow(r row, selected bool) string {
	rec := r.rec
	up := ""
	if !rec.StartedAt.IsZero() {
		up = humanize.RelTime(rec.StartedAt, m.now(), "", "")
	}
	win := ""
	if rec.UIAffinity != nil && rec.UIAffinity.WindowID != 0 {
		win = fmt.Sprintf("%d", rec.UIAffinity.WindowID)
	}
	text := m.formatLine(
		fmt.Sprintf("%d", rec.PID),
		treePrefix(r)+rec.DisplayName,
		string(rec.Kind),
		rec.CPUDisplay,
		rec.MemoryDisplay,
		rec.PrivateDisplay,
		rec.StartedDisplay,
		strings.TrimSpace(up),
		win,
	)

	style := lipgloss.NewStyle()
	switch {
	case selected:
		style = selectStyle
	case rec.CPUPercent >= 50:
		style = hotStyle
	case rec.CPUPercent >= 10:
		style = warmStyle
	}
	if m.width > 0 {
		style = style.Width(m.width).MaxWidth(m.width)
	}
	return style.Render(text)
}

func treePrefix(r row) string {
	if r.depth == 0 {
		return ""
	}
	branch := "├─ "
	if r.last {
		branch = "└─ "
	}
	return strings.Repeat("   ", r.depth-1) + branch
}

func truncOrPad(s string, w int) string {
	n := lipgloss.Width(s)
	if n > w {
		runes := []rune(s)
		if w <= 1 {
			return string(runes[:w])
		}
		for lipgloss.Width(string(runes)) > w-1 {
			runes = runes[:len(runes)-1]
		}
		return string(runes) + "…"
	}
	return s + strings.Repeat(" ", w-n)
}

func padLeft(s string, w int) string {
	n := lipgloss.Width(s)
	if n >= w {
		return s
	}
	return strings.Repeat(" ", w-n) + s
}
