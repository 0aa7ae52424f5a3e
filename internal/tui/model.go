// Package tui renders snapshots as an interactive process tree in the
// terminal. Quitting the program closes the sink, which stops the
// scheduler.
package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// Submitter accepts diagnostics requests.
type Submitter interface {
	Submit(req monitor.DiagnosticsRequest) bool
}

// snapshotMsg delivers a new snapshot to the model.
type snapshotMsg struct{ snap *monitor.Snapshot }

// row is one visible line of the tree.
type row struct {
	rec   *monitor.ProcessRecord
	depth int
	last  bool
}

type model struct {
	width  int
	height int

	snap   *monitor.Snapshot
	rows   []row
	cursor int
	offset int
	// selected follows a pid across ticks so the cursor does not jump when
	// processes come and go.
	selected int

	submit Submitter

	flash     string
	flashTime time.Time

	now func() time.Time
}

func newModel(submit Submitter) model {
	return model{submit: submit, now: time.Now}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.adjustScroll()
	case snapshotMsg:
		m.setSnapshot(msg.snap)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "j", "down":
		m.cursor = min(m.cursor+1, max(0, len(m.rows)-1))
	case "k", "up":
		m.cursor = max(m.cursor-1, 0)
	case "g", "home":
		m.cursor = 0
	case "G", "end":
		m.cursor = max(0, len(m.rows)-1)
	case "pgdown":
		m.cursor = min(m.cursor+m.pageSize(), max(0, len(m.rows)-1))
	case "pgup":
		m.cursor = max(m.cursor-m.pageSize(), 0)
	case "enter", "d":
		m.requestDiagnostics()
	}
	if m.cursor < len(m.rows) {
		m.selected = m.rows[m.cursor].rec.PID
	}
	m.adjustScroll()
	return m, nil
}

func (m *model) requestDiagnostics() {
	if m.cursor >= len(m.rows) {
		return
	}
	pid := m.rows[m.cursor].rec.PID
	switch {
	case m.submit == nil:
		m.setFlash("diagnostics unavailable")
	case m.submit.Submit(monitor.DiagnosticsRequest{TargetProcessID: pid}):
		m.setFlash(fmt.Sprintf("diagnostics requested for pid %d", pid))
	default:
		m.setFlash("diagnostics queue full")
	}
}

func (m *model) setFlash(s string) {
	m.flash = s
	m.flashTime = m.now()
}

// setSnapshot rebuilds the rows and keeps the cursor on the selected pid
// when it is still present.
func (m *model) setSnapshot(snap *monitor.Snapshot) {
	m.snap = snap
	m.rows = flattenRows(snap)

	m.cursor = min(m.cursor, max(0, len(m.rows)-1))
	for i, r := range m.rows {
		if r.rec.PID == m.selected {
			m.cursor = i
			break
		}
	}
	if m.cursor < len(m.rows) {
		m.selected = m.rows[m.cursor].rec.PID
	}
	m.adjustScroll()
}

// flattenRows lists the forest in pre-order. A malformed tree is cut at
// the repeated pid.
func flattenRows(snap *monitor.Snapshot) []row {
	if snap == nil {
		return nil
	}
	var rows []row
	var visit func(recs []*monitor.ProcessRecord, depth int, seen map[int]bool)
	visit = func(recs []*monitor.ProcessRecord, depth int, seen map[int]bool) {
		for i, rec := range recs {
			if seen[rec.PID] {
				continue
			}
			seen[rec.PID] = true
			rows = append(rows, row{rec: rec, depth: depth, last: i == len(recs)-1})
			visit(rec.Children, depth+1, seen)
		}
	}
	visit(snap.Roots, 0, make(map[int]bool))
	return rows
}

// header, column titles, blank line and footer
const chromeLines = 4

func (m model) pageSize() int {
	return max(1, m.height-chromeLines)
}

func (m *model) adjustScroll() {
	page := m.pageSize()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+page {
		m.offset = m.cursor - page + 1
	}
	m.offset = max(0, min(m.offset, max(0, len(m.rows)-page)))
}
