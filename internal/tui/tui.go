package tui

import (
	"context"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// TUI is a snapshot sink backed by a bubbletea program.
type TUI struct {
	program *tea.Program
	closed  atomic.Bool
	done    chan struct{}
}

// New creates the terminal UI. Diagnostics requests go to submit, which
// may be nil. The program runs in the alternate screen unless opts
// override the terminal setup.
func New(submit Submitter, opts ...tea.ProgramOption) *TUI {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	return &TUI{
		program: tea.NewProgram(newModel(submit), opts...),
		done:    make(chan struct{}),
	}
}

// Run blocks until the user quits or Quit is called. The sink reports
// ErrSinkClosed from then on.
func (t *TUI) Run() error {
	defer func() {
		t.closed.Store(true)
		close(t.done)
	}()
	_, err := t.program.Run()
	return err
}

// Done is closed once Run returns.
func (t *TUI) Done() <-chan struct{} { return t.done }

// Quit asks the program to exit.
func (t *TUI) Quit() { t.program.Quit() }

// OnSnapshot hands snap to the UI loop. It blocks until the loop accepts
// the message, so Run must be active.
func (t *TUI) OnSnapshot(ctx context.Context, snap *monitor.Snapshot) error {
	if t.closed.Load() {
		return monitor.ErrSinkClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.program.Send(snapshotMsg{snap: snap})
	if t.closed.Load() {
		return monitor.ErrSinkClosed
	}
	return nil
}
