//go:build !linux

package platform

import "github.com/opd-ai/go-procmon/internal/monitor"

// X11Surfaces is only available on Linux.
type X11Surfaces struct{}

// NewX11Surfaces always fails outside Linux.
func NewX11Surfaces() (*X11Surfaces, error) {
	return nil, ErrX11Unavailable
}

// ContentContexts implements monitor.HostSurfaces.
func (s *X11Surfaces) ContentContexts() ([]monitor.ContentContext, error) {
	return nil, ErrX11Unavailable
}

// OwningWindow implements monitor.HostSurfaces.
func (s *X11Surfaces) OwningWindow(int) (int, bool) { return 0, false }

// Windows implements monitor.HostSurfaces.
func (s *X11Surfaces) Windows() ([]monitor.HostWindow, error) {
	return nil, ErrX11Unavailable
}

// Close is a no-op.
func (s *X11Surfaces) Close() {}
