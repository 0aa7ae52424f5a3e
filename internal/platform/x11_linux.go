//go:build linux

package platform

import (
	"fmt"
	"sync"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// X11Surfaces exposes X11 client windows as content surfaces. Each
// managed client window is a content context rendered by its _NET_WM_PID;
// the window that owns it is its top-level ancestor, usually the window
// manager's frame.
type X11Surfaces struct {
	mu    sync.Mutex
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
}

// NewX11Surfaces connects to the X server named by $DISPLAY.
func NewX11Surfaces() (*X11Surfaces, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrX11Unavailable, err)
	}
	setup := xproto.Setup(conn)
	if len(setup.Roots) == 0 {
		conn.Close()
		return nil, fmt.Errorf("%w: no screens", ErrX11Unavailable)
	}
	return &X11Surfaces{
		conn:  conn,
		root:  setup.Roots[0].Root,
		atoms: make(map[string]xproto.Atom),
	}, nil
}

// ContentContexts implements monitor.HostSurfaces. Clients without a
// _NET_WM_PID are skipped.
func (s *X11Surfaces) ContentContexts() ([]monitor.ContentContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients, err := s.clientList()
	if err != nil {
		return nil, err
	}
	out := make([]monitor.ContentContext, 0, len(clients))
	for _, w := range clients {
		pid, ok := s.windowPID(w)
		if !ok {
			continue
		}
		out = append(out, monitor.ContentContext{ID: int(w), OSProcessID: pid})
	}
	return out, nil
}

// OwningWindow implements monitor.HostSurfaces.
func (s *X11Surfaces) OwningWindow(contextID int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	top, ok := s.topLevel(xproto.Window(contextID))
	return int(top), ok
}

// Windows implements monitor.HostSurfaces. Windows are listed in stacking
// order, bottom first.
func (s *X11Surfaces) Windows() ([]monitor.HostWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, err := xproto.QueryTree(s.conn, s.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("querying root window tree: %w", err)
	}
	clients, err := s.clientList()
	if err != nil {
		return nil, err
	}

	embedded := make(map[xproto.Window][]int)
	for _, c := range clients {
		if top, ok := s.topLevel(c); ok {
			embedded[top] = append(embedded[top], int(c))
		}
	}

	var out []monitor.HostWindow
	for _, w := range tree.Children {
		if ids := embedded[w]; len(ids) > 0 {
			out = append(out, monitor.HostWindow{ID: int(w), EmbeddedContextIDs: ids})
		}
	}
	return out, nil
}

// Close releases the X11 connection.
func (s *X11Surfaces) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// topLevel walks up the window tree to the child of the root window.
func (s *X11Surfaces) topLevel(w xproto.Window) (xproto.Window, bool) {
	// guards against a malformed tree
	for depth := 0; depth < 64; depth++ {
		reply, err := xproto.QueryTree(s.conn, w).Reply()
		if err != nil {
			return 0, false
		}
		if reply.Parent == s.root || reply.Parent == xproto.WindowNone {
			return w, true
		}
		w = reply.Parent
	}
	return 0, false
}

// clientList reads the window manager's _NET_CLIENT_LIST.
func (s *X11Surfaces) clientList() ([]xproto.Window, error) {
	atom, err := s.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, err
	}
	reply, err := xproto.GetProperty(s.conn, false, s.root, atom,
		xproto.AtomWindow, 0, 4096).Reply()
	if err != nil {
		return nil, fmt.Errorf("reading _NET_CLIENT_LIST: %w", err)
	}

	windows := make([]xproto.Window, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		windows = append(windows, xproto.Window(xgb.Get32(reply.Value[i:])))
	}
	return windows, nil
}

// windowPID reads _NET_WM_PID from a window.
func (s *X11Surfaces) windowPID(w xproto.Window) (int, bool) {
	atom, err := s.getAtom("_NET_WM_PID")
	if err != nil {
		return 0, false
	}
	reply, err := xproto.GetProperty(s.conn, false, w, atom,
		xproto.AtomCardinal, 0, 1).Reply()
	if err != nil || reply == nil || len(reply.Value) < 4 {
		return 0, false
	}
	return int(xgb.Get32(reply.Value)), true
}

// getAtom retrieves or interns an X11 atom by name.
func (s *X11Surfaces) getAtom(name string) (xproto.Atom, error) {
	if atom, ok := s.atoms[name]; ok {
		return atom, nil
	}

	reply, err := xproto.InternAtom(s.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("interning %s: %w", name, err)
	}

	s.atoms[name] = reply.Atom
	return reply.Atom, nil
}
