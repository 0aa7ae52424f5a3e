package monitor

import (
	"slices"
	"sync"
)

// ContentContext is one live content-rendering context of the host
// (a page, a view, a client window) and the OS process rendering it.
type ContentContext struct {
	ID          int
	OSProcessID int
}

// HostWindow is a top-level window and the content contexts embedded in it.
type HostWindow struct {
	ID                 int
	EmbeddedContextIDs []int
}

// HostSurfaces exposes the host's live rendering contexts and windows.
// Enumeration order is the host's; resolution depends on it.
type HostSurfaces interface {
	// ContentContexts lists every live content context.
	ContentContexts() ([]ContentContext, error)
	// OwningWindow returns the window that directly owns a context.
	OwningWindow(contextID int) (windowID int, ok bool)
	// Windows lists the top-level windows with their embedded views.
	Windows() ([]HostWindow, error)
}

// AffinityResolver maps content-surface processes to the surface and
// window they serve.
//
// Resolution is best effort: when several windows embed views sharing one
// content context, or several contexts share one OS process, the first
// match in host enumeration order wins. It is not a uniqueness guarantee.
type AffinityResolver struct {
	surfaces HostSurfaces
	logger   Logger
}

// NewAffinityResolver creates a resolver over the given surfaces.
// A nil surfaces value resolves nothing.
func NewAffinityResolver(surfaces HostSurfaces, logger Logger) *AffinityResolver {
	return &AffinityResolver{surfaces: surfaces, logger: orNop(logger)}
}

// Resolve returns the affinity of the process with the given OS pid,
// or nil when no live content context matches.
func (r *AffinityResolver) Resolve(osPID int) *UIAffinity {
	if r == nil || r.surfaces == nil {
		return nil
	}

	contexts, err := r.surfaces.ContentContexts()
	if err != nil {
		r.logger.Debug("content contexts unavailable", "error", err)
		return nil
	}

	var match *ContentContext
	for i := range contexts {
		if contexts[i].OSProcessID == osPID {
			match = &contexts[i]
			break
		}
	}
	if match == nil {
		return nil
	}

	aff := &UIAffinity{ContentSurfaceID: match.ID}
	if win, ok := r.surfaces.OwningWindow(match.ID); ok {
		aff.WindowID = win
		return aff
	}

	// Not owned directly: look for a window embedding a view on this context.
	windows, err := r.surfaces.Windows()
	if err != nil {
		r.logger.Debug("windows unavailable", "error", err)
		return aff
	}
	for _, w := range windows {
		if slices.Contains(w.EmbeddedContextIDs, match.ID) {
			aff.WindowID = w.ID
			break
		}
	}
	return aff
}

// SurfaceRegistry is an in-memory HostSurfaces for embedders that track
// their own rendering contexts. It is safe for concurrent use.
type SurfaceRegistry struct {
	mu       sync.RWMutex
	contexts []ContentContext
	owners   map[int]int
	windows  []HostWindow
}

// NewSurfaceRegistry creates an empty registry.
func NewSurfaceRegistry() *SurfaceRegistry {
	return &SurfaceRegistry{owners: make(map[int]int)}
}

// AddContext registers a content context rendered by osPID.
func (r *SurfaceRegistry) AddContext(id, osPID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = append(r.contexts, ContentContext{ID: id, OSProcessID: osPID})
}

// RemoveContext forgets a context and any ownership or embedding of it.
func (r *SurfaceRegistry) RemoveContext(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contexts = slices.DeleteFunc(r.contexts, func(c ContentContext) bool { return c.ID == id })
	delete(r.owners, id)
	for i := range r.windows {
		r.windows[i].EmbeddedContextIDs = slices.DeleteFunc(r.windows[i].EmbeddedContextIDs,
			func(c int) bool { return c == id })
	}
}

// SetOwner records that windowID directly owns context id.
func (r *SurfaceRegistry) SetOwner(contextID, windowID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[contextID] = windowID
}

// Embed records that windowID embeds a view on context id. Windows keep
// the order in which they were first seen.
func (r *SurfaceRegistry) Embed(windowID, contextID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.windows {
		if r.windows[i].ID == windowID {
			r.windows[i].EmbeddedContextIDs = append(r.windows[i].EmbeddedContextIDs, contextID)
			return
		}
	}
	r.windows = append(r.windows, HostWindow{ID: windowID, EmbeddedContextIDs: []int{contextID}})
}

// ContentContexts implements HostSurfaces.
func (r *SurfaceRegistry) ContentContexts() ([]ContentContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.contexts), nil
}

// OwningWindow implements HostSurfaces.
func (r *SurfaceRegistry) OwningWindow(contextID int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.owners[contextID]
	return w, ok
}

// Windows implements HostSurfaces.
func (r *SurfaceRegistry) Windows() ([]HostWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HostWindow, len(r.windows))
	for i, w := range r.windows {
		out[i] = HostWindow{ID: w.ID, EmbeddedContextIDs: slices.Clone(w.EmbeddedContextIDs)}
	}
	return out, nil
}
