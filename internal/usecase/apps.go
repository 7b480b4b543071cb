// Package usecase contains the enforcement loop and tracked-app operations.
package usecase

import (
	"sort"

	"github.com/eliteGoblin/focusd/kiosk/internal/domain"
)

// ActiveApps is the registry correlating allowed app names with the
// processes and windows the agent launched. Owned by the agent loop.
type ActiveApps struct {
	apps     map[string]*domain.TrackedApp
	reported map[string]bool // last visibility sent to the presenter
}

// NewActiveApps creates an empty registry.
func NewActiveApps() *ActiveApps {
	return &ActiveApps{
		apps:     make(map[string]*domain.TrackedApp),
		reported: make(map[string]bool),
	}
}

// Add registers a launched app, replacing any previous entry of that name.
func (r *ActiveApps) Add(app domain.TrackedApp) {
	a := app
	r.apps[app.Name] = &a
	delete(r.reported, app.Name)
}

// Get returns the entry for name.
func (r *ActiveApps) Get(name string) (domain.TrackedApp, bool) {
	a, ok := r.apps[name]
	if !ok {
		return domain.TrackedApp{}, false
	}
	return *a, true
}

// Remove deletes the entry and reports whether it existed.
func (r *ActiveApps) Remove(name string) bool {
	_, ok := r.apps[name]
	delete(r.apps, name)
	delete(r.reported, name)
	return ok
}

// Bind correlates an entry with its top-level window.
func (r *ActiveApps) Bind(name string, h domain.WindowHandle) {
	if a, ok := r.apps[name]; ok {
		a.Window = h
	}
}

// ByWindow returns the app bound to h.
func (r *ActiveApps) ByWindow(h domain.WindowHandle) (string, bool) {
	for name, a := range r.apps {
		if a.Window == h && h != 0 {
			return name, true
		}
	}
	return "", false
}

// All returns the entries sorted by name.
func (r *ActiveApps) All() []domain.TrackedApp {
	out := make([]domain.TrackedApp, 0, len(r.apps))
	for _, a := range r.apps {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the tracked app names, sorted.
func (r *ActiveApps) Names() []string {
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of tracked apps.
func (r *ActiveApps) Len() int { return len(r.apps) }

// markReported records the visibility last sent for name and reports
// whether it differs from the previous one.
func (r *ActiveApps) markReported(name string, visible bool) bool {
	prev, ok := r.reported[name]
	if ok && prev == visible {
		return false
	}
	r.reported[name] = visible
	return true
}
