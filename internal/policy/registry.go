package policy

import (
	"fmt"
	"sort"
)

// Registry holds the available client profiles.
type Registry struct {
	profiles map[string]Profile
}

// NewRegistry creates a registry with the default profiles.
func NewRegistry(creds Credentials) *Registry {
	r := &Registry{
		profiles: make(map[string]Profile),
	}

	r.Register(NewPlainProfile())
	r.Register(NewLoginProfile(creds))

	return r
}

// NewRegistryWithProfiles creates a registry with custom profiles (for testing).
func NewRegistryWithProfiles(profiles ...Profile) *Registry {
	r := &Registry{
		profiles: make(map[string]Profile),
	}
	for _, p := range profiles {
		r.Register(p)
	}
	return r
}

// Register adds a profile to the registry.
func (r *Registry) Register(p Profile) {
	r.profiles[p.ID()] = p
}

// Get returns a profile by ID.
func (r *Registry) Get(id string) (Profile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("unknown client profile %q (available: %v)", id, r.List())
	}
	return p, nil
}

// List returns all profile IDs, sorted.
func (r *Registry) List() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
