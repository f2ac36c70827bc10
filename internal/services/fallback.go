package services

import (
	"sort"
	"sync"
	"time"
)

// FallbackDescriptor names an alternate service that can stand in for a
// failing dependency. Lower Priority values are tried first.
type FallbackDescriptor struct {
	Name        string    `json:"name"`
	Endpoint    string    `json:"endpoint"`
	Priority    int       `json:"priority"`
	Healthy     bool      `json:"healthy"`
	LastChecked time.Time `json:"lastChecked"`

	// Handler performs the fallback call. Not serialized.
	Handler Operation `json:"-"`
}

// FallbackRegistry maps primary dependency names to ordered fallbacks.
// Registrations replace wholesale so admin updates are atomic.
type FallbackRegistry struct {
	mu    sync.RWMutex
	byDep map[string][]FallbackDescriptor
}

func NewFallbackRegistry() *FallbackRegistry {
	return &FallbackRegistry{byDep: make(map[string][]FallbackDescriptor)}
}

// Register replaces the fallback list for a dependency, sorted by priority.
func (r *FallbackRegistry) Register(dependency string, fallbacks ...FallbackDescriptor) {
	sorted := append([]FallbackDescriptor(nil), fallbacks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDep[dependency] = sorted
}

// Get returns a copy of the fallback list for a dependency.
func (r *FallbackRegistry) Get(dependency string) []FallbackDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]FallbackDescriptor(nil), r.byDep[dependency]...)
}

// MarkHealth updates a fallback's last-known health.
func (r *FallbackRegistry) MarkHealth(dependency, name string, healthy bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.byDep[dependency] {
		if r.byDep[dependency][i].Name == name {
			r.byDep[dependency][i].Healthy = healthy
			r.byDep[dependency][i].LastChecked = at
		}
	}
}

// Dependencies lists every primary with registered fallbacks.
func (r *FallbackRegistry) Dependencies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	deps := make([]string, 0, len(r.byDep))
	for dep := range r.byDep {
		deps = append(deps, dep)
	}
	sort.Strings(deps)
	return deps
}
