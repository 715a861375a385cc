package rtc

import (
	"fmt"
	"sync"
)

type SurfaceRegistry struct {
	mu       sync.Mutex
	surfaces map[string]string
}

var _ Surfaces = (*SurfaceRegistry)(nil)

func NewSurfaceRegistry() *SurfaceRegistry {
	return &SurfaceRegistry{
		surfaces: map[string]string{LocalSurface: ""},
	}
}

func (r *SurfaceRegistry) Mount(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.surfaces[key]; !ok {
		r.surfaces[key] = ""
	}
}

func (r *SurfaceRegistry) Unmount(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == LocalSurface {
		r.surfaces[key] = ""
		return
	}
	delete(r.surfaces, key)
}

func (r *SurfaceRegistry) Exists(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.surfaces[key]
	return ok
}

func (r *SurfaceRegistry) Attach(key string, track interface{ ID() string }) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.surfaces[key]; !ok {
		return fmt.Errorf("%w: %s", ErrSurfaceMissing, key)
	}
	r.surfaces[key] = track.ID()
	return nil
}

func (r *SurfaceRegistry) Clear(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.surfaces[key]; ok {
		r.surfaces[key] = ""
	}
}

// Attached returns the id of the track rendered on key.
func (r *SurfaceRegistry) Attached(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaces[key]
}
