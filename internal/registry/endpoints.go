package registry

import (
	"sort"
	"strings"
	"sync"
)

// Endpoints tracks weapon controller positions per world dimension.
type Endpoints struct {
	mu    sync.RWMutex
	byDim map[string]map[BlockPos]struct{}
}

// NewEndpoints creates an empty registry.
func NewEndpoints() *Endpoints {
	return &Endpoints{byDim: make(map[string]map[BlockPos]struct{})}
}

// Register announces a controller at pos. Registering twice is harmless.
func (e *Endpoints) Register(dim string, pos BlockPos) {
	if e == nil {
		return
	}
	dim = strings.TrimSpace(dim)
	e.mu.Lock()
	defer e.mu.Unlock()
	//1.- Lazily create the per-dimension set so unused dimensions cost nothing.
	set, ok := e.byDim[dim]
	if !ok {
		set = make(map[BlockPos]struct{})
		e.byDim[dim] = set
	}
	set[pos] = struct{}{}
}

// Move relocates a controller from old to next and reports whether the registry
// accepts next as the controller's position. It is idempotent: repeating an accepted
// move, or moving a registered endpoint onto itself, is accepted again.
func (e *Endpoints) Move(dim string, old, next BlockPos) bool {
	if e == nil {
		return false
	}
	dim = strings.TrimSpace(dim)
	e.mu.Lock()
	defer e.mu.Unlock()
	set := e.byDim[dim]
	if set == nil {
		return false
	}
	//1.- A known origin moves; the destination may already hold it from a repeat call.
	if _, ok := set[old]; ok {
		delete(set, old)
		set[next] = struct{}{}
		return true
	}
	//2.- An unknown origin is only acceptable when the move already happened.
	_, ok := set[next]
	return ok
}

// Remove forgets the controller at pos.
func (e *Endpoints) Remove(dim string, pos BlockPos) {
	if e == nil {
		return
	}
	dim = strings.TrimSpace(dim)
	e.mu.Lock()
	defer e.mu.Unlock()
	if set := e.byDim[dim]; set != nil {
		delete(set, pos)
		if len(set) == 0 {
			delete(e.byDim, dim)
		}
	}
}

// Contains reports whether pos is registered in dim.
func (e *Endpoints) Contains(dim string, pos BlockPos) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.byDim[strings.TrimSpace(dim)][pos]
	return ok
}

// Positions lists the endpoints in dim ordered by packed position.
func (e *Endpoints) Positions(dim string) []BlockPos {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	set := e.byDim[strings.TrimSpace(dim)]
	positions := make([]BlockPos, 0, len(set))
	for pos := range set {
		positions = append(positions, pos)
	}
	e.mu.RUnlock()
	sort.Slice(positions, func(i, j int) bool { return positions[i].Long() < positions[j].Long() })
	return positions
}

// Dimensions lists every dimension holding at least one endpoint.
func (e *Endpoints) Dimensions() []string {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	dims := make([]string, 0, len(e.byDim))
	for dim := range e.byDim {
		dims = append(dims, dim)
	}
	e.mu.RUnlock()
	sort.Strings(dims)
	return dims
}
