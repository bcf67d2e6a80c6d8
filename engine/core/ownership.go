package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies one live object and the component that exclusively owns it.
type Handle struct {
	ID    uuid.UUID
	Owner string
	Kind  string
}

func (h Handle) String() string {
	return fmt.Sprintf("%s/%s(%s)", h.Owner, h.Kind, h.ID)
}

// Registry tracks every live owned handle of a device.
type Registry struct {
	mu   sync.Mutex
	live map[uuid.UUID]Handle
}

func NewRegistry() *Registry {
	return &Registry{
		live: make(map[uuid.UUID]Handle),
	}
}

// Acquire registers a new handle for owner.
func (r *Registry) Acquire(owner, kind string) Handle {
	h := Handle{
		ID:    uuid.New(),
		Owner: owner,
		Kind:  kind,
	}
	r.mu.Lock()
	r.live[h.ID] = h
	r.mu.Unlock()
	return h
}

// Release removes h. Releasing an unknown or already released handle is an error.
func (r *Registry) Release(h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h.ID]; !ok {
		return fmt.Errorf("handle %s is not registered", h)
	}
	delete(r.live, h.ID)
	return nil
}

// Outstanding lists live handles, excluding those owned by any of the given
// owners, sorted by owner then kind.
func (r *Registry) Outstanding(exclude ...string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	skip := make(map[string]struct{}, len(exclude))
	for _, o := range exclude {
		skip[o] = struct{}{}
	}
	out := make([]Handle, 0, len(r.live))
	for _, h := range r.live {
		if _, ok := skip[h.Owner]; ok {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Destroyer is any object with an explicit release.
type Destroyer interface {
	Destroy()
}

// Owned binds a GPU object to its owner. Copies of the *Owned share the same
// handle; only Release destroys the object.
type Owned[T Destroyer] struct {
	mu       sync.Mutex
	handle   Handle
	obj      T
	reg      *Registry
	released bool
}

// Own registers obj under owner in reg.
func Own[T Destroyer](reg *Registry, owner, kind string, obj T) *Owned[T] {
	return &Owned[T]{
		handle: reg.Acquire(owner, kind),
		obj:    obj,
		reg:    reg,
	}
}

func (o *Owned[T]) Get() T {
	return o.obj
}

func (o *Owned[T]) Handle() Handle {
	return o.handle
}

// Release destroys the object and drops its handle. A second call returns an error.
func (o *Owned[T]) Release() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.released {
		return fmt.Errorf("%s released twice", o.handle)
	}
	o.released = true
	o.obj.Destroy()
	return o.reg.Release(o.handle)
}
