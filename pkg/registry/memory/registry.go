package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/danl5/gomember/pkg/common"
)

// Entry is the resource entry of one node
type Entry struct {
	ID      int
	Address []byte
	Local   bool
}

// Op records one call made against the registry
type Op struct {
	Op common.RegistryOp
	ID int
	// Local is only meaningful for add operations
	Local bool
}

// Registry is an in-memory resource registry that keeps a log of every call.
type Registry struct {
	mu       sync.Mutex
	entries  map[int]Entry
	ops      []Op
	failures map[int]error
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		entries:  map[int]Entry{},
		failures: map[int]error{},
	}
}

// FailOn makes every add or remove call for the node return err.
// A nil err clears the failure.
func (r *Registry) FailOn(id int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		delete(r.failures, id)
		return
	}
	r.failures[id] = err
}

func (r *Registry) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ops = append(r.ops, Op{Op: common.RegistryClear})
	clear(r.entries)
	return nil
}

func (r *Registry) AddEntry(_ context.Context, id int, addr []byte, local bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ops = append(r.ops, Op{Op: common.RegistryAdd, ID: id, Local: local})
	if err := r.failures[id]; err != nil {
		return err
	}
	r.entries[id] = Entry{ID: id, Address: append([]byte(nil), addr...), Local: local}
	return nil
}

func (r *Registry) RemoveEntry(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ops = append(r.ops, Op{Op: common.RegistryRemove, ID: id})
	if err := r.failures[id]; err != nil {
		return err
	}
	delete(r.entries, id)
	return nil
}

// Ops returns the calls made so far, in order
func (r *Registry) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Op(nil), r.ops...)
}

// ResetOps forgets the recorded calls
func (r *Registry) ResetOps() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ops = nil
}

// Entries returns the current entries ordered by node ID
func (r *Registry) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Has reports whether the node has an entry
func (r *Registry) Has(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.entries[id]
	return ok
}
