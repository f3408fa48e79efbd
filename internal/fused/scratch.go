package fused

import (
	"fmt"
	"math"
	"sort"

	"github.com/fusegraph/fusegraph/internal/tensor"
)

// scratchAlign keeps every scratch tensor cache-line aligned within the
// arena.
const scratchAlign = 64

// Pool owns the intermediate tensors of one fused layer instance. Each
// entry is keyed by a logical role ("forget-gate", "cell-candidate",
// ...) and carries the node-index window in which it is live. Finalize
// lays all entries into a single arena, letting tensors with disjoint
// windows share storage, so peak arena size tracks the maximum
// concurrently-live bytes rather than the sum of everything created.
//
// A Pool is not safe for concurrent use and must not be shared between
// layer instances.
type Pool struct {
	alloc    tensor.Allocator
	entries  []*poolEntry
	byRole   map[string]*poolEntry
	byTensor map[*tensor.Tensor]*poolEntry
	arena    []byte
	bound    bool
}

type poolEntry struct {
	role       string
	t          *tensor.Tensor
	size       int
	persistent bool
	firstUse   int
	lastUse    int
	offset     int
}

// NewPool creates a pool over the given allocation backend.
func NewPool(alloc tensor.Allocator) *Pool {
	if alloc == nil {
		alloc = tensor.HeapAllocator()
	}
	return &Pool{
		alloc:    alloc,
		byRole:   make(map[string]*poolEntry),
		byTensor: make(map[*tensor.Tensor]*poolEntry),
	}
}

// Manage registers a scratch tensor under a role and returns it
// unbound. Persistent entries (prepare-time outputs such as
// concatenated weights) stay live for the lifetime of the pool and are
// never overlapped with other entries.
func (p *Pool) Manage(role string, desc tensor.Desc, persistent bool) (*tensor.Tensor, error) {
	if p.bound {
		return nil, fmt.Errorf("scratch pool: manage %q after finalize", role)
	}
	if _, ok := p.byRole[role]; ok {
		return nil, fmt.Errorf("scratch pool: role %q managed twice", role)
	}
	t, err := tensor.NewUnbound(desc)
	if err != nil {
		return nil, fmt.Errorf("scratch pool: role %q: %w", role, err)
	}
	e := &poolEntry{
		role:       role,
		t:          t,
		size:       desc.ByteSize(),
		persistent: persistent,
		firstUse:   -1,
		lastUse:    -1,
	}
	p.entries = append(p.entries, e)
	p.byRole[role] = e
	p.byTensor[t] = e
	return t, nil
}

// NoteUse widens the live window of a managed tensor to include the
// given node index. Tensors not owned by the pool are ignored, so
// callers can pass every operand of a node unconditionally.
func (p *Pool) NoteUse(t *tensor.Tensor, nodeIndex int) {
	e, ok := p.byTensor[t]
	if !ok {
		return
	}
	if e.firstUse < 0 || nodeIndex < e.firstUse {
		e.firstUse = nodeIndex
	}
	if nodeIndex > e.lastUse {
		e.lastUse = nodeIndex
	}
}

// Finalize assigns arena offsets and binds every managed tensor. It is
// idempotent. Every entry must have at least one recorded use; an
// unused role is a graph assembly bug.
func (p *Pool) Finalize() error {
	if p.bound {
		return nil
	}
	for _, e := range p.entries {
		if e.firstUse < 0 {
			return fmt.Errorf("scratch pool: role %q is never used", e.role)
		}
		if e.persistent {
			e.lastUse = math.MaxInt
		}
	}

	ordered := append([]*poolEntry(nil), p.entries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].firstUse < ordered[j].firstUse
	})

	// Greedy first-transition reuse: a block whose occupant's window
	// closed before this entry's window opens can be taken over.
	type block struct {
		off, size int
		freeAfter int
	}
	var blocks []*block
	end := 0
	for _, e := range ordered {
		var best *block
		for _, b := range blocks {
			if b.freeAfter >= e.firstUse || b.size < e.size {
				continue
			}
			if best == nil || b.size < best.size {
				best = b
			}
		}
		if best != nil {
			e.offset = best.off
			best.freeAfter = e.lastUse
			continue
		}
		e.offset = end
		end += alignUp(e.size, scratchAlign)
		blocks = append(blocks, &block{off: e.offset, size: e.size, freeAfter: e.lastUse})
	}

	arena, err := p.alloc.Alloc(end)
	if err != nil {
		return fmt.Errorf("scratch pool: arena of %d bytes: %w", end, err)
	}
	p.arena = arena
	for _, e := range p.entries {
		if err := e.t.Bind(arena[e.offset : e.offset+e.size]); err != nil {
			return fmt.Errorf("scratch pool: role %q: %w", e.role, err)
		}
	}
	p.bound = true
	return nil
}

// Lookup returns the managed tensor for a role.
func (p *Pool) Lookup(role string) (*tensor.Tensor, bool) {
	e, ok := p.byRole[role]
	if !ok {
		return nil, false
	}
	return e.t, true
}

// PeakBytes is the arena size after Finalize: the maximum
// concurrently-live scratch footprint.
func (p *Pool) PeakBytes() int { return len(p.arena) }

// TotalBytes is what a block-per-tensor layout would spend: the summed
// aligned size of every managed tensor, ignoring reuse.
func (p *Pool) TotalBytes() int {
	total := 0
	for _, e := range p.entries {
		total += alignUp(e.size, scratchAlign)
	}
	return total
}

// Release unbinds all tensors and returns the arena to the allocator.
// The pool is unusable afterwards.
func (p *Pool) Release() error {
	for _, e := range p.entries {
		e.t.Unbind()
	}
	var err error
	if p.arena != nil {
		err = p.alloc.Free(p.arena)
		p.arena = nil
	}
	p.entries = nil
	p.byRole = map[string]*poolEntry{}
	p.byTensor = map[*tensor.Tensor]*poolEntry{}
	p.bound = false
	return err
}

// describe lists entries for graph dumps.
func (p *Pool) describe() []ScratchInfo {
	infos := make([]ScratchInfo, 0, len(p.entries))
	for _, e := range p.entries {
		infos = append(infos, ScratchInfo{
			Role:       e.role,
			Shape:      e.t.Desc().String(),
			Bytes:      e.size,
			Persistent: e.persistent,
		})
	}
	return infos
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
