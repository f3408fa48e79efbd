package tensor

import "fmt"

// Allocator is the raw buffer allocation backend. The scratch pool and
// tensor constructors call into it; they never allocate storage
// themselves.
//
// Free must be handed the exact slice returned by Alloc.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Free(buf []byte) error
}

type heapAllocator struct{}

// HeapAllocator returns the default allocator backed by the Go heap.
func HeapAllocator() Allocator { return heapAllocator{} }

func (heapAllocator) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative allocation size %d", n)
	}
	return make([]byte, n), nil
}

func (heapAllocator) Free([]byte) error { return nil }
