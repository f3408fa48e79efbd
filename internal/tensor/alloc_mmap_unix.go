//go:build linux || darwin

package tensor

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

type mmapAllocator struct {
	mu     sync.Mutex
	mapped map[uintptr]struct{}
}

// MmapAllocator returns an allocator backed by anonymous page-aligned
// mappings. Useful for large operand buffers; zero-length requests and
// mapping failures fall back to the heap.
func MmapAllocator() Allocator {
	return &mmapAllocator{mapped: make(map[uintptr]struct{})}
}

func (a *mmapAllocator) Alloc(n int) ([]byte, error) {
	if n <= 0 {
		return heapAllocator{}.Alloc(n)
	}
	buf, err := unix.Mmap(
		-1,
		0,
		n,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		// Fallback path that does not require mmap support.
		return heapAllocator{}.Alloc(n)
	}
	a.mu.Lock()
	a.mapped[uintptr(unsafe.Pointer(&buf[0]))] = struct{}{}
	a.mu.Unlock()
	return buf, nil
}

func (a *mmapAllocator) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	key := uintptr(unsafe.Pointer(&buf[0]))
	a.mu.Lock()
	_, ok := a.mapped[key]
	if ok {
		delete(a.mapped, key)
	}
	a.mu.Unlock()
	if !ok {
		// Heap fallback slice; the GC owns it.
		return nil
	}
	return unix.Munmap(buf)
}
