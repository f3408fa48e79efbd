//go:build !linux && !darwin

package tensor

// MmapAllocator falls back to the heap on platforms without anonymous
// mmap support.
func MmapAllocator() Allocator { return heapAllocator{} }
