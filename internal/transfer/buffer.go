package transfer

// Buffer is a registered memory region plus the handle it was issued under.
// The registry owns the region between Register/Create and Destroy; everything
// else holds the handle and looks the region up on demand.
type Buffer struct {
	ID     int32
	Mem    []byte
	Shared bool // region supplied by the caller rather than allocated here
}

// Size returns the region size in bytes.
func (b *Buffer) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Mem)
}

// Allocator supplies backing regions for internally created buffers.
// Implementations must return a slice of exactly the requested length.
type Allocator interface {
	Alloc(size int) ([]byte, error)
}

// HeapAllocator backs buffers with plain Go byte slices.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}
