package transfer

import (
	"errors"
	"fmt"
	"sort"
)

// IDAuto asks the registry to pick the next free handle.
const IDAuto int32 = -1

var (
	// ErrNotFound indicates an unknown or already-destroyed handle.
	ErrNotFound = errors.New("transfer buffer not found")
	// ErrAllocation indicates a buffer could not be created or registered.
	ErrAllocation = errors.New("transfer buffer allocation failed")
)

// Limits bounds what the registry will hold. Zero values mean unlimited.
type Limits struct {
	MaxBuffers int
	MaxBytes   int64
}

// Registry maps int32 handles to registered memory regions. Handles are unique
// among live buffers; destroyed handles go on a free list and may be reissued.
//
// The registry is not safe for concurrent use. The owning service serializes
// registry mutation with ring rebinding and in-flight flushes under a single
// lock, so a destroy can never race a flush against the same region.
type Registry struct {
	alloc      Allocator
	limits     Limits
	buffers    map[int32]*Buffer
	free       []int32
	nextID     int32
	totalBytes int64
}

// NewRegistry creates an empty registry. A nil allocator falls back to
// HeapAllocator.
func NewRegistry(alloc Allocator, limits Limits) *Registry {
	if alloc == nil {
		alloc = HeapAllocator{}
	}
	return &Registry{
		alloc:   alloc,
		limits:  limits,
		buffers: make(map[int32]*Buffer),
	}
}

// Create allocates size bytes through the registry's allocator and registers
// the result under idRequest (or an automatic handle for IDAuto).
func (r *Registry) Create(size int, idRequest int32) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d is not positive", ErrAllocation, size)
	}
	if err := r.checkLimits(size); err != nil {
		return nil, err
	}
	mem, err := r.alloc.Alloc(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllocation, err)
	}
	if len(mem) != size {
		return nil, fmt.Errorf("%w: allocator returned %d bytes, want %d", ErrAllocation, len(mem), size)
	}
	return r.put(mem, idRequest, false)
}

// Register adds an externally-owned region under idRequest (or an automatic
// handle for IDAuto). The caller keeps the region alive until Destroy.
func (r *Registry) Register(mem []byte, idRequest int32) (*Buffer, error) {
	if len(mem) == 0 {
		return nil, fmt.Errorf("%w: empty region", ErrAllocation)
	}
	if err := r.checkLimits(len(mem)); err != nil {
		return nil, err
	}
	return r.put(mem, idRequest, true)
}

// Lookup returns the buffer for a live handle.
func (r *Registry) Lookup(id int32) (*Buffer, error) {
	b, ok := r.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return b, nil
}

// Destroy removes the handle. The handle value becomes eligible for reuse.
func (r *Registry) Destroy(id int32) error {
	b, ok := r.buffers[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	delete(r.buffers, id)
	r.free = append(r.free, id)
	r.totalBytes -= int64(len(b.Mem))
	return nil
}

// TotalBytes reports the bytes currently registered, for diagnostics/limits.
func (r *Registry) TotalBytes() int64 { return r.totalBytes }

// Len reports the number of live buffers.
func (r *Registry) Len() int { return len(r.buffers) }

// All returns the live buffers ordered by handle.
func (r *Registry) All() []*Buffer {
	out := make([]*Buffer, 0, len(r.buffers))
	for _, b := range r.buffers {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) checkLimits(size int) error {
	if r.limits.MaxBuffers > 0 && len(r.buffers) >= r.limits.MaxBuffers {
		return fmt.Errorf("%w: buffer count limit %d reached", ErrAllocation, r.limits.MaxBuffers)
	}
	if r.limits.MaxBytes > 0 && r.totalBytes+int64(size) > r.limits.MaxBytes {
		return fmt.Errorf("%w: byte limit %d exceeded", ErrAllocation, r.limits.MaxBytes)
	}
	return nil
}

func (r *Registry) put(mem []byte, idRequest int32, shared bool) (*Buffer, error) {
	id := idRequest
	if id == IDAuto {
		id = r.claimAuto()
	} else {
		if id < 0 {
			return nil, fmt.Errorf("%w: id %d is negative", ErrAllocation, id)
		}
		if _, used := r.buffers[id]; used {
			return nil, fmt.Errorf("%w: id %d already registered", ErrAllocation, id)
		}
		r.dropFree(id)
	}

	b := &Buffer{ID: id, Mem: mem, Shared: shared}
	r.buffers[id] = b
	r.totalBytes += int64(len(mem))
	return b, nil
}

func (r *Registry) claimAuto() int32 {
	if n := len(r.free); n > 0 {
		id := r.free[n-1]
		r.free = r.free[:n-1]
		return id
	}
	for {
		id := r.nextID
		r.nextID++
		if _, used := r.buffers[id]; !used {
			return id
		}
	}
}

func (r *Registry) dropFree(id int32) {
	for i, f := range r.free {
		if f == id {
			r.free[i] = r.free[len(r.free)-1]
			r.free = r.free[:len(r.free)-1]
			return
		}
	}
}
