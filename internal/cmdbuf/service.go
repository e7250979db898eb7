// Package cmdbuf implements a producer/consumer command queue over registered
// memory regions. A producer publishes a put offset into a ring of fixed-size
// command entries; a consumer acknowledges progress through the get offset.
// Flow control, fencing tokens, and sticky failure latches live here; parsing
// and executing the entries is the consumer's problem.
package cmdbuf

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cmdbuf/cmdbuf/internal/transfer"
)

// PutOffsetChangeCallback fires after every successful Flush. When
// mustMakeProgress is true the owner must not return until the consumer has
// processed at least one entry, unless the ring is already empty.
type PutOffsetChangeCallback func(mustMakeProgress bool)

// GetBufferChangeCallback fires when a new ring source is attached. Returning
// false rejects the rebind and restores the previous binding.
type GetBufferChangeCallback func(bufferID int32) bool

// ParseErrorCallback fires once per newly latched parse error.
type ParseErrorCallback func()

const ringUnbound int32 = -1

// Service is the command buffer service. One producer mutates the put offset,
// one consumer mutates the get offset; everything else is observation. All
// operations are safe for concurrent use: a single mutex makes registry
// mutation and ring rebinding mutually exclusive with in-flight flushes.
type Service struct {
	mu     sync.Mutex
	drain  *sync.Cond
	logger *slog.Logger

	registry *transfer.Registry

	ringID     int32
	ring       *transfer.Buffer
	numEntries int32
	putOffset  int32
	getOffset  int32

	token      int32
	parseError int32
	lostReason int32
	generation uint32

	sharedID int32
	shared   *transfer.Buffer

	putOffsetChange PutOffsetChangeCallback
	getBufferChange GetBufferChangeCallback
	parseErrorCB    ParseErrorCallback
}

// New creates a service over the given registry. A nil logger is replaced with
// slog.Default().
func New(registry *transfer.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		registry: registry,
		logger:   logger,
		ringID:   ringUnbound,
		sharedID: ringUnbound,
	}
	s.drain = sync.NewCond(&s.mu)
	return s
}

// Initialize resets offsets, token, generation, and both failure latches.
// Registered transfer buffers and the ring binding survive; offsets restart
// at zero against the current binding. This is the only way to clear a latch.
func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putOffset = 0
	s.getOffset = 0
	s.token = 0
	s.parseError = ParseNoError
	s.lostReason = NotLost
	s.generation = 0
	s.drain.Broadcast()

	s.logger.Info("command buffer initialized", "ring_id", s.ringID, "num_entries", s.numEntries)
	return nil
}

// GetState returns the current observable state.
func (s *Service) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// GetLastState is GetState; the service side is the authority, so the last
// published state and the current state coincide here.
func (s *Service) GetLastState() State {
	return s.GetState()
}

// Flush publishes a new put offset and notifies the put-offset-changed
// callback before returning. A rejected offset leaves state untouched.
func (s *Service) Flush(putOffset int32) error {
	return s.flush(putOffset, false)
}

func (s *Service) flush(putOffset int32, mustMakeProgress bool) error {
	s.mu.Lock()
	if !s.validOffsetLocked(putOffset) {
		s.mu.Unlock()
		return errOutOfBounds(putOffset, s.numEntries)
	}
	s.putOffset = putOffset
	cb := s.putOffsetChange
	s.mu.Unlock()

	// Invoked outside the lock: the callback owner is free to call back in
	// (SetGetOffset in particular) without deadlocking.
	if cb != nil {
		cb(mustMakeProgress)
	}
	return nil
}

// FlushSync publishes a new put offset, then blocks until the consumer's get
// offset moves past lastKnownGet, the ring drains, a latch fires, or ctx ends.
// The returned State is current as of wakeup even when err is non-nil.
func (s *Service) FlushSync(ctx context.Context, putOffset, lastKnownGet int32) (State, error) {
	if err := s.flush(putOffset, true); err != nil {
		return s.GetState(), err
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.drain.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	for !s.unblockedLocked(lastKnownGet) && ctx.Err() == nil {
		s.drain.Wait()
	}
	st := s.stateLocked()
	s.mu.Unlock()

	return st, ctx.Err()
}

// unblockedLocked is FlushSync's wake condition: consumer progress, a drained
// ring, or a terminal latch.
func (s *Service) unblockedLocked(lastKnownGet int32) bool {
	if s.getOffset != lastKnownGet {
		return true
	}
	if s.getOffset == s.putOffset {
		return true
	}
	return s.parseError != ParseNoError || s.lostReason != NotLost
}

// SetGetBuffer attaches the transfer buffer id as the ring source. Entry count
// is recomputed from the buffer size and both offsets reset to zero. On any
// failure the previous binding, entry count, and offsets are untouched.
func (s *Service) SetGetBuffer(id int32) error {
	s.mu.Lock()
	buf, err := s.registry.Lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	prev := s.ringStateLocked()
	s.ringID = id
	s.ring = buf
	s.numEntries = int32(buf.Size() / EntrySize)
	s.putOffset = 0
	s.getOffset = 0
	cb := s.getBufferChange
	s.mu.Unlock()

	if cb != nil && !cb(id) {
		s.mu.Lock()
		s.restoreRingLocked(prev)
		s.mu.Unlock()
		return ErrGetBufferRejected
	}

	s.logger.Debug("ring buffer bound", "buffer_id", id, "num_entries", buf.Size()/EntrySize)
	return nil
}

type ringState struct {
	id         int32
	buf        *transfer.Buffer
	numEntries int32
	put, get   int32
}

func (s *Service) ringStateLocked() ringState {
	return ringState{id: s.ringID, buf: s.ring, numEntries: s.numEntries, put: s.putOffset, get: s.getOffset}
}

func (s *Service) restoreRingLocked(prev ringState) {
	s.ringID = prev.id
	s.ring = prev.buf
	s.numEntries = prev.numEntries
	s.putOffset = prev.put
	s.getOffset = prev.get
}

// SetGetOffset acknowledges consumer progress and wakes FlushSync waiters.
func (s *Service) SetGetOffset(getOffset int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.validOffsetLocked(getOffset) {
		return errOutOfBounds(getOffset, s.numEntries)
	}
	s.getOffset = getOffset
	s.drain.Broadcast()
	return nil
}

// CreateTransferBuffer allocates size bytes internally and registers the
// result. idRequest of transfer.IDAuto picks the next free handle.
func (s *Service) CreateTransferBuffer(size int, idRequest int32) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.registry.Create(size, idRequest)
	if err != nil {
		return ringUnbound, err
	}
	s.logger.Debug("transfer buffer created", "buffer_id", buf.ID, "size", size, "total_bytes", s.registry.TotalBytes())
	return buf.ID, nil
}

// RegisterTransferBuffer registers an externally-owned region.
func (s *Service) RegisterTransferBuffer(region []byte, idRequest int32) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.registry.Register(region, idRequest)
	if err != nil {
		return ringUnbound, err
	}
	s.logger.Debug("transfer buffer registered", "buffer_id", buf.ID, "size", len(region), "total_bytes", s.registry.TotalBytes())
	return buf.ID, nil
}

// DestroyTransferBuffer removes the handle. Destroying the buffer backing the
// ring or the shared state snapshot detaches that binding first, so a live
// flush can never observe a freed region.
func (s *Service) DestroyTransferBuffer(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == s.ringID {
		s.ringID = ringUnbound
		s.ring = nil
		s.numEntries = 0
		s.putOffset = 0
		s.getOffset = 0
		s.drain.Broadcast()
		s.logger.Warn("ring backing buffer destroyed, ring unbound", "buffer_id", id)
	}
	if id == s.sharedID {
		s.sharedID = ringUnbound
		s.shared = nil
	}
	return s.registry.Destroy(id)
}

// GetTransferBuffer returns the buffer region for a live handle.
func (s *Service) GetTransferBuffer(id int32) (*transfer.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.registry.Lookup(id)
	if err != nil {
		return nil, false
	}
	return buf, true
}

// TransferBuffers returns the live buffers ordered by handle.
func (s *Service) TransferBuffers() []*transfer.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.All()
}

// TotalBytes reports the bytes currently registered across all buffers.
func (s *Service) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.TotalBytes()
}

// SetToken stores a producer-stamped fence value. Last write wins; the service
// does not order tokens.
func (s *Service) SetToken(token int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// SetParseError latches a consumer-reported stream error. The first non-zero
// code wins; the parse-error callback fires exactly once per newly latched
// error. FlushSync waiters wake.
func (s *Service) SetParseError(code int32) {
	s.mu.Lock()
	if code == ParseNoError || s.parseError != ParseNoError {
		s.mu.Unlock()
		return
	}
	s.parseError = code
	s.drain.Broadcast()
	cb := s.parseErrorCB
	s.mu.Unlock()

	s.logger.Error("parse error latched", "code", code)
	if cb != nil {
		cb()
	}
}

// SetContextLostReason latches the terminal failure reason. The service stays
// internally consistent afterwards but callers must treat it as unusable
// until Initialize.
func (s *Service) SetContextLostReason(reason int32) {
	s.mu.Lock()
	if reason == NotLost || s.lostReason != NotLost {
		s.mu.Unlock()
		return
	}
	s.lostReason = reason
	s.drain.Broadcast()
	s.mu.Unlock()

	s.logger.Error("context lost", "reason", reason)
}

// SetPutOffsetChangeCallback sets the flush notification hook.
func (s *Service) SetPutOffsetChangeCallback(cb PutOffsetChangeCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putOffsetChange = cb
}

// SetGetBufferChangeCallback sets the rebind veto hook.
func (s *Service) SetGetBufferChangeCallback(cb GetBufferChangeCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getBufferChange = cb
}

// SetParseErrorCallback sets the parse-error notification hook.
func (s *Service) SetParseErrorCallback(cb ParseErrorCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parseErrorCB = cb
}

// SetSharedStateBuffer binds the transfer buffer that UpdateState publishes
// snapshots into. The buffer must hold at least sharedstate.Size bytes.
func (s *Service) SetSharedStateBuffer(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.registry.Lookup(id)
	if err != nil {
		return err
	}
	if err := checkSnapshotCapacity(buf); err != nil {
		return err
	}
	s.sharedID = id
	s.shared = buf
	return nil
}

// UpdateState publishes {get, token, error, lost reason} plus an incremented
// generation into the shared state buffer for lock-free polling.
func (s *Service) UpdateState() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shared == nil {
		return ErrNoSharedStateBuffer
	}
	s.generation++
	return publishSnapshot(s.shared, s.stateLocked())
}

func (s *Service) stateLocked() State {
	return State{
		NumEntries:        s.numEntries,
		GetOffset:         s.getOffset,
		PutOffset:         s.putOffset,
		Token:             s.token,
		ParseError:        s.parseError,
		ContextLostReason: s.lostReason,
		Generation:        s.generation,
	}
}

// validOffsetLocked accepts [0, numEntries), plus 0 against an empty or
// unbound ring so resets stay legal.
func (s *Service) validOffsetLocked(v int32) bool {
	if v == 0 {
		return true
	}
	return v > 0 && v < s.numEntries
}
