package cmdbuf

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cmdbuf/cmdbuf/internal/sharedstate"
	"github.com/cmdbuf/cmdbuf/internal/transfer"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(transfer.NewRegistry(nil, transfer.Limits{}), nil)
}

// bindRing registers a 640-byte buffer under id 5 and binds it, giving the
// canonical 10-entry ring used throughout.
func bindRing(t *testing.T, s *Service) {
	t.Helper()
	if _, err := s.CreateTransferBuffer(640, 5); err != nil {
		t.Fatalf("CreateTransferBuffer() failed: %v", err)
	}
	if err := s.SetGetBuffer(5); err != nil {
		t.Fatalf("SetGetBuffer(5) failed: %v", err)
	}
}

func TestSetGetBufferComputesEntryCount(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	st := s.GetState()
	if st.NumEntries != 10 {
		t.Fatalf("NumEntries = %d, want 10", st.NumEntries)
	}
	if st.PutOffset != 0 || st.GetOffset != 0 {
		t.Fatalf("initial offsets = (%d, %d), want (0, 0)", st.PutOffset, st.GetOffset)
	}
}

func TestSetGetBufferInvalidHandle(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)
	if err := s.Flush(7); err != nil {
		t.Fatal(err)
	}

	if err := s.SetGetBuffer(99); !errors.Is(err, transfer.ErrNotFound) {
		t.Fatalf("SetGetBuffer(99) = %v, want ErrNotFound", err)
	}

	// The failed rebind must not be observable.
	st := s.GetState()
	if st.NumEntries != 10 || st.PutOffset != 7 {
		t.Fatalf("state mutated by failed rebind: %+v", st)
	}
}

func TestFlushBounds(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	if err := s.Flush(10); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Flush(10) = %v, want ErrOutOfBounds", err)
	}
	if st := s.GetState(); st.PutOffset != 0 {
		t.Fatalf("rejected flush mutated put offset: %d", st.PutOffset)
	}

	if err := s.Flush(9); err != nil {
		t.Fatalf("Flush(9) failed: %v", err)
	}
	if st := s.GetState(); st.PutOffset != 9 {
		t.Fatalf("PutOffset = %d, want 9", st.PutOffset)
	}

	if err := s.Flush(-1); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Flush(-1) = %v, want ErrOutOfBounds", err)
	}
}

func TestFlushInvokesCallbackExactlyOnce(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	var calls atomic.Int32
	var sawProgress atomic.Bool
	s.SetPutOffsetChangeCallback(func(mustMakeProgress bool) {
		calls.Add(1)
		if mustMakeProgress {
			sawProgress.Store(true)
		}
	})

	if err := s.Flush(3); err != nil {
		t.Fatal(err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("callback invoked %d times, want 1", got)
	}
	if sawProgress.Load() {
		t.Fatal("plain Flush set mustMakeProgress")
	}

	// A rejected flush must not notify.
	_ = s.Flush(100)
	if got := calls.Load(); got != 1 {
		t.Fatalf("callback invoked %d times after rejected flush, want 1", got)
	}
}

func TestSetGetOffsetBounds(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	if err := s.SetGetOffset(10); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("SetGetOffset(10) = %v, want ErrOutOfBounds", err)
	}
	if err := s.SetGetOffset(4); err != nil {
		t.Fatal(err)
	}
	if st := s.GetState(); st.GetOffset != 4 {
		t.Fatalf("GetOffset = %d, want 4", st.GetOffset)
	}
}

func TestZeroEntryRingIsPermanentlyEmpty(t *testing.T) {
	s := newTestService(t)
	if _, err := s.CreateTransferBuffer(32, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGetBuffer(1); err != nil {
		t.Fatal(err)
	}

	if st := s.GetState(); st.NumEntries != 0 {
		t.Fatalf("NumEntries = %d, want 0", st.NumEntries)
	}
	if err := s.Flush(1); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Flush(1) = %v, want ErrOutOfBounds", err)
	}
	if err := s.Flush(0); err != nil {
		t.Fatalf("Flush(0) failed: %v", err)
	}
}

func TestFlushSyncReturnsOnConsumerProgress(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	// Consumer drains one entry whenever the producer demands progress.
	s.SetPutOffsetChangeCallback(func(mustMakeProgress bool) {
		if mustMakeProgress {
			go func() {
				_ = s.SetGetOffset(s.GetState().GetOffset + 1)
			}()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := s.FlushSync(ctx, 5, 0)
	if err != nil {
		t.Fatalf("FlushSync() failed: %v", err)
	}
	if st.GetOffset == 0 {
		t.Fatal("FlushSync returned without consumer progress")
	}
	if st.PutOffset != 5 {
		t.Fatalf("PutOffset = %d, want 5", st.PutOffset)
	}
}

func TestFlushSyncReturnsWhenRingEmpty(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	// put == get == 0: the ring is already drained, no wait.
	ctx := context.Background()
	st, err := s.FlushSync(ctx, 0, 0)
	if err != nil {
		t.Fatalf("FlushSync() failed: %v", err)
	}
	if st.PutOffset != 0 || st.GetOffset != 0 {
		t.Fatalf("state = %+v, want empty ring", st)
	}
}

func TestFlushSyncUnblockedByLatch(t *testing.T) {
	tests := []struct {
		name  string
		latch func(s *Service)
		check func(t *testing.T, st State)
	}{
		{
			name:  "parse error",
			latch: func(s *Service) { s.SetParseError(ParseUnknownCommand) },
			check: func(t *testing.T, st State) {
				if st.ParseError != ParseUnknownCommand {
					t.Fatalf("ParseError = %d, want %d", st.ParseError, ParseUnknownCommand)
				}
			},
		},
		{
			name:  "context lost",
			latch: func(s *Service) { s.SetContextLostReason(LostGuilty) },
			check: func(t *testing.T, st State) {
				if st.ContextLostReason != LostGuilty {
					t.Fatalf("ContextLostReason = %d, want %d", st.ContextLostReason, LostGuilty)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t)
			bindRing(t, s)

			released := make(chan State, 1)
			go func() {
				st, _ := s.FlushSync(context.Background(), 5, 0)
				released <- st
			}()

			// Give the waiter a moment to block, then latch.
			time.Sleep(20 * time.Millisecond)
			tt.latch(s)

			select {
			case st := <-released:
				tt.check(t, st)
			case <-time.After(5 * time.Second):
				t.Fatal("FlushSync still blocked after latch")
			}
		})
	}
}

func TestFlushSyncContextDeadline(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	st, err := s.FlushSync(ctx, 5, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("FlushSync() = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("FlushSync ignored the deadline")
	}
	// State is still reported on timeout.
	if st.PutOffset != 5 {
		t.Fatalf("PutOffset = %d, want 5", st.PutOffset)
	}
}

func TestParseErrorIsSticky(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	var calls atomic.Int32
	s.SetParseErrorCallback(func() { calls.Add(1) })

	s.SetParseError(ParseInvalidArguments)
	if err := s.Flush(3); err != nil {
		t.Fatal(err)
	}
	if st := s.GetState(); st.ParseError != ParseInvalidArguments {
		t.Fatalf("ParseError = %d after unrelated flush, want %d", st.ParseError, ParseInvalidArguments)
	}

	// A second code neither replaces the latch nor re-fires the callback.
	s.SetParseError(ParseGenericError)
	if st := s.GetState(); st.ParseError != ParseInvalidArguments {
		t.Fatalf("latch overwritten: %d", st.ParseError)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("parse error callback fired %d times, want 1", got)
	}
}

func TestContextLostStillUpdatesOffsets(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	s.SetContextLostReason(LostUnknown)
	if err := s.Flush(6); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGetOffset(2); err != nil {
		t.Fatal(err)
	}

	st := s.GetState()
	if st.PutOffset != 6 || st.GetOffset != 2 {
		t.Fatalf("offsets = (%d, %d), want (6, 2)", st.PutOffset, st.GetOffset)
	}
	if st.ContextLostReason != LostUnknown {
		t.Fatalf("ContextLostReason = %d, want %d", st.ContextLostReason, LostUnknown)
	}
}

func TestInitializeClearsLatches(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	s.SetParseError(ParseOutOfBounds)
	s.SetContextLostReason(LostInnocent)
	s.SetToken(7)
	_ = s.Flush(4)

	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}

	st := s.GetState()
	if !st.Healthy() {
		t.Fatalf("latches survived Initialize: %+v", st)
	}
	if st.PutOffset != 0 || st.GetOffset != 0 || st.Token != 0 {
		t.Fatalf("state not reset: %+v", st)
	}
	// The ring binding survives re-initialization.
	if st.NumEntries != 10 {
		t.Fatalf("NumEntries = %d, want 10", st.NumEntries)
	}
}

func TestDestroyRingBufferDetachesBinding(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)
	_ = s.Flush(4)

	if err := s.DestroyTransferBuffer(5); err != nil {
		t.Fatalf("DestroyTransferBuffer(5) failed: %v", err)
	}

	st := s.GetState()
	if st.NumEntries != 0 || st.PutOffset != 0 || st.GetOffset != 0 {
		t.Fatalf("binding survived destroy: %+v", st)
	}
	if _, ok := s.GetTransferBuffer(5); ok {
		t.Fatal("destroyed buffer still resolvable")
	}
	if err := s.Flush(1); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("Flush(1) on unbound ring = %v, want ErrOutOfBounds", err)
	}
}

func TestGetBufferChangeCallbackVeto(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)
	_ = s.Flush(7)
	if _, err := s.CreateTransferBuffer(1280, 6); err != nil {
		t.Fatal(err)
	}

	s.SetGetBufferChangeCallback(func(id int32) bool { return false })

	if err := s.SetGetBuffer(6); !errors.Is(err, ErrGetBufferRejected) {
		t.Fatalf("SetGetBuffer(6) = %v, want ErrGetBufferRejected", err)
	}

	// The vetoed rebind restores the previous binding and offsets.
	st := s.GetState()
	if st.NumEntries != 10 || st.PutOffset != 7 {
		t.Fatalf("previous binding not restored: %+v", st)
	}
}

func TestGetBufferChangeCallbackAccept(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	var got atomic.Int32
	s.SetGetBufferChangeCallback(func(id int32) bool {
		got.Store(id)
		return true
	})
	if _, err := s.CreateTransferBuffer(1280, 6); err != nil {
		t.Fatal(err)
	}
	if err := s.SetGetBuffer(6); err != nil {
		t.Fatal(err)
	}
	if got.Load() != 6 {
		t.Fatalf("callback saw id %d, want 6", got.Load())
	}
	if st := s.GetState(); st.NumEntries != 20 {
		t.Fatalf("NumEntries = %d, want 20", st.NumEntries)
	}
}

func TestTokenPublishedThroughSharedState(t *testing.T) {
	s := newTestService(t)
	bindRing(t, s)

	id, err := s.CreateTransferBuffer(64, transfer.IDAuto)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetSharedStateBuffer(id); err != nil {
		t.Fatal(err)
	}

	_ = s.UpdateState()
	buf, ok := s.GetTransferBuffer(id)
	if !ok {
		t.Fatal("shared state buffer vanished")
	}
	before, err := sharedstate.Poll(buf.Mem, 3)
	if err != nil {
		t.Fatal(err)
	}

	s.SetToken(42)
	if err := s.UpdateState(); err != nil {
		t.Fatal(err)
	}

	after, err := sharedstate.Poll(buf.Mem, 3)
	if err != nil {
		t.Fatal(err)
	}
	if after.Token != 42 {
		t.Fatalf("snapshot token = %d, want 42", after.Token)
	}
	if after.Generation != before.Generation+1 {
		t.Fatalf("generation advanced by %d, want 1", after.Generation-before.Generation)
	}
}

func TestUpdateStateRequiresBuffer(t *testing.T) {
	s := newTestService(t)
	if err := s.UpdateState(); !errors.Is(err, ErrNoSharedStateBuffer) {
		t.Fatalf("UpdateState() = %v, want ErrNoSharedStateBuffer", err)
	}
}

func TestSetSharedStateBufferTooSmall(t *testing.T) {
	s := newTestService(t)
	id, err := s.CreateTransferBuffer(sharedstate.Size-1, transfer.IDAuto)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetSharedStateBuffer(id); !errors.Is(err, sharedstate.ErrShortBuffer) {
		t.Fatalf("SetSharedStateBuffer() = %v, want ErrShortBuffer", err)
	}
}
