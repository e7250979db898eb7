package cmdbuf

import (
	"fmt"

	"github.com/cmdbuf/cmdbuf/internal/sharedstate"
	"github.com/cmdbuf/cmdbuf/internal/transfer"
)

func errOutOfBounds(offset, numEntries int32) error {
	return fmt.Errorf("%w: offset %d, entry count %d", ErrOutOfBounds, offset, numEntries)
}

func checkSnapshotCapacity(buf *transfer.Buffer) error {
	if buf.Size() < sharedstate.Size {
		return fmt.Errorf("%w: buffer %d holds %d bytes", sharedstate.ErrShortBuffer, buf.ID, buf.Size())
	}
	return nil
}

// ReadSharedState reads back the snapshot currently published to the shared
// state buffer, the way a producer-side poller would.
func (s *Service) ReadSharedState() (sharedstate.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shared == nil {
		return sharedstate.Snapshot{}, ErrNoSharedStateBuffer
	}
	return sharedstate.Poll(s.shared.Mem, 3)
}

func publishSnapshot(buf *transfer.Buffer, st State) error {
	return sharedstate.Publish(buf.Mem, sharedstate.Snapshot{
		Generation: st.Generation,
		GetOffset:  st.GetOffset,
		Token:      st.Token,
		Error:      st.ParseError,
		LostReason: st.ContextLostReason,
	})
}
