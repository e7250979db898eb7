// Package sharedstate defines the snapshot record the command buffer service
// publishes into a transfer buffer for lock-free polling.
//
// The record is not written atomically. A reader checks the generation word
// before and after reading the fields and retries on mismatch; the writer
// bumps the generation by exactly one per publish.
package sharedstate

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the encoded snapshot length in bytes. A shared-state buffer must be
// at least this large.
const Size = 20

const (
	offGeneration = 0
	offGet        = 4
	offToken      = 8
	offError      = 12
	offLostReason = 16
)

var (
	// ErrShortBuffer indicates the target region cannot hold a snapshot.
	ErrShortBuffer = errors.New("shared state buffer too small")
	// ErrTornRead indicates the generation changed while reading.
	ErrTornRead = errors.New("torn shared state read")
)

// Snapshot is the denormalized state record published for external observers.
type Snapshot struct {
	Generation uint32
	GetOffset  int32
	Token      int32
	Error      int32
	LostReason int32
}

// Publish writes snap into buf. The fields land before the generation word so
// a reader that sees a stable generation sees the fields that belong to it.
func Publish(buf []byte, snap Snapshot) error {
	if len(buf) < Size {
		return fmt.Errorf("%w: %d bytes, need %d", ErrShortBuffer, len(buf), Size)
	}
	binary.LittleEndian.PutUint32(buf[offGet:], uint32(snap.GetOffset))
	binary.LittleEndian.PutUint32(buf[offToken:], uint32(snap.Token))
	binary.LittleEndian.PutUint32(buf[offError:], uint32(snap.Error))
	binary.LittleEndian.PutUint32(buf[offLostReason:], uint32(snap.LostReason))
	binary.LittleEndian.PutUint32(buf[offGeneration:], snap.Generation)
	return nil
}

// Read decodes one snapshot attempt from buf. The read is torn if the
// generation moved while the fields were being read.
func Read(buf []byte) (Snapshot, error) {
	if len(buf) < Size {
		return Snapshot{}, fmt.Errorf("%w: %d bytes, need %d", ErrShortBuffer, len(buf), Size)
	}
	before := binary.LittleEndian.Uint32(buf[offGeneration:])
	snap := Snapshot{
		Generation: before,
		GetOffset:  int32(binary.LittleEndian.Uint32(buf[offGet:])),
		Token:      int32(binary.LittleEndian.Uint32(buf[offToken:])),
		Error:      int32(binary.LittleEndian.Uint32(buf[offError:])),
		LostReason: int32(binary.LittleEndian.Uint32(buf[offLostReason:])),
	}
	after := binary.LittleEndian.Uint32(buf[offGeneration:])
	if before != after {
		return Snapshot{}, ErrTornRead
	}
	return snap, nil
}

// Poll reads buf, retrying torn reads up to attempts times.
func Poll(buf []byte, attempts int) (Snapshot, error) {
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		snap, err := Read(buf)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ErrTornRead) {
			return Snapshot{}, err
		}
		lastErr = err
	}
	return Snapshot{}, lastErr
}
