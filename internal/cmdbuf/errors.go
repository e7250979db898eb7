package cmdbuf

import "errors"

// Parse error codes reported by the command consumer. The zero value means no
// error; anything else latches until Initialize.
const (
	ParseNoError          int32 = 0
	ParseInvalidSize      int32 = 1
	ParseOutOfBounds      int32 = 2
	ParseUnknownCommand   int32 = 3
	ParseInvalidArguments int32 = 4
	ParseGenericError     int32 = 5
)

// Context lost reason codes. The zero value means the context is live.
const (
	NotLost      int32 = 0
	LostGuilty   int32 = 1
	LostInnocent int32 = 2
	LostUnknown  int32 = 3
)

var (
	// ErrOutOfBounds indicates an offset outside [0, entry_count).
	ErrOutOfBounds = errors.New("offset out of bounds")
	// ErrNoSharedStateBuffer indicates UpdateState was called before
	// SetSharedStateBuffer.
	ErrNoSharedStateBuffer = errors.New("shared state buffer not set")
	// ErrGetBufferRejected indicates the consumer declined a ring rebind.
	ErrGetBufferRejected = errors.New("get buffer change rejected by consumer")
)
