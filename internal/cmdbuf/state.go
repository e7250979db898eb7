package cmdbuf

// EntrySize is the fixed byte stride of one command entry in a ring buffer.
// A ring bound to a buffer of S bytes holds S / EntrySize entries.
const EntrySize = 64

// State is the observable service state returned from every state query.
// ParseError and ContextLostReason are sticky: once non-zero they survive
// every later operation until Initialize.
type State struct {
	NumEntries        int32  `json:"num_entries"`
	GetOffset         int32  `json:"get_offset"`
	PutOffset         int32  `json:"put_offset"`
	Token             int32  `json:"token"`
	ParseError        int32  `json:"parse_error"`
	ContextLostReason int32  `json:"context_lost_reason"`
	Generation        uint32 `json:"generation"`
}

// Healthy reports whether neither latch has fired.
func (s State) Healthy() bool {
	return s.ParseError == ParseNoError && s.ContextLostReason == NotLost
}
