package api

import "github.com/cmdbuf/cmdbuf/internal/cmdbuf"

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse reports daemon liveness plus coarse registry stats.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	BufferCount   int    `json:"buffer_count"`
	TotalBytes    int64  `json:"total_bytes"`
	ContextLost   bool   `json:"context_lost"`
}

// StateResponse wraps the service state.
type StateResponse struct {
	State cmdbuf.State `json:"state"`
}

// FlushRequest publishes a new put offset.
type FlushRequest struct {
	PutOffset int32 `json:"put_offset"`
}

// FlushSyncRequest publishes a put offset and blocks for consumer progress.
type FlushSyncRequest struct {
	PutOffset    int32 `json:"put_offset"`
	LastKnownGet int32 `json:"last_known_get"`
}

// SetGetBufferRequest rebinds the command ring.
type SetGetBufferRequest struct {
	BufferID int32 `json:"buffer_id"`
}

// SetGetOffsetRequest acknowledges consumer progress.
type SetGetOffsetRequest struct {
	GetOffset int32 `json:"get_offset"`
}

// SetTokenRequest stamps a fence token.
type SetTokenRequest struct {
	Token int32 `json:"token"`
}

// SetParseErrorRequest latches a parse error code.
type SetParseErrorRequest struct {
	Code int32 `json:"code"`
}

// SetContextLostRequest latches a context-lost reason.
type SetContextLostRequest struct {
	Reason int32 `json:"reason"`
}

// CreateBufferRequest allocates a transfer buffer. IDRequest of -1 lets the
// registry choose the handle.
type CreateBufferRequest struct {
	Size      int   `json:"size"`
	IDRequest int32 `json:"id_request"`
}

// BufferInfo describes one live transfer buffer.
type BufferInfo struct {
	ID     int32 `json:"id"`
	Size   int   `json:"size"`
	Shared bool  `json:"shared"`
}

// BufferListResponse lists live buffers plus registry totals.
type BufferListResponse struct {
	Buffers    []BufferInfo `json:"buffers"`
	TotalBytes int64        `json:"total_bytes"`
}

// CreateBufferResponse returns the issued handle.
type CreateBufferResponse struct {
	ID int32 `json:"id"`
}

// SharedStateRequest binds the snapshot target buffer.
type SharedStateRequest struct {
	BufferID int32 `json:"buffer_id"`
}

// SharedStateResponse is the decoded snapshot as read back from the bound
// buffer, the way an external poller would see it.
type SharedStateResponse struct {
	Generation uint32 `json:"generation"`
	GetOffset  int32  `json:"get_offset"`
	Token      int32  `json:"token"`
	Error      int32  `json:"error"`
	LostReason int32  `json:"lost_reason"`
}
