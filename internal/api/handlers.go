package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cmdbuf/cmdbuf/internal/cmdbuf"
	"github.com/cmdbuf/cmdbuf/internal/events"
	"github.com/cmdbuf/cmdbuf/internal/journal"
	"github.com/cmdbuf/cmdbuf/internal/sharedstate"
	"github.com/cmdbuf/cmdbuf/internal/transfer"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.svc.GetState()
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		BufferCount:   len(s.svc.TransferBuffers()),
		TotalBytes:    s.svc.TotalBytes(),
		ContextLost:   st.ContextLostReason != cmdbuf.NotLost,
	}
	if resp.ContextLost {
		resp.Status = "context_lost"
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StateResponse{State: s.svc.GetState()})
}

func (s *Server) handleGetLastState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StateResponse{State: s.svc.GetLastState()})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Initialize(); err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, StateResponse{State: s.svc.GetState()})
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	var req FlushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.svc.Flush(req.PutOffset); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.hub.Publish(events.TypeFlush, map[string]any{"put_offset": req.PutOffset})
	respondJSON(w, http.StatusOK, StateResponse{State: s.svc.GetState()})
}

func (s *Server) handleFlushSync(w http.ResponseWriter, r *http.Request) {
	var req FlushSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	if s.config.FlushSyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.FlushSyncTimeout)
		defer cancel()
	}

	st, err := s.svc.FlushSync(ctx, req.PutOffset, req.LastKnownGet)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusGatewayTimeout, "consumer made no progress before the flush-sync timeout")
			return
		}
		s.writeServiceError(w, err)
		return
	}

	s.hub.Publish(events.TypeFlush, map[string]any{"put_offset": req.PutOffset, "sync": true})
	respondJSON(w, http.StatusOK, StateResponse{State: st})
}

func (s *Server) handleSetGetBuffer(w http.ResponseWriter, r *http.Request) {
	var req SetGetBufferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.svc.SetGetBuffer(req.BufferID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.hub.Publish(events.TypeRingBound, map[string]any{"buffer_id": req.BufferID})
	respondJSON(w, http.StatusOK, StateResponse{State: s.svc.GetState()})
}

func (s *Server) handleSetGetOffset(w http.ResponseWriter, r *http.Request) {
	var req SetGetOffsetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.svc.SetGetOffset(req.GetOffset); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.hub.Publish(events.TypeGetOffset, map[string]any{"get_offset": req.GetOffset})
	respondJSON(w, http.StatusOK, StateResponse{State: s.svc.GetState()})
}

func (s *Server) handleSetToken(w http.ResponseWriter, r *http.Request) {
	var req SetTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.svc.SetToken(req.Token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetParseError(w http.ResponseWriter, r *http.Request) {
	var req SetParseErrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.svc.SetParseError(req.Code)
	st := s.svc.GetState()
	s.hub.Publish(events.TypeParseError, map[string]any{"code": st.ParseError})
	s.recordFault(r.Context(), journal.KindParseError, st.ParseError, st)
	respondJSON(w, http.StatusOK, StateResponse{State: st})
}

func (s *Server) handleSetContextLost(w http.ResponseWriter, r *http.Request) {
	var req SetContextLostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	s.svc.SetContextLostReason(req.Reason)
	st := s.svc.GetState()
	s.hub.Publish(events.TypeContextLost, map[string]any{"reason": st.ContextLostReason})
	s.recordFault(r.Context(), journal.KindContextLost, st.ContextLostReason, st)
	respondJSON(w, http.StatusOK, StateResponse{State: st})
}

func (s *Server) handleListBuffers(w http.ResponseWriter, r *http.Request) {
	buffers := s.svc.TransferBuffers()
	resp := BufferListResponse{
		Buffers:    make([]BufferInfo, 0, len(buffers)),
		TotalBytes: s.svc.TotalBytes(),
	}
	for _, b := range buffers {
		resp.Buffers = append(resp.Buffers, BufferInfo{ID: b.ID, Size: b.Size(), Shared: b.Shared})
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateBuffer(w http.ResponseWriter, r *http.Request) {
	req := CreateBufferRequest{IDRequest: transfer.IDAuto}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := s.svc.CreateTransferBuffer(req.Size, req.IDRequest)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.hub.Publish(events.TypeBufferCreated, map[string]any{"buffer_id": id, "size": req.Size})
	s.recordBufferEvent(r.Context(), journal.ActionCreated, id, req.Size, false)
	respondJSON(w, http.StatusCreated, CreateBufferResponse{ID: id})
}

func (s *Server) handleGetBuffer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bufferIDParam(w, r)
	if !ok {
		return
	}
	buf, found := s.svc.GetTransferBuffer(id)
	if !found {
		s.writeError(w, http.StatusNotFound, "transfer buffer not found")
		return
	}
	respondJSON(w, http.StatusOK, BufferInfo{ID: buf.ID, Size: buf.Size(), Shared: buf.Shared})
}

func (s *Server) handleGetBufferContents(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bufferIDParam(w, r)
	if !ok {
		return
	}
	buf, found := s.svc.GetTransferBuffer(id)
	if !found {
		s.writeError(w, http.StatusNotFound, "transfer buffer not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Mem)
}

func (s *Server) handleDestroyBuffer(w http.ResponseWriter, r *http.Request) {
	id, ok := s.bufferIDParam(w, r)
	if !ok {
		return
	}

	size := 0
	shared := false
	if buf, found := s.svc.GetTransferBuffer(id); found {
		size = buf.Size()
		shared = buf.Shared
	}

	if err := s.svc.DestroyTransferBuffer(id); err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.hub.Publish(events.TypeBufferDestroyed, map[string]any{"buffer_id": id})
	s.recordBufferEvent(r.Context(), journal.ActionDestroyed, id, size, shared)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetSharedState(w http.ResponseWriter, r *http.Request) {
	var req SharedStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.svc.SetSharedStateBuffer(req.BufferID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.UpdateState(); err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, StateResponse{State: s.svc.GetState()})
}

func (s *Server) handleReadSharedState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.ReadSharedState()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SharedStateResponse{
		Generation: snap.Generation,
		GetOffset:  snap.GetOffset,
		Token:      snap.Token,
		Error:      snap.Error,
		LostReason: snap.LostReason,
	})
}

// handleEvents handles GET /v1/events?after=N: a polling snapshot of recent
// events, oldest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid after parameter")
			return
		}
		after = parsed
	}
	respondJSON(w, http.StatusOK, s.hub.SnapshotSince(after))
}

func (s *Server) handleJournalBuffers(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	rows, err := s.journal.RecentBufferEvents(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error("failed to list buffer journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list buffer journal")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (s *Server) handleJournalFaults(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}
	rows, err := s.journal.RecentFaults(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error("failed to list fault journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list fault journal")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

// --- helpers ---

func (s *Server) bufferIDParam(w http.ResponseWriter, r *http.Request) (int32, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || id < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid buffer id")
		return 0, false
	}
	return int32(id), true
}

func queryLimit(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// recordBufferEvent journals best-effort; a journal failure is logged, never
// surfaced.
func (s *Server) recordBufferEvent(ctx context.Context, action string, id int32, size int, shared bool) {
	if s.journal == nil {
		return
	}
	err := s.journal.RecordBufferEvent(ctx, journal.BufferEvent{
		Action:     action,
		BufferID:   id,
		Size:       size,
		Shared:     shared,
		TotalBytes: s.svc.TotalBytes(),
	})
	if err != nil {
		s.logger.Warn("failed to journal buffer event", "action", action, "buffer_id", id, "error", err)
	}
}

func (s *Server) recordFault(ctx context.Context, kind string, code int32, st cmdbuf.State) {
	if s.journal == nil || code == 0 {
		return
	}
	err := s.journal.RecordFault(ctx, journal.Fault{
		Kind:  kind,
		Code:  code,
		Put:   st.PutOffset,
		Get:   st.GetOffset,
		Token: st.Token,
	})
	if err != nil {
		s.logger.Warn("failed to journal fault", "kind", kind, "error", err)
	}
}

// writeServiceError maps service errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transfer.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, cmdbuf.ErrOutOfBounds):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, transfer.ErrAllocation):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, cmdbuf.ErrGetBufferRejected):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, cmdbuf.ErrNoSharedStateBuffer):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sharedstate.ErrShortBuffer):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}
