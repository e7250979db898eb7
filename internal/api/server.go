package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cmdbuf/cmdbuf/internal/auth"
	"github.com/cmdbuf/cmdbuf/internal/cmdbuf"
	"github.com/cmdbuf/cmdbuf/internal/events"
	"github.com/cmdbuf/cmdbuf/internal/journal"
	"github.com/cmdbuf/cmdbuf/internal/sharedstate"
	"github.com/cmdbuf/cmdbuf/internal/transfer"
)

// CommandBuffer is the service surface the API maps onto HTTP. The in-process
// registration path (RegisterTransferBuffer) is deliberately absent: a caller
// cannot hand a memory region across an HTTP boundary.
type CommandBuffer interface {
	Initialize() error
	GetState() cmdbuf.State
	GetLastState() cmdbuf.State
	Flush(putOffset int32) error
	FlushSync(ctx context.Context, putOffset, lastKnownGet int32) (cmdbuf.State, error)
	SetGetBuffer(id int32) error
	SetGetOffset(getOffset int32) error
	CreateTransferBuffer(size int, idRequest int32) (int32, error)
	DestroyTransferBuffer(id int32) error
	GetTransferBuffer(id int32) (*transfer.Buffer, bool)
	TransferBuffers() []*transfer.Buffer
	TotalBytes() int64
	SetToken(token int32)
	SetParseError(code int32)
	SetContextLostReason(reason int32)
	SetSharedStateBuffer(id int32) error
	UpdateState() error
	ReadSharedState() (sharedstate.Snapshot, error)
}

// FaultJournal is the slice of the journal the API consumes. Nil disables
// journaling.
type FaultJournal interface {
	RecordBufferEvent(ctx context.Context, ev journal.BufferEvent) error
	RecordFault(ctx context.Context, f journal.Fault) error
	RecentBufferEvents(ctx context.Context, limit int) ([]journal.BufferEvent, error)
	RecentFaults(ctx context.Context, limit int) ([]journal.Fault, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	APIKey string
	// FlushSyncTimeout bounds blocking flush-sync requests. Zero means no
	// bound beyond the client's patience.
	FlushSyncTimeout time.Duration
}

// Server is the HTTP face of the command buffer service.
type Server struct {
	config    Config
	svc       CommandBuffer
	journal   FaultJournal
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance.
func New(config Config, svc CommandBuffer, fj FaultJournal, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		svc:       svc,
		journal:   fj,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.writeTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// writeTimeout leaves flush-sync requests room to block.
func (s *Server) writeTimeout() time.Duration {
	if s.config.FlushSyncTimeout <= 0 {
		return 10 * time.Minute
	}
	return s.config.FlushSyncTimeout + 10*time.Second
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/v1/state", s.handleGetState)
		r.Get("/v1/last-state", s.handleGetLastState)
		r.Post("/v1/initialize", s.handleInitialize)

		r.Post("/v1/flush", s.handleFlush)
		r.Post("/v1/flush-sync", s.handleFlushSync)
		r.Post("/v1/ring", s.handleSetGetBuffer)
		r.Post("/v1/get-offset", s.handleSetGetOffset)
		r.Post("/v1/token", s.handleSetToken)
		r.Post("/v1/parse-error", s.handleSetParseError)
		r.Post("/v1/context-lost", s.handleSetContextLost)

		r.Get("/v1/transfer-buffers", s.handleListBuffers)
		r.Post("/v1/transfer-buffers", s.handleCreateBuffer)
		r.Get("/v1/transfer-buffers/{id}", s.handleGetBuffer)
		r.Get("/v1/transfer-buffers/{id}/contents", s.handleGetBufferContents)
		r.Delete("/v1/transfer-buffers/{id}", s.handleDestroyBuffer)

		r.Post("/v1/shared-state", s.handleSetSharedState)
		r.Post("/v1/shared-state/update", s.handleUpdateState)
		r.Get("/v1/shared-state", s.handleReadSharedState)

		r.Get("/v1/events", s.handleEvents)
		r.Get("/v1/journal/buffers", s.handleJournalBuffers)
		r.Get("/v1/journal/faults", s.handleJournalFaults)
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !auth.Authenticate(token, s.config.APIKey) {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
