package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	appLogger "github.com/arklim/portal-realtime/internal/infra/logger"
	"github.com/arklim/portal-realtime/internal/transport/http/middleware"
)

// HandlerOptions configures the upgrade endpoint.
type HandlerOptions struct {
	// AllowedOrigins lists browser origins allowed to connect. Empty or "*" allows any.
	AllowedOrigins []string
	Connection     ConnectionOptions
}

// Handler upgrades authenticated requests to websocket sessions.
type Handler struct {
	deps     SessionDeps
	opts     HandlerOptions
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[*Connection]*Session
	shutdown bool
	wg       sync.WaitGroup
}

// NewHandler constructs the websocket endpoint.
func NewHandler(deps SessionDeps, opts HandlerOptions) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	deps.Logger = logger

	h := &Handler{
		deps:     deps,
		opts:     opts,
		logger:   logger.Named("ws"),
		sessions: make(map[*Connection]*Session),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     middleware.NewOriginPolicy(opts.AllowedOrigins).CheckOrigin,
	}
	return h
}

// Serve godoc
// @Summary Realtime sync session
// @Description Upgrades to a websocket carrying refresh, presence and subscription frames.
// @Tags Realtime
// @Security BearerAuth
// @Param access_token query string false "Bearer token for browsers that cannot set headers"
// @Param session_id query string false "Stable id of the browser tab"
// @Success 101
// @Failure 401 {object} middleware.ErrorResponse
// @Router /api/v1/realtime/ws [get]
func (h *Handler) Serve(c *gin.Context) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, middleware.ErrorResponse{Error: "authentication required"})
		return
	}

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, middleware.ErrorResponse{Error: "shutting down"})
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	log := h.logger.With(appLogger.ContextFields(ctx)...)
	conn := NewConnection(raw, h.opts.Connection, log)

	deps := h.deps
	deps.Logger = log
	session, err := NewSession(ctx, principal, c.Query("session_id"), conn, deps)
	if err != nil {
		log.Warn("failed to start websocket session", zap.String("user_id", principal.UserID), zap.Error(err))
		_ = conn.Send(ServerFrame{Type: FrameError, Error: "session unavailable"})
		conn.Close()
		return
	}

	h.track(conn, session)
	defer h.untrack(conn)

	if err := session.Ready(); err != nil {
		h.closeSession(ctx, conn, session)
		return
	}

	if err := conn.ReadLoop(session.Handle); err != nil {
		log.Debug("websocket closed unexpectedly", zap.Error(err))
	}
	h.closeSession(ctx, conn, session)
}

// Shutdown closes every open session and waits for their handlers to return.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	open := make([]*Connection, 0, len(h.sessions))
	for conn := range h.sessions {
		open = append(open, conn)
	}
	h.mu.Unlock()

	for _, conn := range open {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the number of open sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Handler) track(conn *Connection, session *Session) {
	h.mu.Lock()
	h.sessions[conn] = session
	h.mu.Unlock()
}

func (h *Handler) untrack(conn *Connection) {
	h.mu.Lock()
	delete(h.sessions, conn)
	h.mu.Unlock()
}

func (h *Handler) closeSession(ctx context.Context, conn *Connection, session *Session) {
	conn.Close()
	if err := session.Close(ctx); err != nil {
		h.logger.Warn("failed to close presence session", zap.String("session_id", appLogger.MaskID(session.ID())), zap.Error(err))
	}
}
