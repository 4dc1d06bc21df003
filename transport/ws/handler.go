package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/coordinator"
)

// Coordinator is the part of the coordinator a connection talks to.
type Coordinator interface {
	Connect(conn coordinator.Conn) core.SessionID
	Handle(ctx context.Context, id core.SessionID, raw []byte) error
	Disconnect(id core.SessionID)
}

type Config struct {
	SendQueue      int
	MessageRate    float64
	MessageBurst   int
	MaxMessageSize int64
}

// Handler upgrades HTTP requests into validator sessions.
type Handler struct {
	cfg      Config
	coord    Coordinator
	logger   *zap.Logger
	upgrader websocket.Upgrader
	ctx      context.Context

	mu       sync.Mutex
	conns    map[*conn]struct{}
	draining bool
}

// NewHandler serves the validator channel. ctx bounds the lifetime of every
// session it accepts: once it is done, live sessions are closed and new
// upgrades are refused.
func NewHandler(ctx context.Context, cfg Config, coord Coordinator, logger *zap.Logger) *Handler {
	h := &Handler{
		cfg:    cfg,
		coord:  coord,
		logger: logger.Named("ws"),
		ctx:    ctx,
		conns:  make(map[*conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// validators connect from browser extensions and nodes alike
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	go h.drainOnDone()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	c := newConn(socket, h.cfg.SendQueue)
	if !h.track(c) {
		_ = socket.Close()
		return
	}
	id := h.coord.Connect(c)
	logger := h.logger.With(zap.String("session", string(id)), zap.String("remote", r.RemoteAddr))
	logger.Debug("validator connected")

	go c.writePump()
	go h.readPump(c, id, logger)
}

// readPump feeds inbound frames to the coordinator until the socket fails,
// the peer floods it or sends an undecodable frame.
func (h *Handler) readPump(c *conn, id core.SessionID, logger *zap.Logger) {
	defer func() {
		h.coord.Disconnect(id)
		_ = c.Close()
		h.untrack(c)
		logger.Debug("validator disconnected")
	}()

	limiter := rate.NewLimiter(rate.Limit(h.cfg.MessageRate), h.cfg.MessageBurst)
	c.ws.SetReadLimit(h.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("read failed", zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			logger.Warn("inbound rate exceeded")
			return
		}
		if err := h.coord.Handle(h.ctx, id, raw); err != nil {
			if errors.Is(err, core.ErrMalformedMessage) {
				logger.Warn("dropping connection", zap.Error(err))
				return
			}
			logger.Error("failed to handle message", zap.Error(err))
		}
	}
}

func (h *Handler) track(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

// drainOnDone closes every live session once ctx is done. Hijacked sockets
// are not closed by http.Server.Shutdown.
func (h *Handler) drainOnDone() {
	<-h.ctx.Done()

	h.mu.Lock()
	h.draining = true
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	if len(conns) > 0 {
		h.logger.Info("closed validator sessions", zap.Int("count", len(conns)))
	}
}
