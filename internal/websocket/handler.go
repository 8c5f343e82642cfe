package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairchat/internal/metrics"
	"pairchat/pkg/types"
)

// Dispatcher is the event loop side of a connection
type Dispatcher interface {
	Dispatch(connectionID string, frame []byte) error
	Connected(connectionID, roomID string) error
	Disconnected(connectionID string) error
}

// Handler upgrades HTTP requests and runs each connection's read pump
type Handler struct {
	registry   *Registry
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	opts       Options
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewHandler creates a WebSocket handler
func NewHandler(registry *Registry, dispatcher Dispatcher, opts Options, logger *zap.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			// anonymous service, no cookies to protect
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		opts:    opts,
		logger:  logger.Named("websocket"),
		metrics: m,
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket upgrades the request. An optional roomId query parameter asks to
// rejoin an existing room.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	if roomID != "" && !types.IsValidID(roomID) {
		http.Error(w, "Invalid roomId format", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	conn := NewConnection(ws, h.opts)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("failed to register connection", zap.String("connection_id", conn.ID()), zap.Error(err))
		_ = conn.Close()
		return
	}

	if err := h.dispatcher.Connected(conn.ID(), roomID); err != nil {
		h.logger.Warn("event loop refused connection", zap.String("connection_id", conn.ID()), zap.Error(err))
		h.registry.Unregister(conn)
		_ = conn.Close()
		return
	}

	h.metrics.ConnectionOpened()
	h.logger.Debug("connection opened",
		zap.String("connection_id", conn.ID()),
		zap.String("remote_addr", conn.RemoteAddr()),
		zap.String("room_id", roomID))

	go h.readPump(conn)
}

// readPump forwards text frames to the event loop until the socket fails
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		if err := h.dispatcher.Disconnected(conn.ID()); err != nil {
			h.logger.Debug("disconnect not delivered", zap.String("connection_id", conn.ID()), zap.Error(err))
		}
		h.metrics.ConnectionClosed()
		h.logger.Debug("connection closed", zap.String("connection_id", conn.ID()))
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageBytes)
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket read error", zap.String("connection_id", conn.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		// any frame proves liveness
		_ = ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))

		if err := h.dispatcher.Dispatch(conn.ID(), data); err != nil {
			h.logger.Info("dropped inbound frame", zap.String("connection_id", conn.ID()), zap.Error(err))
		}
	}
}
