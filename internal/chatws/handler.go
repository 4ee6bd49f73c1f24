// Package chatws is the websocket transport for the dialogue engine:
// one connection per client, inbound envelopes fed to the engine,
// outbound replies written back on the same socket.
package chatws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/pkg/logging"
)

const (
	writeTimeout = 10 * time.Second
	turnTimeout  = 60 * time.Second
)

// Handler upgrades chat connections and pumps messages through the
// engine.
type Handler struct {
	engine   *engine.Engine
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*wsConn // client_id -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func NewHandler(eng *engine.Engine, logger *logging.Logger) *Handler {
	if eng == nil {
		panic("chatws: engine cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		engine: eng,
		logger: logger.Named("chatws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The widget is embedded on arbitrary sites.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*wsConn),
	}
}

// ServeHTTP upgrades the connection and runs the read loop until the
// client disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := strings.TrimSpace(r.URL.Query().Get("client"))
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	wsc := &wsConn{conn: conn}

	h.mu.Lock()
	if old, ok := h.conns[clientID]; ok {
		old.conn.Close()
	}
	h.conns[clientID] = wsc
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if h.conns[clientID] == wsc {
			delete(h.conns, clientID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	// Tell the client which id it is speaking as, so reconnects can
	// resume the same session.
	greeting := engine.NewBotEnvelope(clientID, "", "")
	greeting.Type = engine.TypeOnboarding
	if err := wsc.writeJSON(greeting); err != nil {
		h.logger.Warn("failed to send onboarding envelope", "client_id", clientID, "error", err)
		return
	}

	h.logger.Info("client connected", "client_id", clientID)
	h.readLoop(r.Context(), clientID, wsc)
	h.logger.Info("client disconnected", "client_id", clientID)
}

func (h *Handler) readLoop(ctx context.Context, clientID string, wsc *wsConn) {
	for {
		_, data, err := wsc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "client_id", clientID, "error", err)
			}
			return
		}

		env, err := engine.ParseEnvelope(data)
		if err != nil {
			h.logger.Warn("dropping malformed envelope", "client_id", clientID, "error", err)
			continue
		}
		if strings.TrimSpace(env.Message) == "" {
			continue
		}

		turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
		// The engine queues fully stamped envelopes; write them
		// through verbatim.
		err = h.engine.HandleMessage(turnCtx, clientID, env.Message, func(ctx context.Context, payload string) error {
			return wsc.writeRaw([]byte(payload))
		})
		cancel()
		if err != nil {
			h.logger.Error("turn failed", "client_id", clientID, "error", err)
		}
	}
}

// Connected reports whether a client currently holds a connection.
func (h *Handler) Connected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[clientID]
	return ok
}
