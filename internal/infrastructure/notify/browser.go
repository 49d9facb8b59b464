package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/draftforge/experiment-platform/internal/domain/alert"
)

// BrowserChannel pushes rendered alerts to connected dashboard sessions over
// websockets. A session that cannot keep up is dropped rather than allowed
// to block the hub.
type BrowserChannel struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.RWMutex
	conns map[*websocket.Conn]chan []byte
}

func NewBrowserChannel(logger *zap.Logger) *BrowserChannel {
	return &BrowserChannel{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		conns:  make(map[*websocket.Conn]chan []byte),
	}
}

func (c *BrowserChannel) Type() alert.ChannelType { return alert.ChannelBrowser }

// HandleWS upgrades a dashboard connection and registers it with the hub.
func (c *BrowserChannel) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	outbound := make(chan []byte, 16)

	c.mu.Lock()
	c.conns[conn] = outbound
	c.mu.Unlock()

	c.logger.Debug("dashboard session connected",
		zap.String("remote", conn.RemoteAddr().String()))

	go c.writeLoop(conn, outbound)
	go c.readLoop(conn)
}

func (c *BrowserChannel) writeLoop(conn *websocket.Conn, outbound chan []byte) {
	for payload := range outbound {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.drop(conn)
			return
		}
	}
}

// readLoop consumes control frames so pings are answered; any read error
// unregisters the session.
func (c *BrowserChannel) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.drop(conn)
			return
		}
	}
}

func (c *BrowserChannel) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if outbound, ok := c.conns[conn]; ok {
		delete(c.conns, conn)
		close(outbound)
	}
	c.mu.Unlock()

	conn.Close()
}

// Send broadcasts to every connected session. A full session buffer drops
// that session's message instead of blocking the broadcast.
func (c *BrowserChannel) Send(_ context.Context, msg *alert.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for conn, outbound := range c.conns {
		select {
		case outbound <- payload:
		default:
			c.logger.Warn("dashboard session slow, dropping alert",
				zap.String("remote", conn.RemoteAddr().String()))
		}
	}

	return nil
}

// Close disconnects every session.
func (c *BrowserChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for conn, outbound := range c.conns {
		close(outbound)
		conn.Close()
		delete(c.conns, conn)
	}
}
