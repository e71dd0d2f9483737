package gateway

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/syncwatch/go/internal/protocol"
)

// Handler receives connection lifecycle events and decoded messages.
// Calls for one connection arrive in order from that connection's read
// pump; OnDisconnect is delivered exactly once.
type Handler interface {
	OnConnect(c *Connection)
	OnMessage(c *Connection, env protocol.Envelope)
	OnDisconnect(c *Connection)
}

// ConnectionManager manages WebSocket connections for the session
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  Handler
}

// Connection represents a WebSocket connection to a client. It implements
// session.Peer.
type Connection struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager

	ConnectedAt time.Time
	RemoteAddr  string

	mu       sync.Mutex
	closed   bool
	lastPing time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, handler Handler) *ConnectionManager {
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		handler: handler,
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts
// its pumps.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	now := time.Now()
	connection := &Connection{
		id:          uuid.NewString(),
		conn:        conn,
		send:        make(chan []byte, cm.config.SendBuffer),
		manager:     cm,
		ConnectedAt: now,
		RemoteAddr:  r.RemoteAddr,
		lastPing:    now,
	}

	cm.registerConnection(connection)
	cm.handler.OnConnect(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.id).
		Str("remote_addr", connection.RemoteAddr).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn] = true

	log.Debug().
		Str("connection_id", conn.id).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

// unregisterConnection removes a connection and tells the handler. Only
// the first call for a connection has any effect.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn]
	if exists {
		delete(cm.connections, conn)
	}
	cm.mu.Unlock()
	if !exists {
		return
	}

	conn.mu.Lock()
	conn.closed = true
	close(conn.send)
	conn.mu.Unlock()

	cm.handler.OnDisconnect(conn)
	log.Info().Str("connection_id", conn.id).Msg("connection unregistered")
}

// Count returns the number of open connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every connection, used on shutdown.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		cm.unregisterConnection(c)
	}
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var oldest time.Time
	for c := range cm.connections {
		if oldest.IsZero() || c.ConnectedAt.Before(oldest) {
			oldest = c.ConnectedAt
		}
	}
	stats := map[string]interface{}{
		"total_connections": len(cm.connections),
	}
	if !oldest.IsZero() {
		stats["oldest_connected_at"] = oldest
	}
	return stats
}

// ID implements session.Peer.
func (c *Connection) ID() string { return c.id }

// Alive implements session.Peer.
func (c *Connection) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Send implements session.Peer. It never blocks: a client that cannot keep
// up with its send buffer is disconnected.
func (c *Connection) Send(t protocol.MessageType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.id).Msg("failed to encode message")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
		return
	default:
	}
	c.mu.Unlock()

	log.Warn().Str("connection_id", c.id).Msg("connection send buffer full, closing connection")
	// Unregistering calls back into the handler, so it must not run on the
	// caller's goroutine, which is usually the session loop.
	go func() {
		c.manager.unregisterConnection(c)
		c.conn.Close()
	}()
}

// LastPing returns when the client last answered a transport ping.
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to write message to WebSocket")
				c.manager.unregisterConnection(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.id).
					Msg("failed to send ping")
				c.manager.unregisterConnection(c)
				return
			}
		}
	}
}

// readPump decodes client messages and hands them to the handler in order.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregisterConnection(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.id).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))

		env, err := protocol.Decode(message)
		if err != nil {
			log.Debug().Err(err).Str("connection_id", c.id).Msg("dropping undecodable client message")
			continue
		}
		c.manager.handler.OnMessage(c, env)
	}
}
