package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mcdev12/syncwatch/go/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

// ErrClosed is returned by Send after the connection is closed.
var ErrClosed = errors.New("client: connection closed")

// Conn is a websocket connection to the session server. Send is safe for
// concurrent use; ReadLoop must run on a single goroutine.
type Conn struct {
	ws  *websocket.Conn
	log zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// Dial connects to the server's websocket endpoint.
func Dial(ctx context.Context, url string, header http.Header, logger zerolog.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(maxMessageSize)
	return &Conn{ws: ws, log: logger.With().Str("server", url).Logger()}, nil
}

// Send implements Sender.
func (c *Conn) Send(t protocol.MessageType, payload any) error {
	raw, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s: %w", t, err)
	}
	return nil
}

// ReadLoop reads messages until the connection fails or ctx ends, handing
// each decoded envelope to deliver. It returns nil on a clean close.
func (c *Conn) ReadLoop(ctx context.Context, deliver func(protocol.Envelope)) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable message")
			continue
		}
		deliver(env)
	}
}

// Close sends a close frame and tears down the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.ws.Close()
}
