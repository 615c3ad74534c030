package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	chat "hr-messenger/client"
	"hr-messenger/errors"

	"github.com/gorilla/websocket"
)

// Dialer opens gorilla websocket connections to the gateway.
type Dialer struct {
	endpoint  string
	readWait  time.Duration
	writeWait time.Duration
	dialer    *websocket.Dialer
}

// NewDialer derives the realtime endpoint from the server base URL, for instance
// http://localhost:8080 becomes ws://localhost:8080/ws. A non-empty token is passed as query parameter.
func NewDialer(serverURL, token string, readWait, writeWait time.Duration) (*Dialer, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return &Dialer{
		endpoint:  u.String(),
		readWait:  readWait,
		writeWait: writeWait,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
	}, nil
}

func (d *Dialer) Dial(ctx context.Context) (chat.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %w", errors.ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("%w: %w", errors.ErrNotConnected, err)
	}

	c := &Conn{conn: conn, readWait: d.readWait, writeWait: d.writeWait}
	_ = conn.SetReadDeadline(time.Now().Add(d.readWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(d.readWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(d.writeWait))
	})
	return c, nil
}

// Conn is one realtime connection. Writes are serialized, gorilla allows a single writer.
type Conn struct {
	conn      *websocket.Conn
	readWait  time.Duration
	writeWait time.Duration
	mu        sync.Mutex
}

func (c *Conn) WriteFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Conn) ReadFrame() ([]byte, error) {
	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readWait))
		if kind == websocket.TextMessage {
			return frame, nil
		}
	}
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeWait))
	return c.conn.Close()
}
