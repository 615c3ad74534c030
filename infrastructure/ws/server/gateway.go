package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"hr-messenger/auth"
	"hr-messenger/domain"
	"hr-messenger/protocol"
	"hr-messenger/services"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Config struct {
	BufferSize   int
	SendTimeout  time.Duration
	WriteWait    time.Duration
	PongWait     time.Duration
	MaxFrameSize int64
	// MaxTextLength raises the read limit so that any valid text fits in one frame.
	MaxTextLength  int
	AllowedOrigins []string
}

// Gateway upgrades HTTP requests to realtime connections.
// Each connection runs its own read loop, so frames of one connection are handled in order.
type Gateway struct {
	log      *slog.Logger
	service  services.IChatService
	tokens   auth.Tokens
	cfg      Config
	upgrader websocket.Upgrader

	mu     sync.Mutex
	live   map[domain.ConnectionID]*websocket.Conn
	wg     sync.WaitGroup
	closed bool
}

func NewGateway(log *slog.Logger, service services.IChatService, tokens auth.Tokens, cfg Config) *Gateway {
	g := &Gateway{log: log, service: service, tokens: tokens, cfg: cfg, live: make(map[domain.ConnectionID]*websocket.Conn)}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.isClosed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	identity, err := g.identify(r)
	if err != nil {
		g.log.Debug("Realtime connection refused", "error", err)
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("Upgrade failed", "error", err)
		return
	}

	c := &connection{
		id:       domain.ConnectionID(uuid.NewString()),
		conn:     conn,
		sink:     NewSink(g.cfg.BufferSize),
		session:  domain.NewSession(),
		identity: identity,
		gateway:  g,
	}
	if !g.track(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(g.cfg.WriteWait))
		_ = conn.Close()
		return
	}
	defer g.untrack(c.id)
	g.log.Debug("Realtime connection opened", "connection_id", c.id)

	go c.writePump()
	c.readPump(r.Context())
}

// Close disconnects every realtime connection, refuses new ones and returns once every
// read loop has released its membership. http.Server.Shutdown leaves hijacked connections alone.
func (g *Gateway) Close() {
	g.mu.Lock()
	g.closed = true
	for id, conn := range g.live {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(g.cfg.WriteWait))
		_ = conn.Close()
		g.log.Debug("Realtime connection closed by shutdown", "connection_id", id)
	}
	g.mu.Unlock()
	g.wg.Wait()
}

func (g *Gateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *Gateway) track(c *connection) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.live[c.id] = c.conn
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(id domain.ConnectionID) {
	g.mu.Lock()
	delete(g.live, id)
	g.mu.Unlock()
	g.wg.Done()
}

// identify returns the user bound to the token, or "" when authentication is disabled.
func (g *Gateway) identify(r *http.Request) (string, error) {
	if !g.tokens.Enabled() {
		return "", nil
	}
	raw := r.URL.Query().Get("token")
	if raw == "" {
		bearer, err := auth.FromBearer(r.Header.Get("Authorization"))
		if err != nil {
			return "", err
		}
		raw = bearer
	}
	claims, err := g.tokens.ValidateToken(raw)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 || slices.Contains(g.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(g.cfg.AllowedOrigins, origin)
}

// readLimit is MaxFrameSize, raised when it cannot carry the longest valid text.
func (g *Gateway) readLimit() int64 {
	if g.cfg.MaxTextLength <= 0 {
		return g.cfg.MaxFrameSize
	}
	return max(g.cfg.MaxFrameSize, protocol.FrameLimit(g.cfg.MaxTextLength))
}

func (g *Gateway) pingPeriod() time.Duration {
	return g.cfg.PongWait * 9 / 10
}

// sendContext bounds the persistence of one sendMessage.
func (g *Gateway) sendContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, g.cfg.SendTimeout)
}
