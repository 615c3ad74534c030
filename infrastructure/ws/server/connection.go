package server

import (
	"context"
	"fmt"
	"time"

	"hr-messenger/domain"
	"hr-messenger/domain/event"
	"hr-messenger/errors"
	"hr-messenger/protocol"

	"github.com/gorilla/websocket"
)

// connection is one realtime client. Only readPump mutates session.
type connection struct {
	id       domain.ConnectionID
	conn     *websocket.Conn
	sink     *Sink
	session  domain.Session
	identity string
	gateway  *Gateway
}

func (c *connection) readPump(ctx context.Context) {
	log := c.gateway.log
	defer func() {
		c.gateway.service.Leave(c.id)
		c.session, _ = c.session.Apply(domain.CloseEvent())
		c.sink.Close()
		_ = c.conn.Close()
		log.Debug("Realtime connection closed", "connection_id", c.id, "user_id", c.session.UserID)
	}()

	c.conn.SetReadLimit(c.gateway.readLimit())
	_ = c.conn.SetReadDeadline(time.Now().Add(c.gateway.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.gateway.cfg.PongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("Realtime read failed", "connection_id", c.id, "error", err)
			}
			return
		}
		c.handle(ctx, frame)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.gateway.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case evt := <-c.sink.Events():
			frame, err := protocol.EncodeEvent(evt)
			if err != nil {
				c.gateway.log.Error("Event not encodable", "connection_id", c.id, "error", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.gateway.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.gateway.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.sink.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.gateway.cfg.WriteWait))
			return
		}
	}
}

func (c *connection) handle(ctx context.Context, frame []byte) {
	envelope, err := protocol.Decode(frame)
	if err != nil {
		c.reject(ctx, "", err)
		return
	}

	switch envelope.Action {
	case protocol.ActionJoin:
		c.join(ctx, envelope)
	case protocol.ActionSendMessage:
		c.send(ctx, envelope)
	default:
		c.reject(ctx, "", fmt.Errorf("%w: %q", errors.ErrUnknownAction, envelope.Action))
	}
}

func (c *connection) join(ctx context.Context, envelope protocol.Envelope) {
	userID, err := protocol.DecodeJoin(envelope.Payload)
	if err != nil {
		c.reject(ctx, "", err)
		return
	}
	if c.identity != "" && userID != c.identity {
		c.reject(ctx, "", fmt.Errorf("%w: token is bound to another user", errors.ErrForbidden))
		return
	}
	next, err := c.session.Apply(domain.JoinEvent(userID))
	if err != nil {
		c.reject(ctx, "", err)
		return
	}
	if _, err := c.gateway.service.Join(c.id, userID, c.sink); err != nil {
		c.reject(ctx, "", err)
		return
	}
	c.session = next
	c.gateway.log.Debug("Connection joined", "connection_id", c.id, "user_id", userID)
	c.reply(ctx, event.Joined{UserID: userID})
}

func (c *connection) send(ctx context.Context, envelope protocol.Envelope) {
	cmd, err := protocol.DecodeSendMessage(envelope.Payload)
	if err != nil {
		c.reject(ctx, "", err)
		return
	}
	if _, err := c.session.Apply(domain.SendEvent()); err != nil {
		c.reject(ctx, cmd.ClientID, err)
		return
	}
	if cmd.SenderID != c.session.UserID {
		c.reject(ctx, cmd.ClientID, fmt.Errorf("%w: %q", errors.ErrSenderMismatch, cmd.SenderID))
		return
	}

	sendCtx, cancel := c.gateway.sendContext(ctx)
	defer cancel()
	message, err := c.gateway.service.SendMessage(sendCtx, c.id, cmd)
	if err != nil {
		c.reject(ctx, cmd.ClientID, err)
		return
	}
	c.reply(ctx, event.MessageAcked{ClientID: cmd.ClientID, Message: message})
}

// reject reports err to this connection only.
func (c *connection) reject(ctx context.Context, clientID string, err error) {
	c.gateway.log.Debug("Action rejected", "connection_id", c.id, "user_id", c.session.UserID, "error", err)
	c.reply(ctx, event.Rejected(c.session.UserID, clientID, err))
}

func (c *connection) reply(ctx context.Context, evt event.DomainEvent) {
	replyCtx, cancel := context.WithTimeout(ctx, c.gateway.cfg.WriteWait)
	defer cancel()
	if err := c.sink.Consume(replyCtx, evt); err != nil {
		c.gateway.log.Debug("Reply dropped", "connection_id", c.id, "error", err)
	}
}
