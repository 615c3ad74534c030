// Package client holds the chat client controller: the realtime link lifecycle, the
// active conversation and the optimistic local copies of sent messages.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"hr-messenger/domain"
	"hr-messenger/errors"
	"hr-messenger/protocol"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Config struct {
	AckTimeout    time.Duration
	ReconnectMin  time.Duration
	ReconnectMax  time.Duration
	MaxTextLength int
}

// LocalMessage is a message of the active conversation as the user sees it.
type LocalMessage struct {
	domain.Message
	Delivery domain.DeliveryState
	Error    string
}

// Snapshot is a copy of the controller state, safe to keep.
type Snapshot struct {
	State    State
	Self     string
	Active   string
	Messages []LocalMessage
	Unread   map[string]int
}

// Controller is the client side of direct messaging.
// Local sends, pushes and history loads all mutate state through update.
type Controller struct {
	log     *slog.Logger
	dialer  Dialer
	api     HistoryAPI
	cfg     Config
	newID   func() string
	updates chan struct{}

	mu          sync.Mutex
	state       State
	self        string
	active      string
	messages    []LocalMessage
	parked      map[string][]LocalMessage // unconfirmed local copies of inactive conversations
	unread      map[string]int
	conn        Conn
	timers      map[string]*time.Timer
	connections int
}

func NewController(log *slog.Logger, dialer Dialer, api HistoryAPI, cfg Config) *Controller {
	return &Controller{
		log:     log,
		dialer:  dialer,
		api:     api,
		cfg:     cfg,
		newID:   uuid.NewString,
		updates: make(chan struct{}, 1),
		state:   Disconnected,
		unread:  make(map[string]int),
		parked:  make(map[string][]LocalMessage),
		timers:  make(map[string]*time.Timer),
	}
}

// SetIdentity establishes who the controller acts as. It can only be set once.
func (c *Controller) SetIdentity(userID string) error {
	if err := domain.ValidateUserID(userID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self != "" && c.self != userID {
		return fmt.Errorf("%w: identity is %q", errors.ErrAlreadyJoined, c.self)
	}
	c.self = userID
	return nil
}

// Updates signals that the snapshot changed. Signals are coalesced.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:    c.state,
		Self:     c.self,
		Active:   c.active,
		Messages: slices.Clone(c.messages),
		Unread:   maps.Clone(c.unread),
	}
}

// Run keeps the realtime link up until ctx is done. After every (re)connection the
// controller joins again, and after a reconnection it reloads the active conversation.
func (c *Controller) Run(ctx context.Context) error {
	if _, err := c.identity(); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectMin
	bo.MaxInterval = c.cfg.ReconnectMax

	for {
		c.setState(Connecting)
		conn, err := c.connect(ctx)
		if err == nil {
			bo.Reset()
			err = c.readLoop(ctx, conn)
			c.detach(conn)
		}
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return nil
		}

		wait := bo.NextBackOff()
		c.log.Warn("Realtime link lost, reconnecting", "error", err, "retry_in", wait)
		c.setState(Reconnecting)
		select {
		case <-ctx.Done():
			c.setState(Disconnected)
			return nil
		case <-time.After(wait):
		}
	}
}

func (c *Controller) connect(ctx context.Context) (Conn, error) {
	self, err := c.identity()
	if err != nil {
		return nil, err
	}
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	frame, err := protocol.JoinFrame(self)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteFrame(frame); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.update(func() { c.conn = conn })
	return conn, nil
}

func (c *Controller) detach(conn Conn) {
	_ = conn.Close()
	c.update(func() {
		if c.conn == conn {
			c.conn = nil
		}
	})
}

func (c *Controller) readLoop(ctx context.Context, conn Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		c.handleFrame(ctx, frame)
	}
}

func (c *Controller) handleFrame(ctx context.Context, frame []byte) {
	envelope, err := protocol.Decode(frame)
	if err != nil {
		c.log.Warn("Unreadable frame", "error", err)
		return
	}

	switch envelope.Action {
	case protocol.ActionJoined:
		c.onJoined(ctx)
	case protocol.ActionReceiveMessage:
		message, err := protocol.DecodeMessage(envelope.Payload)
		if err != nil {
			c.log.Warn("Unreadable push", "error", err)
			return
		}
		c.onPush(message)
	case protocol.ActionMessageAck:
		ack, err := protocol.DecodeAck(envelope.Payload)
		if err != nil {
			c.log.Warn("Unreadable ack", "error", err)
			return
		}
		c.confirm(ack.ClientID, ack.Message)
	case protocol.ActionError:
		p, err := protocol.DecodeError(envelope.Payload)
		if err != nil {
			c.log.Warn("Unreadable error frame", "error", err)
			return
		}
		if p.ClientID == "" {
			c.log.Warn("Gateway rejected an action", "kind", p.Kind, "error", p.Error)
			return
		}
		c.fail(p.ClientID, p.Error)
	default:
		c.log.Debug("Ignoring frame", "action", envelope.Action)
	}
}

func (c *Controller) onJoined(ctx context.Context) {
	var reconnected bool
	c.update(func() {
		c.connections++
		reconnected = c.connections > 1
	})
	c.setState(Ready)
	if reconnected {
		go c.catchUp(ctx)
	}
}

// catchUp reloads what pushes may have missed while the link was down.
func (c *Controller) catchUp(ctx context.Context) {
	if err := c.LoadUnread(ctx); err != nil {
		c.log.Warn("Unread counts not refreshed", "error", err)
	}
	c.mu.Lock()
	self, active := c.self, c.active
	c.mu.Unlock()
	if active == "" {
		return
	}
	history, err := c.api.History(ctx, self, active)
	if err != nil {
		c.log.Warn("History not refreshed after reconnect", "counterpart", active, "error", err)
		return
	}
	c.update(func() {
		if c.active == active {
			c.messages = c.merge(history, c.messages)
		}
	})
}

// onPush appends a message of the active conversation, or counts it as unread.
func (c *Controller) onPush(message domain.Message) {
	c.update(func() {
		if message.ReceiverID != c.self && message.SenderID != c.self {
			return
		}
		counterpart := message.Counterpart(c.self)
		if counterpart == c.active {
			if !lo.ContainsBy(c.messages, func(m LocalMessage) bool { return m.ID == message.ID }) {
				c.messages = append(c.messages, LocalMessage{Message: message, Delivery: domain.Received})
			}
			return
		}
		if message.SenderID != c.self {
			c.unread[counterpart]++
		}
	})
}

// Select makes counterpart the active conversation: the previous one is marked read,
// history replaces the local list and counterpart's messages to self are marked read.
func (c *Controller) Select(ctx context.Context, counterpart string) error {
	self, err := c.identity()
	if err != nil {
		return err
	}
	if err := domain.ValidateUserID(counterpart); err != nil {
		return err
	}

	var previous string
	c.update(func() {
		previous = c.active
		if previous != counterpart {
			c.park(previous)
			c.active = counterpart
			c.messages = c.parked[counterpart]
			delete(c.parked, counterpart)
		}
		delete(c.unread, counterpart)
	})
	if previous != "" && previous != counterpart {
		if err := c.api.MarkRead(ctx, previous, self); err != nil {
			c.log.Warn("Previous conversation not marked read", "counterpart", previous, "error", err)
		}
	}

	history, err := c.api.History(ctx, self, counterpart)
	if err != nil {
		return err
	}
	c.update(func() {
		if c.active == counterpart {
			c.messages = c.merge(history, c.messages)
		}
	})
	return c.api.MarkRead(ctx, counterpart, self)
}

// Send appends an optimistic copy of text and emits it. The returned client id
// identifies the local copy, also when the emit failed.
func (c *Controller) Send(ctx context.Context, text string) (string, error) {
	self, err := c.identity()
	if err != nil {
		return "", err
	}
	if err := domain.ValidateText(text, c.cfg.MaxTextLength); err != nil {
		return "", err
	}

	clientID := c.newID()
	var active string
	c.update(func() {
		active = c.active
		if active == "" {
			return
		}
		c.messages = append(c.messages, LocalMessage{
			Message: domain.Message{
				SenderID:   self,
				ReceiverID: active,
				Text:       text,
				CreatedAt:  time.Now().UTC(),
				ClientID:   clientID,
			},
			Delivery: domain.Pending,
		})
	})
	if active == "" {
		return "", errors.ErrNoActiveConversation
	}
	return clientID, c.emit(clientID)
}

// Retry emits a failed local copy again.
func (c *Controller) Retry(ctx context.Context, clientID string) error {
	if _, err := c.identity(); err != nil {
		return err
	}
	var found bool
	c.update(func() {
		list, idx := c.find(clientID)
		if idx < 0 || !list[idx].Delivery.CanBecome(domain.Pending) {
			return
		}
		list[idx].Delivery = domain.Pending
		list[idx].Error = ""
		found = true
	})
	if !found {
		return fmt.Errorf("%w: %s", errors.ErrUnknownMessage, clientID)
	}
	return c.emit(clientID)
}

// LoadUnread seeds unread counters from the server. The active conversation stays at zero.
func (c *Controller) LoadUnread(ctx context.Context) error {
	self, err := c.identity()
	if err != nil {
		return err
	}
	counts, err := c.api.UnreadCounts(ctx, self)
	if err != nil {
		return err
	}
	c.update(func() {
		c.unread = make(map[string]int, len(counts))
		for sender, count := range counts {
			if sender != c.active && count > 0 {
				c.unread[sender] = count
			}
		}
	})
	return nil
}

func (c *Controller) emit(clientID string) error {
	c.mu.Lock()
	list, idx := c.find(clientID)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", errors.ErrUnknownMessage, clientID)
	}
	local := list[idx]
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if state != Ready || conn == nil {
		c.fail(clientID, errors.ErrNotConnected.Error())
		return errors.ErrNotConnected
	}
	createdAt := local.CreatedAt
	frame, err := protocol.SendMessageFrame(protocol.SendMessagePayload{
		SenderID:   local.SenderID,
		ReceiverID: local.ReceiverID,
		Text:       local.Text,
		CreatedAt:  &createdAt,
		ClientID:   clientID,
	})
	if err != nil {
		c.fail(clientID, err.Error())
		return err
	}

	c.update(func() {
		if timer, ok := c.timers[clientID]; ok {
			timer.Stop()
		}
		c.timers[clientID] = time.AfterFunc(c.cfg.AckTimeout, func() {
			c.fail(clientID, errors.ErrAckTimeout.Error())
		})
	})
	if err := conn.WriteFrame(frame); err != nil {
		c.fail(clientID, err.Error())
		return fmt.Errorf("%w: %w", errors.ErrNotConnected, err)
	}
	return nil
}

// confirm replaces the local copy by the persisted message.
func (c *Controller) confirm(clientID string, message domain.Message) {
	c.update(func() {
		c.stopTimer(clientID)
		shown := c.indexOf(clientID) >= 0
		list, idx := c.find(clientID)
		if idx < 0 || !list[idx].Delivery.CanBecome(domain.Confirmed) {
			return
		}
		message.ClientID = clientID
		list[idx] = LocalMessage{Message: message, Delivery: domain.Confirmed}
		if shown {
			c.messages = lo.Filter(c.messages, func(m LocalMessage, i int) bool {
				return i == idx || m.ID == "" || m.ID != message.ID
			})
		}
	})
}

func (c *Controller) fail(clientID, reason string) {
	c.update(func() {
		c.stopTimer(clientID)
		list, idx := c.find(clientID)
		if idx < 0 || !list[idx].Delivery.CanBecome(domain.Failed) {
			return
		}
		list[idx].Delivery = domain.Failed
		list[idx].Error = reason
	})
}

// merge builds the list of the active conversation from history, keeping the local copies
// history does not account for yet. Callers hold mu.
func (c *Controller) merge(history []domain.Message, current []LocalMessage) []LocalMessage {
	ids := make(map[string]struct{}, len(history))
	clientIDs := make(map[string]struct{})
	for _, m := range history {
		ids[m.ID] = struct{}{}
		if m.ClientID != "" && m.SenderID == c.self {
			clientIDs[m.ClientID] = struct{}{}
		}
	}

	merged := make([]LocalMessage, 0, len(history)+len(current))
	for _, m := range history {
		delivery := domain.Received
		if _, ok := clientIDs[m.ClientID]; ok && c.isLocal(current, m.ClientID) {
			delivery = domain.Confirmed
			c.stopTimer(m.ClientID)
		}
		merged = append(merged, LocalMessage{Message: m, Delivery: delivery})
	}
	for _, m := range current {
		if _, ok := ids[m.ID]; ok && m.ID != "" {
			continue
		}
		if _, ok := clientIDs[m.ClientID]; ok && m.ClientID != "" {
			continue
		}
		if m.Involves(c.self, c.active) {
			merged = append(merged, m)
		}
	}
	return merged
}

func (c *Controller) isLocal(current []LocalMessage, clientID string) bool {
	return lo.ContainsBy(current, func(m LocalMessage) bool {
		return m.ClientID == clientID && m.Delivery != domain.Received
	})
}

// indexOf finds a local copy by client id in the active list. Callers hold mu.
func (c *Controller) indexOf(clientID string) int {
	return indexIn(c.messages, clientID)
}

// find looks for a local copy in the active list first, then in the parked ones.
// Elements of the returned slice are shared with the controller. Callers hold mu.
func (c *Controller) find(clientID string) ([]LocalMessage, int) {
	if idx := indexIn(c.messages, clientID); idx >= 0 {
		return c.messages, idx
	}
	for _, list := range c.parked {
		if idx := indexIn(list, clientID); idx >= 0 {
			return list, idx
		}
	}
	return nil, -1
}

// park keeps the pending and failed copies of counterpart's conversation while it is not shown.
// Callers hold mu.
func (c *Controller) park(counterpart string) {
	if counterpart == "" {
		return
	}
	unconfirmed := lo.Filter(c.messages, func(m LocalMessage, _ int) bool {
		return m.Delivery == domain.Pending || m.Delivery == domain.Failed
	})
	if len(unconfirmed) > 0 {
		c.parked[counterpart] = unconfirmed
	}
}

func indexIn(list []LocalMessage, clientID string) int {
	return slices.IndexFunc(list, func(m LocalMessage) bool {
		return m.ClientID == clientID && m.Delivery != domain.Received
	})
}

// stopTimer cancels the ack timeout of clientID. Callers hold mu.
func (c *Controller) stopTimer(clientID string) {
	if timer, ok := c.timers[clientID]; ok {
		timer.Stop()
		delete(c.timers, clientID)
	}
}

func (c *Controller) identity() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.self == "" {
		return "", errors.ErrIdentityMissing
	}
	return c.self, nil
}

func (c *Controller) setState(next State) {
	c.update(func() {
		if c.state == next {
			return
		}
		if !c.state.CanBecome(next) {
			c.log.Debug("Ignoring state change", "from", c.state.String(), "to", next.String())
			return
		}
		c.log.Debug("Controller state", "from", c.state.String(), "to", next.String())
		c.state = next
	})
}

// update is the only path that mutates controller state.
func (c *Controller) update(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
