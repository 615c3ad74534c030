package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"hr-messenger/domain"
	"hr-messenger/domain/event"
	"hr-messenger/errors"
	"hr-messenger/mocks"
	"hr-messenger/protocol"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type fakeConn struct {
	inbox  chan []byte
	outbox chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan []byte, 64),
		outbox: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) WriteFrame(frame []byte) error {
	select {
	case <-f.closed:
		return io.ErrClosedPipe
	default:
	}
	f.outbox <- frame
	return nil
}

func (f *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case frame := <-f.inbox:
		return frame, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// push delivers a server event to the controller.
func (f *fakeConn) push(t *testing.T, evt event.DomainEvent) {
	frame, err := protocol.EncodeEvent(evt)
	require.NoError(t, err)
	f.inbox <- frame
}

func (f *fakeConn) written(t *testing.T) protocol.Envelope {
	select {
	case frame := <-f.outbox:
		envelope, err := protocol.Decode(frame)
		require.NoError(t, err)
		return envelope
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no frame written")
		return protocol.Envelope{}
	}
}

type fakeDialer struct {
	dialed chan *fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	conn := newFakeConn()
	d.dialed <- conn
	return conn, nil
}

type harness struct {
	controller *Controller
	api        *mocks.MockHistoryAPI
	dialer     *fakeDialer
}

func newHarness(t *testing.T) harness {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockHistoryAPI(ctrl)
	dialer := &fakeDialer{dialed: make(chan *fakeConn, 4)}
	controller := NewController(logs.GetLoggerFromLevel(slog.LevelDebug), dialer, api, Config{
		AckTimeout:    time.Second,
		ReconnectMin:  10 * time.Millisecond,
		ReconnectMax:  50 * time.Millisecond,
		MaxTextLength: domain.DefaultMaxTextLength,
	})
	return harness{controller: controller, api: api, dialer: dialer}
}

// connect runs the controller and completes the join handshake.
func (h harness) connect(t *testing.T) *fakeConn {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.controller.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h.handshake(t)
}

func (h harness) handshake(t *testing.T) *fakeConn {
	var conn *fakeConn
	select {
	case conn = <-h.dialer.dialed:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "controller did not dial")
	}
	join := conn.written(t)
	require.Equal(t, protocol.ActionJoin, join.Action)
	userID, err := protocol.DecodeJoin(join.Payload)
	require.NoError(t, err)
	conn.push(t, event.Joined{UserID: userID})
	require.Eventually(t, func() bool { return h.controller.State() == Ready }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func (h harness) selectConversation(t *testing.T, counterpart string, history []domain.Message) {
	self := h.controller.Snapshot().Self
	h.api.EXPECT().History(gomock.Any(), self, counterpart).Return(history, nil)
	h.api.EXPECT().MarkRead(gomock.Any(), counterpart, self).Return(nil)
	require.NoError(t, h.controller.Select(context.Background(), counterpart))
}

func TestController_Nothing_Happens_Before_Identity(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	ctx := context.Background()

	// The mocked API has no expectation, so any call would fail the test
	req.ErrorIs(h.controller.Select(ctx, "u2"), errors.ErrIdentityMissing)
	_, err := h.controller.Send(ctx, "hi")
	req.ErrorIs(err, errors.ErrIdentityMissing)
	req.ErrorIs(h.controller.Retry(ctx, "c-1"), errors.ErrIdentityMissing)
	req.ErrorIs(h.controller.LoadUnread(ctx), errors.ErrIdentityMissing)
	req.ErrorIs(h.controller.Run(ctx), errors.ErrIdentityMissing)

	req.Empty(h.dialer.dialed)
	req.Empty(h.controller.Snapshot().Messages)
	req.Equal(Disconnected, h.controller.State())
}

func TestController_Identity_Is_Set_Once(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)

	req.NoError(h.controller.SetIdentity("u1"))
	req.NoError(h.controller.SetIdentity("u1"))
	req.ErrorIs(h.controller.SetIdentity("u2"), errors.ErrAlreadyJoined)
	req.ErrorIs(h.controller.SetIdentity(" "), errors.ErrInvalidUserID)
}

func TestController_Run_Joins_Then_Is_Ready(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.controller.SetIdentity("u1"))

	h.connect(t)

	require.Equal(t, Ready, h.controller.State())
}

func TestController_Select_Replaces_List_And_Marks_Read(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	conn := h.connect(t)

	// Given an unread push from u2 while nothing is selected
	conn.push(t, event.MessageReceived{Message: domain.Message{ID: "m1", SenderID: "u2", ReceiverID: "u1", Text: "hi"}})
	req.Eventually(func() bool { return h.controller.Snapshot().Unread["u2"] == 1 }, time.Second, 5*time.Millisecond)

	// When u2 is selected
	history := []domain.Message{
		{ID: "m0", SenderID: "u1", ReceiverID: "u2", Text: "hello"},
		{ID: "m1", SenderID: "u2", ReceiverID: "u1", Text: "hi"},
	}
	h.selectConversation(t, "u2", history)

	// Then the list is the history and the counter is reset
	snapshot := h.controller.Snapshot()
	req.Equal("u2", snapshot.Active)
	req.Len(snapshot.Messages, 2)
	req.Equal("m0", snapshot.Messages[0].ID)
	req.Equal("m1", snapshot.Messages[1].ID)
	req.Zero(snapshot.Unread["u2"])

	// And switching to u3 marks u2 read again before loading u3
	gomock.InOrder(
		h.api.EXPECT().MarkRead(gomock.Any(), "u2", "u1").Return(nil),
		h.api.EXPECT().History(gomock.Any(), "u1", "u3").Return([]domain.Message{}, nil),
		h.api.EXPECT().MarkRead(gomock.Any(), "u3", "u1").Return(nil),
	)
	req.NoError(h.controller.Select(context.Background(), "u3"))
	req.Empty(h.controller.Snapshot().Messages)
}

func TestController_Select_History_Failure_Is_Returned(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))

	h.api.EXPECT().History(gomock.Any(), "u1", "u2").Return(nil, errors.ErrStoreUnavailable)

	err := h.controller.Select(context.Background(), "u2")
	req.ErrorIs(err, errors.ErrStoreUnavailable)
}

func TestController_Send_Is_Optimistic_Then_Confirmed(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	conn := h.connect(t)
	h.selectConversation(t, "u2", nil)

	// When sending
	clientID, err := h.controller.Send(context.Background(), "hello")
	req.NoError(err)

	// Then a pending copy is shown right away
	snapshot := h.controller.Snapshot()
	req.Len(snapshot.Messages, 1)
	req.Equal(domain.Pending, snapshot.Messages[0].Delivery)
	req.Equal("hello", snapshot.Messages[0].Text)

	// And the frame carries the client reference
	frame := conn.written(t)
	req.Equal(protocol.ActionSendMessage, frame.Action)
	cmd, err := protocol.DecodeSendMessage(frame.Payload)
	req.NoError(err)
	req.Equal(clientID, cmd.ClientID)
	req.Equal("u1", cmd.SenderID)
	req.Equal("u2", cmd.ReceiverID)

	// When the gateway acknowledges
	stored := domain.Message{ID: "m9", SenderID: "u1", ReceiverID: "u2", Text: "hello", CreatedAt: time.Now().UTC()}
	conn.push(t, event.MessageAcked{ClientID: clientID, Message: stored})

	// Then the local copy becomes the persisted one
	req.Eventually(func() bool {
		messages := h.controller.Snapshot().Messages
		return len(messages) == 1 && messages[0].Delivery == domain.Confirmed && messages[0].ID == "m9"
	}, time.Second, 5*time.Millisecond)
}

func TestController_Send_Rejected_Then_Retried(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	conn := h.connect(t)
	h.selectConversation(t, "u2", nil)

	clientID, err := h.controller.Send(context.Background(), "hello")
	req.NoError(err)
	conn.written(t)

	// Given the gateway could not store it
	conn.push(t, event.Rejected("u1", clientID, errors.ErrStoreUnavailable))
	req.Eventually(func() bool {
		return h.controller.Snapshot().Messages[0].Delivery == domain.Failed
	}, time.Second, 5*time.Millisecond)
	req.NotEmpty(h.controller.Snapshot().Messages[0].Error)

	// When retried
	req.NoError(h.controller.Retry(context.Background(), clientID))
	req.Equal(domain.Pending, h.controller.Snapshot().Messages[0].Delivery)
	frame := conn.written(t)
	cmd, err := protocol.DecodeSendMessage(frame.Payload)
	req.NoError(err)
	req.Equal(clientID, cmd.ClientID)

	// Then a later ack confirms it
	conn.push(t, event.MessageAcked{ClientID: clientID, Message: domain.Message{ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "hello"}})
	req.Eventually(func() bool {
		return h.controller.Snapshot().Messages[0].Delivery == domain.Confirmed
	}, time.Second, 5*time.Millisecond)

	// And a confirmed message cannot be retried
	req.ErrorIs(h.controller.Retry(context.Background(), clientID), errors.ErrUnknownMessage)
}

func TestController_Send_Without_Ack_Fails(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	h.controller.cfg.AckTimeout = 30 * time.Millisecond
	req.NoError(h.controller.SetIdentity("u1"))
	conn := h.connect(t)
	h.selectConversation(t, "u2", nil)

	_, err := h.controller.Send(context.Background(), "anyone?")
	req.NoError(err)
	conn.written(t)

	req.Eventually(func() bool {
		m := h.controller.Snapshot().Messages[0]
		return m.Delivery == domain.Failed && m.Error == errors.ErrAckTimeout.Error()
	}, time.Second, 5*time.Millisecond)
}

func TestController_Send_Blank_Emits_Nothing(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	conn := h.connect(t)
	h.selectConversation(t, "u2", nil)

	_, err := h.controller.Send(context.Background(), " \t ")

	req.ErrorIs(err, errors.ErrEmptyText)
	req.Empty(h.controller.Snapshot().Messages)
	req.Empty(conn.outbox)
}

func TestController_Send_Without_Conversation(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.controller.SetIdentity("u1"))

	_, err := h.controller.Send(context.Background(), "hi")

	require.ErrorIs(t, err, errors.ErrNoActiveConversation)
}

func TestController_Send_While_Disconnected_Fails_Locally(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	h.selectConversation(t, "u2", nil)

	clientID, err := h.controller.Send(context.Background(), "hi")

	req.ErrorIs(err, errors.ErrNotConnected)
	req.NotEmpty(clientID)
	messages := h.controller.Snapshot().Messages
	req.Len(messages, 1)
	req.Equal(domain.Failed, messages[0].Delivery)
}

func TestController_Push_For_Active_Is_Appended_Once(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	conn := h.connect(t)
	h.selectConversation(t, "u2", nil)
	message := domain.Message{ID: "m5", SenderID: "u2", ReceiverID: "u1", Text: "ping"}

	conn.push(t, event.MessageReceived{Message: message})
	conn.push(t, event.MessageReceived{Message: message})
	conn.push(t, event.MessageReceived{Message: domain.Message{ID: "m6", SenderID: "u3", ReceiverID: "u1", Text: "psst"}})

	req.Eventually(func() bool { return h.controller.Snapshot().Unread["u3"] == 1 }, time.Second, 5*time.Millisecond)
	snapshot := h.controller.Snapshot()
	req.Len(snapshot.Messages, 1)
	req.Equal("m5", snapshot.Messages[0].ID)
	req.Zero(snapshot.Unread["u2"])
}

func TestController_Reconnect_Rejoins_And_Catches_Up(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	conn := h.connect(t)
	h.selectConversation(t, "u2", nil)

	// Given the link drops
	missed := domain.Message{ID: "m7", SenderID: "u2", ReceiverID: "u1", Text: "are you there?"}
	h.api.EXPECT().UnreadCounts(gomock.Any(), "u1").Return(map[string]int{"u2": 1, "u4": 2}, nil)
	h.api.EXPECT().History(gomock.Any(), "u1", "u2").Return([]domain.Message{missed}, nil)
	req.NoError(conn.Close())
	req.Eventually(func() bool { return h.controller.State() != Ready }, time.Second, 5*time.Millisecond)

	// When the controller redials, it joins again
	h.handshake(t)

	// Then the active conversation and the counters are reloaded
	req.Eventually(func() bool {
		snapshot := h.controller.Snapshot()
		return len(snapshot.Messages) == 1 && snapshot.Messages[0].ID == "m7" && snapshot.Unread["u4"] == 2
	}, 2*time.Second, 5*time.Millisecond)
	req.Zero(h.controller.Snapshot().Unread["u2"])
}

func TestController_Run_Stops_With_Context(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.controller.Run(ctx) }()
	<-h.dialer.dialed

	cancel()

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(2 * time.Second):
		req.Fail("Run did not return")
	}
	req.Equal(Disconnected, h.controller.State())
}

func TestState_CanBecome(t *testing.T) {
	req := require.New(t)

	req.True(Disconnected.CanBecome(Connecting))
	req.False(Disconnected.CanBecome(Ready))
	req.True(Connecting.CanBecome(Ready))
	req.True(Ready.CanBecome(Reconnecting))
	req.False(Reconnecting.CanBecome(Ready))
	req.True(Reconnecting.CanBecome(Connecting))
	req.Equal("reconnecting", Reconnecting.String())
}

func TestController_State_Changes_Are_Logged_By_Name(t *testing.T) {
	req := require.New(t)
	var out bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	controller := NewController(log, &fakeDialer{dialed: make(chan *fakeConn, 1)}, nil, Config{
		AckTimeout:    time.Second,
		MaxTextLength: domain.DefaultMaxTextLength,
	})

	// When a refused then an accepted transition happen
	controller.setState(Ready)
	controller.setState(Connecting)

	// Then both are logged with readable state names
	req.Contains(out.String(), `"from":"disconnected","to":"ready"`)
	req.Contains(out.String(), `"from":"disconnected","to":"connecting"`)
	req.NotContains(out.String(), `"from":0`)
}

func TestController_Failed_Send_Survives_Conversation_Switch(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	h.selectConversation(t, "u2", nil)

	// Given a send that failed locally
	clientID, err := h.controller.Send(context.Background(), "hi")
	req.ErrorIs(err, errors.ErrNotConnected)

	// When switching to u3
	h.api.EXPECT().MarkRead(gomock.Any(), "u2", "u1").Return(nil)
	h.selectConversation(t, "u3", nil)

	// Then u3 does not show it
	req.Empty(h.controller.Snapshot().Messages)

	// When switching back to u2
	h.api.EXPECT().MarkRead(gomock.Any(), "u3", "u1").Return(nil)
	h.selectConversation(t, "u2", nil)

	// Then the failed copy is still there and can be retried
	messages := h.controller.Snapshot().Messages
	req.Len(messages, 1)
	req.Equal(clientID, messages[0].ClientID)
	req.Equal(domain.Failed, messages[0].Delivery)
	req.ErrorIs(h.controller.Retry(context.Background(), clientID), errors.ErrNotConnected)
}

func TestController_Ack_While_Away_Confirms_On_Return(t *testing.T) {
	req := require.New(t)
	h := newHarness(t)
	req.NoError(h.controller.SetIdentity("u1"))
	conn := h.connect(t)
	h.selectConversation(t, "u2", nil)

	// Given a pending send to u2
	clientID, err := h.controller.Send(context.Background(), "hello")
	req.NoError(err)
	conn.written(t)

	// And the user moved to u3 before the ack arrived
	h.api.EXPECT().MarkRead(gomock.Any(), "u2", "u1").Return(nil)
	h.selectConversation(t, "u3", nil)
	stored := domain.Message{ID: "m7", SenderID: "u1", ReceiverID: "u2", Text: "hello", ClientID: clientID}
	conn.push(t, event.MessageAcked{ClientID: clientID, Message: stored})
	req.Eventually(func() bool {
		h.controller.mu.Lock()
		defer h.controller.mu.Unlock()
		list, idx := h.controller.find(clientID)
		return idx >= 0 && list[idx].Delivery == domain.Confirmed
	}, time.Second, 5*time.Millisecond)

	// When coming back to u2
	h.api.EXPECT().MarkRead(gomock.Any(), "u3", "u1").Return(nil)
	h.selectConversation(t, "u2", []domain.Message{stored})

	// Then the message is shown once, confirmed
	messages := h.controller.Snapshot().Messages
	req.Len(messages, 1)
	req.Equal("m7", messages[0].ID)
	req.Equal(domain.Confirmed, messages[0].Delivery)
}
