package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hr-messenger/auth"
	"hr-messenger/domain"
	"hr-messenger/errors"
	"hr-messenger/infrastructure/http/server"
	"hr-messenger/mocks"
	"hr-messenger/observability"

	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const secret = "a-test-secret-long-enough-for-hs256"

func newServer(t *testing.T, tokens auth.Tokens) (*httptest.Server, *mocks.MockIChatService) {
	ctrl := gomock.NewController(t)
	service := mocks.NewMockIChatService(ctrl)
	registry := prometheus.NewRegistry()
	router := server.NewRouter(server.RouterConfig{GinMode: gin.TestMode}, logs.GetLoggerFromLevel(slog.LevelDebug),
		service, tokens, observability.NewMetrics(registry), registry, nil)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, service
}

func TestHistoryClient_History(t *testing.T) {
	req := require.New(t)
	srv, service := newServer(t, auth.Tokens{})
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stored := []domain.Message{
		{ID: "m1", SenderID: "u1", ReceiverID: "u2", Text: "hi", CreatedAt: at},
		{ID: "m2", SenderID: "u2", ReceiverID: "u1", Text: "hello", CreatedAt: at.Add(time.Second), IsRead: true},
	}

	// Given a conversation on the server
	service.EXPECT().History(gomock.Any(), domain.HistoryQuery{UserA: "u1", UserB: "u2"}).Return(stored, nil)

	// When the client fetches it
	messages, err := NewHistoryClient(srv.URL, "", time.Second).History(context.Background(), "u1", "u2")

	// Then the order and fields survive the round trip
	req.NoError(err)
	req.Equal(stored, messages)
}

func TestHistoryClient_Empty_History_Is_Not_Nil(t *testing.T) {
	req := require.New(t)
	srv, service := newServer(t, auth.Tokens{})
	service.EXPECT().History(gomock.Any(), gomock.Any()).Return(nil, nil)

	messages, err := NewHistoryClient(srv.URL, "", time.Second).History(context.Background(), "u1", "u2")

	req.NoError(err)
	req.NotNil(messages)
	req.Empty(messages)
}

func TestHistoryClient_MarkRead_And_Unread(t *testing.T) {
	req := require.New(t)
	srv, service := newServer(t, auth.Tokens{})
	client := NewHistoryClient(srv.URL, "", time.Second)

	service.EXPECT().MarkRead(gomock.Any(), domain.MarkReadCommand{SenderID: "u2", ReceiverID: "u1"}).Return(3, nil)
	service.EXPECT().UnreadCounts(gomock.Any(), "u1").Return(map[string]int{"u3": 2}, nil)

	req.NoError(client.MarkRead(context.Background(), "u2", "u1"))
	counts, err := client.UnreadCounts(context.Background(), "u1")
	req.NoError(err)
	req.Equal(map[string]int{"u3": 2}, counts)
}

func TestHistoryClient_Maps_Failures(t *testing.T) {
	req := require.New(t)
	srv, service := newServer(t, auth.Tokens{})
	client := NewHistoryClient(srv.URL, "", time.Second)

	// Given the store is down
	service.EXPECT().UnreadCounts(gomock.Any(), "u1").Return(nil, errors.ErrStoreUnavailable)

	// Then the failure is transient on the client side as well
	_, err := client.UnreadCounts(context.Background(), "u1")
	req.ErrorIs(err, errors.ErrStoreUnavailable)
	req.Equal(errors.KindTransient, errors.KindOf(err))

	// And a malformed request is a validation failure
	err = client.MarkRead(context.Background(), "", "u1")
	req.ErrorIs(err, errors.ErrInvalidPayload)
}

func TestHistoryClient_Sends_Bearer_Token(t *testing.T) {
	req := require.New(t)
	tokens := auth.NewTokens(secret)
	srv, service := newServer(t, tokens)
	token, err := tokens.GenerateToken("u1", time.Minute)
	req.NoError(err)

	service.EXPECT().UnreadCounts(gomock.Any(), "u1").Return(map[string]int{}, nil)

	// A token for u1 reads u1's counters
	_, err = NewHistoryClient(srv.URL, token, time.Second).UnreadCounts(context.Background(), "u1")
	req.NoError(err)

	// But not u2's
	_, err = NewHistoryClient(srv.URL, token, time.Second).UnreadCounts(context.Background(), "u2")
	req.ErrorIs(err, errors.ErrForbidden)

	// And nothing without a token
	_, err = NewHistoryClient(srv.URL, "", time.Second).UnreadCounts(context.Background(), "u1")
	req.ErrorIs(err, errors.ErrUnauthorized)
}

func TestHistoryClient_Unreachable_Server(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHistoryClient(url, "", 200*time.Millisecond).History(context.Background(), "u1", "u2")

	require.ErrorIs(t, err, errors.ErrNotConnected)
}
