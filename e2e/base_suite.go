package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"hr-messenger/auth"
	"hr-messenger/client"
	httpclient "hr-messenger/infrastructure/http/client"
	wsclient "hr-messenger/infrastructure/ws/client"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

type BaseSuite struct {
	suite.Suite
	Config Config
	tokens auth.Tokens
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.ServerURL == "" {
		s.T().Skip("E2E_SERVER_URL is not set")
	}
	s.tokens = auth.NewTokens(s.Config.AuthSecret)
}

// Step prints a header for a scenario step
func (s *BaseSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// UserID returns an id nobody else uses, so runs against a shared server don't collide
func (s *BaseSuite) UserID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func (s *BaseSuite) token(userID string) string {
	if !s.tokens.Enabled() {
		return ""
	}
	token, err := s.tokens.GenerateToken(userID, 10*time.Minute)
	s.Require().NoError(err)
	return token
}

// API returns a history client acting as userID
func (s *BaseSuite) API(userID string) *httpclient.HistoryClient {
	return httpclient.NewHistoryClient(s.Config.ServerURL, s.token(userID), 10*time.Second)
}

// Connect runs a controller for userID and waits until it joined
func (s *BaseSuite) Connect(userID string) (*client.Controller, context.CancelFunc) {
	dialer, err := wsclient.NewDialer(s.Config.ServerURL, s.token(userID), 90*time.Second, 5*time.Second)
	s.Require().NoError(err)
	controller := client.NewController(logs.GetLoggerFromLevel(slog.LevelInfo), dialer, s.API(userID), client.Config{
		AckTimeout:    5 * time.Second,
		ReconnectMin:  100 * time.Millisecond,
		ReconnectMax:  2 * time.Second,
		MaxTextLength: 4000,
	})
	s.Require().NoError(controller.SetIdentity(userID))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = controller.Run(ctx)
	}()
	stop := func() {
		cancel()
		<-done
	}
	s.T().Cleanup(stop)

	s.Require().Eventually(func() bool { return controller.State() == client.Ready }, 10*time.Second, 50*time.Millisecond,
		"controller for %s never became ready", userID)
	return controller, stop
}
