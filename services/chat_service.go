//go:generate go run go.uber.org/mock/mockgen -source=chat_service.go -destination=../mocks/mock_chat_service.go -package=mocks
package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hr-messenger/contract"
	"hr-messenger/domain"
	"hr-messenger/domain/event"
	"hr-messenger/errors"
	"hr-messenger/infrastructure/storage"
	"hr-messenger/observability"
)

type IChatService interface {
	History(ctx context.Context, query domain.HistoryQuery) ([]domain.Message, error)
	MarkRead(ctx context.Context, cmd domain.MarkReadCommand) (int, error)
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
	SendMessage(ctx context.Context, origin domain.ConnectionID, cmd domain.SendMessageCommand) (domain.Message, error)
	Join(connectionID domain.ConnectionID, userID string, sink contract.EventSink) (bool, error)
	Leave(connectionID domain.ConnectionID)
}

// ChatService is shared by the REST history service and the realtime gateway.
type ChatService struct {
	log           *slog.Logger
	repository    storage.IMessageRepository
	registry      contract.IRegistry
	metrics       *observability.Metrics
	maxTextLength int
	sinkTimeout   time.Duration
}

func NewChatService(log *slog.Logger, repository storage.IMessageRepository, registry contract.IRegistry,
	metrics *observability.Metrics, maxTextLength int, sinkTimeout time.Duration) *ChatService {
	return &ChatService{
		log:           log,
		repository:    repository,
		registry:      registry,
		metrics:       metrics,
		maxTextLength: maxTextLength,
		sinkTimeout:   sinkTimeout,
	}
}

func (s *ChatService) History(ctx context.Context, query domain.HistoryQuery) ([]domain.Message, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	return s.repository.FindConversation(ctx, query.UserA, query.UserB)
}

func (s *ChatService) MarkRead(ctx context.Context, cmd domain.MarkReadCommand) (int, error) {
	if err := cmd.Validate(); err != nil {
		return 0, err
	}
	count, err := s.repository.MarkRead(ctx, cmd.SenderID, cmd.ReceiverID)
	if err != nil {
		return 0, err
	}
	s.metrics.MessagesMarked.Add(float64(count))
	return count, nil
}

func (s *ChatService) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.repository.UnreadCounts(ctx, userID)
}

// SendMessage persists the message, then pushes it to every connection of the receiver
// except origin. Nothing is pushed when persistence fails.
func (s *ChatService) SendMessage(ctx context.Context, origin domain.ConnectionID, cmd domain.SendMessageCommand) (domain.Message, error) {
	if err := cmd.Validate(s.maxTextLength); err != nil {
		s.metrics.SendFailures.WithLabelValues(string(errors.KindOf(err))).Inc()
		return domain.Message{}, err
	}
	message, err := s.repository.Create(ctx, cmd.SenderID, cmd.ReceiverID, cmd.Text, cmd.ClientID)
	if err != nil {
		s.metrics.SendFailures.WithLabelValues(string(errors.KindOf(err))).Inc()
		s.log.Warn("Message not stored", "sender_id", cmd.SenderID, "receiver_id", cmd.ReceiverID, "error", err)
		return domain.Message{}, err
	}
	s.metrics.MessagesStored.Inc()

	s.push(event.MessageReceived{Message: message}, origin)
	return message, nil
}

// push hands evt to the sinks of its room, each bounded by sinkTimeout.
// Pushes run on their own deadline, not on the caller's context.
func (s *ChatService) push(evt event.DomainEvent, exclude domain.ConnectionID) {
	sinks := s.registry.GetSinksForRoom(evt.RoomID(), exclude)
	if len(sinks) == 0 {
		s.log.Debug("Receiver offline, message kept for history", "room_id", evt.RoomID())
		return
	}

	var wg sync.WaitGroup
	for _, sink := range sinks {
		wg.Add(1)
		go func(sink contract.EventSink) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), s.sinkTimeout)
			defer cancel()
			if err := sink.Consume(ctx, evt); err != nil {
				s.metrics.PushFailures.Inc()
				s.log.Debug("Push dropped", "room_id", evt.RoomID(), "error", err)
				return
			}
			s.metrics.MessagesPushed.Inc()
		}(sink)
	}
	wg.Wait()
}

// Join subscribes the connection to the room of userID. It returns false when the
// connection was already a member, which callers treat as success.
func (s *ChatService) Join(connectionID domain.ConnectionID, userID string, sink contract.EventSink) (bool, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return false, err
	}
	joined := s.registry.Subscribe(connectionID, domain.RoomOf(userID), sink)
	s.metrics.Connections.Set(float64(s.registry.ConnectionCount()))
	s.metrics.Rooms.Set(float64(s.registry.RoomCount()))
	return joined, nil
}

func (s *ChatService) Leave(connectionID domain.ConnectionID) {
	s.registry.Unsubscribe(connectionID)
	s.metrics.Connections.Set(float64(s.registry.ConnectionCount()))
	s.metrics.Rooms.Set(float64(s.registry.RoomCount()))
}
