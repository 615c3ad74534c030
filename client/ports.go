//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=../mocks/mock_history_api.go -package=mocks
package client

import (
	"context"

	"hr-messenger/domain"
)

// HistoryAPI is the REST history service as consumed by the controller.
type HistoryAPI interface {
	History(ctx context.Context, userA, userB string) ([]domain.Message, error)
	MarkRead(ctx context.Context, senderID, receiverID string) error
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
}
