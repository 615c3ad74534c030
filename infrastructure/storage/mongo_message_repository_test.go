package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"hr-messenger/errors"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestMongoMessageRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mt.Run("create assigns id and time", func(mt *mtest.T) {
		req := require.New(mt)
		repository := NewMongoMessageRepository(mt.Coll, log, NewClock(func() time.Time { return at }))
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		message, err := repository.Create(context.Background(), "u1", "u2", "hi", "c-1")

		req.NoError(err)
		req.Len(message.ID, 24)
		req.Equal(at, message.CreatedAt)
		req.False(message.IsRead)
		req.Equal("c-1", message.ClientID)
	})

	mt.Run("find conversation decodes in cursor order", func(mt *mtest.T) {
		req := require.New(mt)
		repository := NewMongoMessageRepository(mt.Coll, log, nil)
		first, second := primitive.NewObjectID(), primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			bson.D{{Key: "_id", Value: first}, {Key: "senderId", Value: "u1"}, {Key: "receiverId", Value: "u2"},
				{Key: "text", Value: "hi"}, {Key: "isRead", Value: true}, {Key: "createdAt", Value: at}},
			bson.D{{Key: "_id", Value: second}, {Key: "senderId", Value: "u2"}, {Key: "receiverId", Value: "u1"},
				{Key: "text", Value: "hello"}, {Key: "isRead", Value: false}, {Key: "createdAt", Value: at}},
		))

		messages, err := repository.FindConversation(context.Background(), "u2", "u1")

		req.NoError(err)
		req.Len(messages, 2)
		req.Equal(first.Hex(), messages[0].ID)
		req.Equal("hi", messages[0].Text)
		req.True(messages[0].IsRead)
		req.Equal(second.Hex(), messages[1].ID)
		req.Equal(at, messages[1].CreatedAt)
	})

	mt.Run("find conversation without messages is empty", func(mt *mtest.T) {
		req := require.New(mt)
		repository := NewMongoMessageRepository(mt.Coll, log, nil)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		messages, err := repository.FindConversation(context.Background(), "u8", "u9")

		req.NoError(err)
		req.NotNil(messages)
		req.Empty(messages)
	})

	mt.Run("mark read returns modified count", func(mt *mtest.T) {
		req := require.New(mt)
		repository := NewMongoMessageRepository(mt.Coll, log, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 2},
			bson.E{Key: "nModified", Value: 2},
		))

		count, err := repository.MarkRead(context.Background(), "u2", "u1")

		req.NoError(err)
		req.Equal(2, count)
	})

	mt.Run("unread counts are grouped by sender", func(mt *mtest.T) {
		req := require.New(mt)
		repository := NewMongoMessageRepository(mt.Coll, log, nil)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "u2"}, {Key: "count", Value: 2}},
			bson.D{{Key: "_id", Value: "u3"}, {Key: "count", Value: 1}},
		))

		counts, err := repository.UnreadCounts(context.Background(), "u1")

		req.NoError(err)
		req.Equal(map[string]int{"u2": 2, "u3": 1}, counts)
	})

	mt.Run("driver failure is transient", func(mt *mtest.T) {
		req := require.New(mt)
		repository := NewMongoMessageRepository(mt.Coll, log, nil)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad value",
			Name:    "BadValue",
		}))

		_, err := repository.MarkRead(context.Background(), "u2", "u1")

		req.ErrorIs(err, errors.ErrStoreUnavailable)
		req.Equal(errors.KindTransient, errors.KindOf(err))
	})

	mt.Run("ensure indexes", func(mt *mtest.T) {
		req := require.New(mt)
		repository := NewMongoMessageRepository(mt.Coll, log, nil)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		req.NoError(repository.EnsureIndexes(context.Background()))
	})
}
