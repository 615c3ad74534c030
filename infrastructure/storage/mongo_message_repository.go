package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"hr-messenger/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoMessageRepository stores direct messages in a MongoDB collection.
// The ObjectID is taken under the same lock as createdAt, so sorting on
// {createdAt, _id} reproduces insertion order for equal timestamps.
type MongoMessageRepository struct {
	coll  *mongo.Collection
	log   *slog.Logger
	mu    sync.Mutex
	clock *Clock
}

type mongoMessage struct {
	ID         primitive.ObjectID `bson:"_id"`
	SenderID   string             `bson:"senderId"`
	ReceiverID string             `bson:"receiverId"`
	Text       string             `bson:"text"`
	IsRead     bool               `bson:"isRead"`
	CreatedAt  time.Time          `bson:"createdAt"`
	ClientID   string             `bson:"clientId,omitempty"`
}

type unreadGroup struct {
	SenderID string `bson:"_id"`
	Count    int    `bson:"count"`
}

func NewMongoMessageRepository(coll *mongo.Collection, log *slog.Logger, clock *Clock) *MongoMessageRepository {
	if clock == nil {
		clock = NewClock(nil)
	}
	return &MongoMessageRepository{coll: coll, log: log, clock: clock}
}

// EnsureIndexes creates the conversation and unread indexes. Existing indexes are left alone.
func (m *MongoMessageRepository) EnsureIndexes(ctx context.Context) error {
	names, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "isRead", Value: 1}}},
	})
	if err != nil {
		return unavailable(err)
	}
	m.log.Debug("Mongo indexes ready", "collection", m.coll.Name(), "indexes", names)
	return nil
}

func (m *MongoMessageRepository) Create(ctx context.Context, senderID, receiverID, text, clientID string) (domain.Message, error) {
	m.mu.Lock()
	doc := mongoMessage{
		ID:         primitive.NewObjectID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		CreatedAt:  m.clock.Now(),
		ClientID:   clientID,
	}
	m.mu.Unlock()

	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return domain.Message{}, unavailable(err)
	}
	return doc.toMessage(), nil
}

func (m *MongoMessageRepository) FindConversation(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"senderId": userA, "receiverId": userB},
		bson.M{"senderId": userB, "receiverId": userA},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable(err)
	}
	var docs []mongoMessage
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, unavailable(err)
	}

	messages := make([]domain.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.toMessage())
	}
	return messages, nil
}

func (m *MongoMessageRepository) MarkRead(ctx context.Context, senderID, receiverID string) (int, error) {
	filter := bson.M{"senderId": senderID, "receiverId": receiverID, "isRead": false}
	update := bson.M{"$set": bson.M{"isRead": true}}

	res, err := m.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, unavailable(err)
	}
	return int(res.ModifiedCount), nil
}

func (m *MongoMessageRepository) UnreadCounts(ctx context.Context, receiverID string) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "receiverId", Value: receiverID}, {Key: "isRead", Value: false}}}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$senderId"}, {Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}}}}},
	}
	cursor, err := m.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, unavailable(err)
	}
	var groups []unreadGroup
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, unavailable(err)
	}

	counts := make(map[string]int, len(groups))
	for _, group := range groups {
		counts[group.SenderID] = group.Count
	}
	return counts, nil
}

func (doc mongoMessage) toMessage() domain.Message {
	return domain.Message{
		ID:         doc.ID.Hex(),
		SenderID:   doc.SenderID,
		ReceiverID: doc.ReceiverID,
		Text:       doc.Text,
		IsRead:     doc.IsRead,
		CreatedAt:  doc.CreatedAt.UTC(),
		ClientID:   doc.ClientID,
	}
}
