//go:generate go run go.uber.org/mock/mockgen -source=message_repository.go -destination=../../mocks/mock_message_repository.go -package=mocks
package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"hr-messenger/domain"
	"hr-messenger/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	messagePrefix     = "dm"
	unreadPrefix      = "unread"
	sequenceKey       = "seq:dm"
	sequenceBandwidth = 128
	markReadBatchSize = 1000
	maxConflictRetry  = 3
)

// IMessageRepository is the Message Store.
// Callers validate text before Create, the store itself does not reject blank bodies.
type IMessageRepository interface {
	Create(ctx context.Context, senderID, receiverID, text, clientID string) (domain.Message, error)
	FindConversation(ctx context.Context, userA, userB string) ([]domain.Message, error)
	MarkRead(ctx context.Context, senderID, receiverID string) (int, error)
	UnreadCounts(ctx context.Context, receiverID string) (map[string]int, error)
}

// MessageRepository stores direct messages in BadgerDB.
//
// Keyspace:
//
//	dm:{min(a,b)}:{max(a,b)}:{seq}      the bson encoded message
//	unread:{receiver}:{sender}:{seq}    present while the message is unread
//
// seq is a 20 digit zero padded badger sequence, so a prefix scan returns a conversation
// in insertion order. createdAt is assigned under the same lock as seq, which keeps it
// non-decreasing along that order.
type MessageRepository struct {
	db    *badger.DB
	log   *slog.Logger
	mu    sync.Mutex
	seq   *badger.Sequence
	clock *Clock
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, clock *Clock) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, unavailable(err)
	}
	if clock == nil {
		clock = NewClock(nil)
	}
	return &MessageRepository{db: db, log: log, seq: seq, clock: clock}, nil
}

// DiskMessage is the persisted shape of a message.
type DiskMessage struct {
	ID         string `bson:"id"`
	Seq        int64  `bson:"seq"`
	SenderID   string `bson:"sender_id"`
	ReceiverID string `bson:"receiver_id"`
	Text       string `bson:"text"`
	IsRead     bool   `bson:"is_read"`
	At         int64  `bson:"at"`
	ClientID   string `bson:"client_id,omitempty"`
}

// Close returns the unused part of the leased sequence.
func (m *MessageRepository) Close() error {
	return m.seq.Release()
}

func (m *MessageRepository) Create(ctx context.Context, senderID, receiverID, text, clientID string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, unavailable(err)
	}

	m.mu.Lock()
	seq, err := m.seq.Next()
	at := m.clock.Now()
	m.mu.Unlock()
	if err != nil {
		return domain.Message{}, unavailable(err)
	}

	disk := DiskMessage{
		ID:         uuid.NewString(),
		Seq:        int64(seq),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
		At:         at.UnixNano(),
		ClientID:   clientID,
	}
	bytes, err := bson.Marshal(disk)
	if err != nil {
		return domain.Message{}, err
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(senderID, receiverID, seq), bytes); err != nil {
			return err
		}
		return txn.Set(unreadKey(receiverID, senderID, seq), []byte{})
	})
	if err != nil {
		return domain.Message{}, unavailable(err)
	}
	return toMessage(disk), nil
}

// FindConversation returns the messages exchanged between userA and userB, oldest first.
func (m *MessageRepository) FindConversation(ctx context.Context, userA, userB string) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	messages := make([]domain.Message, 0)
	first, second := domain.ConversationKey(userA, userB)
	prefix := []byte(fmt.Sprintf("%s:%s:%s:", messagePrefix, first, second))

	err := m.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var disk DiskMessage
				if err := bson.Unmarshal(value, &disk); err != nil {
					return err
				}
				messages = append(messages, toMessage(disk))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return messages, nil
}

// MarkRead flags every unread message from senderID to receiverID and returns how many changed.
// Messages created after the scan started stay unread.
func (m *MessageRepository) MarkRead(ctx context.Context, senderID, receiverID string) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, unavailable(err)
		}
		count, err := m.markReadBatch(senderID, receiverID)
		total += count
		if err != nil {
			return total, unavailable(err)
		}
		if count < markReadBatchSize {
			return total, nil
		}
	}
}

func (m *MessageRepository) markReadBatch(senderID, receiverID string) (int, error) {
	var count int
	var err error
	for attempt := 0; attempt < maxConflictRetry; attempt++ {
		count = 0
		err = m.db.Update(func(txn *badger.Txn) error {
			keys := scanKeys(txn, unreadPrefixFor(receiverID, senderID), markReadBatchSize)
			for _, key := range keys {
				seq, err := seqOf(key)
				if err != nil {
					return err
				}
				if err := setRead(txn, messageKey(senderID, receiverID, seq)); err != nil {
					return err
				}
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			count = len(keys)
			return nil
		})
		if !stderrors.Is(err, badger.ErrConflict) {
			return count, err
		}
		m.log.Debug("Mark read conflicted, retrying", "sender_id", senderID, "receiver_id", receiverID)
	}
	return 0, err
}

func setRead(txn *badger.Txn, key []byte) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	var disk DiskMessage
	if err := item.Value(func(value []byte) error {
		return bson.Unmarshal(value, &disk)
	}); err != nil {
		return err
	}
	if disk.IsRead {
		return nil
	}
	disk.IsRead = true
	bytes, err := bson.Marshal(disk)
	if err != nil {
		return err
	}
	return txn.Set(key, bytes)
}

// UnreadCounts returns, for receiverID, the number of unread messages per sender.
func (m *MessageRepository) UnreadCounts(ctx context.Context, receiverID string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	counts := make(map[string]int)
	prefix := fmt.Sprintf("%s:%s:", unreadPrefix, receiverID)

	err := m.db.View(func(txn *badger.Txn) error {
		for _, key := range scanKeys(txn, []byte(prefix), 0) {
			rest := strings.TrimPrefix(string(key), prefix)
			idx := strings.LastIndex(rest, ":")
			if idx <= 0 {
				continue
			}
			counts[rest[:idx]]++
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return counts, nil
}

// WalkMessages visits every stored message grouped by conversation, oldest first inside a conversation.
// It only reads, so db may be opened read-only.
func WalkMessages(ctx context.Context, db *badger.DB, fn func(domain.Message) error) error {
	prefix := []byte(messagePrefix + ":")
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var disk DiskMessage
			if err := it.Item().Value(func(value []byte) error {
				return bson.Unmarshal(value, &disk)
			}); err != nil {
				return err
			}
			if err := fn(toMessage(disk)); err != nil {
				return err
			}
		}
		return nil
	})
}

// scanKeys copies the keys under prefix, at most limit of them when limit is positive.
func scanKeys(txn *badger.Txn, prefix []byte, limit int) [][]byte {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if limit > 0 && len(keys) == limit {
			break
		}
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func messageKey(a, b string, seq uint64) []byte {
	first, second := domain.ConversationKey(a, b)
	return []byte(fmt.Sprintf("%s:%s:%s:%020d", messagePrefix, first, second, seq))
}

func unreadPrefixFor(receiverID, senderID string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:", unreadPrefix, receiverID, senderID))
}

func unreadKey(receiverID, senderID string, seq uint64) []byte {
	return append(unreadPrefixFor(receiverID, senderID), []byte(fmt.Sprintf("%020d", seq))...)
}

func seqOf(key []byte) (uint64, error) {
	str := string(key)
	return strconv.ParseUint(str[strings.LastIndex(str, ":")+1:], 10, 64)
}

func toMessage(disk DiskMessage) domain.Message {
	return domain.Message{
		ID:         disk.ID,
		SenderID:   disk.SenderID,
		ReceiverID: disk.ReceiverID,
		Text:       disk.Text,
		IsRead:     disk.IsRead,
		CreatedAt:  time.Unix(0, disk.At).UTC(),
		ClientID:   disk.ClientID,
	}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", errors.ErrStoreUnavailable, err)
}
