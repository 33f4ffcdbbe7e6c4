//go:generate go run go.uber.org/mock/mockgen -source=history.go -destination=../mocks/mock_history_repository.go -package=mocks
package repositories

import (
	"fmt"
	"log/slog"
	"time"

	"chat-relay/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// IHistoryRepository is the durable room log: append-only writes,
// recency-bounded reads, room-wide deletes. Nothing else is part of
// the contract.
type IHistoryRepository interface {
	Append(message StoredMessage) error
	FetchRecent(room domain.RoomName, limit int) ([]StoredMessage, error)
	DeleteAll(room domain.RoomName) error
}

// StoredMessage is the persisted shape of a room message. Private
// messages never reach this type.
type StoredMessage struct {
	ID      uuid.UUID
	Room    domain.RoomName
	Author  string
	Content string
	At      time.Time
}

type HistoryRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewHistoryRepository(db *badger.DB, log *slog.Logger) HistoryRepository {
	return HistoryRepository{db: db, log: log}
}

func roomPrefix(room domain.RoomName) []byte {
	return []byte(fmt.Sprintf("msg:%s:", room))
}

// Append persists a message in BadgerDB.
// The key is formatted as "msg:{room}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding
//     (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two
//     messages arrive at the same nanosecond.
func (r HistoryRepository) Append(message StoredMessage) error {
	key := fmt.Sprintf("msg:%s:%019d:%s",
		message.Room,
		message.At.UnixNano(),
		message.ID,
	)
	bytes, err := cbor.Marshal(message)
	if err != nil {
		return fmt.Errorf("encoding message %s: %w", message.ID, err)
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// FetchRecent returns the `limit` most recent messages of a room,
// oldest first. The reverse prefix scan walks newest-to-oldest thanks
// to the padded timestamp in the key; the result is flipped before
// returning so clients can render it top-down.
func (r HistoryRepository) FetchRecent(room domain.RoomName, limit int) ([]StoredMessage, error) {
	var raw [][]byte
	prefix := roomPrefix(room)

	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past every possible timestamp for this room, then walk back.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(raw) == limit {
				break
			}
			err := it.Item().Value(func(value []byte) error {
				raw = append(raw, append([]byte{}, value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	messages := make([]StoredMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var message StoredMessage
		if err = cbor.Unmarshal(raw[i], &message); err != nil {
			return nil, fmt.Errorf("decoding stored message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// DeleteAll removes every persisted message of a room. Keys are
// collected in a read transaction first; the writes go through a
// WriteBatch so a large room cannot blow the transaction size limit.
func (r HistoryRepository) DeleteAll(room domain.RoomName) error {
	prefix := roomPrefix(room)
	var keys [][]byte

	err := r.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	batch := r.db.NewWriteBatch()
	defer batch.Cancel()
	for _, key := range keys {
		if err = batch.Delete(key); err != nil {
			return err
		}
	}
	if err = batch.Flush(); err != nil {
		return err
	}
	r.log.Debug("room history wiped", "room", room, "deleted", len(keys))
	return nil
}
