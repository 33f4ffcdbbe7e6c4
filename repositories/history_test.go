package repositories

import (
	"log/slog"
	"testing"
	"time"

	"chat-relay/domain"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func storedAt(room domain.RoomName, author string, at time.Time) StoredMessage {
	return StoredMessage{
		ID:      uuid.New(),
		Room:    room,
		Author:  author,
		Content: "this message will self destruct in 5 seconds",
		At:      at,
	}
}

func Test_Append_And_FetchRecent_Sorted_Ascending(t *testing.T) {
	req := require.New(t)
	repository := NewHistoryRepository(openTestDB(t), slog.Default())

	room := domain.RoomName("general")
	at := time.Now().UTC()
	messages := []StoredMessage{
		storedAt(room, "Alice", at),
		storedAt(room, "Bob", at.Add(1*time.Minute)),
		storedAt(room, "Clara", at.Add(2*time.Minute)),
	}
	// Insert out of order on purpose, the key layout must sort them.
	for _, i := range []int{2, 0, 1} {
		req.NoError(repository.Append(messages[i]))
	}

	fetched, err := repository.FetchRecent(room, 50)
	req.NoError(err)
	req.Len(fetched, len(messages))
	req.Equal([]string{"Alice", "Bob", "Clara"},
		lo.Map(fetched, func(m StoredMessage, _ int) string { return m.Author }))
}

func Test_FetchRecent_Keeps_Newest_When_Limited(t *testing.T) {
	req := require.New(t)
	repository := NewHistoryRepository(openTestDB(t), slog.Default())

	room := domain.RoomName("general")
	at := time.Now().UTC()
	for i, author := range []string{"Alice", "Bob", "Clara", "Dan"} {
		req.NoError(repository.Append(storedAt(room, author, at.Add(time.Duration(i)*time.Minute))))
	}

	fetched, err := repository.FetchRecent(room, 2)
	req.NoError(err)

	// The two most recent, still oldest first.
	req.Equal([]string{"Clara", "Dan"},
		lo.Map(fetched, func(m StoredMessage, _ int) string { return m.Author }))
}

func Test_FetchRecent_Unknown_Room_Is_Empty(t *testing.T) {
	req := require.New(t)
	repository := NewHistoryRepository(openTestDB(t), slog.Default())

	fetched, err := repository.FetchRecent("nowhere", 50)
	req.NoError(err)
	req.Empty(fetched)
}

func Test_DeleteAll_Only_Wipes_The_Target_Room(t *testing.T) {
	req := require.New(t)
	repository := NewHistoryRepository(openTestDB(t), slog.Default())

	at := time.Now().UTC()
	req.NoError(repository.Append(storedAt("general", "Alice", at)))
	req.NoError(repository.Append(storedAt("general", "Bob", at.Add(time.Minute))))
	req.NoError(repository.Append(storedAt("random", "Clara", at)))

	req.NoError(repository.DeleteAll("general"))

	cleared, err := repository.FetchRecent("general", 50)
	req.NoError(err)
	req.Empty(cleared)

	kept, err := repository.FetchRecent("random", 50)
	req.NoError(err)
	req.Len(kept, 1)
	req.Equal("Clara", kept[0].Author)
}
