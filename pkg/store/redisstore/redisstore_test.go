package redisstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Requires Redis running on localhost:6379, skipped otherwise.
const testRedisAddr = "localhost:6379"

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr, DB: 9})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return New(client, logs.GetLoggerFromLevel(slog.LevelDebug))
}

func TestAncestors(t *testing.T) {
	require.Equal(t, []string{"userChats", "userChats/A1"}, ancestors("userChats/A1/A2"))
	require.Empty(t, ancestors("status"))
}

func TestWriteAndGet(t *testing.T) {
	req := require.New(t)
	s := setupTestStore(t)
	s.now = func() int64 { return 42 }
	ctx := context.Background()

	err := s.BatchWrite(ctx, []store.Write{
		{Path: store.UserChatPath("A1", "A2"), Fields: store.Fields{"chatId": "A1_A2", "updatedAt": store.ServerTimestamp}},
		{Path: store.UserChatPath("A1", "A3"), Fields: store.Fields{"chatId": "A1_A3"}},
		{Path: store.UserChatPath("A10", "A2"), Fields: store.Fields{"chatId": "A10_A2"}},
	})
	req.NoError(err)
	req.NoError(s.Write(ctx, store.Write{Path: store.UserChatPath("A1", "A2"), Fields: store.Fields{"other.typing": true}}))

	snap, err := s.Get(ctx, store.UserChatsPath("A1"))
	req.NoError(err)
	req.Len(snap.Docs, 2)

	var entry model.IndexEntry
	raw, ok := snap.Doc(store.UserChatPath("A1", "A2"))
	req.True(ok)
	req.NoError(json.Unmarshal(raw, &entry))
	req.Equal(int64(42), entry.UpdatedAt)
	req.True(entry.Other.Typing)
}

func TestSubscribe_ReceivesSnapshotsAfterWrites(t *testing.T) {
	req := require.New(t)
	s := setupTestStore(t)
	ctx := context.Background()

	stream, err := s.Subscribe(ctx, store.StatusPath("A2"))
	req.NoError(err)
	defer stream.Close()

	first := <-stream.Events()
	req.Empty(first.Docs)

	req.NoError(s.Write(ctx, store.Write{
		Path:    store.StatusPath("A2"),
		Fields:  store.Fields{"state": model.Online, "last_changed": store.ServerTimestamp},
		Replace: true,
	}))

	select {
	case snap := <-stream.Events():
		raw, ok := snap.Doc(store.StatusPath("A2"))
		req.True(ok)
		var presence model.Presence
		req.NoError(json.Unmarshal(raw, &presence))
		req.Equal(model.Online, presence.State)
	case <-time.After(2 * time.Second):
		req.Fail("no snapshot after write")
	}
}
