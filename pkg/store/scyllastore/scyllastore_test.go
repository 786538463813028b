package scyllastore

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/mahaj/dupahar-sync/pkg/db"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/snowflake"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

// Requires SCYLLA_HOSTS and KAFKA_BROKERS, skipped otherwise.
func setupTestLog(t *testing.T) *Log {
	t.Helper()
	hosts, brokers := os.Getenv("SCYLLA_HOSTS"), os.Getenv("KAFKA_BROKERS")
	if hosts == "" || brokers == "" {
		t.Skip("SCYLLA_HOSTS and KAFKA_BROKERS not set")
	}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	require.NoError(t, db.CreateKeyspace(strings.Split(hosts, ","), "chat_test", 1, log))
	session, err := db.NewSession(strings.Split(hosts, ","), "chat_test", log, db.WithConsistency(gocql.One))
	require.NoError(t, err)
	require.NoError(t, session.Migrate(log))
	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	l := New(session, log, node, strings.Split(brokers, ","), "chat-messages-test")
	t.Cleanup(func() {
		_ = l.Close()
		session.Close()
	})
	return l
}

func TestLog_RangeAndFeed(t *testing.T) {
	req := require.New(t)
	l := setupTestLog(t)
	ctx := context.Background()
	conversationID := "a" + uuid.NewString()[:8] + "_b" + uuid.NewString()[:8]

	for _, ts := range []int64{300, 100, 200} {
		_, err := l.Append(ctx, conversationID, model.Message{SenderID: "a", Text: "m", CreatedAt: ts})
		req.NoError(err)
	}

	last, err := l.ReadRange(ctx, conversationID, store.Range{LimitLast: 2})
	req.NoError(err)
	req.Equal([]int64{200, 300}, lo.Map(last, func(m model.Message, _ int) int64 { return m.CreatedAt }))

	older, err := l.ReadRange(ctx, conversationID, store.Range{LTE: lo.ToPtr(int64(199)), LimitLast: 50})
	req.NoError(err)
	req.Len(older, 1)

	stream, err := l.SubscribeAppended(ctx, conversationID, 300)
	req.NoError(err)
	defer stream.Close()

	_, err = l.Append(ctx, conversationID, model.Message{SenderID: "b", Text: "live", CreatedAt: 400})
	req.NoError(err)

	select {
	case msg := <-stream.Events():
		req.Equal(int64(400), msg.CreatedAt)
	case <-time.After(10 * time.Second):
		req.Fail("no live message from the feed")
	}
}
