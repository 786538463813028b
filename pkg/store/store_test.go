package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestApply_MergesDottedFields(t *testing.T) {
	req := require.New(t)

	doc, err := Apply(nil, Write{Path: "userChats/A2/A1", Fields: Fields{
		"chatId":      "A1_A2",
		"lastMessage": &model.Message{SenderID: "A1", Text: "hi", CreatedAt: 100},
		"updatedAt":   ServerTimestamp,
	}}, 123)
	req.NoError(err)

	doc, err = Apply(doc, Write{Path: "userChats/A2/A1", Fields: Fields{"other.typing": true}}, 456)
	req.NoError(err)

	var entry model.IndexEntry
	req.NoError(json.Unmarshal(doc, &entry))
	req.Equal("A1_A2", entry.ChatID)
	req.Equal(int64(123), entry.UpdatedAt)
	req.Equal("hi", entry.LastMessage.Text)
	req.NotNil(entry.Other)
	req.True(entry.Other.Typing)
}

func TestApply_Replace(t *testing.T) {
	req := require.New(t)
	doc, err := Apply(json.RawMessage(`{"state":"online","extra":1}`), Write{
		Path:    StatusPath("A1"),
		Fields:  Fields{"state": model.Offline, "last_changed": ServerTimestamp},
		Replace: true,
	}, 99)
	req.NoError(err)
	req.JSONEq(`{"state":"offline","last_changed":99}`, string(doc))
}

func TestApply_NilDeletesField(t *testing.T) {
	doc, err := Apply(json.RawMessage(`{"a":1,"b":2}`), Write{Fields: Fields{"b": nil}}, 0)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(doc))
}

func TestRange_Contains(t *testing.T) {
	r := Range{GTE: lo.ToPtr(int64(10)), LTE: lo.ToPtr(int64(20))}
	require.True(t, r.Contains(10))
	require.True(t, r.Contains(20))
	require.False(t, r.Contains(9))
	require.False(t, r.Contains(21))
	require.True(t, Range{}.Contains(-5))
}

func TestIsUnder(t *testing.T) {
	require.True(t, IsUnder("userChats/A1/A2", "userChats/A1"))
	require.True(t, IsUnder("userChats/A1", "userChats/A1"))
	require.False(t, IsUnder("userChats/A10/A2", "userChats/A1"))
	require.Equal(t, "A2", Base("userChats/A1/A2"))
}

func TestPump_CloseStopsProducer(t *testing.T) {
	req := require.New(t)
	stopped := make(chan struct{})
	stream := Pump(context.Background(), func(ctx context.Context, emit func(int) bool) error {
		defer close(stopped)
		for i := 0; ; i++ {
			if !emit(i) {
				return nil
			}
		}
	})

	req.Equal(0, <-stream.Events())
	req.Equal(1, <-stream.Events())
	stream.Close()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		req.Fail("producer still running after Close")
	}
	_, ok := <-stream.Events()
	req.False(ok)
	req.NoError(stream.Err())
}

func TestMap_PropagatesError(t *testing.T) {
	req := require.New(t)
	boom := errors.New("boom")
	src := Pump(context.Background(), func(ctx context.Context, emit func(int) bool) error {
		emit(1)
		emit(2)
		return boom
	})
	odd := Map(context.Background(), src, func(i int) (string, bool) {
		return "odd", i%2 == 1
	})

	var got []string
	for item := range odd.Events() {
		got = append(got, item)
	}
	req.Equal([]string{"odd"}, got)
	req.True(errors.Is(odd.Err(), boom))
	odd.Close()
}

func TestDisconnectQueue(t *testing.T) {
	var q DisconnectQueue
	q.OnDisconnect(Write{Path: StatusPath("A1")})
	require.Len(t, q.Pending(), 1)
	require.Empty(t, q.Pending())
}
