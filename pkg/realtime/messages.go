// Package realtime holds the thin typed clients the sync components use on
// top of the raw store contracts: the message log, the per-user conversation
// index, presence records and typing flags.
package realtime

import (
	"context"
	"fmt"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/store"
)

// PageSize is the number of messages fetched by one initial or backward read.
const PageSize = 50

type Messages struct {
	log store.AppendLog
}

func NewMessages(log store.AppendLog) Messages {
	return Messages{log: log}
}

// Recent returns the latest PageSize messages, oldest first.
func (m Messages) Recent(ctx context.Context, conversationID string) ([]model.Message, error) {
	msgs, err := m.log.ReadRange(ctx, conversationID, store.Range{LimitLast: PageSize})
	if err != nil {
		return nil, fmt.Errorf("recent %s: %w", conversationID, err)
	}
	return msgs, nil
}

// Before returns up to PageSize messages created strictly before ts, oldest first.
func (m Messages) Before(ctx context.Context, conversationID string, ts int64) ([]model.Message, error) {
	upper := ts - 1
	msgs, err := m.log.ReadRange(ctx, conversationID, store.Range{LTE: &upper, LimitLast: PageSize})
	if err != nil {
		return nil, fmt.Errorf("before %d in %s: %w", ts, conversationID, err)
	}
	return msgs, nil
}

// Between returns every message with from <= createdAt <= to. Zero bounds are open.
func (m Messages) Between(ctx context.Context, conversationID string, from, to int64, limit int) ([]model.Message, error) {
	r := store.Range{LimitLast: limit}
	if from > 0 {
		r.GTE = &from
	}
	if to > 0 {
		r.LTE = &to
	}
	msgs, err := m.log.ReadRange(ctx, conversationID, r)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", conversationID, err)
	}
	return msgs, nil
}

// Tail streams messages appended with createdAt strictly after startAfter.
func (m Messages) Tail(ctx context.Context, conversationID string, startAfter int64) (store.Stream[model.Message], error) {
	stream, err := m.log.SubscribeAppended(ctx, conversationID, startAfter)
	if err != nil {
		return nil, fmt.Errorf("tail %s: %w", conversationID, err)
	}
	return stream, nil
}

// Append stores msg and returns it with its assigned key.
func (m Messages) Append(ctx context.Context, conversationID string, msg model.Message) (model.Message, error) {
	key, err := m.log.Append(ctx, conversationID, msg)
	if err != nil {
		return model.Message{}, fmt.Errorf("append to %s: %w", conversationID, err)
	}
	msg.ID = key
	msg.ConversationID = conversationID
	return msg, nil
}
