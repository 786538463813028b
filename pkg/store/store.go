//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_append_log.go -package=mocks -exclude_interfaces=DocStore

// Package store defines the collaborator contracts the sync core talks to:
// an ordered, timestamp indexed append log and a live document store.
// Backends live in the sub packages.
package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mahaj/dupahar-sync/pkg/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrClosed   = errors.New("store: stream closed")
)

// Range bounds a ReadRange query on the creation timestamp, both ends inclusive.
// LimitLast keeps only the last n items of the range; zero means unbounded.
type Range struct {
	GTE       *int64
	LTE       *int64
	LimitLast int
}

// Contains reports whether ts falls within the range bounds.
func (r Range) Contains(ts int64) bool {
	if r.GTE != nil && ts < *r.GTE {
		return false
	}
	if r.LTE != nil && ts > *r.LTE {
		return false
	}
	return true
}

// AppendLog is the per-conversation ordered message log.
// ReadRange results are ascending by CreatedAt, ties in insertion order.
type AppendLog interface {
	NewKey() string
	Append(ctx context.Context, conversationID string, msg model.Message) (string, error)
	ReadRange(ctx context.Context, conversationID string, r Range) ([]model.Message, error)
	// SubscribeAppended streams messages appended after the call whose
	// CreatedAt is strictly greater than startAfter. Delivery is at least once.
	SubscribeAppended(ctx context.Context, conversationID string, startAfter int64) (Stream[model.Message], error)
}

// Snapshot is the full content under a subscribed path: every document at
// or below it, keyed by document path.
type Snapshot struct {
	Path string
	Docs map[string]json.RawMessage
}

// Doc returns the document stored exactly at path.
func (s Snapshot) Doc(path string) (json.RawMessage, bool) {
	raw, ok := s.Docs[path]
	return raw, ok
}

// DocStore is a live document store with partial (field merge) writes.
// Field names may be dotted to address nested objects ("other.typing").
type DocStore interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Subscribe(ctx context.Context, path string) (Stream[Snapshot], error)
	Write(ctx context.Context, w Write) error
	// BatchWrite applies every write it can. It is not atomic: the returned
	// error joins the failures and the other writes still land.
	BatchWrite(ctx context.Context, writes []Write) error
}
