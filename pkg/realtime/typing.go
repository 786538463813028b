package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mahaj/dupahar-sync/pkg/store"
)

const typingField = "other.typing"

// Typing carries the per (viewer, peer) flag. The viewer writes it under the
// peer's own index entry so the peer reads its local slot.
type Typing struct {
	docs store.DocStore
}

func NewTyping(docs store.DocStore) Typing {
	return Typing{docs: docs}
}

// Set writes viewer's typing state where peer reads it.
func (t Typing) Set(ctx context.Context, viewer, peer string, typing bool) error {
	err := t.docs.Write(ctx, store.Write{
		Path:   store.UserChatPath(peer, viewer),
		Fields: store.Fields{typingField: typing},
	})
	if err != nil {
		return fmt.Errorf("typing %s to %s: %w", viewer, peer, err)
	}
	return nil
}

// Watch streams whether peer is typing to me. Repeated values are dropped.
func (t Typing) Watch(ctx context.Context, me, peer string) (store.Stream[bool], error) {
	path := store.UserChatPath(me, peer)
	snaps, err := t.docs.Subscribe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("watch typing of %s: %w", peer, err)
	}
	first := true
	var last bool
	return store.Map(ctx, snaps, func(snap store.Snapshot) (bool, bool) {
		typing := decodeTyping(snap)
		if !first && typing == last {
			return false, false
		}
		first, last = false, typing
		return typing, true
	}), nil
}

func decodeTyping(snap store.Snapshot) bool {
	raw, ok := snap.Doc(snap.Path)
	if !ok {
		return false
	}
	var entry struct {
		Other struct {
			Typing bool `json:"typing"`
		} `json:"other"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil {
		return false
	}
	return entry.Other.Typing
}
