package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/store"
)

type Presence struct {
	docs store.DocStore
}

func NewPresence(docs store.DocStore) Presence {
	return Presence{docs: docs}
}

func presenceWrite(uid string, state model.PresenceState) store.Write {
	return store.Write{
		Path:    store.StatusPath(uid),
		Fields:  store.Fields{"state": state, "last_changed": store.ServerTimestamp},
		Replace: true,
	}
}

// Connect marks uid online. The offline write is registered with hooks first
// so that a dropped connection converges to offline without client help.
func (p Presence) Connect(ctx context.Context, uid string, hooks store.DisconnectHooks) error {
	hooks.OnDisconnect(presenceWrite(uid, model.Offline))
	if err := p.docs.Write(ctx, presenceWrite(uid, model.Online)); err != nil {
		return fmt.Errorf("presence online %s: %w", uid, err)
	}
	return nil
}

// Disconnect marks uid offline right away.
func (p Presence) Disconnect(ctx context.Context, uid string) error {
	if err := p.docs.Write(ctx, presenceWrite(uid, model.Offline)); err != nil {
		return fmt.Errorf("presence offline %s: %w", uid, err)
	}
	return nil
}

// Get returns the presence record of uid, or nil when it never connected.
func (p Presence) Get(ctx context.Context, uid string) (*model.Presence, error) {
	snap, err := p.docs.Get(ctx, store.StatusPath(uid))
	if err != nil {
		return nil, fmt.Errorf("presence of %s: %w", uid, err)
	}
	return decodePresence(snap), nil
}

// Watch streams the presence record of uid. A nil item means no record.
func (p Presence) Watch(ctx context.Context, uid string) (store.Stream[*model.Presence], error) {
	snaps, err := p.docs.Subscribe(ctx, store.StatusPath(uid))
	if err != nil {
		return nil, fmt.Errorf("watch presence of %s: %w", uid, err)
	}
	return store.Map(ctx, snaps, func(snap store.Snapshot) (*model.Presence, bool) {
		return decodePresence(snap), true
	}), nil
}

func decodePresence(snap store.Snapshot) *model.Presence {
	raw, ok := snap.Doc(snap.Path)
	if !ok {
		return nil
	}
	var record model.Presence
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil
	}
	return &record
}
