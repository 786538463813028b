package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mahaj/dupahar-sync/pkg/convid"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/store"
)

// Index reads and writes the per-user conversation index
// ("userChats/{owner}/{peer}") and the shared "chats/{cid}" metadata.
type Index struct {
	docs store.DocStore
	log  *slog.Logger
}

func NewIndex(docs store.DocStore, log *slog.Logger) Index {
	return Index{docs: docs, log: log}
}

// Watch streams the full entry set of uid on every change.
func (i Index) Watch(ctx context.Context, uid string) (store.Stream[[]model.IndexEntry], error) {
	snaps, err := i.docs.Subscribe(ctx, store.UserChatsPath(uid))
	if err != nil {
		return nil, fmt.Errorf("watch index of %s: %w", uid, err)
	}
	return store.Map(ctx, snaps, func(snap store.Snapshot) ([]model.IndexEntry, bool) {
		return i.decode(snap), true
	}), nil
}

// Entries reads the entry set of uid once.
func (i Index) Entries(ctx context.Context, uid string) ([]model.IndexEntry, error) {
	snap, err := i.docs.Get(ctx, store.UserChatsPath(uid))
	if err != nil {
		return nil, fmt.Errorf("index of %s: %w", uid, err)
	}
	return i.decode(snap), nil
}

// decode keeps the direct children of the snapshot root. Undecodable entries
// are skipped.
func (i Index) decode(snap store.Snapshot) []model.IndexEntry {
	entries := make([]model.IndexEntry, 0, len(snap.Docs))
	for path, raw := range snap.Docs {
		peer := store.Base(path)
		if path != snap.Path+"/"+peer {
			continue
		}
		var entry model.IndexEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			i.log.Debug("Skipping undecodable index entry", "path", path, "error", err)
			continue
		}
		entry.PeerID = peer
		if entry.ChatID == "" {
			entry.ChatID = convid.New(store.Base(snap.Path), peer)
		}
		entries = append(entries, entry)
	}
	return entries
}

// Mirror updates the conversation metadata and both participants' index
// entries after msg was appended. The writes are best effort: the returned
// error joins whatever failed and the rest still lands.
func (i Index) Mirror(ctx context.Context, conversationID string, msg model.Message) error {
	return i.docs.BatchWrite(ctx, MirrorWrites(conversationID, msg))
}

// MirrorWrites builds the metadata fan-out for msg in conversationID.
func MirrorWrites(conversationID string, msg model.Message) []store.Write {
	last := msg
	last.ConversationID = ""
	writes := []store.Write{{
		Path:   store.ChatPath(conversationID),
		Fields: store.Fields{"lastMessage": last, "updatedAt": store.ServerTimestamp},
	}}
	pair, err := convid.Parse(conversationID)
	if err != nil {
		return writes
	}
	for _, w := range [][2]string{{pair[0], pair[1]}, {pair[1], pair[0]}} {
		writes = append(writes, store.Write{
			Path: store.UserChatPath(w[0], w[1]),
			Fields: store.Fields{
				"chatId":      conversationID,
				"lastMessage": last,
				"updatedAt":   store.ServerTimestamp,
			},
		})
	}
	return writes
}

// Seed creates both index entries of a new conversation. Each side gets the
// other's display snapshot when one is known. updatedAt is only stamped on
// documents that do not exist yet: it tracks the last message and an existing
// conversation keeps its place in both lists.
func (i Index) Seed(ctx context.Context, conversationID string, snapshots map[string]*model.Peer) error {
	pair, err := convid.Parse(conversationID)
	if err != nil {
		return err
	}
	writes := []store.Write{{
		Path:   store.ChatPath(conversationID),
		Fields: store.Fields{"participants": pair},
	}}
	for _, w := range [][2]string{{pair[0], pair[1]}, {pair[1], pair[0]}} {
		fields := store.Fields{"chatId": conversationID}
		if peer := snapshots[w[1]]; peer.HasDisplay() {
			fields["other.uid"] = w[1]
			fields["other.username"] = peer.Username
			fields["other.displayName"] = peer.DisplayName
			fields["other.photoURL"] = peer.PhotoURL
		}
		writes = append(writes, store.Write{Path: store.UserChatPath(w[0], w[1]), Fields: fields})
	}
	for _, w := range writes {
		if !i.exists(ctx, w.Path) {
			w.Fields["updatedAt"] = store.ServerTimestamp
		}
	}
	return i.docs.BatchWrite(ctx, writes)
}

// exists reports whether a document is stored at path. A failed read counts
// as existing so recency is never overwritten on a guess.
func (i Index) exists(ctx context.Context, path string) bool {
	snap, err := i.docs.Get(ctx, path)
	if err != nil {
		i.log.Debug("Assuming document exists", "path", path, "error", err)
		return true
	}
	_, ok := snap.Doc(path)
	return ok
}
