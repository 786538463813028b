// Package convlist maintains a user's live, recency sorted conversation list
// and backfills peer display data the index entries lack.
package convlist

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/profile"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultWideThreshold = 600
	DefaultLookups       = 4
)

type Config struct {
	// WideThreshold is the viewport width in px above which the top entry is auto selected.
	WideThreshold int
	// Lookups bounds concurrent profile lookups.
	Lookups int
}

// Listener receives the full sorted list after every change, and the
// conversation picked by auto select.
type Listener interface {
	ListChanged(entries []model.IndexEntry)
	AutoSelected(entry model.IndexEntry)
}

type Controller struct {
	index    realtime.Index
	profiles profile.Lookup
	uid      string
	log      *slog.Logger
	cfg      Config
	listener Listener

	emitMu sync.Mutex

	mu       sync.Mutex
	entries  []model.IndexEntry
	peers    map[string]*model.Peer
	pending  map[string]bool
	selected string
	width    int
	wasEmpty bool
	stream   store.Stream[[]model.IndexEntry]
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(index realtime.Index, profiles profile.Lookup, uid string, log *slog.Logger, cfg Config, listener Listener) *Controller {
	if cfg.WideThreshold <= 0 {
		cfg.WideThreshold = DefaultWideThreshold
	}
	if cfg.Lookups <= 0 {
		cfg.Lookups = DefaultLookups
	}
	return &Controller{
		index:    index,
		profiles: profiles,
		uid:      uid,
		log:      log,
		cfg:      cfg,
		listener: listener,
		peers:    map[string]*model.Peer{},
		pending:  map[string]bool{},
		wasEmpty: true,
	}
}

// Start subscribes to the user's index. Updates are published until Stop.
func (c *Controller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.index.Watch(ctx, c.uid)
	if err != nil {
		cancel()
		return err
	}
	c.mu.Lock()
	c.stream, c.ctx, c.cancel = stream, ctx, cancel
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for entries := range stream.Events() {
			c.apply(entries)
		}
		if err := stream.Err(); err != nil {
			c.log.Warn("Conversation index feed ended", "user_id", c.uid, "error", err)
		}
	}()
	return nil
}

// Stop detaches the index subscription and waits for in-flight lookups.
func (c *Controller) Stop() {
	c.mu.Lock()
	stream, cancel := c.stream, c.cancel
	c.stream, c.cancel = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}
	c.wg.Wait()
}

// SetSelected records the conversation the page shows, "" for none.
func (c *Controller) SetSelected(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = chatID
}

// SetViewportWidth records the client viewport width in px.
func (c *Controller) SetViewportWidth(width int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width = width
}

func (c *Controller) Entries() []model.IndexEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.entries)
}

// Find returns the entry of conversation chatID.
func (c *Controller) Find(chatID string) (model.IndexEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.entries, func(e model.IndexEntry) bool { return e.ChatID == chatID })
	if i < 0 {
		return model.IndexEntry{}, false
	}
	return c.entries[i], true
}

func (c *Controller) apply(entries []model.IndexEntry) {
	c.mu.Lock()
	c.entries = c.mergeLocked(entries)
	Sort(c.entries)

	var auto *model.IndexEntry
	if c.wasEmpty && len(c.entries) > 0 && c.selected == "" && c.width > c.cfg.WideThreshold {
		top := c.entries[0]
		auto = &top
		c.selected = top.ChatID
	}
	c.wasEmpty = len(c.entries) == 0

	var missing []string
	for _, e := range c.entries {
		if e.Other.HasDisplay() || c.pending[e.PeerID] {
			continue
		}
		if _, known := c.peers[e.PeerID]; known {
			continue
		}
		c.pending[e.PeerID] = true
		missing = append(missing, e.PeerID)
	}
	ctx := c.ctx
	c.mu.Unlock()

	c.publish()
	if auto != nil {
		c.listener.AutoSelected(*auto)
	}
	if len(missing) > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.backfill(ctx, missing)
		}()
	}
}

// mergeLocked fills display data from resolved profiles. A nil cache entry
// marks a peer without a profile.
func (c *Controller) mergeLocked(entries []model.IndexEntry) []model.IndexEntry {
	merged := make([]model.IndexEntry, len(entries))
	for i, e := range entries {
		if !e.Other.HasDisplay() {
			if peer := c.peers[e.PeerID]; peer != nil {
				filled := *peer
				if e.Other != nil {
					filled.Typing = e.Other.Typing
				}
				e.Other = &filled
			}
		}
		merged[i] = e
	}
	return merged
}

// backfill resolves missing peers concurrently and republishes once they are in.
func (c *Controller) backfill(ctx context.Context, uids []string) {
	var g errgroup.Group
	g.SetLimit(c.cfg.Lookups)
	for _, uid := range uids {
		g.Go(func() error {
			p, err := c.profiles.GetProfile(ctx, uid)
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.pending, uid)
			switch {
			case err == nil:
				p.UID = uid
				c.peers[uid] = p.AsPeer()
			case errors.Is(err, profile.ErrNotFound):
				c.peers[uid] = nil
			default:
				c.log.Debug("Profile lookup failed", "peer_id", uid, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	c.entries = c.mergeLocked(c.entries)
	c.mu.Unlock()
	c.publish()
}

// publish hands the current list to the listener. Publications are
// serialized and always carry the latest state.
func (c *Controller) publish() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	entries := c.Entries()
	c.listener.ListChanged(entries)
}

// Sort orders entries by UpdatedAt descending. Entries without a timestamp
// go last and ties are broken by peer uid.
func Sort(entries []model.IndexEntry) {
	slices.SortStableFunc(entries, func(a, b model.IndexEntry) int {
		switch {
		case a.UpdatedAt == b.UpdatedAt:
			return cmp.Compare(a.PeerID, b.PeerID)
		case a.UpdatedAt == 0:
			return 1
		case b.UpdatedAt == 0:
			return -1
		}
		return cmp.Compare(b.UpdatedAt, a.UpdatedAt)
	})
}

// DisplayName is the label of an entry: display name, then username, then "@uid".
func DisplayName(entry model.IndexEntry) string {
	if entry.Other != nil {
		if entry.Other.DisplayName != "" {
			return entry.Other.DisplayName
		}
		if entry.Other.Username != "" {
			return entry.Other.Username
		}
	}
	return "@" + entry.PeerID
}
