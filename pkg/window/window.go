// Package window keeps the ordered, duplicate free message buffer of the
// conversation currently open on a page: initial load, live tail and
// backward pagination with scroll anchoring.
package window

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mahaj/dupahar-sync/pkg/convid"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/mahaj/dupahar-sync/pkg/syncerr"
	"github.com/samber/lo"
)

type State int

const (
	Closed State = iota
	Loading
	Live
	LoadingOlder
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Live:
		return "live"
	case LoadingOlder:
		return "loading_older"
	}
	return "closed"
}

// Viewport is the scroll container rendering the window.
type Viewport interface {
	ContentHeight() float64
	ScrollTop() float64
	SetScrollTop(top float64)
}

// Listener observes window changes. Calls are serialized and happen in
// mutation order, after the window lock was released. A listener must not
// call Open, LoadOlder or Close.
type Listener interface {
	Loaded(snap Snapshot)
	Appended(msg model.Message)
	Prepended(msgs []model.Message)
	// StateChanged carries the conversation the state applies to. For Closed
	// it is the conversation that was just closed.
	StateChanged(conversationID string, state State)
}

type Snapshot struct {
	ConversationID string
	State          State
	HasMore        bool
	Messages       []model.Message
}

// Older reports one LoadOlder call. Delta is the content height the prepend
// added, already applied to the viewport when there is one. AnchorID is the
// message that was first before the prepend.
type Older struct {
	Added    int
	Messages []model.Message
	HasMore  bool
	Delta    float64
	AnchorID string
}

type Manager struct {
	messages realtime.Messages
	self     string
	log      *slog.Logger
	listener Listener

	// emitMu is taken before mu is released so listener calls keep mutation order.
	emitMu sync.Mutex

	mu       sync.Mutex
	viewport Viewport
	gen      uint64
	state    State
	cid      string
	buffer   []model.Message
	seen     map[string]struct{}
	oldest   int64
	newest   int64
	hasMore  bool
	stream   store.Stream[model.Message]
	convCtx  context.Context
	cancel   context.CancelFunc
}

// New returns a closed window for the user self. listener may be nil.
func New(messages realtime.Messages, self string, log *slog.Logger, listener Listener) *Manager {
	if listener == nil {
		listener = nopListener{}
	}
	return &Manager{
		messages: messages,
		self:     self,
		log:      log,
		listener: listener,
		seen:     map[string]struct{}{},
	}
}

func (m *Manager) SetViewport(vp Viewport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewport = vp
}

// unlockAndNotify releases mu and runs notify with the emit lock held.
func (m *Manager) unlockAndNotify(notify func(l Listener)) {
	m.emitMu.Lock()
	m.mu.Unlock()
	defer m.emitMu.Unlock()
	notify(m.listener)
}

// detachLocked invalidates every in-flight operation and stream delivery and
// hands back what the caller must release once mu is dropped.
func (m *Manager) detachLocked() (store.Stream[model.Message], context.CancelFunc) {
	m.gen++
	stream, cancel := m.stream, m.cancel
	m.stream, m.cancel, m.convCtx = nil, nil, nil
	m.cid = ""
	m.buffer = nil
	m.seen = map[string]struct{}{}
	m.oldest, m.newest = 0, 0
	m.hasMore = false
	return stream, cancel
}

func release(stream store.Stream[model.Message], cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}
}

// Open replaces the current conversation with conversationID. The previous
// live subscription is fully detached before anything else happens.
//
// A malformed id, or one self does not take part in, yields an empty live
// window with nothing more to load. A failed read leaves the window Loading
// and returns an error wrapping syncerr.ErrTransientRead; calling Open again
// retries. An Open overtaken by another Open or Close returns nil and leaves
// no trace.
func (m *Manager) Open(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	prevStream, prevCancel := m.detachLocked()
	gen := m.gen
	m.cid = conversationID
	m.state = Loading
	m.unlockAndNotify(func(l Listener) { l.StateChanged(conversationID, Loading) })
	release(prevStream, prevCancel)

	if _, ok := convid.Peer(conversationID, m.self); !ok {
		m.log.Debug("Opening empty window for invalid conversation", "conversation_id", conversationID, "user_id", m.self)
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return nil
		}
		m.state = Live
		snap := m.snapshotLocked()
		m.unlockAndNotify(func(l Listener) {
			l.StateChanged(conversationID, Live)
			l.Loaded(snap)
		})
		return nil
	}

	convCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		cancel()
		return nil
	}
	m.convCtx, m.cancel = convCtx, cancel
	m.mu.Unlock()

	batch, err := m.messages.Recent(convCtx, conversationID)
	if err != nil {
		return m.failOpen(gen, conversationID, err)
	}
	var newest int64
	for _, msg := range batch {
		newest = max(newest, msg.CreatedAt)
	}
	stream, err := m.messages.Tail(convCtx, conversationID, newest)
	if err != nil {
		return m.failOpen(gen, conversationID, err)
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		stream.Close()
		return nil
	}
	for _, msg := range batch {
		if _, dup := m.seen[msg.ID]; dup {
			continue
		}
		m.seen[msg.ID] = struct{}{}
		m.buffer = append(m.buffer, msg)
	}
	if len(batch) > 0 {
		m.oldest = lo.MinBy(batch, func(a, b model.Message) bool { return a.CreatedAt < b.CreatedAt }).CreatedAt
	}
	m.newest = newest
	m.hasMore = len(batch) > 0
	m.stream = stream
	m.state = Live
	snap := m.snapshotLocked()
	go m.follow(gen, stream)
	m.log.Debug("Window opened", "conversation_id", conversationID, "messages", len(snap.Messages))
	m.unlockAndNotify(func(l Listener) {
		l.StateChanged(conversationID, Live)
		l.Loaded(snap)
	})
	return nil
}

func (m *Manager) failOpen(gen uint64, conversationID string, err error) error {
	m.mu.Lock()
	superseded := gen != m.gen
	m.mu.Unlock()
	if superseded {
		return nil
	}
	m.log.Warn("Failed to load conversation", "conversation_id", conversationID, "error", err)
	return fmt.Errorf("%w: open %s: %w", syncerr.ErrTransientRead, conversationID, err)
}

// follow applies live deliveries until the stream ends.
func (m *Manager) follow(gen uint64, stream store.Stream[model.Message]) {
	for msg := range stream.Events() {
		m.onAppended(gen, msg)
	}
	if err := stream.Err(); err != nil {
		m.log.Warn("Live tail ended", "error", err)
	}
}

func (m *Manager) onAppended(gen uint64, msg model.Message) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if _, dup := m.seen[msg.ID]; dup {
		m.mu.Unlock()
		return
	}
	m.seen[msg.ID] = struct{}{}
	m.buffer = append(m.buffer, msg)
	m.newest = max(m.newest, msg.CreatedAt)
	if len(m.buffer) == 1 {
		m.oldest = msg.CreatedAt
	}
	m.unlockAndNotify(func(l Listener) { l.Appended(msg) })
}

// LoadOlder prepends the page of messages preceding the oldest one loaded.
// It does nothing while another LoadOlder is in flight, once the start of
// the conversation was reached, or while the window is empty. A failed read
// keeps hasMore and returns an error wrapping syncerr.ErrTransientRead.
func (m *Manager) LoadOlder(ctx context.Context) (Older, error) {
	m.mu.Lock()
	if m.state != Live || !m.hasMore || len(m.buffer) == 0 {
		res := Older{HasMore: m.hasMore}
		m.mu.Unlock()
		return res, nil
	}
	gen, cid, oldest := m.gen, m.cid, m.oldest
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	if m.convCtx != nil {
		defer context.AfterFunc(m.convCtx, stop)()
	}
	m.state = LoadingOlder
	m.unlockAndNotify(func(l Listener) { l.StateChanged(cid, LoadingOlder) })

	batch, err := m.messages.Before(ctx, cid, oldest)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return Older{}, nil
	}
	m.state = Live
	if err != nil {
		res := Older{HasMore: m.hasMore}
		m.unlockAndNotify(func(l Listener) { l.StateChanged(cid, Live) })
		m.log.Warn("Failed to load older messages", "conversation_id", cid, "error", err)
		return res, fmt.Errorf("%w: older in %s: %w", syncerr.ErrTransientRead, cid, err)
	}
	if len(batch) == 0 {
		m.hasMore = false
		m.unlockAndNotify(func(l Listener) { l.StateChanged(cid, Live) })
		return Older{HasMore: false}, nil
	}

	var fresh []model.Message
	for _, msg := range batch {
		if _, dup := m.seen[msg.ID]; dup {
			continue
		}
		m.seen[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	res := Older{Added: len(fresh), Messages: fresh, HasMore: true, AnchorID: m.buffer[0].ID}
	m.oldest = min(m.oldest, lo.MinBy(batch, func(a, b model.Message) bool { return a.CreatedAt < b.CreatedAt }).CreatedAt)
	vp := m.viewport
	var before float64
	if vp != nil && len(fresh) > 0 {
		before = vp.ContentHeight()
	}
	m.buffer = append(slices.Clone(fresh), m.buffer...)
	m.unlockAndNotify(func(l Listener) {
		if len(fresh) > 0 {
			l.Prepended(fresh)
			if vp != nil {
				res.Delta = vp.ContentHeight() - before
				vp.SetScrollTop(vp.ScrollTop() + res.Delta)
			}
		}
		l.StateChanged(cid, Live)
	})
	return res, nil
}

// Close detaches the live subscription, cancels any in-flight read and
// clears the buffer. Closing a closed window does nothing.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == Closed && m.stream == nil && m.cancel == nil && m.cid == "" {
		m.mu.Unlock()
		return
	}
	cid := m.cid
	stream, cancel := m.detachLocked()
	m.state = Closed
	m.unlockAndNotify(func(l Listener) { l.StateChanged(cid, Closed) })
	release(stream, cancel)
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{
		ConversationID: m.cid,
		State:          m.state,
		HasMore:        m.hasMore,
		Messages:       append([]model.Message(nil), m.buffer...),
	}
}

// ConversationID returns the conversation the window is bound to, if any.
func (m *Manager) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cid
}

type nopListener struct{}

func (nopListener) Loaded(Snapshot) {}
func (nopListener) Appended(model.Message) {}
func (nopListener) Prepended([]model.Message) {}
func (nopListener) StateChanged(string, State) {}
