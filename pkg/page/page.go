// Package page is the conversation page coordinator. It owns which
// conversation is active for one signed in user and wires the list, the
// message window and the indicators to a client through emitted events.
package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mahaj/dupahar-sync/pkg/convid"
	"github.com/mahaj/dupahar-sync/pkg/convlist"
	"github.com/mahaj/dupahar-sync/pkg/indicator"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/profile"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/mahaj/dupahar-sync/pkg/syncerr"
	"github.com/mahaj/dupahar-sync/pkg/window"
	"github.com/samber/lo"
)

var validate = validator.New()

// Emitter receives page events. Calls may come from several goroutines.
type Emitter interface {
	Emit(event model.Event)
}

type Config struct {
	UserID string
	// InitialChatID seeds the selection, typically from a "chatId" query parameter.
	// It is validated lazily: a bad id opens an empty window.
	InitialChatID string
	ViewportWidth int
	TypingIdle    time.Duration
	List          convlist.Config
}

type Deps struct {
	Log      store.AppendLog
	Docs     store.DocStore
	Profiles profile.Lookup
	Logger   *slog.Logger
	Emitter  Emitter
	// Now returns the sender clock in unix ms. Defaults to time.Now.
	Now func() int64
}

type Page struct {
	uid      string
	initial  string
	log      *slog.Logger
	emitter  Emitter
	now      func() int64
	messages realtime.Messages
	index    realtime.Index
	profiles profile.Lookup

	list   *convlist.Controller
	window *window.Manager
	typing *indicator.Typing
	peers  *indicator.PeerWatch

	// navMu is held while a selection change runs; navigations queue on it.
	navMu sync.Mutex

	mu        sync.Mutex
	ctx       context.Context
	selected  string
	closed    bool
	navEpoch  uint64
	navCancel context.CancelFunc
	auto      sync.WaitGroup
}

func New(cfg Config, deps Deps) *Page {
	p := &Page{
		uid:      cfg.UserID,
		initial:  cfg.InitialChatID,
		log:      deps.Logger.With("user_id", cfg.UserID),
		emitter:  deps.Emitter,
		now:      deps.Now,
		messages: realtime.NewMessages(deps.Log),
		index:    realtime.NewIndex(deps.Docs, deps.Logger),
		profiles: deps.Profiles,
		ctx:      context.Background(),
	}
	if p.now == nil {
		p.now = func() int64 { return time.Now().UnixMilli() }
	}
	p.list = convlist.New(p.index, deps.Profiles, cfg.UserID, p.log, cfg.List, listEvents{p})
	p.list.SetViewportWidth(cfg.ViewportWidth)
	p.window = window.New(p.messages, cfg.UserID, p.log, windowEvents{p})
	p.typing = indicator.NewTyping(realtime.NewTyping(deps.Docs), cfg.UserID, cfg.TypingIdle, p.log)
	p.peers = indicator.NewPeerWatch(realtime.NewTyping(deps.Docs), realtime.NewPresence(deps.Docs), cfg.UserID, p.log, peerEvents{p})
	return p
}

// Start follows the conversation list and opens the initial conversation, if
// any. The initial id is claimed before the list arrives so auto select never
// overrides it.
func (p *Page) Start(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	epoch := p.navEpoch
	if p.initial != "" {
		p.selected = p.initial
		p.list.SetSelected(p.initial)
	}
	p.mu.Unlock()
	if err := p.list.Start(ctx); err != nil {
		err = fmt.Errorf("%w: conversation list: %w", syncerr.ErrTransientRead, err)
		p.emitError(err, "")
		return err
	}
	if p.initial == "" {
		return nil
	}
	// A navigation or Interrupt since Start began wins over the initial id.
	return p.navigate(ctx, p.initial, func() bool { return p.navEpoch == epoch })
}

// Select makes conversationID the active conversation. It cancels the
// selection change still in flight, if any.
func (p *Page) Select(ctx context.Context, conversationID string) error {
	return p.navigate(ctx, conversationID, nil)
}

// Interrupt cancels the selection change in flight and makes any queued one
// give up. Transports call it as soon as a navigation request arrives, before
// handing the request over.
func (p *Page) Interrupt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interruptLocked()
}

func (p *Page) interruptLocked() {
	p.navEpoch++
	if p.navCancel != nil {
		p.navCancel()
		p.navCancel = nil
	}
}

// beginNav claims the navigation slot for target, which becomes the
// selection right away. claim, when set, runs under mu and may refuse. The
// returned context lives until the next navigation. On success navMu is held.
func (p *Page) beginNav(ctx context.Context, target string, claim func() bool) (context.Context, bool) {
	p.mu.Lock()
	if p.closed || (claim != nil && !claim()) {
		p.mu.Unlock()
		return nil, false
	}
	p.interruptLocked()
	epoch := p.navEpoch
	navCtx, cancel := context.WithCancel(ctx)
	p.navCancel = cancel
	p.selected = target
	p.list.SetSelected(target)
	p.mu.Unlock()

	p.navMu.Lock()
	p.mu.Lock()
	superseded := epoch != p.navEpoch
	p.mu.Unlock()
	if superseded {
		p.navMu.Unlock()
		return nil, false
	}
	return navCtx, true
}

func (p *Page) navigate(ctx context.Context, conversationID string, claim func() bool) error {
	navCtx, ok := p.beginNav(ctx, conversationID, claim)
	if !ok {
		return nil
	}
	defer p.navMu.Unlock()

	if peer, ok := convid.Peer(conversationID, p.uid); ok {
		p.typing.Bind(navCtx, peer)
		if err := p.peers.Watch(navCtx, peer); err != nil && navCtx.Err() == nil {
			p.log.Warn("Failed to watch peer", "peer_id", peer, "error", err)
		}
	} else {
		p.typing.Reset()
		p.peers.Stop()
	}

	if err := p.window.Open(navCtx, conversationID); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if navCtx.Err() != nil {
			// Overtaken by a later navigation.
			return nil
		}
		p.emitError(err, "")
		return err
	}
	return nil
}

// StartChat opens the conversation with peer, creating both index entries
// when the conversation is new.
func (p *Page) StartChat(ctx context.Context, peer string) (string, error) {
	if peer == "" || peer == p.uid {
		err := fmt.Errorf("%w: cannot start a chat with %q", syncerr.ErrInvalidConversation, peer)
		p.emitError(err, "")
		return "", err
	}
	conversationID := convid.New(p.uid, peer)
	if _, known := p.list.Find(conversationID); !known {
		snapshots := map[string]*model.Peer{}
		for _, uid := range []string{p.uid, peer} {
			if prof, err := p.profiles.GetProfile(ctx, uid); err == nil {
				prof.UID = uid
				snapshots[uid] = prof.AsPeer()
			}
		}
		if err := p.index.Seed(ctx, conversationID, snapshots); err != nil {
			p.log.Warn("Failed to seed conversation", "conversation_id", conversationID, "error", err)
			p.emitError(fmt.Errorf("%w: start chat: %w", syncerr.ErrWrite, err), "")
		}
	}
	return conversationID, p.Select(ctx, conversationID)
}

// CloseConversation returns to the bare list, cancelling any selection
// change in flight.
func (p *Page) CloseConversation() {
	if _, ok := p.beginNav(context.Background(), "", nil); !ok {
		return
	}
	defer p.navMu.Unlock()
	p.typing.Reset()
	p.peers.Stop()
	p.window.Close()
}

// Back is the narrow layout navigation back to the list.
func (p *Page) Back() {
	p.CloseConversation()
}

// Input reports a composer change.
func (p *Page) Input(text string) {
	p.typing.Input(text)
}

// Send posts text to the active conversation: the message is appended to the
// log, then the conversation metadata and both index mirrors are updated in
// one best effort batch. A failed mirror returns the stored message together
// with an error wrapping syncerr.ErrWrite; nothing is rolled back or retried.
func (p *Page) Send(ctx context.Context, text string) (model.Message, error) {
	body := model.NormalizeText(text)
	if body == "" {
		err := fmt.Errorf("%w: empty message", syncerr.ErrValidation)
		p.emitError(err, text)
		return model.Message{}, err
	}
	conversationID := p.window.ConversationID()
	if _, ok := convid.Peer(conversationID, p.uid); !ok {
		err := fmt.Errorf("%w: no open conversation", syncerr.ErrInvalidConversation)
		p.emitError(err, text)
		return model.Message{}, err
	}
	msg := model.Message{SenderID: p.uid, Text: body, CreatedAt: p.now()}
	if err := validate.Struct(msg); err != nil {
		err = fmt.Errorf("%w: %w", syncerr.ErrValidation, err)
		p.emitError(err, text)
		return model.Message{}, err
	}

	p.typing.Sent()

	stored, err := p.messages.Append(ctx, conversationID, msg)
	if err != nil {
		err = fmt.Errorf("%w: %w", syncerr.ErrWrite, err)
		p.log.Warn("Failed to send message", "conversation_id", conversationID, "error", err)
		p.emitError(err, text)
		return model.Message{}, err
	}
	if err := p.index.Mirror(ctx, conversationID, stored); err != nil {
		err = fmt.Errorf("%w: mirror: %w", syncerr.ErrWrite, err)
		p.log.Warn("Message stored but mirrors are stale", "conversation_id", conversationID, "id", stored.ID, "error", err)
		p.emitError(err, "")
		return stored, err
	}
	p.emitter.Emit(model.Event{Type: model.EventSent, ConversationID: conversationID, Message: &stored})
	return stored, nil
}

// LoadOlder pages backward in the active conversation.
func (p *Page) LoadOlder(ctx context.Context) (window.Older, error) {
	res, err := p.window.LoadOlder(ctx)
	if err != nil {
		p.emitError(err, "")
		return res, err
	}
	if res.Added > 0 || !res.HasMore {
		p.emitter.Emit(model.Event{
			Type:           model.EventPrepended,
			ConversationID: p.window.ConversationID(),
			Messages:       res.Messages,
			HasMore:        lo.ToPtr(res.HasMore),
			AnchorID:       res.AnchorID,
		})
	}
	return res, nil
}

// SetViewportWidth records the client width used by list auto select.
func (p *Page) SetViewportWidth(width int) {
	p.list.SetViewportWidth(width)
}

// Selected returns the active conversation id, "" when none.
func (p *Page) Selected() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selected
}

// Close tears everything down. Nothing is emitted once it returns.
func (p *Page) Close() {
	p.mu.Lock()
	p.closed = true
	p.interruptLocked()
	p.mu.Unlock()
	p.list.Stop()
	p.auto.Wait()

	p.navMu.Lock()
	defer p.navMu.Unlock()
	p.typing.Close()
	p.peers.Stop()
	p.window.Close()
}

func (p *Page) emitError(err error, text string) {
	p.emitter.Emit(model.Event{
		Type:      model.EventError,
		Error:     err.Error(),
		Kind:      syncerr.Kind(err),
		Retryable: syncerr.Retryable(err),
		Text:      text,
	})
}

func (p *Page) title(conversationID string) (string, string) {
	peer, ok := convid.Peer(conversationID, p.uid)
	if !ok {
		return "", ""
	}
	if entry, found := p.list.Find(conversationID); found {
		return peer, convlist.DisplayName(entry)
	}
	return peer, "@" + peer
}

type windowEvents struct{ p *Page }

func (w windowEvents) Loaded(snap window.Snapshot) {
	peer, title := w.p.title(snap.ConversationID)
	w.p.emitter.Emit(model.Event{
		Type:           model.EventWindow,
		ConversationID: snap.ConversationID,
		PeerID:         peer,
		Title:          title,
		Messages:       snap.Messages,
		State:          snap.State.String(),
		HasMore:        lo.ToPtr(snap.HasMore),
	})
}

func (w windowEvents) Appended(msg model.Message) {
	w.p.emitter.Emit(model.Event{Type: model.EventAppended, ConversationID: msg.ConversationID, Message: &msg})
}

// Prepended is reported by Page.LoadOlder, which also knows the anchor.
func (w windowEvents) Prepended([]model.Message) {}

func (w windowEvents) StateChanged(conversationID string, state window.State) {
	w.p.emitter.Emit(model.Event{Type: model.EventState, ConversationID: conversationID, State: state.String()})
}

type listEvents struct{ p *Page }

func (l listEvents) ListChanged(entries []model.IndexEntry) {
	items := lo.Map(entries, func(e model.IndexEntry, _ int) model.ConversationItem {
		item := model.ConversationItem{
			PeerID:      e.PeerID,
			ChatID:      e.ChatID,
			Name:        convlist.DisplayName(e),
			LastMessage: e.LastMessage,
			UpdatedAt:   e.UpdatedAt,
		}
		if e.Other != nil {
			item.PhotoURL = e.Other.PhotoURL
			item.Typing = e.Other.Typing
		}
		return item
	})
	l.p.emitter.Emit(model.Event{Type: model.EventList, Conversations: items})
}

func (l listEvents) AutoSelected(entry model.IndexEntry) {
	l.p.mu.Lock()
	defer l.p.mu.Unlock()
	if l.p.selected != "" || l.p.closed {
		return
	}
	ctx := l.p.ctx
	l.p.auto.Add(1)
	go func() {
		defer l.p.auto.Done()
		// Checked again when claiming: an explicit choice made meanwhile wins.
		unselected := func() bool { return l.p.selected == "" }
		if err := l.p.navigate(ctx, entry.ChatID, unselected); err != nil && !errors.Is(err, context.Canceled) {
			l.p.log.Debug("Auto select failed", "conversation_id", entry.ChatID, "error", err)
		}
	}()
}

type peerEvents struct{ p *Page }

func (e peerEvents) PeerTyping(peer string, typing bool) {
	e.p.emitter.Emit(model.Event{Type: model.EventTyping, PeerID: peer, Typing: lo.ToPtr(typing)})
}

func (e peerEvents) PeerPresence(peer string, presence *model.Presence) {
	e.p.emitter.Emit(model.Event{Type: model.EventPresence, PeerID: peer, Presence: presence})
}
