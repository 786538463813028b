package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/mahaj/dupahar-sync/pkg/store"
)

// PeerListener receives the indicators of the watched peer.
type PeerListener interface {
	PeerTyping(peer string, typing bool)
	PeerPresence(peer string, presence *model.Presence)
}

// PeerWatch follows the typing flag and presence of one peer at a time.
// There is no expiry on the typing flag: it shows whatever the peer wrote last.
type PeerWatch struct {
	typing   realtime.Typing
	presence realtime.Presence
	self     string
	log      *slog.Logger
	listener PeerListener

	mu       sync.Mutex
	gen      uint64
	peer     string
	typingS  store.Stream[bool]
	presentS store.Stream[*model.Presence]
}

func NewPeerWatch(typing realtime.Typing, presence realtime.Presence, self string, log *slog.Logger, listener PeerListener) *PeerWatch {
	return &PeerWatch{typing: typing, presence: presence, self: self, log: log, listener: listener}
}

// Watch detaches the current peer and attaches peer.
func (w *PeerWatch) Watch(ctx context.Context, peer string) error {
	w.Stop()

	typing, err := w.typing.Watch(ctx, w.self, peer)
	if err != nil {
		return err
	}
	presence, err := w.presence.Watch(ctx, peer)
	if err != nil {
		typing.Close()
		return err
	}

	w.mu.Lock()
	w.gen++
	gen := w.gen
	w.peer = peer
	w.typingS, w.presentS = typing, presence
	w.mu.Unlock()

	go func() {
		for v := range typing.Events() {
			w.deliver(gen, func() { w.listener.PeerTyping(peer, v) })
		}
	}()
	go func() {
		for p := range presence.Events() {
			w.deliver(gen, func() { w.listener.PeerPresence(peer, p) })
		}
	}()
	return nil
}

// deliver runs notify unless the peer changed in the meantime.
func (w *PeerWatch) deliver(gen uint64, notify func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		return
	}
	notify()
}

// Peer returns the watched peer, "" when none.
func (w *PeerWatch) Peer() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peer
}

// Stop detaches both streams. Nothing is delivered once it returns.
func (w *PeerWatch) Stop() {
	w.mu.Lock()
	w.gen++
	typing, presence := w.typingS, w.presentS
	w.typingS, w.presentS, w.peer = nil, nil, ""
	w.mu.Unlock()
	if typing != nil {
		typing.Close()
	}
	if presence != nil {
		presence.Close()
	}
}

// Connect marks uid online and queues the offline write on hooks.
func Connect(ctx context.Context, presence realtime.Presence, uid string, hooks store.DisconnectHooks, log *slog.Logger) error {
	if err := presence.Connect(ctx, uid, hooks); err != nil {
		return fmt.Errorf("connect %s: %w", uid, err)
	}
	log.Debug("User online", "user_id", uid)
	return nil
}
