// Package indicator turns keystrokes into typing bursts for the peer and
// surfaces the peer's typing flag and presence to the page.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/realtime"
)

const (
	DefaultIdle  = 2000 * time.Millisecond
	writeTimeout = 5 * time.Second
)

type timer interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Typing is the writer side for one user. A burst starts with one true
// write on the first non-empty input and ends with one false write once the
// input stays idle, a message is sent, or the conversation changes.
// Writes are queued and applied in decision order by one worker goroutine, so
// no caller waits on the store. Write failures are logged and swallowed.
type Typing struct {
	client    realtime.Typing
	self      string
	idle      time.Duration
	log       *slog.Logger
	afterFunc func(time.Duration, func()) timer

	mu      sync.Mutex
	drained *sync.Cond
	ctx     context.Context
	peer    string
	active  bool
	timer   timer
	epoch   uint64
	queue   []typingWrite
	writing bool
}

type typingWrite struct {
	ctx    context.Context
	peer   string
	typing bool
}

func NewTyping(client realtime.Typing, self string, idle time.Duration, log *slog.Logger) *Typing {
	if idle <= 0 {
		idle = DefaultIdle
	}
	t := &Typing{
		client:    client,
		self:      self,
		idle:      idle,
		log:       log,
		afterFunc: realAfterFunc,
		ctx:       context.Background(),
	}
	t.drained = sync.NewCond(&t.mu)
	return t
}

// Bind points the writer at peer, ending the burst of the previous conversation.
func (t *Typing) Bind(ctx context.Context, peer string) {
	t.Reset()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctx = context.WithoutCancel(ctx)
	t.peer = peer
}

// Input reports the composer content after a change.
func (t *Typing) Input(text string) {
	t.mu.Lock()
	if t.peer == "" {
		t.mu.Unlock()
		return
	}
	t.epoch++
	epoch := t.epoch
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.afterFunc(t.idle, func() { t.onIdle(epoch) })
	if t.active || strings.TrimSpace(text) == "" {
		t.mu.Unlock()
		return
	}
	t.active = true
	t.unlockAndWrite(t.peer, true)
}

func (t *Typing) onIdle(epoch uint64) {
	t.mu.Lock()
	if epoch != t.epoch || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.timer = nil
	t.unlockAndWrite(t.peer, false)
}

// Sent ends the current burst right away.
func (t *Typing) Sent() {
	t.mu.Lock()
	t.endBurstAndUnlock(t.peer)
}

// Reset ends the current burst and unbinds the peer.
func (t *Typing) Reset() {
	t.mu.Lock()
	peer := t.peer
	t.peer = ""
	t.endBurstAndUnlock(peer)
}

// endBurstAndUnlock disarms the idle timer, writes false to peer if a burst
// was active and releases mu.
func (t *Typing) endBurstAndUnlock(peer string) {
	t.epoch++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.unlockAndWrite(peer, false)
}

// Active reports whether a burst is in progress.
func (t *Typing) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Close ends the current burst and waits until every queued write was
// attempted.
func (t *Typing) Close() {
	t.Reset()
	t.Flush()
}

// Flush blocks until the write queue is empty.
func (t *Typing) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.writing {
		t.drained.Wait()
	}
}

// unlockAndWrite queues the write, starts the worker if it is idle and
// releases mu.
func (t *Typing) unlockAndWrite(peer string, typing bool) {
	t.queue = append(t.queue, typingWrite{ctx: t.ctx, peer: peer, typing: typing})
	if !t.writing {
		t.writing = true
		go t.drain()
	}
	t.mu.Unlock()
}

func (t *Typing) drain() {
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.writing = false
			t.drained.Broadcast()
			t.mu.Unlock()
			return
		}
		w := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(w.ctx, writeTimeout)
		if err := t.client.Set(ctx, t.self, w.peer, w.typing); err != nil {
			t.log.Debug("Typing write failed", "user_id", t.self, "peer_id", w.peer, "typing", w.typing, "error", err)
		}
		cancel()
	}
}
