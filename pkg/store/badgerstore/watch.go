package badgerstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
)

const handshakeInterval = 10 * time.Millisecond

// watch registers a badger subscription on the given key prefixes and only
// returns once badger is known to deliver writes to it, so a read issued
// afterwards cannot miss a write. onKV runs on badger's subscriber goroutine
// and must not block. The returned channel yields the subscription's exit error.
func (s *Store) watch(ctx context.Context, prefixes []string, onKV func(kv *pb.KV)) (<-chan error, error) {
	marker := []byte(fmt.Sprintf("%s%d", syncPrefix, s.subs.Add(1)))
	matches := []pb.Match{{Prefix: marker}}
	for _, prefix := range prefixes {
		matches = append(matches, pb.Match{Prefix: []byte(prefix)})
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	errc := make(chan error, 1)
	go func() {
		errc <- s.db.Subscribe(ctx, func(list *badger.KVList) error {
			for _, kv := range list.GetKv() {
				if bytes.Equal(kv.GetKey(), marker) {
					readyOnce.Do(func() { close(ready) })
					continue
				}
				onKV(kv)
			}
			return nil
		}, matches)
	}()

	ticker := time.NewTicker(handshakeInterval)
	defer ticker.Stop()
	for {
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(marker, []byte{1})
		}); err != nil {
			return nil, fmt.Errorf("subscription handshake: %w", err)
		}
		select {
		case <-ready:
			_ = s.db.Update(func(txn *badger.Txn) error { return txn.Delete(marker) })
			return errc, nil
		case err := <-errc:
			return nil, fmt.Errorf("subscription ended before handshake: %w", err)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// queue hands items from badger's subscriber goroutine to a stream pump
// without ever blocking the subscriber.
type queue[T any] struct {
	mu      sync.Mutex
	items   []T
	pending chan struct{}
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{pending: make(chan struct{}, 1)}
}

func (q *queue[T]) push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.pending <- struct{}{}:
	default:
	}
}

func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
