package store

import (
	"context"
	"sync"
)

// Stream is a cancellable feed of pushed items for one subscribed resource.
// Close detaches the feed and returns only once no further item can be
// delivered; Events is closed at that point.
type Stream[T any] interface {
	Events() <-chan T
	// Err reports why the feed ended. It is nil after a plain Close.
	Err() error
	Close()
}

type pump[T any] struct {
	events chan T
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

// Pump runs produce on its own goroutine. produce hands items to emit, which
// blocks until the consumer takes the item and returns false once the stream
// is closed; produce must then return.
func Pump[T any](ctx context.Context, produce func(ctx context.Context, emit func(T) bool) error) Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	p := &pump[T]{
		events: make(chan T),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		defer close(p.events)
		emit := func(item T) bool {
			select {
			case p.events <- item:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := produce(ctx, emit); err != nil && ctx.Err() == nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
		}
	}()
	return p
}

func (p *pump[T]) Events() <-chan T { return p.events }

func (p *pump[T]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *pump[T]) Close() {
	p.once.Do(p.cancel)
	<-p.done
}

// Map adapts a stream item by item. Items for which f returns false are skipped.
// Closing the returned stream closes src.
func Map[T, U any](ctx context.Context, src Stream[T], f func(T) (U, bool)) Stream[U] {
	return Pump(ctx, func(ctx context.Context, emit func(U) bool) error {
		defer src.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case item, ok := <-src.Events():
				if !ok {
					return src.Err()
				}
				mapped, keep := f(item)
				if keep && !emit(mapped) {
					return nil
				}
			}
		}
	})
}
