// Package redisstore is a DocStore on redis, shared by every gateway
// instance so that presence, typing flags and conversation index entries
// written through one node are seen live by clients attached to another.
//
// A document is a JSON string at "doc:{path}". Every ancestor path keeps a
// set "idx:{ancestor}" of the documents below it, and every write publishes
// on "chg:{path}" for the document and each of its ancestors.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/redis/go-redis/v9"
)

const maxTxRetries = 5

var _ store.DocStore = (*Store)(nil)

type Store struct {
	client *redis.Client
	log    *slog.Logger
	now    func() int64
}

// NewFromURL connects using a redis:// URL and checks the connection.
func NewFromURL(ctx context.Context, url string, log *slog.Logger) (*Store, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return New(client, log), nil
}

func New(client *redis.Client, log *slog.Logger) *Store {
	return &Store{
		client: client,
		log:    log,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

func (s *Store) Client() *redis.Client { return s.client }

func (s *Store) Close() error {
	return s.client.Close()
}

func docKey(path string) string { return "doc:" + path }
func idxKey(path string) string { return "idx:" + path }
func chgChannel(path string) string { return "chg:" + path }

// ancestors lists the strict ancestors of path, nearest last.
func ancestors(path string) []string {
	var parents []string
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			parents = append(parents, path[:i])
		}
	}
	return parents
}

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	snap := store.Snapshot{Path: path, Docs: map[string]json.RawMessage{}}
	children, err := s.client.SMembers(ctx, idxKey(path)).Result()
	if err != nil {
		return snap, fmt.Errorf("get %s: %w", path, err)
	}
	paths := append([]string{path}, children...)
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = docKey(p)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return snap, fmt.Errorf("get %s: %w", path, err)
	}
	for i, value := range values {
		str, ok := value.(string)
		if !ok {
			continue
		}
		snap.Docs[paths[i]] = json.RawMessage(str)
	}
	return snap, nil
}

// Subscribe emits a full snapshot on attach and after every change notification.
// The redis subscription is confirmed before the first read so no change is missed.
func (s *Store) Subscribe(ctx context.Context, path string) (store.Stream[store.Snapshot], error) {
	pubsub := s.client.Subscribe(ctx, chgChannel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", path, err)
	}
	return store.Pump(ctx, func(ctx context.Context, emit func(store.Snapshot) bool) error {
		defer pubsub.Close()
		changes := pubsub.Channel()
		for {
			snap, err := s.Get(ctx, path)
			if err != nil {
				return err
			}
			if !emit(snap) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-changes:
				if !ok {
					return store.ErrClosed
				}
			}
		drain:
			for {
				select {
				case <-changes:
				default:
					break drain
				}
			}
		}
	}), nil
}

// Write merges w into the document under an optimistic WATCH transaction.
func (s *Store) Write(ctx context.Context, w store.Write) error {
	key := docKey(w.Path)
	parents := ancestors(w.Path)
	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		doc, err := store.Apply(existing, w, s.now())
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, []byte(doc), 0)
			for _, parent := range parents {
				pipe.SAdd(ctx, idxKey(parent), w.Path)
			}
			for _, p := range append(parents, w.Path) {
				pipe.Publish(ctx, chgChannel(p), w.Path)
			}
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		s.log.Debug("Redis write raced, retrying", "path", w.Path, "attempt", attempt+1)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", w.Path, err)
	}
	return nil
}

// BatchWrite is best effort: every write is attempted and failures are joined.
func (s *Store) BatchWrite(ctx context.Context, writes []store.Write) error {
	var errs []error
	for _, w := range writes {
		if err := s.Write(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
