package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/mahaj/dupahar-sync/pkg/store"
)

// Get reads every document at or below path.
func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return store.Snapshot{}, err
	}
	snap := store.Snapshot{Path: path, Docs: map[string]json.RawMessage{}}
	prefix := []byte(docPrefix + path)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			docPath := strings.TrimPrefix(string(item.Key()), docPrefix)
			if !store.IsUnder(docPath, path) {
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			snap.Docs[docPath] = value
		}
		return nil
	})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("get %s: %w", path, err)
	}
	return snap, nil
}

// Subscribe emits a full snapshot of path on attach and after every change below it.
// Bursts of changes collapse into one snapshot.
func (s *Store) Subscribe(ctx context.Context, path string) (store.Stream[store.Snapshot], error) {
	return store.Pump(ctx, func(ctx context.Context, emit func(store.Snapshot) bool) error {
		changed := make(chan struct{}, 1)
		errc, err := s.watch(ctx, []string{docPrefix + path}, func(kv *pb.KV) {
			if !store.IsUnder(strings.TrimPrefix(string(kv.GetKey()), docPrefix), path) {
				return
			}
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		if err != nil {
			return err
		}
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
			case err := <-errc:
				return err
			case <-changed:
			}
		}
	}), nil
}

func (s *Store) Write(ctx context.Context, w store.Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := []byte(docPrefix + w.Path)
	err := s.update(func(txn *badger.Txn) error {
		var existing []byte
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if existing, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		doc, err := store.Apply(existing, w, s.now())
		if err != nil {
			return err
		}
		if slices.Equal(doc, existing) {
			return nil
		}
		return txn.Set(key, doc)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", w.Path, err)
	}
	return nil
}

// BatchWrite applies each write in its own transaction.
func (s *Store) BatchWrite(ctx context.Context, writes []store.Write) error {
	var errs []error
	for _, w := range writes {
		if err := s.Write(ctx, w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
