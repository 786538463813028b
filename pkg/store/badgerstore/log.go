package badgerstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/pb"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/samber/lo"
)

func (s *Store) NewKey() string {
	return s.node.Key()
}

// Append stores msg under "log/{conversation}/{createdAt}/{key}". The padded
// timestamp keeps keys in chronological order and the snowflake key breaks
// ties in insertion order.
func (s *Store) Append(ctx context.Context, conversationID string, msg model.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if msg.ID == "" {
		msg.ID = s.NewKey()
	}
	msg.ConversationID = conversationID
	bytes, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	key := messageKey(conversationID, msg.CreatedAt, msg.ID)
	err = s.update(func(txn *badger.Txn) error {
		return txn.Set(key, bytes)
	})
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", conversationID, err)
	}
	return msg.ID, nil
}

// ReadRange walks the conversation backwards from the upper bound so that
// LimitLast never scans more than it returns.
func (s *Store) ReadRange(ctx context.Context, conversationID string, r store.Range) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(logPrefix + conversationID + "/")
	seek := append(slices.Clone(prefix), '~')
	if r.LTE != nil {
		if *r.LTE < 0 {
			return nil, nil
		}
		seek = append(slices.Clone(prefix), []byte(fmt.Sprintf("%019d/~", *r.LTE))...)
	}

	var messages []model.Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if r.LimitLast > 0 && len(messages) == r.LimitLast {
				break
			}
			var msg model.Message
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			if r.GTE != nil && msg.CreatedAt < *r.GTE {
				break
			}
			if !r.Contains(msg.CreatedAt) {
				continue
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read range of %s: %w", conversationID, err)
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *Store) SubscribeAppended(ctx context.Context, conversationID string, startAfter int64) (store.Stream[model.Message], error) {
	prefix := logPrefix + conversationID + "/"
	return store.Pump(ctx, func(ctx context.Context, emit func(model.Message) bool) error {
		appended := newQueue[model.Message]()
		errc, err := s.watch(ctx, []string{prefix}, func(kv *pb.KV) {
			if len(kv.GetValue()) == 0 {
				return
			}
			var msg model.Message
			if err := json.Unmarshal(kv.GetValue(), &msg); err != nil {
				s.log.Warn("Skipping undecodable log entry", "key", string(kv.GetKey()), "error", err)
				return
			}
			if msg.CreatedAt > startAfter {
				appended.push(msg)
			}
		})
		if err != nil {
			return err
		}

		// Anything appended between the caller's last read and the handshake.
		missed, err := s.ReadRange(ctx, conversationID, store.Range{GTE: lo.ToPtr(startAfter + 1)})
		if err != nil {
			return err
		}
		for _, msg := range missed {
			if !emit(msg) {
				return nil
			}
		}

		for {
			select {
			case <-ctx.Done():
				return nil
			case err := <-errc:
				return err
			case <-appended.pending:
				for _, msg := range appended.drain() {
					if !emit(msg) {
						return nil
					}
				}
			}
		}
	}), nil
}

func messageKey(conversationID string, createdAt int64, key string) []byte {
	return []byte(fmt.Sprintf("%s%s/%019d/%s", logPrefix, conversationID, createdAt, key))
}
