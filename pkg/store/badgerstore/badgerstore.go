// Package badgerstore is the embedded backend: the message log and the
// document tree both live in one badger database, and live subscriptions
// ride on badger's key prefix subscriptions.
//
// Key layout:
//
//	log/{conversation}/{createdAt 019d}/{key}   message JSON
//	doc/{path}                                  document JSON
//	sys/sub/{n}                                 subscription handshakes
package badgerstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mahaj/dupahar-sync/pkg/snowflake"
	"github.com/mahaj/dupahar-sync/pkg/store"
)

const (
	logPrefix  = "log/"
	docPrefix  = "doc/"
	syncPrefix = "sys/sub/"

	maxConflictRetries = 5
)

var (
	_ store.AppendLog = (*Store)(nil)
	_ store.DocStore  = (*Store)(nil)
)

type Store struct {
	db   *badger.DB
	log  *slog.Logger
	node *snowflake.Node
	now  func() int64
	subs atomic.Uint64
}

// Open opens (or creates) a database at path. An empty path keeps everything in memory.
func Open(path string, log *slog.Logger, node *snowflake.Node) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open %q: %w", path, err)
	}
	return New(db, log, node), nil
}

func New(db *badger.DB, log *slog.Logger, node *snowflake.Node) *Store {
	return &Store{
		db:   db,
		log:  log,
		node: node,
		now:  func() int64 { return time.Now().UnixMilli() },
	}
}

// WithClock replaces the clock that resolves server timestamps.
func (s *Store) WithClock(now func() int64) *Store {
	s.now = now
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("Badger write conflict, retrying", "attempt", attempt+1)
	}
	return err
}
