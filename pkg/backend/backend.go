// Package backend opens the store collaborators selected by configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/db"
	"github.com/mahaj/dupahar-sync/pkg/profile"
	"github.com/mahaj/dupahar-sync/pkg/snowflake"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/mahaj/dupahar-sync/pkg/store/badgerstore"
	"github.com/mahaj/dupahar-sync/pkg/store/redisstore"
	"github.com/mahaj/dupahar-sync/pkg/store/scyllastore"
)

const (
	Badger = "badger"
	Redis  = "redis"
	Scylla = "scylla"
)

var ErrUnknownBackend = errors.New("unknown backend")

// Config is embedded in the config of every binary that talks to the stores.
type Config struct {
	StoreBackend    string        `env:"STORE_BACKEND,default=badger"`
	LogBackend      string        `env:"LOG_BACKEND,default=badger"`
	BadgerFilepath  string        `env:"BADGER_FILEPATH,default=data/badger"`
	RedisURL        string        `env:"REDIS_URL,default=redis://localhost:6379/0"`
	ScyllaHosts     string        `env:"SCYLLA_HOSTS,default=localhost:9042"`
	ScyllaKeyspace  string        `env:"SCYLLA_KEYSPACE,default=dupahar"`
	ScyllaTimeout   time.Duration `env:"SCYLLA_TIMEOUT,default=5s"`
	KafkaBrokers    string        `env:"KAFKA_BROKERS,default=localhost:19092"`
	KafkaTopic      string        `env:"KAFKA_TOPIC,default=chat-messages"`
	NodeID          int64         `env:"NODE_ID,default=1"`
	ProfileCacheTTL time.Duration `env:"PROFILE_CACHE_TTL,default=5m"`
}

// Split parses a comma separated host list.
func Split(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Backends are the opened collaborators. Close releases them in reverse order.
type Backends struct {
	Log      store.AppendLog
	Docs     store.DocStore
	Profiles profile.Lookup
	// Redis is set when the doc store runs on redis.
	Redis *redisstore.Store

	closers []func() error
}

func (b *Backends) Close() error {
	var errs []error
	for _, c := range slices.Backward(b.closers) {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Open connects the configured doc store and append log. Badger is shared
// between the two when both select it.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Backends, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, err
	}
	b := &Backends{}
	var embedded *badgerstore.Store
	openBadger := func() (*badgerstore.Store, error) {
		if embedded != nil {
			return embedded, nil
		}
		s, err := badgerstore.Open(cfg.BadgerFilepath, log, node)
		if err != nil {
			return nil, err
		}
		embedded = s
		b.closers = append(b.closers, s.Close)
		return s, nil
	}

	switch cfg.StoreBackend {
	case Badger:
		s, err := openBadger()
		if err != nil {
			return nil, err
		}
		b.Docs = s
		b.Profiles = profile.NewDocLookup(s)
	case Redis:
		s, err := redisstore.NewFromURL(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		b.Docs = s
		b.Redis = s
		b.Profiles = profile.NewCached(profile.NewDocLookup(s), s.Client(), "profile:", cfg.ProfileCacheTTL, log)
	default:
		return nil, fmt.Errorf("%w: STORE_BACKEND=%q", ErrUnknownBackend, cfg.StoreBackend)
	}

	switch cfg.LogBackend {
	case Badger:
		s, err := openBadger()
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.Log = s
	case Scylla:
		session, err := db.NewSession(Split(cfg.ScyllaHosts), cfg.ScyllaKeyspace, log, db.WithTimeout(cfg.ScyllaTimeout))
		if err != nil {
			_ = b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() error { session.Close(); return nil })
		l := scyllastore.New(session, log, node, Split(cfg.KafkaBrokers), cfg.KafkaTopic)
		b.closers = append(b.closers, l.Close)
		b.Log = l
	default:
		_ = b.Close()
		return nil, fmt.Errorf("%w: LOG_BACKEND=%q", ErrUnknownBackend, cfg.LogBackend)
	}

	log.Info("Backends ready", "store", cfg.StoreBackend, "log", cfg.LogBackend)
	return b, nil
}
