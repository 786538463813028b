package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
	keyspace string
}

type Option func(*gocql.ClusterConfig)

// WithConsistency overrides the default quorum consistency.
func WithConsistency(c gocql.Consistency) Option {
	return func(cluster *gocql.ClusterConfig) { cluster.Consistency = c }
}

// WithTimeout sets both the query and the connect timeout.
func WithTimeout(d time.Duration) Option {
	return func(cluster *gocql.ClusterConfig) {
		cluster.Timeout = d
		cluster.ConnectTimeout = d
	}
}

// NewSession opens a session bound to keyspace. The message log reads and
// writes at quorum unless overridden.
func NewSession(hosts []string, keyspace string, log *slog.Logger, opts ...Option) (*Session, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("scylla session on keyspace %s: no hosts", keyspace)
	}
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        time.Second,
	}
	for _, opt := range opts {
		opt(cluster)
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla session on %v/%s: %w", hosts, keyspace, err)
	}
	log.Info("Connected to ScyllaDB cluster", "hosts", hosts, "keyspace", keyspace, "consistency", cluster.Consistency.String())
	return &Session{Session: session, keyspace: keyspace}, nil
}

// Keyspace is the keyspace the session is bound to.
func (s *Session) Keyspace() string {
	return s.keyspace
}
