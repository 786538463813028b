package db

import (
	"fmt"
	"log/slog"

	"github.com/gocql/gocql"
)

// Messages are partitioned by conversation and clustered by creation time,
// then by store key, so a range scan returns them in display order.
var tables = []struct {
	name string
	ddl  string
}{
	{
		name: "messages_by_conversation",
		ddl: `CREATE TABLE IF NOT EXISTS messages_by_conversation (
			conversation_id text,
			created_at bigint,
			id text,
			sender_id text,
			text text,
			PRIMARY KEY (conversation_id, created_at, id)
		) WITH CLUSTERING ORDER BY (created_at ASC, id ASC)`,
	},
}

// CreateKeyspace connects to the system keyspace and creates keyspace if needed.
func CreateKeyspace(hosts []string, keyspace string, replication int, log *slog.Logger) error {
	sysSession, err := NewSession(hosts, "system", log, WithConsistency(gocql.One))
	if err != nil {
		return err
	}
	defer sysSession.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`,
		keyspace, replication)
	if err := sysSession.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

// Migrate creates every table of the keyspace the session is bound to.
func (s *Session) Migrate(log *slog.Logger) error {
	for _, t := range tables {
		if err := s.Query(t.ddl).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", t.name, err)
		}
		log.Info("Table ready", "keyspace", s.keyspace, "table", t.name)
	}
	return nil
}

// Drop removes every table created by Migrate.
func (s *Session) Drop(log *slog.Logger) error {
	for _, t := range tables {
		if err := s.Query("DROP TABLE IF EXISTS " + t.name).Exec(); err != nil {
			return fmt.Errorf("drop table %s: %w", t.name, err)
		}
		log.Info("Table dropped", "keyspace", s.keyspace, "table", t.name)
	}
	return nil
}
