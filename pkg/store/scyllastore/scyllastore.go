// Package scyllastore is the production message log: ScyllaDB holds the
// ordered per-conversation log and a Kafka topic, keyed by conversation id,
// carries the append feed that live subscriptions read.
package scyllastore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/db"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/snowflake"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/samber/lo"
	"github.com/segmentio/kafka-go"
)

// feedSkew widens the feed replay window to absorb clock skew between the
// subscriber and the Kafka brokers.
const feedSkew = 5 * time.Second

var _ store.AppendLog = (*Log)(nil)

type Log struct {
	db       *db.Session
	log      *slog.Logger
	node     *snowflake.Node
	writer   *kafka.Writer
	brokers  []string
	topic    string
	balancer kafka.Balancer
}

func New(session *db.Session, log *slog.Logger, node *snowflake.Node, brokers []string, topic string) *Log {
	balancer := &kafka.Hash{}
	return &Log{
		db:   session,
		log:  log,
		node: node,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: balancer,
		},
		brokers:  brokers,
		topic:    topic,
		balancer: balancer,
	}
}

func (l *Log) Close() error {
	return l.writer.Close()
}

func (l *Log) NewKey() string {
	return l.node.Key()
}

// Append persists the message, then publishes it on the feed. A feed failure
// is logged and not returned: the message is durable and reachable by range
// reads, only live subscribers miss it.
func (l *Log) Append(ctx context.Context, conversationID string, msg model.Message) (string, error) {
	if msg.ID == "" {
		msg.ID = l.NewKey()
	}
	msg.ConversationID = conversationID

	query := `INSERT INTO messages_by_conversation (conversation_id, created_at, id, sender_id, text) VALUES (?, ?, ?, ?, ?)`
	if err := l.db.Query(query, conversationID, msg.CreatedAt, msg.ID, msg.SenderID, msg.Text).
		WithContext(ctx).Exec(); err != nil {
		return "", fmt.Errorf("append to %s: %w", conversationID, err)
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return msg.ID, nil
	}
	if err := l.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(conversationID),
		Value: value,
		Time:  time.Now(),
	}); err != nil {
		l.log.Warn("Failed to publish appended message", "conversation_id", conversationID, "id", msg.ID, "error", err)
	}
	return msg.ID, nil
}

func (l *Log) ReadRange(ctx context.Context, conversationID string, r store.Range) ([]model.Message, error) {
	var query strings.Builder
	args := []any{conversationID}
	query.WriteString(`SELECT id, sender_id, text, created_at FROM messages_by_conversation WHERE conversation_id = ?`)
	if r.GTE != nil {
		query.WriteString(` AND created_at >= ?`)
		args = append(args, *r.GTE)
	}
	if r.LTE != nil {
		query.WriteString(` AND created_at <= ?`)
		args = append(args, *r.LTE)
	}
	if r.LimitLast > 0 {
		query.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ?`)
		args = append(args, r.LimitLast)
	}

	iter := l.db.Query(query.String(), args...).WithContext(ctx).Iter()
	var messages []model.Message
	var msg model.Message
	for iter.Scan(&msg.ID, &msg.SenderID, &msg.Text, &msg.CreatedAt) {
		msg.ConversationID = conversationID
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read range of %s: %w", conversationID, err)
	}
	if r.LimitLast > 0 {
		slices.Reverse(messages)
	}
	return messages, nil
}

// SubscribeAppended replays the conversation's feed partition from shortly
// before the call, catches up from Scylla, then follows the feed.
// Overlap between the two is possible; consumers de-duplicate by id.
func (l *Log) SubscribeAppended(ctx context.Context, conversationID string, startAfter int64) (store.Stream[model.Message], error) {
	partition, err := l.partitionFor(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   l.brokers,
		Topic:     l.topic,
		Partition: partition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if err := reader.SetOffsetAt(ctx, time.Now().Add(-feedSkew)); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("seek feed of %s: %w", conversationID, err)
	}

	return store.Pump(ctx, func(ctx context.Context, emit func(model.Message) bool) error {
		defer reader.Close()

		missed, err := l.ReadRange(ctx, conversationID, store.Range{GTE: lo.ToPtr(startAfter + 1)})
		if err != nil {
			return err
		}
		for _, msg := range missed {
			if !emit(msg) {
				return nil
			}
		}

		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				return fmt.Errorf("feed of %s: %w", conversationID, err)
			}
			if string(m.Key) != conversationID {
				continue
			}
			var msg model.Message
			if err := json.Unmarshal(m.Value, &msg); err != nil {
				l.log.Warn("Skipping undecodable feed message", "offset", m.Offset, "error", err)
				continue
			}
			if msg.CreatedAt <= startAfter {
				continue
			}
			if !emit(msg) {
				return nil
			}
		}
	}), nil
}

// partitionFor picks the partition the writer's balancer sends the
// conversation to.
func (l *Log) partitionFor(ctx context.Context, conversationID string) (int, error) {
	var dialer kafka.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", l.brokers[0])
	if err != nil {
		return 0, fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(l.topic)
	if err != nil {
		return 0, fmt.Errorf("read partitions of %s: %w", l.topic, err)
	}
	if len(partitions) == 0 {
		return 0, fmt.Errorf("topic %s has no partitions", l.topic)
	}
	ids := make([]int, len(partitions))
	for i, p := range partitions {
		ids[i] = p.ID
	}
	slices.Sort(ids)
	return l.balancer.Balance(kafka.Message{Key: []byte(conversationID)}, ids...), nil
}
