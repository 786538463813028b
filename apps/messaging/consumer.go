package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mahaj/dupahar-sync/pkg/convid"
	"github.com/mahaj/dupahar-sync/pkg/model"
	"github.com/mahaj/dupahar-sync/pkg/realtime"
	"github.com/mahaj/dupahar-sync/pkg/store"
	"github.com/segmentio/kafka-go"
)

// Reconciler re-applies the metadata mirrors of appended messages. A mirror
// document is only written when it does not already hold this message or a
// later one, so replays and out of order deliveries are harmless.
type Reconciler struct {
	docs store.DocStore
	log  *slog.Logger
}

func NewReconciler(docs store.DocStore, log *slog.Logger) *Reconciler {
	return &Reconciler{docs: docs, log: log}
}

type mirrored struct {
	LastMessage *model.Message `json:"lastMessage"`
}

// newer reports whether msg should replace the stored last message.
func newer(msg model.Message, stored *model.Message) bool {
	if stored == nil {
		return true
	}
	if msg.CreatedAt != stored.CreatedAt {
		return msg.CreatedAt > stored.CreatedAt
	}
	return msg.ID > stored.ID
}

// Reconcile writes the stale mirrors of msg and returns how many were written.
func (r *Reconciler) Reconcile(ctx context.Context, msg model.Message) (int, error) {
	if _, err := convid.Parse(msg.ConversationID); err != nil {
		return 0, err
	}
	var stale []store.Write
	var errs []error
	for _, w := range realtime.MirrorWrites(msg.ConversationID, msg) {
		snap, err := r.docs.Get(ctx, w.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var current mirrored
		if raw, ok := snap.Doc(w.Path); ok {
			if err := json.Unmarshal(raw, &current); err != nil {
				r.log.Debug("Overwriting undecodable mirror", "path", w.Path, "error", err)
			}
		}
		if newer(msg, current.LastMessage) {
			stale = append(stale, w)
		}
	}
	if len(stale) > 0 {
		errs = append(errs, r.docs.BatchWrite(ctx, stale))
		r.log.Info("Repaired mirrors", "conversation_id", msg.ConversationID, "id", msg.ID, "writes", len(stale))
	}
	return len(stale), errors.Join(errs...)
}

// fetcher is the part of *kafka.Reader the consumer drives.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     fetcher
	reconciler *Reconciler
	log        *slog.Logger
	// grace leaves time for the sender's own mirror batch to land first.
	grace time.Duration
	retry time.Duration
}

func NewConsumer(brokers []string, topic, groupID, clientID string, reconciler *Reconciler, grace time.Duration, log *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		Dialer:   &kafka.Dialer{ClientID: clientID, Timeout: 10 * time.Second, DualStack: true},
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
		MaxWait:  time.Second,
	})
	return &Consumer{reader: r, reconciler: reconciler, log: log, grace: grace, retry: time.Second}
}

// Consume processes the feed until ctx is done. An offset is committed once
// its message was reconciled or found undecodable.
func (c *Consumer) Consume(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("Error reading message, retrying", "error", err, "in", c.retry)
			if !sleep(ctx, c.retry) {
				return nil
			}
			continue
		}
		if !sleep(ctx, time.Until(m.Time.Add(c.grace))) {
			return nil
		}
		if err := c.handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("Failed to reconcile message, retrying", "offset", m.Offset, "error", err)
			if !sleep(ctx, c.retry) {
				return nil
			}
			if err := c.handle(ctx, m); err != nil {
				c.log.Error("Giving up on message", "offset", m.Offset, "error", err)
			}
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("Failed to commit offset", "offset", m.Offset, "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) error {
	var msg model.Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		c.log.Warn("Skipping undecodable message", "offset", m.Offset, "error", err)
		return nil
	}
	if msg.ConversationID == "" {
		msg.ConversationID = string(m.Key)
	}
	if _, err := c.reconciler.Reconcile(ctx, msg); err != nil {
		if errors.Is(err, convid.ErrMalformed) {
			c.log.Warn("Skipping message for malformed conversation", "offset", m.Offset, "conversation_id", msg.ConversationID)
			return nil
		}
		return fmt.Errorf("reconcile %s: %w", msg.ID, err)
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// sleep waits d and reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
