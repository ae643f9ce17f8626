// Package queue implements the durable, per-tenant, at-least-once ingest
// queue (spec.md §4.5) on top of Redis Streams consumer groups.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"
)

// Message is one queued ingest request: a file already landed on disk,
// waiting to be parsed and indexed.
type Message struct {
	ID         string // stream entry id, used to ack
	FilePath   string
	TenantCode string
	ReceivedAt time.Time
}

// Handler processes one batch of messages. A nil return acknowledges the
// whole batch; a non-nil return (or panic, recovered by the caller) leaves
// it unacknowledged for redelivery.
type Handler func(ctx context.Context, batch []Message) error

const (
	consumerGroup = "indexer-group"
	blockTimeout  = 2 * time.Second
)

func streamName(tenantCode string) string {
	return "ingest:" + tenantCode
}

// Queue is the Redis Streams-backed ingest queue.
type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// Publish appends {filePath, tenantCode, receivedAt} to the tenant's
// stream. Non-blocking: XAdd returns once Redis has accepted the write.
func (q *Queue) Publish(ctx context.Context, tenantCode, filePath string, receivedAt time.Time) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName(tenantCode),
		Values: map[string]interface{}{
			"filePath":   filePath,
			"tenantCode": tenantCode,
			"receivedAt": receivedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("queue: publish to %s: %w", streamName(tenantCode), err)
	}
	return nil
}

// ensureGroup creates the consumer group (and the stream, if absent) the
// first time a tenant's stream is consumed.
func (q *Queue) ensureGroup(ctx context.Context, tenantCode string) error {
	err := q.client.XGroupCreateMkStream(ctx, streamName(tenantCode), consumerGroup, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		// BUSYGROUP means the group already exists; anything else is real.
		if !isBusyGroupErr(err) {
			return fmt.Errorf("queue: create consumer group for %s: %w", tenantCode, err)
		}
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// ConsumeForTenant reads up to batchSize pending messages for consumerID
// within the shared indexer-group, invokes handler synchronously, and
// acknowledges the batch on success. Recovery on restart: the first read
// targets the consumer's own pending list ("0"), so in-flight work from a
// crash is redelivered to the same identity before new entries are read.
func (q *Queue) ConsumeForTenant(ctx context.Context, tenantCode, consumerID string, batchSize int64, handler Handler) error {
	if err := q.ensureGroup(ctx, tenantCode); err != nil {
		return err
	}

	for _, startID := range []string{"0", ">"} {
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumerID,
			Streams:  []string{streamName(tenantCode), startID},
			Count:    batchSize,
			Block:    blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("queue: read group for %s: %w", tenantCode, err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}

		batch := toMessages(tenantCode, streams[0].Messages)
		if err := invokeHandler(ctx, handler, batch); err != nil {
			klog.ErrorS(err, "ingest handler failed, batch left unacknowledged", "tenant", tenantCode, "size", len(batch))
			return nil
		}

		ids := make([]string, len(batch))
		for i, m := range batch {
			ids[i] = m.ID
		}
		if err := q.client.XAck(ctx, streamName(tenantCode), consumerGroup, ids...).Err(); err != nil {
			return fmt.Errorf("queue: ack batch for %s: %w", tenantCode, err)
		}
		return nil
	}
	return nil
}

// invokeHandler recovers a handler panic into an error so a single
// malformed batch never takes down the consumer loop.
func invokeHandler(ctx context.Context, handler Handler, batch []Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, batch)
}

func toMessages(tenantCode string, entries []redis.XMessage) []Message {
	out := make([]Message, 0, len(entries))
	for _, e := range entries {
		m := Message{ID: e.ID, TenantCode: tenantCode}
		if fp, ok := e.Values["filePath"].(string); ok {
			m.FilePath = fp
		}
		if ra, ok := e.Values["receivedAt"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, ra); err == nil {
				m.ReceivedAt = t
			}
		}
		out = append(out, m)
	}
	return out
}

// PendingCount reports the number of messages delivered but not yet
// acknowledged for tenantCode, used by monitoring.
func (q *Queue) PendingCount(ctx context.Context, tenantCode string) (int64, error) {
	summary, err := q.client.XPending(ctx, streamName(tenantCode), consumerGroup).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("queue: pending count for %s: %w", tenantCode, err)
	}
	return summary.Count, nil
}
