// Package queue implements the durable delivery work queue on Redis. Chunks
// of notification ids are the unit of work; a processing ledger lets crashed
// workers' chunks be reclaimed after a stale lease timeout.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"kashee-notify/internal/common/errors"
	"kashee-notify/internal/common/logger"
	"kashee-notify/internal/common/metrics"
)

// Chunk is one queued unit of delivery work.
type Chunk struct {
	ID              string    `json:"id"`
	NotificationIDs []int64   `json:"notification_ids"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
	Attempt         int       `json:"attempt"`
}

// Config tunes the queue's Redis keys and lease behaviour.
type Config struct {
	Key        string        // list key holding ready chunks
	StaleLease time.Duration // how long a leased chunk may go unacked
}

// Queue is a Redis-backed work queue with at-least-once delivery.
type Queue struct {
	rdb *redis.Client
	cfg Config
	log logger.Logger
}

func New(rdb *redis.Client, cfg Config, log logger.Logger) *Queue {
	if cfg.Key == "" {
		cfg.Key = "notify:delivery:ready"
	}
	if cfg.StaleLease <= 0 {
		cfg.StaleLease = 5 * time.Minute
	}
	return &Queue{rdb: rdb, cfg: cfg, log: log}
}

func (q *Queue) processingKey() string {
	return q.cfg.Key + ":processing"
}

// Enqueue pushes one chunk of notification ids onto the ready list.
func (q *Queue) Enqueue(ctx context.Context, notificationIDs []int64) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	chunk := Chunk{
		ID:              uuid.NewString(),
		NotificationIDs: notificationIDs,
		EnqueuedAt:      time.Now().UTC(),
	}
	return q.push(ctx, &chunk)
}

func (q *Queue) push(ctx context.Context, chunk *Chunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("chunk marshal: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.cfg.Key, payload).Err(); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	metrics.QueueDepth.Inc()
	return nil
}

// Dequeue blocks up to timeout for the next chunk and moves it into the
// processing ledger. A zero return with nil error means the wait timed out.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Chunk, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.cfg.Key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}

	var chunk Chunk
	if err := json.Unmarshal([]byte(res[1]), &chunk); err != nil {
		q.log.WithError(err).Error("Dropping malformed queue payload", map[string]interface{}{
			"payload": res[1],
		})
		return nil, nil
	}

	lease := map[string]interface{}{
		"payload":   res[1],
		"leased_at": time.Now().UTC().Format(time.RFC3339),
	}
	leaseJSON, _ := json.Marshal(lease)
	if err := q.rdb.HSet(ctx, q.processingKey(), chunk.ID, leaseJSON).Err(); err != nil {
		return nil, errors.NewQueueUnavailableError(err)
	}
	metrics.QueueDepth.Dec()
	return &chunk, nil
}

// Ack removes a finished chunk from the processing ledger.
func (q *Queue) Ack(ctx context.Context, chunk *Chunk) error {
	if err := q.rdb.HDel(ctx, q.processingKey(), chunk.ID).Err(); err != nil {
		return errors.NewQueueUnavailableError(err)
	}
	return nil
}

// ReclaimStale re-enqueues chunks whose lease exceeded the stale timeout,
// covering workers that died mid-chunk.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	entries, err := q.rdb.HGetAll(ctx, q.processingKey()).Result()
	if err != nil {
		return 0, errors.NewQueueUnavailableError(err)
	}

	cutoff := time.Now().UTC().Add(-q.cfg.StaleLease)
	reclaimed := 0
	for chunkID, raw := range entries {
		var lease struct {
			Payload  string `json:"payload"`
			LeasedAt string `json:"leased_at"`
		}
		if err := json.Unmarshal([]byte(raw), &lease); err != nil {
			q.rdb.HDel(ctx, q.processingKey(), chunkID)
			continue
		}
		leasedAt, err := time.Parse(time.RFC3339, lease.LeasedAt)
		if err != nil || leasedAt.After(cutoff) {
			continue
		}

		var chunk Chunk
		if err := json.Unmarshal([]byte(lease.Payload), &chunk); err != nil {
			q.rdb.HDel(ctx, q.processingKey(), chunkID)
			continue
		}
		chunk.Attempt++
		if err := q.push(ctx, &chunk); err != nil {
			return reclaimed, err
		}
		q.rdb.HDel(ctx, q.processingKey(), chunkID)
		reclaimed++

		q.log.Warn("Reclaimed stale delivery chunk", map[string]interface{}{
			"chunk_id": chunkID,
			"size":     len(chunk.NotificationIDs),
			"attempt":  chunk.Attempt,
		})
	}
	return reclaimed, nil
}

// Depth returns the number of ready chunks.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.cfg.Key).Result()
	if err != nil {
		return 0, errors.NewQueueUnavailableError(err)
	}
	return n, nil
}
