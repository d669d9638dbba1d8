// Package delivery runs the two-level delivery pipeline: chunks of
// notification ids fan out to per-channel adapters, and per-channel outcomes
// fold back into the notification's authoritative status.
package delivery

import (
	"context"
	"math/rand"
	"time"

	"kashee-notify/internal/models"
)

// Job is the unit handed to a channel adapter: one notification plus its
// resolved recipient.
type Job struct {
	Notification *models.Notification
	User         *models.User
}

// Adapter dispatches one notification over one channel. Adapters never
// return an error; failures are carried in the SendResult so the pipeline
// can record them on the delivery row.
type Adapter interface {
	Channel() models.Channel
	Send(ctx context.Context, job *Job) models.SendResult
}

// Config tunes the pipeline's concurrency and retry behaviour.
type Config struct {
	ChunkSize          int           // notifications per queue chunk
	ChannelParallelism int           // simultaneous outbound calls per worker
	ChannelTimeout     time.Duration // deadline per adapter call
	MaxAttempts        int           // per delivery row
	RetryBackoffBase   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 500
	}
	if c.ChannelParallelism <= 0 {
		c.ChannelParallelism = 8
	}
	if c.ChannelTimeout <= 0 {
		c.ChannelTimeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = 30 * time.Second
	}
	return c
}

const maxBackoff = 10 * time.Minute

// backoff computes the retry delay for the given zero-based attempt:
// exponential with up to 20% jitter, capped at ten minutes.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	d := base << uint(attempt)
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	if d+jitter > maxBackoff {
		return maxBackoff
	}
	return d + jitter
}
