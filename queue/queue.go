// Package queue implements ragctl's job queue (C4): named, durable queues
// over Redis with blocking dequeue and a processing set used to detect
// jobs whose visibility timeout has expired.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job is one unit of work. Args carries handler-specific parameters (e.g.
// {"document_id": "..."} for process_document).
type Job struct {
	ID         string                 `json:"id"`
	Function   string                 `json:"function"`
	Args       map[string]interface{} `json:"args"`
	QueueName  string                 `json:"queueName"`
	EnqueuedAt time.Time              `json:"enqueuedAt"`
	Attempt    int                    `json:"attempt"`
	MaxTries   int                    `json:"maxTries"`
}

// Config configures the Redis-backed Queue.
type Config struct {
	RedisURL  string
	KeyPrefix string
}

// Queue handles job queue operations using Redis.
type Queue struct {
	client *redis.Client
	prefix string
}

// NewQueue creates a new Redis queue client, verifying connectivity.
func NewQueue(ctx context.Context, cfg Config) (*Queue, error) {
	redisURL := cfg.RedisURL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "queue:"
	}
	return &Queue{client: client, prefix: prefix}, nil
}

// NewQueueWithClient wraps an existing *redis.Client (used in tests against
// miniredis, and to share a connection with the quota ledger).
func NewQueueWithClient(client *redis.Client, prefix string) *Queue {
	if prefix == "" {
		prefix = "queue:"
	}
	return &Queue{client: client, prefix: prefix}
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) queueKey(name string) string {
	return q.prefix + name
}

func (q *Queue) processingKey() string {
	return q.prefix + "processing"
}

// Enqueue adds a job to its named queue.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return q.client.RPush(ctx, q.queueKey(job.QueueName), data).Err()
}

// Dequeue blocks up to timeout for the next job on queueName.
func (q *Queue) Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*Job, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := q.client.BLPop(dctx, timeout, q.queueKey(queueName)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// MarkProcessing records job.ID in the processing set with a visibility
// deadline, so a reconciliation pass can detect jobs a crashed worker never
// completed.
func (q *Queue) MarkProcessing(ctx context.Context, jobID string, deadline time.Time) error {
	return q.client.ZAdd(ctx, q.processingKey(), redis.Z{Score: float64(deadline.Unix()), Member: jobID}).Err()
}

// CompleteJob removes jobID from the processing set.
func (q *Queue) CompleteJob(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.processingKey(), jobID).Err()
}

// FailJob removes job from the processing set and, if requeue is true,
// re-enqueues it with an incremented attempt count after delay.
func (q *Queue) FailJob(ctx context.Context, job Job, requeue bool, delay time.Duration) error {
	if err := q.CompleteJob(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to clear processing entry: %w", err)
	}
	if !requeue {
		return nil
	}
	next := job
	next.Attempt++
	next.EnqueuedAt = time.Now()
	if delay <= 0 {
		return q.Enqueue(ctx, next)
	}
	go func() {
		time.Sleep(delay)
		_ = q.Enqueue(context.Background(), next)
	}()
	return nil
}

// GetQueueDepth returns the number of jobs waiting on queueName.
func (q *Queue) GetQueueDepth(ctx context.Context, queueName string) (int, error) {
	n, err := q.client.LLen(ctx, q.queueKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(n), nil
}

// IsProcessing reports whether jobID is in the processing set.
func (q *Queue) IsProcessing(ctx context.Context, jobID string) (bool, error) {
	_, err := q.client.ZScore(ctx, q.processingKey(), jobID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check processing status: %w", err)
	}
	return true, nil
}

// ExpiredProcessing returns job IDs in the processing set whose visibility
// deadline has passed as of now.
func (q *Queue) ExpiredProcessing(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan expired processing entries: %w", err)
	}
	return ids, nil
}
