// Package queue implements the durable delayed job queue behind the dispatch
// engine. Jobs are JSON members of a Redis sorted set scored by their
// visible-at time; a Lua script pops the earliest due member atomically, so a
// single consumer never sees the same delivery twice. The queue performs no
// retry of its own — backoff and re-enqueue are explicit worker logic.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samuelwildary2025/disparo/internal/model"
)

// Queue is the enqueue side, consumed by the scheduler and the worker.
type Queue interface {
	Enqueue(ctx context.Context, job model.DispatchJob, delay time.Duration) error
}

// Handler processes one popped job. Errors are logged by the run loop and the
// delivery is acked regardless; anything retryable must have been re-enqueued
// by the handler itself.
type Handler func(ctx context.Context, job model.DispatchJob) error

// popScript atomically moves the earliest due member to the processing set.
// KEYS[1]=pending zset, KEYS[2]=processing zset, ARGV[1]=now unix ms.
const popScript = `
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #due == 0 then
    return false
end
redis.call("ZREM", KEYS[1], due[1])
redis.call("ZADD", KEYS[2], ARGV[1], due[1])
return due[1]
`

// DefaultPollInterval is how often the run loop checks for due jobs when the
// queue is drained.
const DefaultPollInterval = 250 * time.Millisecond

// RedisQueue is the Redis-backed implementation. One consumer group,
// concurrency 1: the run loop processes jobs strictly serially so per-campaign
// pacing state needs no distributed lock.
type RedisQueue struct {
	client        *redis.Client
	key           string
	processingKey string
	pollInterval  time.Duration
	pop           *redis.Script

	now func() time.Time
}

// NewRedisQueue creates a queue over an existing client. key names the
// pending sorted set; "<key>:processing" holds in-flight deliveries.
func NewRedisQueue(client *redis.Client, key string, pollInterval time.Duration) *RedisQueue {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &RedisQueue{
		client:        client,
		key:           key,
		processingKey: key + ":processing",
		pollInterval:  pollInterval,
		pop:           redis.NewScript(popScript),
		now:           time.Now,
	}
}

// Connect opens and pings a Redis connection from a URL.
func Connect(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Println("[Queue] connected to redis")
	return client, nil
}

// Enqueue makes the job visible no earlier than now+delay. Re-enqueueing an
// identical job (same attempt) before it was popped just moves its deadline.
func (q *RedisQueue) Enqueue(ctx context.Context, job model.DispatchJob, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	visibleAt := q.now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.key, redis.Z{Score: float64(visibleAt), Member: body}).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// popDue returns the earliest due job, or ok=false when nothing is visible.
func (q *RedisQueue) popDue(ctx context.Context) (model.DispatchJob, []byte, bool, error) {
	var job model.DispatchJob

	raw, err := q.pop.Run(ctx, q.client, []string{q.key, q.processingKey}, q.now().UnixMilli()).Text()
	if err == redis.Nil {
		return job, nil, false, nil
	}
	if err != nil {
		return job, nil, false, fmt.Errorf("pop job: %w", err)
	}

	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Poison member: drop it so it cannot wedge the queue.
		q.client.ZRem(ctx, q.processingKey, raw)
		return job, nil, false, fmt.Errorf("decode job: %w", err)
	}
	return job, []byte(raw), true, nil
}

// ack removes a completed delivery from the processing set.
func (q *RedisQueue) ack(ctx context.Context, raw []byte) {
	if err := q.client.ZRem(ctx, q.processingKey, raw).Err(); err != nil {
		log.Printf("[Queue] ack failed: %v", err)
	}
}

// RecoverStale returns deliveries stuck in the processing set for longer than
// staleAge to the pending set, making them immediately visible. Called at
// worker startup so a crash mid-job keeps at-least-once delivery.
func (q *RedisQueue) RecoverStale(ctx context.Context, staleAge time.Duration) (int, error) {
	cutoff := q.now().Add(-staleAge).UnixMilli()

	members, err := q.client.ZRangeByScore(ctx, q.processingKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan stale jobs: %w", err)
	}

	nowMs := float64(q.now().UnixMilli())
	for _, member := range members {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.processingKey, member)
		pipe.ZAdd(ctx, q.key, redis.Z{Score: nowMs, Member: member})
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("requeue stale job: %w", err)
		}
	}

	if len(members) > 0 {
		log.Printf("[Queue] recovered %d stale jobs", len(members))
	}
	return len(members), nil
}

// Run consumes jobs until ctx is cancelled, one at a time. Handler errors are
// logged and the delivery is acked; the queue never retries on its own.
func (q *RedisQueue) Run(ctx context.Context, handler Handler) error {
	timer := time.NewTimer(q.pollInterval)
	defer timer.Stop()

	for {
		job, raw, ok, err := q.popDue(ctx)
		if err != nil {
			log.Printf("[Queue] %v", err)
		}

		if ok {
			if err := handler(ctx, job); err != nil {
				log.Printf("[Queue] handler error for step run %s: %v", job.StepRunID, err)
			}
			q.ack(ctx, raw)
			continue
		}

		timer.Reset(q.pollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

var _ Queue = (*RedisQueue)(nil)
