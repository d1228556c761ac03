package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps ready jobs in a list, in-flight jobs in a processing list
// and delayed jobs in a sorted set scored by due time. The time each
// in-flight job was taken is kept in a hash so only abandoned jobs are
// recovered.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	processingKey string
	delayedKey    string
	takenKey      string
}

// NewRedisQueue 创建 Redis 队列
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "castshelf:jobs"
	}
	return &RedisQueue{
		client:        client,
		readyKey:      prefix + ":ready",
		processingKey: prefix + ":processing",
		delayedKey:    prefix + ":delayed",
		takenKey:      prefix + ":taken",
	}
}

// promoteScript moves due delayed jobs onto the ready list atomically.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, job in ipairs(due) do
	redis.call('ZREM', KEYS[1], job)
	redis.call('LPUSH', KEYS[2], job)
end
return #due
`)

// recoverScript returns in-flight jobs taken at least ARGV[2] ms ago to the
// ready list. A job with no taken time is stamped now and left alone.
var recoverScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local stale = tonumber(ARGV[2])
local n = 0
for _, job in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
	local taken = redis.call('HGET', KEYS[3], job)
	if stale > 0 and not taken then
		redis.call('HSET', KEYS[3], job, ARGV[1])
	elseif stale <= 0 or now - tonumber(taken) >= stale then
		redis.call('LREM', KEYS[1], 1, job)
		redis.call('HDEL', KEYS[3], job)
		redis.call('LPUSH', KEYS[2], job)
		n = n + 1
	end
end
return n
`)

// nackScript puts one in-flight job back at the head of the ready list.
var nackScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) > 0 then
	redis.call('HDEL', KEYS[3], ARGV[1])
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job) error {
	raw, err := job.encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.readyKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	return nil
}

func (q *RedisQueue) EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	raw, err := job.encode()
	if err != nil {
		return err
	}
	due := time.Now().Add(delay).UnixMilli()
	if err := q.client.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: raw}).Err(); err != nil {
		return fmt.Errorf("enqueue delayed %s: %w", job.Type, err)
	}
	return nil
}

// PromoteDue moves delayed jobs whose time has come onto the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey, q.readyKey},
		strconv.FormatInt(now.UnixMilli(), 10), 100).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if _, err := q.PromoteDue(ctx, time.Now()); err != nil {
		return nil, err
	}
	raw, err := q.client.BLMove(ctx, q.readyKey, q.processingKey, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	job, err := decodeJob(raw)
	if err != nil {
		// undecodable payloads are dropped
		q.client.LRem(ctx, q.processingKey, 1, raw)
		return nil, err
	}
	if err := q.client.HSet(ctx, q.takenKey, raw, time.Now().UnixMilli()).Err(); err != nil {
		return nil, fmt.Errorf("stamp dequeued job: %w", err)
	}
	return job, nil
}

func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey, 1, job.raw)
	pipe.HDel(ctx, q.takenKey, job.raw)
	_, err := pipe.Exec(ctx)
	return err
}

// Nack returns a job this process took but could not finish.
func (q *RedisQueue) Nack(ctx context.Context, job *Job) error {
	if job.raw == "" {
		return nil
	}
	return nackScript.Run(ctx, q.client,
		[]string{q.processingKey, q.readyKey, q.takenKey}, job.raw).Err()
}

// Recover re-queues in-flight jobs taken longer than staleAfter ago, whose
// worker is presumed gone. Jobs other live processes are still working on
// stay where they are. staleAfter <= 0 re-queues everything.
func (q *RedisQueue) Recover(ctx context.Context, staleAfter time.Duration) (int, error) {
	n, err := recoverScript.Run(ctx, q.client,
		[]string{q.processingKey, q.readyKey, q.takenKey},
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		strconv.FormatInt(staleAfter.Milliseconds(), 10)).Int()
	if err != nil {
		return 0, fmt.Errorf("recover in-flight jobs: %w", err)
	}
	return n, nil
}

// Stats reports queue depths.
func (q *RedisQueue) Stats(ctx context.Context) (ready, processing, delayed int64, err error) {
	pipe := q.client.Pipeline()
	r := pipe.LLen(ctx, q.readyKey)
	p := pipe.LLen(ctx, q.processingKey)
	d := pipe.ZCard(ctx, q.delayedKey)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return r.Val(), p.Val(), d.Val(), nil
}
