package queues

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// RedisQueue implements Queue with a sorted set of task IDs ordered by an
// increasing sequence number, a hash from document key to waiting task ID and
// a hash of task payloads. Dequeued tasks stay claimed by their document key
// until acknowledged. Multi-key updates run as Lua scripts so that
// concurrent producers and consumers in different processes see one task per
// key.
type RedisQueue struct {
	client *redis.Client
	name   string
	config Config
	keys   redisKeys

	closeOnce sync.Once
	closed    chan struct{}
}

type redisKeys struct {
	queue      string // zset: task id by sequence
	byKey      string // hash: document key -> waiting task id
	owners     string // hash: task id -> document key
	tasks      string // hash: task id -> payload
	processing string // zset: task id by visibility deadline
	claimedBy  string // hash: dequeued task id -> document key
	claims     string // hash: document key -> dequeued task count
	seq        string // counter
	stats      string // hash: counters
}

// Redis key prefixes
const (
	keyPrefixQueue      = "queue:"
	keyPrefixByKey      = "bykey:"
	keyPrefixOwners     = "owners:"
	keyPrefixTasks      = "tasks:"
	keyPrefixProcessing = "processing:"
	keyPrefixClaimedBy  = "claimedby:"
	keyPrefixClaims     = "claims:"
	keyPrefixSeq        = "seq:"
	keyPrefixStats      = "stats:"
)

// NewRedisQueue creates a Redis-backed queue.
func NewRedisQueue(client *redis.Client, config Config) *RedisQueue {
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 10 * time.Minute
	}
	return &RedisQueue{
		client: client,
		name:   config.Name,
		config: config,
		keys: redisKeys{
			queue:      keyPrefixQueue + config.Name,
			byKey:      keyPrefixByKey + config.Name,
			owners:     keyPrefixOwners + config.Name,
			tasks:      keyPrefixTasks + config.Name,
			processing: keyPrefixProcessing + config.Name,
			claimedBy:  keyPrefixClaimedBy + config.Name,
			claims:     keyPrefixClaims + config.Name,
			seq:        keyPrefixSeq + config.Name,
			stats:      keyPrefixStats + config.Name,
		},
		closed: make(chan struct{}),
	}
}

// KEYS: queue, byKey, owners, tasks, seq, stats
// ARGV: document key, task id, payload, replace flag
var enqueueScript = redis.NewScript(`
local existing = redis.call('HGET', KEYS[2], ARGV[1])
local superseded = 0
if existing then
  if ARGV[4] ~= '1' then
    redis.call('HINCRBY', KEYS[6], 'duplicates', 1)
    return {0, 0}
  end
  redis.call('ZREM', KEYS[1], existing)
  redis.call('HDEL', KEYS[3], existing)
  redis.call('HDEL', KEYS[4], existing)
  redis.call('HINCRBY', KEYS[6], 'superseded', 1)
  superseded = 1
end
local seq = redis.call('INCR', KEYS[5])
redis.call('HSET', KEYS[4], ARGV[2], ARGV[3])
redis.call('HSET', KEYS[3], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[1], seq, ARGV[2])
redis.call('HINCRBY', KEYS[6], 'enqueued', 1)
return {1, superseded}
`)

// KEYS: queue, byKey, owners, tasks, processing, claimedBy, claims
// ARGV: visibility deadline (unix nanos)
var dequeueScript = redis.NewScript(`
while true do
  local popped = redis.call('ZPOPMIN', KEYS[1])
  if #popped == 0 then
    return false
  end
  local id = popped[1]
  local owner = redis.call('HGET', KEYS[3], id)
  if owner and redis.call('HGET', KEYS[2], owner) == id then
    redis.call('HDEL', KEYS[2], owner)
  end
  redis.call('HDEL', KEYS[3], id)
  local payload = redis.call('HGET', KEYS[4], id)
  if payload then
    redis.call('ZADD', KEYS[5], ARGV[1], id)
    if owner then
      redis.call('HSET', KEYS[6], id, owner)
      redis.call('HINCRBY', KEYS[7], owner, 1)
    end
    return payload
  end
end
`)

// KEYS: processing, tasks, claimedBy, claims
// ARGV: task id
// Returns 1 when the task was being processed.
var releaseScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
local owner = redis.call('HGET', KEYS[3], ARGV[1])
if owner then
  redis.call('HDEL', KEYS[3], ARGV[1])
  if redis.call('HINCRBY', KEYS[4], owner, -1) <= 0 then
    redis.call('HDEL', KEYS[4], owner)
  end
end
return removed
`)

// KEYS: queue, byKey, owners, tasks, stats
// ARGV: document key
var removeScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[2], ARGV[1])
if not id then
  return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[1], id)
redis.call('HDEL', KEYS[3], id)
redis.call('HDEL', KEYS[4], id)
redis.call('HINCRBY', KEYS[5], 'removed', 1)
return 1
`)

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Enqueue adds task to the tail of the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, task *Task, mode EnqueueMode) (EnqueueResult, error) {
	if err := task.Validate(); err != nil {
		return EnqueueResult{}, err
	}
	if q.isClosed() {
		return EnqueueResult{}, ErrQueueClosed
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	payload, err := encodeTask(task)
	if err != nil {
		return EnqueueResult{}, err
	}

	replace := "0"
	if mode == ReplaceExisting {
		replace = "1"
	}
	keys := []string{q.keys.queue, q.keys.byKey, q.keys.owners, q.keys.tasks, q.keys.seq, q.keys.stats}
	res, err := enqueueScript.Run(ctx, q.client, keys, task.Key.String(), task.ID, payload, replace).Int64Slice()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("failed to enqueue task: %w", err)
	}
	if len(res) != 2 {
		return EnqueueResult{}, fmt.Errorf("failed to enqueue task: unexpected reply %v", res)
	}
	return EnqueueResult{Added: res[0] == 1, Superseded: res[1] == 1}, nil
}

// Dequeue pops the oldest waiting task, polling until timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	deadline := time.Now().Add(timeout)
	keys := []string{q.keys.queue, q.keys.byKey, q.keys.owners, q.keys.tasks, q.keys.processing, q.keys.claimedBy, q.keys.claims}

	for {
		if q.isClosed() {
			return nil, ErrQueueClosed
		}
		visibleAfter := time.Now().Add(q.config.VisibilityTimeout).UnixNano()
		payload, err := dequeueScript.Run(ctx, q.client, keys, visibleAfter).Text()
		switch {
		case err == nil:
			return decodeTask([]byte(payload))
		case !errors.Is(err, redis.Nil):
			return nil, fmt.Errorf("failed to pop from queue: %w", err)
		}

		if !time.Now().Before(deadline) {
			return nil, ErrQueueEmpty
		}
		select {
		case <-time.After(q.config.PollInterval):
		case <-q.closed:
			return nil, ErrQueueClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack removes a dequeued task and its claim.
func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	removed, err := q.release(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	if !removed {
		return ErrTaskNotFound
	}
	return nil
}

func (q *RedisQueue) release(ctx context.Context, taskID string) (bool, error) {
	keys := []string{q.keys.processing, q.keys.tasks, q.keys.claimedBy, q.keys.claims}
	n, err := releaseScript.Run(ctx, q.client, keys, taskID).Int()
	return n == 1, err
}

// Claimed reports whether any process holds an unacknowledged task for key.
func (q *RedisQueue) Claimed(ctx context.Context, key model.DocumentKey) (bool, error) {
	n, err := q.client.HGet(ctx, q.keys.claims, key.String()).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read claims: %w", err)
	}
	return n > 0, nil
}

// RemoveByKey drops the waiting task for key.
func (q *RedisQueue) RemoveByKey(ctx context.Context, key model.DocumentKey) (bool, error) {
	keys := []string{q.keys.queue, q.keys.byKey, q.keys.owners, q.keys.tasks, q.keys.stats}
	n, err := removeScript.Run(ctx, q.client, keys, key.String()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to remove task: %w", err)
	}
	return n == 1, nil
}

// Position returns where key's task waits.
func (q *RedisQueue) Position(ctx context.Context, key model.DocumentKey) (int, int, error) {
	size, err := q.client.ZCard(ctx, q.keys.queue).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read queue size: %w", err)
	}
	id, err := q.client.HGet(ctx, q.keys.byKey, key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, int(size), nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to look up task: %w", err)
	}
	rank, err := q.client.ZRank(ctx, q.keys.queue, id).Result()
	if errors.Is(err, redis.Nil) {
		// Popped between the two reads.
		return 0, int(size), nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to rank task: %w", err)
	}
	return int(rank) + 1, int(size), nil
}

// Depth returns the number of waiting tasks.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.keys.queue).Result()
}

// Stats returns queue counters shared by every process using the queue.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	depth := pipe.ZCard(ctx, q.keys.queue)
	processing := pipe.ZCard(ctx, q.keys.processing)
	counters := pipe.HGetAll(ctx, q.keys.stats)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}

	s := Stats{Name: q.name, Depth: depth.Val(), Processing: processing.Val()}
	for field, dst := range map[string]*int64{
		"enqueued":   &s.Enqueued,
		"duplicates": &s.Duplicates,
		"superseded": &s.Superseded,
		"removed":    &s.Removed,
	} {
		if v, ok := counters.Val()[field]; ok {
			*dst, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	return s, nil
}

// RecoverStale puts back tasks whose visibility timeout expired, which
// happens when a process died between Dequeue and Ack. A task whose key has
// a newer waiting task is dropped. Returns the number of tasks put back.
func (q *RedisQueue) RecoverStale(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	stale, err := q.client.ZRangeByScore(ctx, q.keys.processing, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale tasks: %w", err)
	}

	recovered := 0
	for _, id := range stale {
		payload, err := q.client.HGet(ctx, q.keys.tasks, id).Bytes()
		if errors.Is(err, redis.Nil) {
			if _, err := q.release(ctx, id); err != nil {
				return recovered, fmt.Errorf("failed to release stale task: %w", err)
			}
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("failed to read stale task: %w", err)
		}
		task, err := decodeTask(payload)
		if err != nil {
			return recovered, err
		}

		if _, err := q.release(ctx, id); err != nil {
			return recovered, fmt.Errorf("failed to release stale task: %w", err)
		}
		res, err := q.Enqueue(ctx, task, KeepExisting)
		if err != nil {
			return recovered, err
		}
		if res.Added {
			recovered++
		}
	}
	return recovered, nil
}

// Close stops blocked consumers. Waiting tasks stay in Redis for the other
// processes, so none are reported as discarded. The client stays open.
func (q *RedisQueue) Close() ([]model.DocumentKey, error) {
	q.closeOnce.Do(func() {
		close(q.closed)
	})
	return nil, nil
}

// Verify interface compliance
var _ Queue = (*RedisQueue)(nil)
