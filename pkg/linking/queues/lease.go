package queues

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// DefaultLeaseTTL is how long a consumer lease survives without renewal.
const DefaultLeaseTTL = 30 * time.Second

const keyPrefixLease = "lease:"

// KEYS: lease
// ARGV: token, ttl (ms)
var acquireLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
  return 1
end
if redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
  return 1
end
return 0
`)

// KEYS: lease
// ARGV: token
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// LeasedQueue lets one consumer at a time dequeue from a queue shared by
// several processes. Only the holder of a Redis lease dequeues; every other
// consumer sees an empty queue until the lease expires or is released. The
// holder renews the lease every TTL/3, including while a task runs.
// Producers are unaffected.
type LeasedQueue struct {
	Queue
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	poll   time.Duration

	mu      sync.Mutex
	held    bool
	renewer sync.Once
	stop    chan struct{}
	stopped sync.Once
}

// NewLeasedQueue wraps inner. ttl and poll default to DefaultLeaseTTL and
// 100ms.
func NewLeasedQueue(inner Queue, client *redis.Client, ttl, poll time.Duration) *LeasedQueue {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &LeasedQueue{
		Queue:  inner,
		client: client,
		key:    keyPrefixLease + inner.Name(),
		token:  uuid.NewString(),
		ttl:    ttl,
		poll:   poll,
		stop:   make(chan struct{}),
	}
}

// Held reports whether this consumer held the lease at its last attempt.
func (q *LeasedQueue) Held() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.held
}

func (q *LeasedQueue) acquire(ctx context.Context) (bool, error) {
	n, err := acquireLeaseScript.Run(ctx, q.client, []string{q.key}, q.token, q.ttl.Milliseconds()).Int()
	q.mu.Lock()
	q.held = err == nil && n == 1
	held := q.held
	q.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", q.key, err)
	}
	return held, nil
}

// Dequeue takes a task only while this consumer holds the lease.
func (q *LeasedQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	select {
	case <-q.stop:
		return nil, ErrQueueClosed
	default:
	}
	q.renewer.Do(func() { go q.renew() })

	held, err := q.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if held {
		return q.Queue.Dequeue(ctx, timeout)
	}

	wait := q.poll
	if timeout < wait {
		wait = timeout
	}
	select {
	case <-time.After(wait):
		return nil, ErrQueueEmpty
	case <-q.stop:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// renew keeps a held lease alive between dequeues.
func (q *LeasedQueue) renew() {
	ticker := time.NewTicker(q.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			if q.Held() {
				ctx, cancel := context.WithTimeout(context.Background(), q.ttl/3)
				_, _ = q.acquire(ctx)
				cancel()
			}
		}
	}
}

// RecoverStale forwards to the wrapped queue when it supports recovery.
func (q *LeasedQueue) RecoverStale(ctx context.Context) (int, error) {
	if r, ok := q.Queue.(interface {
		RecoverStale(context.Context) (int, error)
	}); ok {
		return r.RecoverStale(ctx)
	}
	return 0, nil
}

// Close stops renewal, releases the lease so another process can take over
// at once, and closes the wrapped queue.
func (q *LeasedQueue) Close() ([]model.DocumentKey, error) {
	q.stopped.Do(func() { close(q.stop) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.mu.Lock()
	q.held = false
	q.mu.Unlock()
	if err := releaseLeaseScript.Run(ctx, q.client, []string{q.key}, q.token).Err(); err != nil {
		discarded, _ := q.Queue.Close()
		return discarded, fmt.Errorf("failed to release lease %s: %w", q.key, err)
	}
	return q.Queue.Close()
}
