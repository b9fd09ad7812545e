package queues

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/otherjamesbrown/penf-linker/pkg/linking/model"
)

// MemoryQueue is an in-process Queue.
type MemoryQueue struct {
	name string

	mu         sync.Mutex
	waiting    *list.List // of *Task, oldest first
	byKey      map[model.DocumentKey]*list.Element
	processing map[string]*Task
	claimed    map[model.DocumentKey]int
	arrived    chan struct{} // closed and replaced on every enqueue
	closed     bool
	stats      Stats
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(name string) *MemoryQueue {
	return &MemoryQueue{
		name:       name,
		waiting:    list.New(),
		byKey:      make(map[model.DocumentKey]*list.Element),
		processing: make(map[string]*Task),
		claimed:    make(map[model.DocumentKey]int),
		arrived:    make(chan struct{}),
	}
}

// Name returns the queue name.
func (q *MemoryQueue) Name() string {
	return q.name
}

// Enqueue adds task to the tail of the queue.
func (q *MemoryQueue) Enqueue(_ context.Context, task *Task, mode EnqueueMode) (EnqueueResult, error) {
	if err := task.Validate(); err != nil {
		return EnqueueResult{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return EnqueueResult{}, ErrQueueClosed
	}

	var res EnqueueResult
	if el, ok := q.byKey[task.Key]; ok {
		if mode == KeepExisting {
			q.stats.Duplicates++
			return res, nil
		}
		q.waiting.Remove(el)
		res.Superseded = true
		q.stats.Superseded++
	}

	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now()
	}
	q.byKey[task.Key] = q.waiting.PushBack(task)
	q.stats.Enqueued++
	res.Added = true

	close(q.arrived)
	q.arrived = make(chan struct{})
	return res, nil
}

// Dequeue removes the oldest waiting task.
func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if front := q.waiting.Front(); front != nil {
			task := q.waiting.Remove(front).(*Task)
			delete(q.byKey, task.Key)
			q.processing[task.ID] = task
			q.claimed[task.Key]++
			q.mu.Unlock()
			return task, nil
		}
		arrived := q.arrived
		q.mu.Unlock()

		select {
		case <-arrived:
		case <-timer.C:
			return nil, ErrQueueEmpty
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack forgets a dequeued task.
func (q *MemoryQueue) Ack(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.processing[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	delete(q.processing, taskID)
	if q.claimed[task.Key]--; q.claimed[task.Key] <= 0 {
		delete(q.claimed, task.Key)
	}
	return nil
}

// Claimed reports whether a dequeued task for key awaits its Ack.
func (q *MemoryQueue) Claimed(_ context.Context, key model.DocumentKey) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.claimed[key] > 0, nil
}

// RemoveByKey drops the waiting task for key.
func (q *MemoryQueue) RemoveByKey(_ context.Context, key model.DocumentKey) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	el, ok := q.byKey[key]
	if !ok {
		return false, nil
	}
	q.waiting.Remove(el)
	delete(q.byKey, key)
	q.stats.Removed++
	return true, nil
}

// Position returns where key's task waits.
func (q *MemoryQueue) Position(_ context.Context, key model.DocumentKey) (int, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	size := q.waiting.Len()
	target, ok := q.byKey[key]
	if !ok {
		return 0, size, nil
	}
	pos := 1
	for el := q.waiting.Front(); el != nil && el != target; el = el.Next() {
		pos++
	}
	return pos, size, nil
}

// Depth returns the number of waiting tasks.
func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(q.waiting.Len()), nil
}

// Stats returns queue counters.
func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Name = q.name
	s.Depth = int64(q.waiting.Len())
	s.Processing = int64(len(q.processing))
	return s, nil
}

// Close wakes blocked consumers and discards the waiting tasks, returning
// their keys.
func (q *MemoryQueue) Close() ([]model.DocumentKey, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, nil
	}
	q.closed = true
	close(q.arrived)

	var discarded []model.DocumentKey
	for el := q.waiting.Front(); el != nil; el = el.Next() {
		discarded = append(discarded, el.Value.(*Task).Key)
	}
	q.waiting.Init()
	q.byKey = make(map[model.DocumentKey]*list.Element)
	return discarded, nil
}

// Verify interface compliance
var _ Queue = (*MemoryQueue)(nil)
