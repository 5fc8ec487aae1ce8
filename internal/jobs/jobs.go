// Package jobs enqueues background jobs such as cache rebuilds. Enqueueing
// is fire-and-forget; consumers live outside this module.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/52poke/kura/internal/connection"
)

type Queue interface {
	Enqueue(ctx context.Context, name string, props map[string]any) error
}

type Job struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

func newJob(name string, props map[string]any) Job {
	return Job{
		ID:         uuid.NewString(),
		Name:       name,
		Properties: props,
		EnqueuedAt: time.Now().UTC(),
	}
}

type pusher interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisQueue pushes JSON encoded jobs onto one Redis list per job name.
type RedisQueue struct {
	client  pusher
	prefix  string
	tracker *connection.Tracker
}

func NewRedisQueue(client *redis.Client, prefix string, tracker *connection.Tracker) *RedisQueue {
	return newRedisQueue(client, prefix, tracker)
}

func newRedisQueue(client pusher, prefix string, tracker *connection.Tracker) *RedisQueue {
	if tracker == nil {
		tracker = connection.NewTracker("redis")
	}
	return &RedisQueue{client: client, prefix: prefix, tracker: tracker}
}

func (q *RedisQueue) Key(name string) string {
	return q.prefix + "jobs:" + name
}

func (q *RedisQueue) Tracker() *connection.Tracker {
	return q.tracker
}

func (q *RedisQueue) Enqueue(ctx context.Context, name string, props map[string]any) error {
	payload, err := json.Marshal(newJob(name, props))
	if err != nil {
		return fmt.Errorf("encode job %s: %w", name, err)
	}
	err = q.client.LPush(ctx, q.Key(name), payload).Err()
	q.tracker.Record(err)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", name, err)
	}
	return nil
}

// MemoryQueue records jobs in process.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Job
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, name string, props map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, newJob(name, props))
	return nil
}

func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}
