package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePusher struct {
	key    string
	values []interface{}
	err    error
}

func (f *fakePusher) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.key = key
	f.values = append(f.values, values...)
	return redis.NewIntResult(int64(len(f.values)), f.err)
}

func TestRedisQueueEnqueue(t *testing.T) {
	fake := &fakePusher{}
	q := newRedisQueue(fake, "kura:", nil)

	err := q.Enqueue(context.Background(), "page-cache-rebuild", map[string]any{"cacheRoot": "/var/cache/pages"})
	require.NoError(t, err)
	assert.Equal(t, "kura:jobs:page-cache-rebuild", fake.key)
	require.Len(t, fake.values, 1)

	var job Job
	require.NoError(t, json.Unmarshal(fake.values[0].([]byte), &job))
	assert.Equal(t, "page-cache-rebuild", job.Name)
	assert.Equal(t, "/var/cache/pages", job.Properties["cacheRoot"])
	assert.NotEmpty(t, job.ID)

	_, ok := q.Tracker().LastSuccess()
	assert.True(t, ok)
}

func TestRedisQueueEnqueueFailure(t *testing.T) {
	fake := &fakePusher{err: errors.New("READONLY")}
	q := newRedisQueue(fake, "", nil)

	err := q.Enqueue(context.Background(), "rebuild", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")

	_, reason, ok := q.Tracker().LastFailure()
	assert.True(t, ok)
	assert.Equal(t, "READONLY", reason)
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Enqueue(context.Background(), "a", nil))
	require.NoError(t, q.Enqueue(context.Background(), "b", map[string]any{"k": "v"}))
	jobs := q.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.NotEqual(t, jobs[0].ID, jobs[1].ID)
}
