// Package lock provides the cross-process purge lock. Locks are Redis keys
// set with NX and a TTL; only the holder's token can release them.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/52poke/kura/internal/connection"
)

const DefaultTTL = 45 * time.Second

// ErrLockLost is returned on release when the key expired or was taken over
// while the lock was held.
var ErrLockLost = errors.New("lock: lock expired before release")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type scripter interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// Lock is one held key.
type Lock struct {
	client scripter
	key    string
	owner  string
}

func (l *Lock) Key() string {
	return l.key
}

// Release deletes the key if it is still owned by l.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Locker hands out locks under a shared key prefix so replicas agree on who
// runs a purge.
type Locker struct {
	client  scripter
	prefix  string
	ttl     time.Duration
	tracker *connection.Tracker
}

func NewLocker(c *redis.Client, prefix string, ttl time.Duration, tracker *connection.Tracker) *Locker {
	return newLocker(c, prefix, ttl, tracker)
}

func newLocker(c scripter, prefix string, ttl time.Duration, tracker *connection.Tracker) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{client: c, prefix: prefix, ttl: ttl, tracker: tracker}
}

// Acquire sets prefix+"lock:"+key. ok is false when someone else holds it.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lock, bool, error) {
	lk := &Lock{client: l.client, key: l.prefix + "lock:" + key, owner: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lk.key, lk.owner, l.ttl).Result()
	if l.tracker != nil {
		l.tracker.Record(err)
	}
	if err != nil || !ok {
		return nil, false, err
	}
	return lk, true, nil
}

// TryLock adapts Acquire to the cache.Locker contract.
func (l *Locker) TryLock(ctx context.Context, key string) (func(context.Context) error, bool, error) {
	lk, ok, err := l.Acquire(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return lk.Release, true, nil
}
