// Package cache implements the cache lifecycle: a cache is live or
// suspended, purges are throttled to one per minimum interval, and backends
// plug in through Hooks.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/52poke/kura/internal/jobs"
	"github.com/52poke/kura/internal/lease"
	"github.com/52poke/kura/internal/service"
)

// Hooks are the backend specific parts of a purge. DoPurge runs with the
// cache's own lease while the purge lock is held; AfterPurge runs after a
// successful DoPurge, outside the lock.
type Hooks interface {
	DoPurge(ctx context.Context, l *lease.Lease) error
	AfterPurge(ctx context.Context, l *lease.Lease)
}

// Locker coordinates purges across processes. TryLock reports ok=false when
// another holder has the key.
type Locker interface {
	TryLock(ctx context.Context, key string) (release func(context.Context) error, ok bool, err error)
}

// CacheService is what hosts and listeners drive.
type CacheService interface {
	service.ManagedService
	Enable(ctx context.Context, actor string) error
	Disable(ctx context.Context, actor string) error
	PurgeAll(ctx context.Context, actor string) error
	IsLive() bool
	LastPurged() (time.Time, bool)
	LastPurgedBy() (string, bool)
	Status() Status
}

var _ CacheService = (*Service)(nil)

type Status struct {
	Name         string     `json:"name"`
	State        string     `json:"state"`
	Live         bool       `json:"live"`
	LastPurged   *time.Time `json:"last_purged,omitempty"`
	LastPurgedBy string     `json:"last_purged_by,omitempty"`
}

type Option func(*Service)

// WithMinPurgeInterval sets the throttle window. A purge requested no more
// than d after the previous executed purge is skipped.
func WithMinPurgeInterval(d time.Duration) Option {
	return func(s *Service) {
		s.minInterval = d
	}
}

// WithJobQueue enables AddCacheCreationJob.
func WithJobQueue(q jobs.Queue, jobName string) Option {
	return func(s *Service) {
		s.queue = q
		s.jobName = jobName
	}
}

func WithLocker(l Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

type Service struct {
	*service.Base

	hooks       Hooks
	minInterval time.Duration
	queue       jobs.Queue
	jobName     string
	locker      Locker
	now         func() time.Time

	mu           sync.Mutex
	live         bool
	lastPurged   time.Time
	lastPurgedBy string
}

// New builds a live cache service. hooks must not be nil.
func New(cfg service.Config, hooks Hooks, opts ...Option) *Service {
	s := &Service{
		Base:  service.NewBase(cfg),
		hooks: hooks,
		now:   time.Now,
		live:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	cacheLive.WithLabelValues(s.DisplayName()).Set(1)
	return s
}

func (s *Service) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Service) LastPurged() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPurged, !s.lastPurged.IsZero()
}

func (s *Service) LastPurgedBy() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPurgedBy, !s.lastPurged.IsZero()
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:  s.DisplayName(),
		State: s.State().String(),
		Live:  s.live,
	}
	if !s.lastPurged.IsZero() {
		ts := s.lastPurged
		st.LastPurged = &ts
		st.LastPurgedBy = s.lastPurgedBy
	}
	return st
}

// Enable purges the cache and then allows caching again. If the purge fails
// the state is left unchanged.
func (s *Service) Enable(ctx context.Context, actor string) error {
	return s.transition(ctx, actor, true)
}

// Disable purges the cache and then suspends caching. If the purge fails the
// state is left unchanged.
func (s *Service) Disable(ctx context.Context, actor string) error {
	return s.transition(ctx, actor, false)
}

func (s *Service) transition(ctx context.Context, actor string, live bool) error {
	if err := s.PurgeAll(ctx, actor); err != nil {
		return err
	}
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()

	gauge := 0.0
	if live {
		gauge = 1
	}
	cacheLive.WithLabelValues(s.DisplayName()).Set(gauge)
	s.Logger().Info("cache state changed", "live", live, "actor", actor)
	return nil
}

// PurgeAll clears the cache unless the previous purge executed within the
// minimum interval. actor is recorded as the purger. Purges of one instance
// are serialized, so at most one executes per throttle window.
func (s *Service) PurgeAll(ctx context.Context, actor string) error {
	ctx, span := tracer.Start(ctx, "cache.PurgeAll", trace.WithAttributes(
		attribute.String("cache", s.DisplayName()),
		attribute.String("actor", actor),
	))
	defer span.End()

	l, err := s.purge(ctx, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if l != nil {
		s.hooks.AfterPurge(ctx, l)
	}
	return nil
}

// purge returns the lease used when a purge executed and nil when it was
// skipped.
func (s *Service) purge(ctx context.Context, actor string) (*lease.Lease, error) {
	name := s.DisplayName()
	logger := s.Logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.throttleExpiredLocked(now) {
		logger.Debug("skipping cache purge, minimum time between purges has not elapsed")
		purgesTotal.WithLabelValues(name, resultSkipped).Inc()
		return nil, nil
	}

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, "purge:"+name)
		if err != nil {
			purgesTotal.WithLabelValues(name, resultFailed).Inc()
			return nil, &PurgeError{Cache: name, Msg: fmt.Sprintf("Failed to purge cache %s. Could not acquire purge lock.", name), Err: err}
		}
		if !ok {
			logger.Debug("skipping cache purge, another process holds the purge lock")
			purgesTotal.WithLabelValues(name, resultSkipped).Inc()
			return nil, nil
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release purge lock", "error", err)
			}
		}()
	}

	l, ok := s.Lease()
	if !ok {
		logger.Error("failed to clear cached data, service lease was never acquired")
		purgesTotal.WithLabelValues(name, resultFailed).Inc()
		return nil, &PurgeError{Cache: name, Msg: fmt.Sprintf("Failed to purge cache %s. Service lease was never acquired.", name)}
	}
	if !l.IsLive() {
		logger.Error("failed to clear cached data, service lease has closed")
		purgesTotal.WithLabelValues(name, resultFailed).Inc()
		return nil, &PurgeError{Cache: name, Msg: fmt.Sprintf("Failed to purge cache %s. Service lease has closed.", name)}
	}

	// Recorded before DoPurge: a failed purge still counts against the window.
	s.lastPurged = now
	s.lastPurgedBy = actor
	logger.Info("clearing all cached data", "actor", actor)

	start := time.Now()
	if err := s.hooks.DoPurge(ctx, l); err != nil {
		purgesTotal.WithLabelValues(name, resultFailed).Inc()
		var pe *PurgeError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, &PurgeError{Cache: name, Msg: fmt.Sprintf("Failed to purge cache %s.", name), Err: err}
	}
	purgeDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	purgesTotal.WithLabelValues(name, resultExecuted).Inc()
	return l, nil
}

func (s *Service) throttleExpiredLocked(now time.Time) bool {
	if s.lastPurged.IsZero() {
		return true
	}
	return now.Sub(s.lastPurged) > s.minInterval
}

// AddCacheCreationJob enqueues the configured cache creation job. Without a
// queue or job name it does nothing.
func (s *Service) AddCacheCreationJob(ctx context.Context, props map[string]any) {
	if s.queue == nil || s.jobName == "" {
		return
	}
	s.Logger().Info("starting cache job", "job", s.jobName)
	if err := s.queue.Enqueue(ctx, s.jobName, props); err != nil {
		s.Logger().Error("failed to enqueue cache job", "job", s.jobName, "error", err)
	}
}

// Deactivate makes a final purge attempt as the service user and releases
// the lease. Purge failures are logged.
func (s *Service) Deactivate(ctx context.Context) {
	if err := s.PurgeAll(ctx, s.ServiceUser()); err != nil {
		s.Logger().Error("final purge failed", "error", err)
	}
	s.Base.Deactivate(ctx)
}
