// Package service provides the lifecycle shared by managed services: a
// service is activated by its host, holds one store lease while active and
// reports on that lease in health checks.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/52poke/kura/internal/health"
	"github.com/52poke/kura/internal/lease"
	"github.com/52poke/kura/internal/store"
)

type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "INACTIVE"
}

// ManagedService is the contract the host drives. Deactivate must not fail.
type ManagedService interface {
	DisplayName() string
	Activate(ctx context.Context)
	Deactivate(ctx context.Context)
	RunAdditionalHealthChecks(ctx context.Context, log health.Log)
}

type Config struct {
	Name          string
	ServiceUser   string
	Factory       store.Factory
	RequiredPaths []string
	Logger        *slog.Logger
}

// Base implements ManagedService around a single lease. Services compose it
// and extend Activate and Deactivate.
type Base struct {
	name          string
	serviceUser   string
	factory       store.Factory
	requiredPaths []string
	logger        *slog.Logger

	mu    sync.RWMutex
	state State
	lease *lease.Lease
}

func NewBase(cfg Config) *Base {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		name:          cfg.Name,
		serviceUser:   cfg.ServiceUser,
		factory:       cfg.Factory,
		requiredPaths: cfg.RequiredPaths,
		logger:        logger.With("service", cfg.Name),
	}
}

func (b *Base) DisplayName() string {
	return b.name
}

func (b *Base) ServiceUser() string {
	return b.serviceUser
}

func (b *Base) Logger() *slog.Logger {
	return b.logger
}

func (b *Base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Lease returns the held lease. ok is false when the service never obtained
// one; a held lease may still have been closed, see Lease.IsLive.
func (b *Base) Lease() (*lease.Lease, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lease, b.lease != nil
}

// Activate opens the service lease. A failed login is logged and leaves the
// service active without a lease so health checks can report it.
func (b *Base) Activate(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Info("activating")
	if l, ok := lease.TryAcquire(ctx, b.factory, b.serviceUser, b.name, b.lease, b.logger); ok {
		b.lease = l
	}
	b.state = Active
}

func (b *Base) Deactivate(_ context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger.Info("deactivating")
	lease.Release(b.lease, b.name, b.logger)
	b.state = Inactive
}

func (b *Base) RunAdditionalHealthChecks(ctx context.Context, log health.Log) {
	l, ok := b.Lease()
	switch {
	case !ok:
		log.Critical("Service lease is null.")
		return
	case !l.IsLive():
		log.Critical("Service lease has closed.")
		return
	}

	healthy := true
	for _, p := range b.requiredPaths {
		if _, err := l.Store().Resolve(ctx, p); err != nil {
			healthy = false
			log.Critical(fmt.Sprintf("Required resource %s was not found.", p))
		}
	}
	if healthy {
		log.Debug(fmt.Sprintf("Service lease for %s is live.", b.serviceUser))
	}
}
