// Package lease acquires and releases store sessions on behalf of service
// users. A service holds at most one lease; acquiring while the held lease is
// still live hands back the held lease.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/52poke/kura/internal/store"
)

type Lease struct {
	store    store.Store
	identity string
	opened   time.Time
}

func (l *Lease) Store() store.Store {
	return l.store
}

func (l *Lease) Identity() string {
	return l.identity
}

func (l *Lease) Opened() time.Time {
	return l.opened
}

// IsLive is safe to call on a nil lease.
func (l *Lease) IsLive() bool {
	return l != nil && l.store != nil && l.store.IsLive()
}

type AcquisitionError struct {
	Identity string
	Service  string
	Err      error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("failed to open lease for service user %s for %s: %v", e.Identity, e.Service, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Acquire returns existing when it is live, otherwise opens a new session as
// identity. service names the owner in logs and errors.
func Acquire(ctx context.Context, factory store.Factory, identity, service string, existing *Lease, logger *slog.Logger) (*Lease, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if existing.IsLive() {
		logger.Info("live lease already exists", "user", identity, "service", service)
		return existing, nil
	}
	if factory == nil {
		logger.Warn("failed to open lease, store factory was nil", "user", identity, "service", service)
		return nil, &AcquisitionError{Identity: identity, Service: service, Err: fmt.Errorf("%w: nil store factory", store.ErrLogin)}
	}

	s, err := factory.OpenAs(ctx, identity)
	if err != nil {
		return nil, &AcquisitionError{Identity: identity, Service: service, Err: err}
	}
	logger.Info("opened lease", "user", identity, "service", service)
	return &Lease{store: s, identity: identity, opened: time.Now()}, nil
}

// TryAcquire is Acquire that logs failures instead of returning them.
func TryAcquire(ctx context.Context, factory store.Factory, identity, service string, existing *Lease, logger *slog.Logger) (*Lease, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	l, err := Acquire(ctx, factory, identity, service, existing, logger)
	if err != nil {
		logger.Error("failed to log into service user", "user", identity, "service", service, "error", err)
		return nil, false
	}
	return l, true
}

// Release closes l if it is live. Nil and closed leases are ignored.
func Release(l *Lease, service string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("checking whether lease needs closing", "service", service)
	if !l.IsLive() {
		return
	}
	logger.Info("closing lease", "service", service, "user", l.identity)
	if err := l.store.Close(); err != nil {
		logger.Error("failed to close lease", "service", service, "error", err)
	}
}

// New wraps an already open store session, e.g. one opened for an end user.
func New(s store.Store) *Lease {
	return &Lease{store: s, identity: s.UserID(), opened: time.Now()}
}
