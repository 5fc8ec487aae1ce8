// Package invalidate purges caches when watched content changes.
package invalidate

import (
	"context"
	"reflect"

	"github.com/52poke/kura/internal/service"
	"github.com/52poke/kura/internal/store"
)

// Purger is the part of a cache an Invalidator drives.
type Purger interface {
	DisplayName() string
	PurgeAll(ctx context.Context, actor string) error
}

type Config struct {
	service.Config

	Caches []Purger
	// PurgeOnActivation runs one purge pass right after activation.
	PurgeOnActivation bool
}

// Invalidator purges every configured cache whenever it is told about a
// change. The changes themselves are not inspected.
type Invalidator struct {
	*service.Base

	caches            []Purger
	purgeOnActivation bool
}

func New(cfg Config) *Invalidator {
	return &Invalidator{
		Base:              service.NewBase(cfg.Config),
		caches:            cfg.Caches,
		purgeOnActivation: cfg.PurgeOnActivation,
	}
}

func (inv *Invalidator) Activate(ctx context.Context) {
	inv.Base.Activate(ctx)
	if inv.purgeOnActivation {
		inv.OnChange(ctx, nil)
	}
}

// OnChange purges each cache as the service user. A failing or missing cache
// is logged and does not stop the remaining ones.
func (inv *Invalidator) OnChange(ctx context.Context, changes []store.Change) {
	logger := inv.Logger()
	l, ok := inv.Lease()
	if !ok || !l.IsLive() {
		logger.Error("failed to get service lease, caches were not purged", "changes", len(changes))
		return
	}
	logger.Debug("purging caches after change", "changes", len(changes), "caches", len(inv.caches))

	for i, c := range inv.caches {
		if isNil(c) {
			logger.Error("failed to purge cache, no cache service detected", "index", i)
			continue
		}
		if err := c.PurgeAll(ctx, l.Identity()); err != nil {
			logger.Error("failed to purge cache", "cache", c.DisplayName(), "error", err)
		}
	}
}

// Subscribe registers OnChange for commits at or below paths. The returned
// func cancels the subscription.
func (inv *Invalidator) Subscribe(n *store.Notifier, paths ...string) func() {
	return n.Subscribe(inv.OnChange, paths...)
}

// isNil also catches typed nil pointers stored in the interface.
func isNil(c Purger) bool {
	if c == nil {
		return true
	}
	v := reflect.ValueOf(c)
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
