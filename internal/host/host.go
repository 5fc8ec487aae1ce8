// Package host assembles caches, invalidators and watchers from service
// definitions and runs them behind the HTTP endpoints.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/52poke/kura/internal/cache"
	"github.com/52poke/kura/internal/config"
	"github.com/52poke/kura/internal/connection"
	"github.com/52poke/kura/internal/health"
	httpx "github.com/52poke/kura/internal/http"
	"github.com/52poke/kura/internal/invalidate"
	"github.com/52poke/kura/internal/jobs"
	"github.com/52poke/kura/internal/purge"
	"github.com/52poke/kura/internal/service"
	"github.com/52poke/kura/internal/store"
	"github.com/52poke/kura/internal/watch"
)

// Deps are the external systems a host runs against. Queue, Locker and
// Trackers are optional.
type Deps struct {
	Backend  store.Backend
	Queue    jobs.Queue
	Locker   cache.Locker
	Trackers []*connection.Tracker
	Logger   *slog.Logger
}

type invalidator struct {
	svc      *invalidate.Invalidator
	paths    []string
	watchDir string
	debounce time.Duration
}

type Host struct {
	logger   *slog.Logger
	factory  *store.SessionFactory
	notifier *store.Notifier
	registry *cache.Registry

	caches       []*cache.FileStore
	invalidators []invalidator
	checks       []health.Check
	watchers     []*watch.Watcher

	mu          sync.Mutex
	unsubscribe []func()
	ready       atomic.Bool
}

func New(cfg config.Config, defs config.Services, deps Deps) (*Host, error) {
	if deps.Backend == nil {
		return nil, errors.New("host: backend is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	users := slices.Concat(cfg.ServiceUsers, defs.ServiceUsers())
	notifier := store.NewNotifier(cfg.NotifierBuffer, logger.With("component", "notifier"))
	h := &Host{
		logger:   logger,
		notifier: notifier,
		registry: cache.NewRegistry(),
		factory: store.NewFactory(deps.Backend,
			store.WithServiceUsers(users...),
			store.WithNotifier(notifier),
			store.WithFactoryLogger(logger),
		),
	}

	for _, def := range defs.Caches {
		opts := []cache.Option{cache.WithMinPurgeInterval(def.MinPurgeInterval)}
		if deps.Queue != nil {
			opts = append(opts, cache.WithJobQueue(deps.Queue, def.JobName))
		}
		if deps.Locker != nil {
			opts = append(opts, cache.WithLocker(deps.Locker))
		}
		fs, err := cache.NewFileStore(cache.FileStoreConfig{
			Config: service.Config{
				Name:          def.Name,
				ServiceUser:   def.ServiceUser,
				Factory:       h.factory,
				RequiredPaths: def.RequiredPaths,
				Logger:        logger,
			},
			RootPath: def.Root,
		}, opts...)
		if err != nil {
			return nil, err
		}
		if err := h.registry.Register(fs); err != nil {
			return nil, err
		}
		h.caches = append(h.caches, fs)
		h.checks = append(h.checks, health.Check{Name: def.Name, Service: fs})
	}

	for _, def := range defs.Invalidators {
		purgers := make([]invalidate.Purger, 0, len(def.Caches))
		for _, name := range def.Caches {
			c, ok := h.registry.Get(name)
			if !ok {
				return nil, fmt.Errorf("invalidator %s: unknown cache %s", def.Name, name)
			}
			purgers = append(purgers, c)
		}
		inv := invalidate.New(invalidate.Config{
			Config: service.Config{
				Name:        def.Name,
				ServiceUser: def.ServiceUser,
				Factory:     h.factory,
				Logger:      logger,
			},
			Caches:            purgers,
			PurgeOnActivation: def.PurgeOnActivation,
		})
		h.invalidators = append(h.invalidators, invalidator{
			svc:      inv,
			paths:    def.Paths,
			watchDir: def.WatchDir,
			debounce: def.Debounce,
		})
		h.checks = append(h.checks, health.Check{Name: def.Name, Service: inv})
	}

	for _, t := range deps.Trackers {
		h.checks = append(h.checks, health.Check{Name: t.DisplayName(), Service: t})
	}
	return h, nil
}

func (h *Host) Registry() *cache.Registry {
	return h.registry
}

func (h *Host) Notifier() *store.Notifier {
	return h.notifier
}

func (h *Host) Ready() bool {
	return h.ready.Load()
}

// Start creates missing cache roots and directory watchers, then activates
// caches and invalidators and subscribes invalidators to their paths. Nothing
// is activated when a root or watcher cannot be created.
func (h *Host) Start(ctx context.Context) error {
	for _, c := range h.caches {
		if err := h.ensureRoot(ctx, c); err != nil {
			return err
		}
	}
	watchers, err := h.newWatchers()
	if err != nil {
		return err
	}

	for _, c := range h.caches {
		c.Activate(ctx)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.watchers = watchers
	for _, inv := range h.invalidators {
		inv.svc.Activate(ctx)
		if len(inv.paths) > 0 {
			h.unsubscribe = append(h.unsubscribe, inv.svc.Subscribe(h.notifier, inv.paths...))
		}
	}
	h.ready.Store(true)
	h.logger.Info("host started", "caches", len(h.caches), "invalidators", len(h.invalidators))
	return nil
}

func (h *Host) newWatchers() ([]*watch.Watcher, error) {
	var watchers []*watch.Watcher
	for _, inv := range h.invalidators {
		if inv.watchDir == "" {
			continue
		}
		w, err := watch.New(inv.watchDir, inv.svc.OnChange,
			watch.WithDebounce(inv.debounce),
			watch.WithLogger(h.logger.With("invalidator", inv.svc.DisplayName())),
		)
		if err != nil {
			for _, started := range watchers {
				started.Close()
			}
			return nil, fmt.Errorf("invalidator %s: %w", inv.svc.DisplayName(), err)
		}
		watchers = append(watchers, w)
	}
	return watchers, nil
}

func (h *Host) ensureRoot(ctx context.Context, c *cache.FileStore) error {
	s, err := h.factory.OpenAs(ctx, c.ServiceUser())
	if err != nil {
		return fmt.Errorf("cache %s: %w", c.DisplayName(), err)
	}
	defer s.Close()
	if _, err := store.EnsurePath(ctx, s, c.RootPath(), store.TypeFolder); err != nil {
		return fmt.Errorf("cache %s: create root: %w", c.DisplayName(), err)
	}
	return s.Commit(ctx)
}

// Stop unsubscribes and deactivates invalidators before caches.
func (h *Host) Stop(ctx context.Context) {
	h.ready.Store(false)
	h.mu.Lock()
	for _, unsub := range h.unsubscribe {
		unsub()
	}
	h.unsubscribe = nil
	h.mu.Unlock()

	for i := len(h.invalidators) - 1; i >= 0; i-- {
		h.invalidators[i].svc.Deactivate(ctx)
	}
	for i := len(h.caches) - 1; i >= 0; i-- {
		h.caches[i].Deactivate(ctx)
	}
	h.logger.Info("host stopped")
}

func (h *Host) Check(ctx context.Context) []health.Result {
	results := make([]health.Result, 0, len(h.checks))
	for _, c := range h.checks {
		results = append(results, c.Execute(ctx))
	}
	return results
}

// Handler routes mutating cache requests to the purge handler and
// everything else to the read handler.
func (h *Host) Handler() http.Handler {
	read := httpx.NewHandler(h.registry, h.checks, h.Ready, h.logger)
	write := &purge.Handler{Caches: h.registry, Logger: h.logger}
	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == httpx.MethodPurge || r.Method == http.MethodPost {
			write.ServeHTTP(w, r)
			return
		}
		read.ServeHTTP(w, r)
	}))
	return mux
}

// Run starts the host and serves addr until ctx is done, then shuts the
// server down and stops the host.
func (h *Host) Run(ctx context.Context, addr string) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	defer h.Stop(context.WithoutCancel(ctx))

	server := &http.Server{
		Addr:         addr,
		Handler:      h.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.notifier.Run(gctx)
		return nil
	})
	for _, w := range h.watchers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	g.Go(func() error {
		h.logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
