package store

import (
	"context"
	"log/slog"
	"sync"
)

type ChangeType string

const (
	ChangeAdded   ChangeType = "ADDED"
	ChangeChanged ChangeType = "CHANGED"
	ChangeRemoved ChangeType = "REMOVED"
)

type Change struct {
	Path   string
	Type   ChangeType
	UserID string
}

type Handler func(ctx context.Context, changes []Change)

type subscription struct {
	handler Handler
	paths   []string
}

type batch struct {
	ctx     context.Context
	changes []Change
}

// Notifier fans committed changes out to subscribers whose paths cover them.
// Delivery is asynchronous and ordered: handlers run on the goroutine that
// calls Run, so a handler may commit to the store without deadlocking the
// committing session.
type Notifier struct {
	logger *slog.Logger
	queue  chan batch

	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

func NewNotifier(buffer int, logger *slog.Logger) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		logger: logger,
		queue:  make(chan batch, buffer),
		subs:   map[int]subscription{},
	}
}

// Subscribe registers h for changes at or below any of paths; no paths means
// every change. The returned func removes the subscription.
func (n *Notifier) Subscribe(h Handler, paths ...string) func() {
	cleaned := make([]string, 0, len(paths))
	for _, p := range paths {
		cleaned = append(cleaned, Clean(p))
	}

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = subscription{handler: h, paths: cleaned}
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// Publish queues changes for delivery. When the queue is full the batch is
// dropped and logged.
func (n *Notifier) Publish(ctx context.Context, changes []Change) {
	if len(changes) == 0 {
		return
	}
	select {
	case n.queue <- batch{ctx: context.WithoutCancel(ctx), changes: changes}:
	default:
		n.logger.Warn("change queue full, dropping batch", "changes", len(changes))
	}
}

// Run delivers queued batches until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-n.queue:
			n.dispatch(b.ctx, b.changes)
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, changes []Change) {
	n.mu.RLock()
	subs := make([]subscription, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.RUnlock()

	for _, s := range subs {
		matched := filterChanges(changes, s.paths)
		if len(matched) > 0 {
			s.handler(ctx, matched)
		}
	}
}

func filterChanges(changes []Change, paths []string) []Change {
	if len(paths) == 0 {
		return changes
	}
	var out []Change
	for _, c := range changes {
		for _, p := range paths {
			if IsWithin(c.Path, p) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
