package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SessionFactory opens Sessions over a shared Backend for mapped service
// users.
type SessionFactory struct {
	backend  Backend
	users    map[string]struct{}
	notifier *Notifier
	logger   *slog.Logger
}

type FactoryOption func(*SessionFactory)

// WithServiceUsers restricts logins to the given identities. Without it any
// non-empty identity may log in.
func WithServiceUsers(users ...string) FactoryOption {
	return func(f *SessionFactory) {
		for _, u := range users {
			if u = strings.TrimSpace(u); u != "" {
				f.users[u] = struct{}{}
			}
		}
	}
}

// WithNotifier publishes every committed change to n.
func WithNotifier(n *Notifier) FactoryOption {
	return func(f *SessionFactory) {
		f.notifier = n
	}
}

func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(f *SessionFactory) {
		f.logger = logger
	}
}

func NewFactory(backend Backend, opts ...FactoryOption) *SessionFactory {
	f := &SessionFactory{
		backend: backend,
		users:   map[string]struct{}{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *SessionFactory) OpenAs(ctx context.Context, identity string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogin, err)
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: empty service user", ErrLogin)
	}
	if len(f.users) > 0 {
		if _, ok := f.users[identity]; !ok {
			return nil, fmt.Errorf("%w: service user %q is not mapped", ErrLogin, identity)
		}
	}
	s := NewSession(f.backend, identity)
	if f.notifier != nil {
		s.publish = f.notifier.Publish
	}
	f.logger.Debug("opened store session", "user", identity)
	return s, nil
}
