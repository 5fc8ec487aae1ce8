package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

type opKind int

const (
	opCreate opKind = iota
	opDelete
)

type op struct {
	kind  opKind
	path  string
	props Properties
}

// Session stages creates and deletes in memory and applies them to its
// Backend on Commit. Reads observe the staged state.
type Session struct {
	backend Backend
	userID  string
	publish func(ctx context.Context, changes []Change)
	now     func() time.Time

	mu      sync.Mutex
	closed  bool
	pending []op
	created map[string]Properties
	removed []string
}

func NewSession(backend Backend, userID string) *Session {
	return &Session{
		backend: backend,
		userID:  userID,
		now:     time.Now,
		created: map[string]Properties{},
	}
}

func (s *Session) UserID() string {
	return s.userID
}

func (s *Session) IsLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.resetLocked()
	return nil
}

func (s *Session) Revert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) Resolve(ctx context.Context, p string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.resolveLocked(ctx, Clean(p))
}

func (s *Session) resolveLocked(ctx context.Context, p string) (*Node, error) {
	if p == "/" {
		return &Node{Path: "/", Properties: Properties{PrimaryType: TypeRoot}}, nil
	}
	if props, ok := s.created[p]; ok {
		return &Node{Path: p, Properties: props.Clone()}, nil
	}
	if s.hiddenLocked(p) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	props, err := s.backend.Load(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Node{Path: p, Properties: props}, nil
}

func (s *Session) hiddenLocked(p string) bool {
	for _, r := range s.removed {
		if IsWithin(p, r) {
			return true
		}
	}
	return false
}

func (s *Session) Children(ctx context.Context, p string) ([]*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	p = Clean(p)
	if _, err := s.resolveLocked(ctx, p); err != nil {
		return nil, err
	}

	names := map[string]struct{}{}
	if _, staged := s.created[p]; !staged {
		listed, err := s.backend.List(ctx, p)
		if err != nil {
			return nil, err
		}
		for _, name := range listed {
			if !s.hiddenLocked(Join(p, name)) {
				names[name] = struct{}{}
			}
		}
	}
	for cp := range s.created {
		if cp != "/" && Parent(cp) == p {
			names[(&Node{Path: cp}).Name()] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	slices.Sort(sorted)

	nodes := make([]*Node, 0, len(sorted))
	for _, name := range sorted {
		n, err := s.resolveLocked(ctx, Join(p, name))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (s *Session) Create(ctx context.Context, parent *Node, name string, props Properties) (*Node, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: create %q without parent", ErrPersistence, name)
	}
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: invalid node name %q", ErrPersistence, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, err := s.resolveLocked(ctx, parent.Path); err != nil {
		return nil, fmt.Errorf("%w: parent %s: %w", ErrPersistence, parent.Path, err)
	}
	p := Join(parent.Path, name)
	if _, err := s.resolveLocked(ctx, p); err == nil {
		return nil, fmt.Errorf("%w: %s already exists", ErrPersistence, p)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	props = props.Clone()
	if props.Created.IsZero() {
		props.Created = s.now().UTC()
	}
	s.created[p] = props
	s.pending = append(s.pending, op{kind: opCreate, path: p, props: props})
	return &Node{Path: p, Properties: props.Clone()}, nil
}

func (s *Session) Delete(ctx context.Context, node *Node) error {
	if node == nil {
		return fmt.Errorf("%w: delete nil node", ErrPersistence)
	}
	p := Clean(node.Path)
	if p == "/" {
		return fmt.Errorf("%w: cannot delete the root node", ErrPersistence)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.resolveLocked(ctx, p); err != nil {
		return err
	}
	for cp := range s.created {
		if IsWithin(cp, p) {
			delete(s.created, cp)
		}
	}
	s.removed = append(s.removed, p)
	s.pending = append(s.pending, op{kind: opDelete, path: p})
	return nil
}

// Commit applies staged operations in order and publishes the applied ones.
// On failure the remaining operations are discarded and the session is
// reverted; operations applied before the failure stay persisted and are
// still published.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	pending := s.pending
	s.resetLocked()
	s.mu.Unlock()

	changes := make([]Change, 0, len(pending))
	for _, o := range pending {
		var (
			err    error
			change = Change{Path: o.path, UserID: s.userID}
		)
		switch o.kind {
		case opCreate:
			err = s.backend.Save(ctx, o.path, o.props)
			change.Type = ChangeAdded
		case opDelete:
			err = s.backend.Remove(ctx, o.path)
			change.Type = ChangeRemoved
		}
		if err != nil {
			// operations before o are already persisted
			s.notify(ctx, changes)
			return fmt.Errorf("%w: commit %s: %w", ErrPersistence, o.path, err)
		}
		changes = append(changes, change)
	}
	s.notify(ctx, changes)
	return nil
}

func (s *Session) notify(ctx context.Context, changes []Change) {
	if s.publish != nil && len(changes) > 0 {
		s.publish(ctx, changes)
	}
}

func (s *Session) resetLocked() {
	s.pending = nil
	s.removed = nil
	s.created = map[string]Properties{}
}
