package store

import (
	"context"
	"errors"
	"strings"
)

// EnsurePath stages nodes of type primaryType for every missing segment of p
// and returns the node at p. The caller commits.
func EnsurePath(ctx context.Context, s Store, p, primaryType string) (*Node, error) {
	node, err := s.Resolve(ctx, "/")
	if err != nil {
		return nil, err
	}
	for _, segment := range strings.Split(strings.Trim(Clean(p), "/"), "/") {
		if segment == "" {
			continue
		}
		next, err := s.Resolve(ctx, Join(node.Path, segment))
		if err == nil {
			node = next
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if node, err = s.Create(ctx, node, segment, Properties{PrimaryType: primaryType}); err != nil {
			return nil, err
		}
	}
	return node, nil
}
