// Package store models the hierarchical content repository that managed
// services lease sessions from. Nodes are addressed by absolute,
// slash-separated paths; writes are staged on a Session and become visible
// to other sessions only after Commit.
package store

import (
	"context"
	"errors"
	"maps"
	"path"
	"slices"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("node not found")
	ErrLogin       = errors.New("login failed")
	ErrPersistence = errors.New("persistence failure")
	ErrClosed      = errors.New("store session closed")
)

// Well-known node types and names.
const (
	TypeRoot     = "rep:root"
	TypeFolder   = "sling:Folder"
	TypeFile     = "nt:file"
	TypeResource = "nt:resource"

	ContentNodeName = "jcr:content"
	PolicyNodeName  = "rep:policy"
)

type Properties struct {
	PrimaryType string            `json:"primaryType"`
	MimeType    string            `json:"mimeType,omitempty"`
	Data        []byte            `json:"data,omitempty"`
	Created     time.Time         `json:"created"`
	Extra       map[string]string `json:"extra,omitempty"`
}

func (p Properties) Clone() Properties {
	out := p
	out.Data = slices.Clone(p.Data)
	out.Extra = maps.Clone(p.Extra)
	return out
}

type Node struct {
	Path       string
	Properties Properties
}

func (n *Node) Name() string {
	if n.Path == "/" {
		return ""
	}
	return path.Base(n.Path)
}

// Store is one authenticated session against the repository.
type Store interface {
	Resolve(ctx context.Context, p string) (*Node, error)
	Children(ctx context.Context, p string) ([]*Node, error)
	Create(ctx context.Context, parent *Node, name string, props Properties) (*Node, error)
	Delete(ctx context.Context, node *Node) error
	Commit(ctx context.Context) error
	Revert()
	UserID() string
	IsLive() bool
	Close() error
}

// Factory opens sessions on behalf of service users.
type Factory interface {
	OpenAs(ctx context.Context, identity string) (Store, error)
}

// Backend is the persistence layer beneath sessions. Implementations must be
// safe for concurrent use. List returns the names of the direct children of
// p and an empty slice when p has none or does not exist. Remove deletes p
// together with its subtree.
type Backend interface {
	Load(ctx context.Context, p string) (Properties, error)
	List(ctx context.Context, p string) ([]string, error)
	Save(ctx context.Context, p string, props Properties) error
	Remove(ctx context.Context, p string) error
}

// Clean normalizes p into an absolute path without a trailing slash.
func Clean(p string) string {
	return path.Clean("/" + p)
}

func Join(parent, name string) string {
	return Clean(parent + "/" + name)
}

// Parent returns the parent of p; the parent of the root is the root.
func Parent(p string) string {
	return path.Dir(Clean(p))
}

// IsWithin reports whether p equals root or lies below it.
func IsWithin(p, root string) bool {
	p, root = Clean(p), Clean(root)
	if root == "/" || p == root {
		return true
	}
	return strings.HasPrefix(p, root+"/")
}
