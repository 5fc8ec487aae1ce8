package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/52poke/kura/internal/lease"
	"github.com/52poke/kura/internal/service"
	"github.com/52poke/kura/internal/store"
)

type FileType struct {
	Name      string
	Extension string
	MimeType  string
}

var (
	HTML = FileType{Name: "html", Extension: "html", MimeType: "text/html"}
	CSS  = FileType{Name: "css", Extension: "css", MimeType: "text/css"}
	JS   = FileType{Name: "javascript", Extension: "js", MimeType: "application/javascript"}
	JSON = FileType{Name: "json", Extension: "json", MimeType: "application/json"}
	Text = FileType{Name: "text", Extension: "txt", MimeType: "text/plain"}
)

// CachedFile is a cache artifact read back from the store.
type CachedFile struct {
	Path     string
	Name     string
	MimeType string
	Content  []byte
	Created  time.Time
}

type FileStoreConfig struct {
	service.Config

	// RootPath is the node every artifact lives under. It must not be the
	// repository root.
	RootPath string
	// AfterPurge runs after every executed purge, before the cache creation
	// job is queued.
	AfterPurge func(ctx context.Context, l *lease.Lease)
}

// FileStore caches artifacts as file nodes below a root node. Purging
// deletes every direct child of the root.
type FileStore struct {
	*Service

	root       string
	afterPurge func(ctx context.Context, l *lease.Lease)

	// serializes multi step writes on a shared session
	writeMu sync.Mutex
}

func NewFileStore(cfg FileStoreConfig, opts ...Option) (*FileStore, error) {
	root := strings.TrimSpace(cfg.RootPath)
	if root == "" {
		return nil, fmt.Errorf("cache %s: root path is required", cfg.Name)
	}
	root = store.Clean(root)
	if root == "/" {
		return nil, fmt.Errorf("cache %s: root path must not be the repository root", cfg.Name)
	}
	if len(cfg.RequiredPaths) == 0 {
		cfg.RequiredPaths = []string{root}
	}

	fs := &FileStore{
		root:       root,
		afterPurge: cfg.AfterPurge,
	}
	fs.Service = New(cfg.Config, fs, opts...)
	return fs, nil
}

func (fs *FileStore) RootPath() string {
	return fs.root
}

func (fs *FileStore) fullPath(relativePath string) string {
	return store.Join(fs.root, relativePath)
}

// CreateCacheFile writes content to root+relativePath, creating missing
// parent folders, and commits.
func (fs *FileStore) CreateCacheFile(ctx context.Context, content []byte, relativePath string, ft FileType, l *lease.Lease) error {
	name := fs.DisplayName()
	builderErr := func(msg string, err error) error {
		return &BuilderError{Cache: name, RelativePath: relativePath, Msg: msg, Err: err}
	}
	if l == nil {
		return builderErr("Lease was null.", nil)
	}
	if !l.IsLive() {
		return builderErr("Lease has closed.", nil)
	}

	full := fs.fullPath(relativePath)
	if full == fs.root {
		return builderErr("Relative path does not name a file.", nil)
	}
	parentPath := store.Parent(full)
	fileName := (&store.Node{Path: full}).Name()
	s := l.Store()

	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	parent, err := s.Resolve(ctx, parentPath)
	if errors.Is(err, store.ErrNotFound) {
		if err := fs.CreateResourcesFromPath(ctx, parentPath, l); err != nil {
			s.Revert()
			return builderErr("Cache root resource not found.", err)
		}
		parent, err = s.Resolve(ctx, parentPath)
	}
	if err != nil {
		s.Revert()
		return builderErr("Parent resource could not be resolved.", err)
	}

	file, err := s.Create(ctx, parent, fileName, store.Properties{PrimaryType: store.TypeFile})
	if err != nil {
		s.Revert()
		return builderErr("", err)
	}
	_, err = s.Create(ctx, file, store.ContentNodeName, store.Properties{
		PrimaryType: store.TypeResource,
		MimeType:    ft.MimeType,
		Data:        content,
	})
	if err != nil {
		s.Revert()
		return builderErr("", err)
	}
	if err := s.Commit(ctx); err != nil {
		s.Revert()
		return builderErr("", err)
	}
	fs.Logger().Debug("created cache file", "path", full, "type", ft.Name)
	return nil
}

// GetCachedFile reads root+p as a file of type ft.
func (fs *FileStore) GetCachedFile(ctx context.Context, p string, ft FileType, l *lease.Lease) (*CachedFile, error) {
	full := fs.fullPath(p)
	if !l.IsLive() {
		return nil, &ResourceNotFoundError{Path: full, Reason: "No live lease to retrieve cached file."}
	}
	s := l.Store()

	node, err := s.Resolve(ctx, full)
	if err != nil {
		return nil, &ResourceNotFoundError{Path: full, Err: err}
	}
	if node.Properties.PrimaryType != store.TypeFile {
		return nil, &InvalidTypeError{Path: full, Expected: ft.Name, Reason: fmt.Sprintf("primary type is %s.", node.Properties.PrimaryType)}
	}
	if ft.Extension != "" && !strings.HasSuffix(node.Name(), "."+ft.Extension) {
		return nil, &InvalidTypeError{Path: full, Expected: ft.Name, Reason: fmt.Sprintf("file extension does not match %s.", ft.Extension)}
	}
	content, err := s.Resolve(ctx, store.Join(full, store.ContentNodeName))
	if err != nil {
		return nil, &InvalidTypeError{Path: full, Expected: ft.Name, Reason: "file has no content node."}
	}
	if ft.MimeType != "" && content.Properties.MimeType != ft.MimeType {
		return nil, &InvalidTypeError{Path: full, Expected: ft.Name, Reason: fmt.Sprintf("mime type is %s.", content.Properties.MimeType)}
	}

	return &CachedFile{
		Path:     full,
		Name:     node.Name(),
		MimeType: content.Properties.MimeType,
		Content:  content.Properties.Data,
		Created:  node.Properties.Created,
	}, nil
}

func (fs *FileStore) IsFileCached(ctx context.Context, relativePath string, l *lease.Lease) bool {
	if !l.IsLive() {
		return false
	}
	_, err := l.Store().Resolve(ctx, fs.fullPath(relativePath))
	return err == nil
}

// DoPurge deletes and commits every direct child of the root except the
// access policy node. Children that fail to delete are logged and left.
//
// The lease's session is reverted first, so uncommitted work staged on the
// same lease, such as folders from CreateResourcesFromPath, is discarded.
func (fs *FileStore) DoPurge(ctx context.Context, l *lease.Lease) error {
	name := fs.DisplayName()
	s := l.Store()

	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	s.Revert()
	if _, err := s.Resolve(ctx, fs.root); err != nil {
		return &PurgeError{
			Cache: name,
			Msg:   fmt.Sprintf("Failed to purge cache %s. Cache root resource %s not found.", name, fs.root),
		}
	}
	children, err := s.Children(ctx, fs.root)
	if err != nil {
		return &PurgeError{Cache: name, Msg: fmt.Sprintf("Failed to purge cache %s.", name), Err: err}
	}

	fs.Logger().Info("purging cache", "root", fs.root, "children", len(children))
	for _, child := range children {
		if child.Name() == store.PolicyNodeName {
			continue
		}
		if err := s.Delete(ctx, child); err != nil {
			fs.Logger().Warn("unable to delete while purging cache", "path", child.Path, "error", err)
			s.Revert()
			continue
		}
		if err := s.Commit(ctx); err != nil {
			fs.Logger().Warn("unable to delete while purging cache", "path", child.Path, "error", err)
			s.Revert()
		}
	}
	fs.Logger().Info("purged cache", "root", fs.root)
	return nil
}

func (fs *FileStore) AfterPurge(ctx context.Context, l *lease.Lease) {
	if fs.afterPurge != nil {
		fs.afterPurge(ctx, l)
	}
	fs.AddCacheCreationJob(ctx, map[string]any{
		"cacheRoot": fs.root,
		"cache":     fs.DisplayName(),
	})
}

// CreateResourcesFromPath stages a folder node for every missing segment of
// p below the root. p may be given with or without the root prefix. Existing
// segments are reused. Nothing is committed: the caller commits, and a purge
// on the same lease before that commit discards the staged folders.
func (fs *FileStore) CreateResourcesFromPath(ctx context.Context, p string, l *lease.Lease) error {
	if !l.IsLive() {
		return &ResourceNotFoundError{Path: fs.root, Reason: "No live lease to create resources."}
	}
	s := l.Store()

	rel := p
	if store.IsWithin(p, fs.root) {
		rel = strings.TrimPrefix(store.Clean(p), fs.root)
	}

	parent, err := s.Resolve(ctx, fs.root)
	if err != nil {
		return &ResourceNotFoundError{Path: fs.root, Err: err}
	}
	for _, segment := range strings.Split(rel, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		next, err := s.Resolve(ctx, store.Join(parent.Path, segment))
		if err == nil {
			parent = next
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		parent, err = s.Create(ctx, parent, segment, store.Properties{PrimaryType: store.TypeFolder})
		if err != nil {
			return err
		}
	}
	return nil
}
