package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/52poke/kura/internal/health"
	"github.com/52poke/kura/internal/jobs"
	"github.com/52poke/kura/internal/lease"
	"github.com/52poke/kura/internal/service"
	"github.com/52poke/kura/internal/store"
)

// countingStore records mutating calls made through it.
type countingStore struct {
	store.Store

	creates  []string
	deletes  []string
	commits  int
	failPath string
}

func (c *countingStore) Create(ctx context.Context, parent *store.Node, name string, props store.Properties) (*store.Node, error) {
	n, err := c.Store.Create(ctx, parent, name, props)
	if err == nil {
		c.creates = append(c.creates, n.Path)
	}
	return n, err
}

func (c *countingStore) Delete(ctx context.Context, node *store.Node) error {
	if node.Path == c.failPath {
		return errors.New("locked node")
	}
	c.deletes = append(c.deletes, node.Path)
	return c.Store.Delete(ctx, node)
}

func (c *countingStore) Commit(ctx context.Context) error {
	c.commits++
	return c.Store.Commit(ctx)
}

func seed(t *testing.T, backend *store.MemoryBackend, paths map[string]string) {
	t.Helper()
	for p, typ := range paths {
		require.NoError(t, backend.Save(context.Background(), p, store.Properties{PrimaryType: typ}))
	}
}

func newFileStore(t *testing.T, root string, opts ...Option) (*FileStore, *store.MemoryBackend, *countingStore) {
	t.Helper()
	backend := store.NewMemoryBackend()
	factory := store.NewFactory(backend)
	fs, err := NewFileStore(FileStoreConfig{
		Config:   service.Config{Name: "PageCache", ServiceUser: "cache-service", Factory: factory},
		RootPath: root,
	}, opts...)
	require.NoError(t, err)

	s, err := factory.OpenAs(context.Background(), "cache-service")
	require.NoError(t, err)
	return fs, backend, &countingStore{Store: s}
}

func TestNewFileStoreValidatesRoot(t *testing.T) {
	for _, root := range []string{"", "  ", "/", "//"} {
		_, err := NewFileStore(FileStoreConfig{Config: service.Config{Name: "bad"}, RootPath: root})
		assert.Error(t, err, "root %q", root)
	}

	fs, err := NewFileStore(FileStoreConfig{Config: service.Config{Name: "ok"}, RootPath: "/var/cache/pages/"})
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/pages", fs.RootPath())
}

func TestCreateCacheFileThenPurge(t *testing.T) {
	ctx := context.Background()
	fs, backend, _ := newFileStore(t, "/var/cache/pages")
	seed(t, backend, map[string]string{"/var": store.TypeFolder, "/var/cache": store.TypeFolder, "/var/cache/pages": store.TypeFolder})

	fs.Activate(ctx)
	l, ok := fs.Lease()
	require.True(t, ok)

	require.NoError(t, fs.CreateCacheFile(ctx, []byte("<p>hi</p>"), "/content/site/page.html", HTML, l))
	assert.True(t, fs.IsFileCached(ctx, "/content/site/page.html", l))

	folder, err := l.Store().Resolve(ctx, "/var/cache/pages/content/site")
	require.NoError(t, err)
	assert.Equal(t, store.TypeFolder, folder.Properties.PrimaryType)

	file, err := fs.GetCachedFile(ctx, "/content/site/page.html", HTML, l)
	require.NoError(t, err)
	assert.Equal(t, "page.html", file.Name)
	assert.Equal(t, "text/html", file.MimeType)
	assert.Equal(t, []byte("<p>hi</p>"), file.Content)
	assert.False(t, file.Created.IsZero())

	require.NoError(t, fs.DoPurge(ctx, l))
	assert.False(t, fs.IsFileCached(ctx, "/content/site/page.html", l))
	_, err = l.Store().Resolve(ctx, "/var/cache/pages")
	assert.NoError(t, err)
}

func TestCreateCacheFileErrors(t *testing.T) {
	ctx := context.Background()
	fs, backend, cs := newFileStore(t, "/var/cache/pages")

	err := fs.CreateCacheFile(ctx, []byte("x"), "/a.html", HTML, nil)
	var be *BuilderError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "/a.html", be.RelativePath)
	assert.Contains(t, err.Error(), "PageCache")
	assert.Contains(t, err.Error(), "'/a.html'")

	t.Run("missing root", func(t *testing.T) {
		err := fs.CreateCacheFile(ctx, []byte("x"), "/a/b.html", HTML, lease.New(cs))
		require.ErrorAs(t, err, &be)
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.Zero(t, cs.commits)
	})

	t.Run("duplicate", func(t *testing.T) {
		seed(t, backend, map[string]string{"/var": store.TypeFolder, "/var/cache": store.TypeFolder, "/var/cache/pages": store.TypeFolder})
		l := lease.New(cs)
		require.NoError(t, fs.CreateCacheFile(ctx, []byte("x"), "/dup.html", HTML, l))
		err := fs.CreateCacheFile(ctx, []byte("y"), "/dup.html", HTML, l)
		require.ErrorAs(t, err, &be)
		assert.ErrorIs(t, err, store.ErrPersistence)
	})

	t.Run("closed lease", func(t *testing.T) {
		s, err := store.NewFactory(backend).OpenAs(ctx, "cache-service")
		require.NoError(t, err)
		l := lease.New(s)
		require.NoError(t, s.Close())
		err = fs.CreateCacheFile(ctx, []byte("x"), "/closed.html", HTML, l)
		require.ErrorAs(t, err, &be)
		assert.Contains(t, err.Error(), "closed")
	})
}

func TestGetCachedFileErrors(t *testing.T) {
	ctx := context.Background()
	fs, backend, cs := newFileStore(t, "/cache")
	seed(t, backend, map[string]string{"/cache": store.TypeFolder, "/cache/dir": store.TypeFolder})
	l := lease.New(cs)
	require.NoError(t, fs.CreateCacheFile(ctx, []byte("body{}"), "/site.css", CSS, l))

	_, err := fs.GetCachedFile(ctx, "/missing.css", CSS, l)
	var nf *ResourceNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.ErrorIs(t, err, store.ErrNotFound)

	var it *InvalidTypeError
	_, err = fs.GetCachedFile(ctx, "/dir", CSS, l)
	require.ErrorAs(t, err, &it)

	_, err = fs.GetCachedFile(ctx, "/site.css", JS, l)
	require.ErrorAs(t, err, &it)
	assert.Equal(t, "javascript", it.Expected)

	_, err = fs.GetCachedFile(ctx, "/site.css", CSS, nil)
	require.ErrorAs(t, err, &nf)

	assert.False(t, fs.IsFileCached(ctx, "/site.css", nil))
}

func TestDoPurgeDeletesEachChildOnce(t *testing.T) {
	ctx := context.Background()
	fs, backend, cs := newFileStore(t, "/cache/a")
	seed(t, backend, map[string]string{
		"/cache":              store.TypeFolder,
		"/cache/a":            store.TypeFolder,
		"/cache/a/one":        store.TypeFolder,
		"/cache/a/one/nested": store.TypeFolder,
		"/cache/a/two":        store.TypeFile,
		"/cache/a/three":      store.TypeFolder,
		"/cache/a/rep:policy": "rep:ACL",
	})

	require.NoError(t, fs.DoPurge(ctx, lease.New(cs)))

	assert.Equal(t, []string{"/cache/a/one", "/cache/a/three", "/cache/a/two"}, cs.deletes)
	assert.Equal(t, 3, cs.commits)

	names, err := backend.List(ctx, "/cache/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"rep:policy"}, names)
}

func TestDoPurgeSkipsFailingChild(t *testing.T) {
	ctx := context.Background()
	fs, backend, cs := newFileStore(t, "/cache/a")
	seed(t, backend, map[string]string{
		"/cache":       store.TypeFolder,
		"/cache/a":     store.TypeFolder,
		"/cache/a/one": store.TypeFolder,
		"/cache/a/two": store.TypeFolder,
	})
	cs.failPath = "/cache/a/one"

	require.NoError(t, fs.DoPurge(ctx, lease.New(cs)))
	assert.Equal(t, []string{"/cache/a/two"}, cs.deletes)

	names, err := backend.List(ctx, "/cache/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"one"}, names)
}

func TestDoPurgeMissingRoot(t *testing.T) {
	fs, _, cs := newFileStore(t, "/cache/a")

	err := fs.DoPurge(context.Background(), lease.New(cs))
	var pe *PurgeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Failed to purge cache PageCache. Cache root resource /cache/a not found.", pe.Error())
	assert.Empty(t, cs.deletes)
	assert.Zero(t, cs.commits)
}

func TestCreateResourcesFromPath(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		path string
	}{
		{name: "relative to root", path: "/seg1/seg2"},
		{name: "with root prefix", path: "/var/cache/test/seg1/seg2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, backend, cs := newFileStore(t, "/var/cache/test")
			seed(t, backend, map[string]string{"/var": store.TypeFolder, "/var/cache": store.TypeFolder, "/var/cache/test": store.TypeFolder})
			l := lease.New(cs)

			require.NoError(t, fs.CreateResourcesFromPath(ctx, tt.path, l))
			assert.Equal(t, []string{"/var/cache/test/seg1", "/var/cache/test/seg1/seg2"}, cs.creates)
			assert.Zero(t, cs.commits)

			leaf, err := cs.Resolve(ctx, "/var/cache/test/seg1/seg2")
			require.NoError(t, err)
			assert.Equal(t, store.TypeFolder, leaf.Properties.PrimaryType)

			require.NoError(t, fs.CreateResourcesFromPath(ctx, tt.path, l))
			assert.Len(t, cs.creates, 2)
		})
	}

	t.Run("blank segments", func(t *testing.T) {
		fs, backend, cs := newFileStore(t, "/var/cache/test")
		seed(t, backend, map[string]string{"/var": store.TypeFolder, "/var/cache": store.TypeFolder, "/var/cache/test": store.TypeFolder})
		require.NoError(t, fs.CreateResourcesFromPath(ctx, "/var/cache/test/  /   /", lease.New(cs)))
		assert.Empty(t, cs.creates)
	})

	t.Run("missing root", func(t *testing.T) {
		fs, _, cs := newFileStore(t, "/var/cache/test")
		err := fs.CreateResourcesFromPath(ctx, "/seg1", lease.New(cs))
		var nf *ResourceNotFoundError
		require.ErrorAs(t, err, &nf)
	})
}

func TestDoPurgeDiscardsStagedFolders(t *testing.T) {
	ctx := context.Background()
	fs, backend, cs := newFileStore(t, "/var/cache/test")
	seed(t, backend, map[string]string{"/var": store.TypeFolder, "/var/cache": store.TypeFolder, "/var/cache/test": store.TypeFolder})
	l := lease.New(cs)

	require.NoError(t, fs.CreateResourcesFromPath(ctx, "/staged", l))
	require.NoError(t, fs.DoPurge(ctx, l))

	_, err := cs.Resolve(ctx, "/var/cache/test/staged")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = backend.Load(ctx, "/var/cache/test/staged")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFileStorePurgeAllQueuesRebuild(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryBackend()
	seed(t, backend, map[string]string{"/cache": store.TypeFolder, "/cache/x": store.TypeFolder})
	queue := jobs.NewMemoryQueue()

	hookCalls := 0
	fs, err := NewFileStore(FileStoreConfig{
		Config: service.Config{
			Name:        "PageCache",
			ServiceUser: "cache-service",
			Factory:     store.NewFactory(backend),
		},
		RootPath:   "/cache",
		AfterPurge: func(context.Context, *lease.Lease) { hookCalls++ },
	}, WithJobQueue(queue, "page-cache-rebuild"))
	require.NoError(t, err)
	fs.Activate(ctx)

	require.NoError(t, fs.PurgeAll(ctx, "alice"))
	assert.Equal(t, 1, hookCalls)

	queued := queue.Jobs()
	require.Len(t, queued, 1)
	assert.Equal(t, "page-cache-rebuild", queued[0].Name)
	assert.Equal(t, map[string]any{"cacheRoot": "/cache", "cache": "PageCache"}, queued[0].Properties)

	names, err := backend.List(ctx, "/cache")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFileStoreHealthChecksRoot(t *testing.T) {
	ctx := context.Background()
	fs, _, _ := newFileStore(t, "/cache")
	fs.Activate(ctx)

	log := health.NewResultLog()
	fs.RunAdditionalHealthChecks(ctx, log)
	assert.Equal(t, health.StatusCritical, log.AggregateStatus())
	assert.Contains(t, log.Entries(), health.Entry{Level: health.LevelCritical, Message: "Required resource /cache was not found."})
}
