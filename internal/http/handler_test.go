package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/52poke/kura/internal/cache"
	"github.com/52poke/kura/internal/health"
	"github.com/52poke/kura/internal/lease"
	"github.com/52poke/kura/internal/service"
	"github.com/52poke/kura/internal/store"
)

type noopHooks struct{}

func (noopHooks) DoPurge(context.Context, *lease.Lease) error { return nil }
func (noopHooks) AfterPurge(context.Context, *lease.Lease)    {}

func newRegistry(t *testing.T, users ...string) (*cache.Registry, *cache.Service) {
	t.Helper()
	factory := store.NewFactory(store.NewMemoryBackend(), store.WithServiceUsers(users...))
	svc := cache.New(service.Config{Name: "PageCache", ServiceUser: "cache-service", Factory: factory}, noopHooks{})
	svc.Activate(context.Background())
	reg := cache.NewRegistry()
	require.NoError(t, reg.Register(svc))
	return reg, svc
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		reg, svc := newRegistry(t, "cache-service")
		h := NewHandler(reg, []health.Check{{Name: "PageCache", Service: svc}}, nil, nil)

		rec := serve(h, http.MethodGet, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Status string          `json:"status"`
			Checks []health.Result `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "OK", body.Status)
		require.Len(t, body.Checks, 1)
		assert.Equal(t, "PageCache", body.Checks[0].Name)
	})

	t.Run("critical", func(t *testing.T) {
		reg, svc := newRegistry(t, "someone-else")
		h := NewHandler(reg, []health.Check{{Name: "PageCache", Service: svc}, {Name: "Missing"}}, nil, nil)

		rec := serve(h, http.MethodGet, "/healthz")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "Service lease is null.")
		assert.Contains(t, rec.Body.String(), "Missing is not registered.")
	})
}

func TestReadyz(t *testing.T) {
	reg, _ := newRegistry(t)
	ready := false
	h := NewHandler(reg, nil, func() bool { return ready }, nil)

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodGet, "/readyz").Code)
	ready = true
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/readyz").Code)
}

func TestMetrics(t *testing.T) {
	reg, _ := newRegistry(t)
	rec := serve(NewHandler(reg, nil, nil, nil), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kura_cache_live")
}

func TestCacheEndpoints(t *testing.T) {
	reg, svc := newRegistry(t)
	h := NewHandler(reg, nil, nil, nil)
	require.NoError(t, svc.PurgeAll(context.Background(), "alice"))

	rec := serve(h, http.MethodGet, "/caches")
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []cache.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "PageCache", list[0].Name)
	assert.True(t, list[0].Live)
	assert.Equal(t, "alice", list[0].LastPurgedBy)
	assert.NotNil(t, list[0].LastPurged)

	rec = serve(h, http.MethodGet, "/caches/PageCache")
	assert.Equal(t, http.StatusOK, rec.Code)
	var st cache.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "ACTIVE", st.State)

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/caches/Other").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodDelete, "/caches/PageCache").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/nowhere").Code)
}
