package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	b := New(serviceConfig("b", "cache-service"), &fakeHooks{})
	a := New(serviceConfig("a", "cache-service"), &fakeHooks{})

	require.NoError(t, r.Register(b))
	require.NoError(t, r.Register(a))
	assert.Error(t, r.Register(New(serviceConfig("a", "cache-service"), &fakeHooks{})))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = r.Get("missing")
	assert.False(t, ok)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].DisplayName())
	assert.Equal(t, "b", list[1].DisplayName())
}
