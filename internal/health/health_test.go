package health

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	name  string
	check func(Log)
}

func (s *stubService) DisplayName() string { return s.name }

func (s *stubService) RunAdditionalHealthChecks(_ context.Context, log Log) {
	if s.check != nil {
		s.check(log)
	}
}

func TestResultLogAggregateStatus(t *testing.T) {
	log := NewResultLog()
	log.Debug("d")
	log.Info("i")
	assert.Equal(t, StatusOK, log.AggregateStatus())
	log.Warn("w")
	assert.Equal(t, StatusWarn, log.AggregateStatus())
	log.Critical("c")
	log.Warn("w2")
	assert.Equal(t, StatusCritical, log.AggregateStatus())
	assert.Len(t, log.Entries(), 5)
}

func TestCheckExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("unregistered service is critical", func(t *testing.T) {
		res := Check{Name: "Page Cache"}.Execute(ctx)
		assert.Equal(t, StatusCritical, res.Status)
		assert.Contains(t, res.Entries, Entry{Level: LevelCritical, Message: "Page Cache is not registered."})
	})

	t.Run("healthy service reports info", func(t *testing.T) {
		res := Check{Name: "page-cache", Service: &stubService{name: "Page Cache"}}.Execute(ctx)
		assert.True(t, res.OK())
		assert.Contains(t, res.Entries, Entry{Level: LevelInfo, Message: "Page Cache is registered and running properly."})
	})

	t.Run("failing service keeps its status", func(t *testing.T) {
		svc := &stubService{name: "Page Cache", check: func(l Log) { l.Critical("Service lease is null.") }}
		res := Check{Name: "page-cache", Service: svc}.Execute(ctx)
		assert.Equal(t, StatusCritical, res.Status)
		for _, e := range res.Entries {
			assert.NotEqual(t, LevelInfo, e.Level)
		}
	})
}

func TestAggregateAndJSON(t *testing.T) {
	results := []Result{{Status: StatusOK}, {Status: StatusWarn}}
	assert.Equal(t, StatusWarn, Aggregate(results))
	assert.Equal(t, StatusOK, Aggregate(nil))

	b, err := json.Marshal(Result{Name: "x", Status: StatusCritical})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"x","status":"CRITICAL","entries":null}`, string(b))

	var back Result
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, StatusCritical, back.Status)

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("FINE")))
}
