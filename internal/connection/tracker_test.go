package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/52poke/kura/internal/health"
)

func fixedClock(ts ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := ts[i]
		if i < len(ts)-1 {
			i++
		}
		return t
	}
}

func TestTrackerStartsEmpty(t *testing.T) {
	tr := NewTracker("redis")
	_, ok := tr.LastSuccess()
	assert.False(t, ok)
	_, reason, ok := tr.LastFailure()
	assert.False(t, ok)
	assert.Empty(t, reason)

	log := health.NewResultLog()
	tr.RunAdditionalHealthChecks(context.Background(), log)
	assert.Equal(t, health.StatusOK, log.AggregateStatus())
}

func TestTrackerRecordsOutcomes(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTracker("s3")
	tr.now = fixedClock(t0, t0.Add(time.Minute))

	tr.Succeeded()
	tr.Record(errors.New("connection refused"))

	success, ok := tr.LastSuccess()
	assert.True(t, ok)
	assert.Equal(t, t0, success)

	failure, reason, ok := tr.LastFailure()
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), failure)
	assert.Equal(t, "connection refused", reason)
}

func TestTrackerHealth(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		events []error
		want   health.Status
	}{
		{name: "failure after success warns", events: []error{nil, errors.New("timeout")}, want: health.StatusWarn},
		{name: "success after failure is ok", events: []error{errors.New("timeout"), nil}, want: health.StatusOK},
		{name: "only failure warns", events: []error{errors.New("timeout")}, want: health.StatusWarn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("redis")
			var clock []time.Time
			for i := range tt.events {
				clock = append(clock, t0.Add(time.Duration(i)*time.Second))
			}
			tr.now = fixedClock(clock...)
			for _, err := range tt.events {
				tr.Record(err)
			}
			log := health.NewResultLog()
			tr.RunAdditionalHealthChecks(context.Background(), log)
			assert.Equal(t, tt.want, log.AggregateStatus())
		})
	}
}
