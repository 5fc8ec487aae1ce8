// Package connection records the outcome of calls to external systems so
// health checks can report on reachability.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/52poke/kura/internal/health"
)

type Tracker struct {
	name string
	now  func() time.Time

	mu            sync.RWMutex
	lastSuccess   time.Time
	lastFailure   time.Time
	failureReason string
}

func NewTracker(name string) *Tracker {
	return &Tracker{name: name, now: time.Now}
}

func (t *Tracker) Name() string {
	return t.name
}

func (t *Tracker) DisplayName() string {
	return t.name + " connection"
}

func (t *Tracker) Succeeded() {
	t.mu.Lock()
	t.lastSuccess = t.now()
	t.mu.Unlock()
}

func (t *Tracker) Failed(reason string) {
	t.mu.Lock()
	t.lastFailure = t.now()
	t.failureReason = reason
	t.mu.Unlock()
}

// Record marks a success when err is nil and a failure otherwise.
func (t *Tracker) Record(err error) {
	if err != nil {
		t.Failed(err.Error())
		return
	}
	t.Succeeded()
}

func (t *Tracker) LastSuccess() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSuccess, !t.lastSuccess.IsZero()
}

func (t *Tracker) LastFailure() (time.Time, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastFailure, t.failureReason, !t.lastFailure.IsZero()
}

// RunAdditionalHealthChecks warns when the most recent connection attempt
// failed.
func (t *Tracker) RunAdditionalHealthChecks(_ context.Context, log health.Log) {
	success, hasSuccess := t.LastSuccess()
	failure, reason, hasFailure := t.LastFailure()
	switch {
	case hasFailure && (!hasSuccess || failure.After(success)):
		log.Warn(fmt.Sprintf("Last connection to %s failed at %s: %s", t.name, failure.Format(time.RFC3339), reason))
	case hasSuccess:
		log.Debug(fmt.Sprintf("Last connection to %s succeeded at %s.", t.name, success.Format(time.RFC3339)))
	default:
		log.Debug(fmt.Sprintf("No connection to %s attempted yet.", t.name))
	}
}
