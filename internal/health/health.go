// Package health collects the results of managed-service health checks.
package health

import (
	"context"
	"fmt"
	"sync"
)

type Status int

const (
	StatusOK Status = iota
	StatusWarn
	StatusCritical
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusWarn:
		return "WARN"
	case StatusCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "OK":
		*s = StatusOK
	case "WARN":
		*s = StatusWarn
	case "CRITICAL":
		*s = StatusCritical
	default:
		return fmt.Errorf("unknown health status %q", text)
	}
	return nil
}

type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelCritical Level = "CRITICAL"
)

type Entry struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Log receives health check findings. Debug and Info entries never raise the
// aggregate status.
type Log interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Critical(msg string)
	AggregateStatus() Status
}

// ResultLog is the standard Log implementation.
type ResultLog struct {
	mu      sync.Mutex
	entries []Entry
	status  Status
}

func NewResultLog() *ResultLog {
	return &ResultLog{}
}

func (l *ResultLog) Debug(msg string)    { l.add(LevelDebug, StatusOK, msg) }
func (l *ResultLog) Info(msg string)     { l.add(LevelInfo, StatusOK, msg) }
func (l *ResultLog) Warn(msg string)     { l.add(LevelWarn, StatusWarn, msg) }
func (l *ResultLog) Critical(msg string) { l.add(LevelCritical, StatusCritical, msg) }

func (l *ResultLog) add(level Level, status Status, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{Level: level, Message: msg})
	if status > l.status {
		l.status = status
	}
}

func (l *ResultLog) AggregateStatus() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *ResultLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Service is anything that can report on its own health.
type Service interface {
	DisplayName() string
	RunAdditionalHealthChecks(ctx context.Context, log Log)
}

type Result struct {
	Name    string  `json:"name"`
	Status  Status  `json:"status"`
	Entries []Entry `json:"entries"`
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Check runs the health checks of a registered service.
type Check struct {
	Name    string
	Service Service
}

func (c Check) Execute(ctx context.Context) Result {
	log := NewResultLog()
	log.Debug("Starting Health Check for managed service.")
	if c.Service == nil {
		log.Critical(fmt.Sprintf("%s is not registered.", c.Name))
	} else {
		c.Service.RunAdditionalHealthChecks(ctx, log)
		if log.AggregateStatus() == StatusOK {
			log.Info(fmt.Sprintf("%s is registered and running properly.", c.Service.DisplayName()))
		}
	}
	return Result{Name: c.Name, Status: log.AggregateStatus(), Entries: log.Entries()}
}

// Aggregate returns the worst status among results.
func Aggregate(results []Result) Status {
	worst := StatusOK
	for _, r := range results {
		if r.Status > worst {
			worst = r.Status
		}
	}
	return worst
}
