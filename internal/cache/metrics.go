package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

const (
	resultExecuted = "executed"
	resultSkipped  = "skipped"
	resultFailed   = "failed"
)

var tracer = otel.Tracer("kura/cache")

var (
	purgesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kura_cache_purges_total",
		Help: "Cache purge requests by outcome.",
	}, []string{"cache", "result"})
	purgeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kura_cache_purge_duration_seconds",
		Help:    "Duration of executed cache purges.",
		Buckets: prometheus.DefBuckets,
	}, []string{"cache"})
	cacheLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kura_cache_live",
		Help: "Whether a cache is enabled (1) or disabled (0).",
	}, []string{"cache"})
)
