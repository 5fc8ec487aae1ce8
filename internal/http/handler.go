package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/52poke/kura/internal/cache"
	"github.com/52poke/kura/internal/health"
)

// Caches is the lookup the handlers need from a cache registry.
type Caches interface {
	Get(name string) (cache.CacheService, bool)
	List() []cache.CacheService
}

// Handler serves health, metrics and read-only cache endpoints.
type Handler struct {
	Caches Caches
	Checks []health.Check
	// Ready reports whether the host finished activating its services. Nil
	// means always ready.
	Ready  func() bool
	Logger *slog.Logger

	metrics http.Handler
}

func NewHandler(caches Caches, checks []health.Check, ready func() bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Caches:  caches,
		Checks:  checks,
		Ready:   ready,
		Logger:  logger,
		metrics: promhttp.Handler(),
	}
}

type healthResponse struct {
	Status health.Status   `json:"status"`
	Checks []health.Result `json:"checks"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz":
		h.serveHealth(w, r)
		return
	case "/readyz":
		if h.Ready != nil && !h.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	case "/metrics":
		h.metrics.ServeHTTP(w, r)
		return
	}

	info := ClassifyRequest(r)
	switch info.Action {
	case ActionList:
		caches := h.Caches.List()
		out := make([]cache.Status, 0, len(caches))
		for _, c := range caches {
			out = append(out, c.Status())
		}
		writeJSON(w, http.StatusOK, out)
	case ActionStatus:
		c, ok := h.Caches.Get(info.Cache)
		if !ok {
			http.Error(w, "unknown cache", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, c.Status())
	default:
		writeClassifyError(w, info)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	results := make([]health.Result, 0, len(h.Checks))
	for _, c := range h.Checks {
		results = append(results, c.Execute(r.Context()))
	}
	resp := healthResponse{Status: health.Aggregate(results), Checks: results}
	status := http.StatusOK
	if resp.Status == health.StatusCritical {
		h.Logger.Warn("health check critical")
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeClassifyError(w http.ResponseWriter, info RequestInfo) {
	switch info.Reason {
	case "method-not-allowed":
		http.Error(w, info.Reason, http.StatusMethodNotAllowed)
	case "empty-cache-name":
		http.Error(w, info.Reason, http.StatusBadRequest)
	default:
		http.Error(w, "404 page not found", http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
