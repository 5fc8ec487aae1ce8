// Package purge serves the mutating cache endpoints: purge, enable and
// disable.
package purge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/52poke/kura/internal/cache"
	httpx "github.com/52poke/kura/internal/http"
)

const (
	ActorHeader  = "X-Kura-Actor"
	DefaultActor = "anonymous"
)

type Handler struct {
	Caches httpx.Caches
	Logger *slog.Logger
}

type actorPayload struct {
	Actor string `json:"actor"`
}

type response struct {
	Cache  cache.Status `json:"cache"`
	Action string       `json:"action"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info := httpx.ClassifyRequest(r)
	if !info.Mutating() {
		switch info.Reason {
		case "method-not-allowed":
			http.Error(w, info.Reason, http.StatusMethodNotAllowed)
		case "empty-cache-name":
			http.Error(w, info.Reason, http.StatusBadRequest)
		default:
			http.Error(w, "unsupported cache action", http.StatusNotFound)
		}
		return
	}
	c, ok := h.Caches.Get(info.Cache)
	if !ok {
		http.Error(w, "unknown cache", http.StatusNotFound)
		return
	}

	actor := readActor(r)
	ctx := r.Context()
	var err error
	switch info.Action {
	case httpx.ActionPurge:
		err = c.PurgeAll(ctx, actor)
	case httpx.ActionEnable:
		err = c.Enable(ctx, actor)
	case httpx.ActionDisable:
		err = c.Disable(ctx, actor)
	}
	if err != nil {
		logger.Error("cache action failed", "cache", info.Cache, "action", info.Action, "actor", actor, "error", err)
		var pe *cache.PurgeError
		if errors.As(err, &pe) {
			http.Error(w, pe.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger.Info("cache action", "cache", info.Cache, "action", info.Action, "actor", actor)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response{Cache: c.Status(), Action: string(info.Action)})
}

// readActor takes the actor from the header, the query string or a JSON
// body, in that order.
func readActor(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(ActorHeader)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.URL.Query().Get("actor")); v != "" {
		return v
	}
	if r.Body != nil {
		defer r.Body.Close()
		var payload actorPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			if v := strings.TrimSpace(payload.Actor); v != "" {
				return v
			}
		}
	}
	return DefaultActor
}
