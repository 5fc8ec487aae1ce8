package httpx

import (
	"net/http"
	"net/url"
	"strings"
)

// MethodPurge is the non-standard method cache proxies use for purges.
const MethodPurge = "PURGE"

type Action string

const (
	ActionList    Action = "list"
	ActionStatus  Action = "status"
	ActionPurge   Action = "purge"
	ActionEnable  Action = "enable"
	ActionDisable Action = "disable"
)

type RequestInfo struct {
	Action Action
	Cache  string
	Reason string
}

func (i RequestInfo) Mutating() bool {
	switch i.Action {
	case ActionPurge, ActionEnable, ActionDisable:
		return true
	}
	return false
}

// ClassifyRequest maps a request under /caches to an action. Reason is set
// when the request matches no action.
func ClassifyRequest(r *http.Request) RequestInfo {
	rest, ok := strings.CutPrefix(r.URL.Path, "/caches")
	if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
		return RequestInfo{Reason: "not-found"}
	}
	rest = strings.Trim(rest, "/")
	if rest == "" {
		if r.Method != http.MethodGet {
			return RequestInfo{Reason: "method-not-allowed"}
		}
		return RequestInfo{Action: ActionList}
	}

	rawName, verb, _ := strings.Cut(rest, "/")
	name := NormalizeCacheName(rawName)
	if name == "" {
		return RequestInfo{Reason: "empty-cache-name"}
	}

	switch {
	case verb == "" && r.Method == http.MethodGet:
		return RequestInfo{Action: ActionStatus, Cache: name}
	case verb == "" && r.Method == MethodPurge:
		return RequestInfo{Action: ActionPurge, Cache: name}
	case verb == "":
		return RequestInfo{Cache: name, Reason: "method-not-allowed"}
	}

	if r.Method != http.MethodPost {
		return RequestInfo{Cache: name, Reason: "method-not-allowed"}
	}
	switch verb {
	case "purge":
		return RequestInfo{Action: ActionPurge, Cache: name}
	case "enable":
		return RequestInfo{Action: ActionEnable, Cache: name}
	case "disable":
		return RequestInfo{Action: ActionDisable, Cache: name}
	default:
		return RequestInfo{Cache: name, Reason: "not-found"}
	}
}

func NormalizeCacheName(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	return strings.TrimSpace(decoded)
}
