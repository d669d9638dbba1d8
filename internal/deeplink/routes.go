package deeplink

import (
	"regexp"
	"strings"
	"sync"

	"kashee-notify/internal/common/errors"
)

var routeParamRe = regexp.MustCompile(`:([a-zA-Z_][a-zA-Z0-9_]*)`)

// RouteRegistry maps url names to app route patterns with :param segments,
// e.g. "collection_detail" to "collections/:collection_id". Templates may
// reference routes by name instead of spelling out the path.
type RouteRegistry struct {
	mu     sync.RWMutex
	routes map[string]string
}

func NewRouteRegistry() *RouteRegistry {
	r := &RouteRegistry{routes: map[string]string{}}
	r.Register("collection_detail", "collections/:collection_id")
	r.Register("feedback_detail", "feedback/:feedback_id")
	r.Register("incentive_detail", "incentives/:incentive_id")
	r.Register("notification_inbox", "notifications")
	return r
}

func (r *RouteRegistry) Register(name, pattern string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[name] = pattern
}

// Reverse resolves a url name to a concrete path by substituting params.
// A missing route name or an unfilled :param is a RouteResolutionError.
func (r *RouteRegistry) Reverse(name string, params map[string]string) (string, error) {
	r.mu.RLock()
	pattern, ok := r.routes[name]
	r.mu.RUnlock()
	if !ok {
		return "", errors.NewRouteResolutionError("unknown url name: " + name)
	}

	var missing []string
	path := routeParamRe.ReplaceAllStringFunc(pattern, func(match string) string {
		key := match[1:]
		if v, ok := params[key]; ok && v != "" {
			return v
		}
		// common aliases: pk and id satisfy any *_id param
		for _, alias := range []string{"pk", "id", "object_id"} {
			if v, ok := params[alias]; ok && v != "" {
				return v
			}
		}
		missing = append(missing, key)
		return match
	})
	if len(missing) > 0 {
		return "", errors.NewRouteResolutionError("unresolved route params: " + strings.Join(missing, ", "))
	}
	return path, nil
}
