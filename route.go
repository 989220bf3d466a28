package offline

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Decision is the classifier output for a single request.
type Decision struct {
	// Strategy is how the request will be satisfied.
	Strategy Strategy

	// Role is the store the strategy reads and writes.
	Role StoreRole

	// API marks requests under the API namespace; their synthesized
	// offline responses carry a JSON error body the caller can branch on.
	API bool

	// NavigationFallback marks full-page loads that fall back to the
	// precached shell instead of a synthesized 503.
	NavigationFallback bool
}

// Rules is the static route configuration the classifier evaluates.
// Rules are fixed at worker construction, never mutated at runtime.
type Rules struct {
	// Origin is the application's own origin (scheme://host). When set,
	// requests to any other origin are passed through unless the origin
	// appears in AllowedOrigins. When empty, every request is treated as
	// same-origin.
	Origin string

	// AllowedOrigins lists trusted foreign origins (e.g. a media CDN)
	// whose responses may be cached.
	AllowedOrigins []string

	// APIPrefix is the API namespace path prefix.
	APIPrefix string

	// AuthPrefix is the authentication sub-path under the API namespace.
	// Matching requests are never cached and never served from cache.
	AuthPrefix string

	// StaticExts lists file extensions cached cache-first (scripts,
	// styles, images, fonts). Extensions include the leading dot.
	StaticExts []string
}

// DefaultRules returns the route table used when no rules are configured.
func DefaultRules() Rules {
	return Rules{
		APIPrefix:  "/api/",
		AuthPrefix: "/api/auth/",
		StaticExts: []string{
			".js", ".mjs", ".css",
			".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
			".woff", ".woff2", ".ttf", ".otf",
		},
	}
}

// Classify maps a request to a strategy and store role. It is a pure
// function of the request: rules are evaluated in a fixed priority order
// and the first match wins.
//
// Navigation requests are detected by the Sec-Fetch-Mode header, falling
// back to a text/html Accept header for clients that do not send
// fetch-metadata headers.
func (r Rules) Classify(req *http.Request) Decision {
	// Writes are never cached; offline writes are the sync queue's job.
	if req.Method != http.MethodGet {
		return Decision{Strategy: StrategyPassthrough}
	}

	if !r.sameOrigin(req.URL) && !r.allowedOrigin(req.URL) {
		return Decision{Strategy: StrategyPassthrough}
	}

	p := req.URL.Path
	if r.AuthPrefix != "" && strings.HasPrefix(p, r.AuthPrefix) {
		// Credentials must never be replayed from cache.
		return Decision{Strategy: StrategyPassthrough}
	}

	if r.APIPrefix != "" && strings.HasPrefix(p, r.APIPrefix) {
		return Decision{Strategy: StrategyNetworkFirst, Role: RoleRuntime, API: true}
	}

	if r.staticAsset(p) {
		return Decision{Strategy: StrategyCacheFirst, Role: RoleRuntime}
	}

	if isNavigation(req) {
		return Decision{Strategy: StrategyNetworkFirst, Role: RoleRuntime, NavigationFallback: true}
	}

	return Decision{Strategy: StrategyStaleWhileRevalidate, Role: RoleRuntime}
}

func (r Rules) sameOrigin(u *url.URL) bool {
	if r.Origin == "" || u.Host == "" {
		return true
	}
	return originOf(u) == r.Origin
}

func (r Rules) allowedOrigin(u *url.URL) bool {
	origin := originOf(u)
	for _, allowed := range r.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

func (r Rules) staticAsset(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, allowed := range r.StaticExts {
		if ext == allowed {
			return true
		}
	}
	return false
}

func originOf(u *url.URL) string {
	if u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
