// Package offline implements the client-resident offline caching and
// synchronization layer of a web application.
//
// The [Worker] intercepts every outbound request as an http.RoundTripper,
// classifies it to a caching strategy (cache-first, network-first,
// stale-while-revalidate, or uncached passthrough), and executes that
// strategy against named, versioned persistent stores and the real
// network. Callers receive responses indistinguishable from direct
// network calls; when neither cache nor network can serve a classified
// request, the worker synthesizes a 503 with an explicit offline marker.
//
// # Quick Start
//
// Open a store registry, build a worker, and mount it as a transport:
//
//	registry, err := bolt.Open("offline.db")
//	if err != nil {
//	    return err
//	}
//	w, err := offline.New(registry,
//	    offline.WithAppName("shaadi"),
//	    offline.WithVersion("v3"),
//	    offline.WithRules(offline.Rules{
//	        Origin:     "https://app.example.com",
//	        APIPrefix:  "/api/",
//	        AuthPrefix: "/api/auth/",
//	        StaticExts: []string{".js", ".css", ".png", ".woff2"},
//	    }),
//	    offline.WithManifest("/", "/app.js", "/app.css"),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := w.Install(ctx); err != nil {
//	    return err // previous version, if any, stays active
//	}
//	if err := w.Activate(ctx); err != nil {
//	    return err
//	}
//	client := &http.Client{Transport: w}
//
// # Lifecycle
//
// Install precaches the shell manifest all-or-nothing; Activate deletes
// every store generation other than the current one and claims control of
// subsequent requests immediately. Deploying a new shell means a new
// version token, never mutating an installed store.
//
// # Related packages
//
//   - store, store/bolt: the persistent store registry
//   - syncq: the deferred-action queue drained on reconnect
//   - push: the push→notification bridge and click routing
//   - config: environment-driven configuration
package offline
