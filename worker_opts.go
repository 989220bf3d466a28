package offline

import (
	"log/slog"
	"net/http"
)

// Option configures a Worker.
type Option func(*Worker)

// WithAppName sets the application name embedded in store names.
func WithAppName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.app = name
		}
	}
}

// WithVersion sets the version token embedded in store names. Deploying a
// new shell manifest requires a new version; activation evicts stores of
// every other version.
func WithVersion(version string) Option {
	return func(w *Worker) {
		if version != "" {
			w.version = version
		}
	}
}

// WithTransport sets the underlying network transport.
// Defaults to http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(w *Worker) {
		if rt != nil {
			w.transport = rt
		}
	}
}

// WithRules replaces the default route table.
func WithRules(rules Rules) Option {
	return func(w *Worker) {
		w.rules = rules
	}
}

// WithManifest sets the precache manifest: the ordered list of shell asset
// URLs written into the shell store at install time.
func WithManifest(urls ...string) Option {
	return func(w *Worker) {
		w.manifest = append([]string(nil), urls...)
	}
}

// WithShellURL sets the manifest entry served as the navigation fallback.
// Defaults to the first manifest entry.
func WithShellURL(url string) Option {
	return func(w *Worker) {
		w.shellURL = url
	}
}

// WithPrecacheConcurrency sets the number of parallel precache fetches.
// Values < 1 force serial installation.
func WithPrecacheConcurrency(workers int) Option {
	return func(w *Worker) {
		if workers < 1 {
			workers = 1
		}
		w.precacheWorkers = workers
	}
}

// WithLogger sets the logger for swallowed failures (cache writes,
// background revalidations, degraded store access).
// Defaults to a discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}
