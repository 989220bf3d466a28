package offline

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/sevensteps/offline/store"
)

// Worker intercepts outbound requests and satisfies them from persistent
// stores, the network, or both, according to the configured route rules.
//
// Worker implements http.RoundTripper; mount it as a client transport:
//
//	w, _ := offline.New(registry,
//	    offline.WithVersion("v3"),
//	    offline.WithManifest("/", "/app.js", "/app.css"),
//	)
//	if err := w.Install(ctx); err != nil { ... }
//	if err := w.Activate(ctx); err != nil { ... }
//	client := &http.Client{Transport: w}
//
// Until Activate succeeds the worker is transparent: every request passes
// through to the underlying transport. A classified request always
// resolves to a response, never an error; passthrough requests propagate
// network errors verbatim so callers observe real failures for writes.
//
// Background revalidation work is detached from request handling; Wait
// joins all of it, which hosts must call before shutting down.
type Worker struct {
	app      string
	version  string
	registry store.Registry

	transport       http.RoundTripper
	rules           Rules
	manifest        []string
	shellURL        string
	precacheWorkers int
	logger          *slog.Logger

	state   atomic.Int32
	gen     atomic.Pointer[generation]
	flights singleflight.Group
	pending sync.WaitGroup

	installMu sync.Mutex
}

// generation pins the physical store names a worker serves from. Swapped
// atomically at activation so the next request sees the new stores.
type generation struct {
	shell   string
	runtime string
}

var _ http.RoundTripper = (*Worker)(nil)

// New creates a worker over the given store registry.
func New(registry store.Registry, opts ...Option) (*Worker, error) {
	if registry == nil {
		return nil, errors.New("offline: registry is required")
	}
	w := &Worker{
		app:             "offline",
		version:         "v1",
		registry:        registry,
		transport:       http.DefaultTransport,
		rules:           DefaultRules(),
		precacheWorkers: 4,
		logger:          slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(w)
	}
	if w.shellURL == "" && len(w.manifest) > 0 {
		w.shellURL = w.manifest[0]
	}
	return w, nil
}

// RoundTrip implements http.RoundTripper.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	d := w.rules.Classify(req)
	gen := w.gen.Load()
	if d.Strategy == StrategyPassthrough || gen == nil {
		return w.transport.RoundTrip(req)
	}

	st, err := w.registry.Open(req.Context(), gen.name(d.Role))
	if err != nil {
		// Serving the user beats cache coherence: degrade to a plain
		// network attempt.
		w.logger.Warn("open store failed", "store", gen.name(d.Role), "error", err)
		resp, ferr := w.transport.RoundTrip(req)
		if ferr != nil {
			return w.offlineResponse(req), nil
		}
		return resp, nil
	}

	switch d.Strategy {
	case StrategyCacheFirst:
		return w.cacheFirst(req, st), nil
	case StrategyNetworkFirst:
		return w.networkFirst(req, st, d), nil
	default:
		return w.staleWhileRevalidate(req, st), nil
	}
}

// State reports the lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Version reports the worker's version token.
func (w *Worker) Version() string {
	return w.version
}

// Wait blocks until all detached background work (revalidation fetches)
// has settled.
func (w *Worker) Wait() {
	w.pending.Wait()
}

// spawn runs fn as tracked background work. The worker's lifetime is
// extended until fn returns; Wait joins it.
func (w *Worker) spawn(fn func()) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		fn()
	}()
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// storeName builds the physical name for a role at the worker's version,
// e.g. "shaadi-shell-v3". The name encodes the version so two stores with
// different content never share a name.
func (w *Worker) storeName(role StoreRole) string {
	return w.app + "-" + role.String() + "-" + w.version
}

func (g *generation) name(role StoreRole) string {
	if role == RoleShell {
		return g.shell
	}
	return g.runtime
}

// resolveURL absolutizes a manifest path against the configured origin.
// Absolute URLs are kept as-is with any fragment stripped.
func (w *Worker) resolveURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	if u.IsAbs() || w.rules.Origin == "" {
		return u.String()
	}
	base, err := url.Parse(w.rules.Origin)
	if err != nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}
