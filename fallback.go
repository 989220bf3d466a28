package offline

import (
	"net/http"

	"github.com/sevensteps/offline/store"
)

// shellFallback serves the precached shell entry for a failed navigation,
// guaranteeing a renderable page even fully offline. Client-side routing
// is expected to take over and render its own offline state.
func (w *Worker) shellFallback(req *http.Request) (*http.Response, bool) {
	gen := w.gen.Load()
	if gen == nil || w.shellURL == "" {
		return nil, false
	}

	st, err := w.registry.Open(req.Context(), gen.shell)
	if err != nil {
		w.logger.Warn("open shell store failed", "error", err)
		return nil, false
	}
	entry, err := st.Get(req.Context(), store.Key(http.MethodGet, w.resolveURL(w.shellURL)))
	if err != nil {
		return nil, false
	}
	return entry.Response(req), true
}
