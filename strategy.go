package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/opencontainers/go-digest"

	"github.com/sevensteps/offline/store"
)

// cacheFirst serves the stored entry when present without touching the
// network. On a miss it fetches, writes through, and returns the live
// response; a network failure synthesizes a 503 rather than surfacing the
// raw error.
func (w *Worker) cacheFirst(req *http.Request, st store.Store) *http.Response {
	key := store.RequestKey(req)
	entry, err := st.Get(req.Context(), key)
	if err == nil {
		return entry.Response(req)
	}
	if !errors.Is(err, store.ErrNotFound) {
		w.logger.Warn("cache read failed", "url", req.URL.String(), "error", err)
	}

	resp, err := w.fetchThrough(req, st, key)
	if err != nil {
		return w.offlineResponse(req)
	}
	return resp
}

// networkFirst prefers the live response, writing it through on success.
// When the network fails it falls back to the store; when that also misses,
// navigations fall back to the precached shell and API requests get the
// synthesized offline 503.
func (w *Worker) networkFirst(req *http.Request, st store.Store, d Decision) *http.Response {
	key := store.RequestKey(req)
	resp, err := w.fetchThrough(req, st, key)
	if err == nil {
		return resp
	}

	entry, gerr := st.Get(req.Context(), key)
	if gerr == nil {
		return entry.Response(req)
	}

	if d.NavigationFallback {
		if shell, ok := w.shellFallback(req); ok {
			return shell
		}
	}
	return w.offlineResponse(req)
}

// staleWhileRevalidate returns the cached entry immediately and refreshes
// it in the background for the next request. Without a cached entry it
// degrades to a blocking fetch with cache fallback for this one request.
func (w *Worker) staleWhileRevalidate(req *http.Request, st store.Store) *http.Response {
	key := store.RequestKey(req)
	entry, err := st.Get(req.Context(), key)
	if err == nil {
		w.revalidate(req, st, key)
		return entry.Response(req)
	}

	resp, ferr := w.fetchThrough(req, st, key)
	if ferr != nil {
		return w.offlineResponse(req)
	}
	return resp
}

// fetchThrough performs the network fetch and writes successful responses
// into the store before returning them. Cache-write failures are logged
// and swallowed: serving the user takes priority over cache freshness.
func (w *Worker) fetchThrough(req *http.Request, st store.Store, key digest.Digest) (*http.Response, error) {
	resp, err := w.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Real server responses (4xx/5xx) are returned live, never cached.
		return resp, nil
	}

	entry, err := store.NewEntry(resp)
	if err != nil {
		return nil, err
	}
	if perr := st.Put(req.Context(), key, entry); perr != nil {
		w.logger.Warn("cache write failed", "url", req.URL.String(), "error", perr)
	}
	return entry.Response(req), nil
}

// revalidate refreshes a cached entry in the background. The fetch is
// detached from the triggering request: its lifetime is tracked by the
// worker, its failure is logged and never surfaced, and its completion
// order relative to later requests is unguaranteed. Concurrent
// revalidations of the same key collapse into one fetch.
func (w *Worker) revalidate(req *http.Request, st store.Store, key digest.Digest) {
	clone := req.Clone(context.WithoutCancel(req.Context()))
	w.spawn(func() {
		_, err, _ := w.flights.Do(key.String(), func() (any, error) {
			resp, err := w.transport.RoundTrip(clone)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				resp.Body.Close()
				return nil, nil
			}
			entry, err := store.NewEntry(resp)
			if err != nil {
				return nil, err
			}
			return nil, st.Put(clone.Context(), key, entry)
		})
		if err != nil {
			w.logger.Debug("revalidation failed", "url", clone.URL.String(), "error", err)
		}
	})
}

// offlineResponse synthesizes the 503 returned when neither cache nor
// network can satisfy a classified request. The JSON body carries an
// explicit offline marker so callers can distinguish it from a real
// server error.
func (w *Worker) offlineResponse(req *http.Request) *http.Response {
	body, _ := json.Marshal(struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{
		Error:   "Offline",
		Message: "request could not be served from cache or network",
	})

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &http.Response{
		Status:        http.StatusText(http.StatusServiceUnavailable),
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
