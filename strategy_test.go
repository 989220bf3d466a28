package offline_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevensteps/offline"
	"github.com/sevensteps/offline/internal/testutil"
	"github.com/sevensteps/offline/store"
	"github.com/sevensteps/offline/syncq"
	syncqbolt "github.com/sevensteps/offline/syncq/bolt"
)

const testOrigin = "https://app.test"

func newActiveWorker(t *testing.T, tr *testutil.Transport, opts ...offline.Option) (*offline.Worker, *testutil.MemoryRegistry) {
	t.Helper()

	registry := testutil.NewMemoryRegistry()
	rules := offline.DefaultRules()
	rules.Origin = testOrigin

	base := []offline.Option{
		offline.WithTransport(tr),
		offline.WithRules(rules),
	}
	w, err := offline.New(registry, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, w.Install(context.Background()))
	require.NoError(t, w.Activate(context.Background()))
	return w, registry
}

func doGet(t *testing.T, rt http.RoundTripper, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCacheFirstHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	tr.Handle(testOrigin+"/app.js", "console.log('v1')")
	w, _ := newActiveWorker(t, tr)

	resp := doGet(t, w, testOrigin+"/app.js", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "console.log('v1')", readBody(t, resp))
	require.Equal(t, 1, tr.CallsFor(testOrigin+"/app.js"))

	// Second request must be served without any network call.
	resp = doGet(t, w, testOrigin+"/app.js", nil)
	assert.Equal(t, "console.log('v1')", readBody(t, resp))
	assert.Equal(t, 1, tr.CallsFor(testOrigin+"/app.js"))
}

func TestCacheFirstMissOfflineSynthesizes503(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	w, _ := newActiveWorker(t, tr)
	tr.SetOffline(true)

	resp := doGet(t, w, testOrigin+"/app.js", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	readBody(t, resp)
}

func TestNetworkFirstPrefersLiveAndWritesThrough(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	tr.Handle(testOrigin+"/api/profiles/7", `{"name":"Asha"}`)
	w, registry := newActiveWorker(t, tr)

	resp := doGet(t, w, testOrigin+"/api/profiles/7", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"name":"Asha"}`, readBody(t, resp))

	// Write-through happened: the same request succeeds offline.
	tr.SetOffline(true)
	resp = doGet(t, w, testOrigin+"/api/profiles/7", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"name":"Asha"}`, readBody(t, resp))

	assert.Equal(t, 1, registry.Entries("offline-runtime-v1"))
}

func TestNetworkFirstOfflineMissReturnsOfflineMarker(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	w, _ := newActiveWorker(t, tr)
	tr.SetOffline(true)

	resp := doGet(t, w, testOrigin+"/api/profiles/7", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &payload))
	assert.Equal(t, "Offline", payload.Error)
	assert.NotEmpty(t, payload.Message)
}

func TestNetworkFirstServerErrorIsReturnedLive(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	tr.HandleStatus(testOrigin+"/api/profiles/7", http.StatusInternalServerError, "boom")
	w, registry := newActiveWorker(t, tr)

	resp := doGet(t, w, testOrigin+"/api/profiles/7", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", readBody(t, resp))

	// Server errors are never written through.
	assert.Equal(t, 0, registry.Entries("offline-runtime-v1"))
}

func TestStaleWhileRevalidateServesCachedAndRefreshes(t *testing.T) {
	t.Parallel()

	url := testOrigin + "/manifest.webmanifest"
	tr := testutil.NewTransport()
	tr.Handle(url, "generation-one")
	w, registry := newActiveWorker(t, tr)

	// Populate the store (miss degrades to a blocking fetch).
	resp := doGet(t, w, url, nil)
	assert.Equal(t, "generation-one", readBody(t, resp))
	require.Equal(t, 1, tr.CallsFor(url))

	// A hit returns the cached body immediately and refreshes behind it.
	tr.Handle(url, "generation-two")
	resp = doGet(t, w, url, nil)
	assert.Equal(t, "generation-one", readBody(t, resp))

	w.Wait()
	assert.Equal(t, 2, tr.CallsFor(url))

	st, err := registry.Open(context.Background(), "offline-runtime-v1")
	require.NoError(t, err)
	entry, err := st.Get(context.Background(), store.Key(http.MethodGet, url))
	require.NoError(t, err)
	assert.Equal(t, "generation-two", string(entry.Body))

	// The refreshed entry serves the next request.
	resp = doGet(t, w, url, nil)
	assert.Equal(t, "generation-two", readBody(t, resp))
	w.Wait()
}

func TestStaleWhileRevalidateFailedRefreshKeepsEntry(t *testing.T) {
	t.Parallel()

	url := testOrigin + "/manifest.webmanifest"
	tr := testutil.NewTransport()
	tr.Handle(url, "generation-one")
	w, _ := newActiveWorker(t, tr)

	readBody(t, doGet(t, w, url, nil))

	tr.SetOffline(true)
	resp := doGet(t, w, url, nil)
	assert.Equal(t, "generation-one", readBody(t, resp))
	w.Wait()

	// Still served from cache after the failed refresh.
	resp = doGet(t, w, url, nil)
	assert.Equal(t, "generation-one", readBody(t, resp))
	w.Wait()
}

func TestAuthRequestsNeverTouchCache(t *testing.T) {
	t.Parallel()

	url := testOrigin + "/api/auth/session"
	tr := testutil.NewTransport()
	tr.Handle(url, `{"token":"secret"}`)
	w, registry := newActiveWorker(t, tr)

	readBody(t, doGet(t, w, url, nil))
	assert.Equal(t, 0, registry.Entries("offline-runtime-v1"))
	assert.Equal(t, 0, registry.Entries("offline-shell-v1"))

	// Offline, the raw network error surfaces; nothing is replayed.
	tr.SetOffline(true)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	_, rerr := w.RoundTrip(req)
	assert.ErrorIs(t, rerr, testutil.ErrOffline)
}

func TestWritesPassThroughAndFailOffline(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	w, registry := newActiveWorker(t, tr)
	tr.SetOffline(true)

	req, err := http.NewRequest(http.MethodPost, testOrigin+"/api/messages", nil)
	require.NoError(t, err)
	_, rerr := w.RoundTrip(req)
	assert.ErrorIs(t, rerr, testutil.ErrOffline)
	assert.Equal(t, 0, registry.Entries("offline-runtime-v1"))
}

// The offline-write flow end to end: the write passes through and fails
// with the real network error, the application defers it, and a later
// drain delivers it once connectivity returns.
func TestOfflineWriteIsDeferredAndDrained(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := testutil.NewTransport()
	w, _ := newActiveWorker(t, tr)
	tr.SetOffline(true)

	req, err := http.NewRequest(http.MethodPost, testOrigin+"/api/messages", nil)
	require.NoError(t, err)
	_, rerr := w.RoundTrip(req)
	require.ErrorIs(t, rerr, testutil.ErrOffline)

	storage, err := syncqbolt.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer storage.Close()

	q, err := syncq.New(storage, syncq.WithInitialInterval(time.Millisecond))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "message.send", json.RawMessage(`{"to":"asha"}`))
	require.NoError(t, err)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var delivered []string
	require.NoError(t, q.Drain(ctx, func(_ context.Context, a syncq.Action) error {
		delivered = append(delivered, a.Op)
		return nil
	}))
	assert.Equal(t, []string{"message.send"}, delivered)
}

func TestInactiveWorkerPassesEverythingThrough(t *testing.T) {
	t.Parallel()

	url := testOrigin + "/app.js"
	tr := testutil.NewTransport()
	tr.Handle(url, "app")
	registry := testutil.NewMemoryRegistry()

	rules := offline.DefaultRules()
	rules.Origin = testOrigin
	w, err := offline.New(registry, offline.WithTransport(tr), offline.WithRules(rules))
	require.NoError(t, err)

	readBody(t, doGet(t, w, url, nil))
	readBody(t, doGet(t, w, url, nil))
	assert.Equal(t, 2, tr.CallsFor(url))
	assert.Equal(t, 0, registry.Entries("offline-runtime-v1"))
}
