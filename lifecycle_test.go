package offline_test

import (
	"context"
	"net/http"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevensteps/offline"
	"github.com/sevensteps/offline/internal/testutil"
)

func TestInstallPrecachesFullManifest(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	tr.Handle(testOrigin+"/", "<html>shell</html>")
	tr.Handle(testOrigin+"/app.js", "js")
	tr.Handle(testOrigin+"/app.css", "css")

	registry := testutil.NewMemoryRegistry()
	rules := offline.DefaultRules()
	rules.Origin = testOrigin
	w, err := offline.New(registry,
		offline.WithTransport(tr),
		offline.WithRules(rules),
		offline.WithManifest("/", "/app.js", "/app.css"),
	)
	require.NoError(t, err)

	require.NoError(t, w.Install(context.Background()))
	assert.Equal(t, offline.StateWaiting, w.State())
	assert.Equal(t, 3, registry.Entries("offline-shell-v1"))

	require.NoError(t, w.Activate(context.Background()))
	assert.Equal(t, offline.StateActive, w.State())
}

func TestInstallIsAllOrNothing(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	tr.Handle(testOrigin+"/", "<html>shell</html>")
	// "/app.js" is unscripted and yields a 404.

	registry := testutil.NewMemoryRegistry()
	rules := offline.DefaultRules()
	rules.Origin = testOrigin
	w, err := offline.New(registry,
		offline.WithTransport(tr),
		offline.WithRules(rules),
		offline.WithManifest("/", "/app.js"),
	)
	require.NoError(t, err)

	err = w.Install(context.Background())
	require.ErrorIs(t, err, offline.ErrPrecache)
	assert.Equal(t, offline.StateNew, w.State())

	// No partial shell store survives the failed attempt.
	names, err := registry.Names(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, names, "offline-shell-v1")

	// Activation is refused without a successful install.
	assert.ErrorIs(t, w.Activate(context.Background()), offline.ErrNotInstalled)
}

func TestActivateIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	tr.Handle(testOrigin+"/", "shell")

	registry := testutil.NewMemoryRegistry()
	rules := offline.DefaultRules()
	rules.Origin = testOrigin
	w, err := offline.New(registry,
		offline.WithTransport(tr),
		offline.WithRules(rules),
		offline.WithManifest("/"),
	)
	require.NoError(t, err)
	require.NoError(t, w.Install(context.Background()))

	require.NoError(t, w.Activate(context.Background()))
	first, err := registry.Names(context.Background())
	require.NoError(t, err)

	require.NoError(t, w.Activate(context.Background()))
	second, err := registry.Names(context.Background())
	require.NoError(t, err)

	sort.Strings(first)
	sort.Strings(second)
	assert.Equal(t, first, second)
}

func TestVersionCutoverEvictsOldGeneration(t *testing.T) {
	t.Parallel()

	oldAsset := testOrigin + "/legacy.js"
	tr := testutil.NewTransport()
	tr.Handle(testOrigin+"/", "shell-v1")
	tr.Handle(oldAsset, "legacy")

	registry := testutil.NewMemoryRegistry()
	rules := offline.DefaultRules()
	rules.Origin = testOrigin

	v1, err := offline.New(registry,
		offline.WithTransport(tr),
		offline.WithRules(rules),
		offline.WithVersion("v1"),
		offline.WithManifest("/", "/legacy.js"),
	)
	require.NoError(t, err)
	require.NoError(t, v1.Install(context.Background()))
	require.NoError(t, v1.Activate(context.Background()))

	// Warm v1's runtime cache with the legacy asset.
	resp := doGet(t, v1, oldAsset, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readBody(t, resp)
	callsBefore := tr.CallsFor(oldAsset)

	// Install and activate v2 with a manifest that drops legacy.js.
	tr.Handle(testOrigin+"/", "shell-v2")
	v2, err := offline.New(registry,
		offline.WithTransport(tr),
		offline.WithRules(rules),
		offline.WithVersion("v2"),
		offline.WithManifest("/"),
	)
	require.NoError(t, err)
	require.NoError(t, v2.Install(context.Background()))
	require.NoError(t, v2.Activate(context.Background()))

	names, err := registry.Names(context.Background())
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{"offline-runtime-v2", "offline-shell-v2"}, names)

	// The dropped asset is now a cache miss: v2 must hit the network.
	resp = doGet(t, v2, oldAsset, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "legacy", readBody(t, resp))
	assert.Equal(t, callsBefore+1, tr.CallsFor(oldAsset))
}

func TestOfflineNavigationFallsBackToShell(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	tr.Handle(testOrigin+"/", "<html>shell</html>")

	registry := testutil.NewMemoryRegistry()
	rules := offline.DefaultRules()
	rules.Origin = testOrigin
	w, err := offline.New(registry,
		offline.WithTransport(tr),
		offline.WithRules(rules),
		offline.WithManifest("/"),
	)
	require.NoError(t, err)
	require.NoError(t, w.Install(context.Background()))
	require.NoError(t, w.Activate(context.Background()))

	tr.SetOffline(true)
	resp := doGet(t, w, testOrigin+"/profiles/7", http.Header{
		"Sec-Fetch-Mode": []string{"navigate"},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>shell</html>", readBody(t, resp))
}

func TestOfflineNavigationWithoutShellGets503(t *testing.T) {
	t.Parallel()

	tr := testutil.NewTransport()
	w, _ := newActiveWorker(t, tr)
	tr.SetOffline(true)

	resp := doGet(t, w, testOrigin+"/profiles/7", http.Header{
		"Sec-Fetch-Mode": []string{"navigate"},
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	readBody(t, resp)
}

func TestNavigationPrefersRuntimeEntryOverShell(t *testing.T) {
	t.Parallel()

	page := testOrigin + "/profiles/7"
	tr := testutil.NewTransport()
	tr.Handle(testOrigin+"/", "<html>shell</html>")
	tr.Handle(page, "<html>profile</html>")

	registry := testutil.NewMemoryRegistry()
	rules := offline.DefaultRules()
	rules.Origin = testOrigin
	w, err := offline.New(registry,
		offline.WithTransport(tr),
		offline.WithRules(rules),
		offline.WithManifest("/"),
	)
	require.NoError(t, err)
	require.NoError(t, w.Install(context.Background()))
	require.NoError(t, w.Activate(context.Background()))

	nav := http.Header{"Sec-Fetch-Mode": []string{"navigate"}}
	readBody(t, doGet(t, w, page, nav))

	tr.SetOffline(true)
	resp := doGet(t, w, page, nav)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>profile</html>", readBody(t, resp))
}
