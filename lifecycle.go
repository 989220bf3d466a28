package offline

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sevensteps/offline/store"
)

// Install precaches the shell manifest into this version's shell store.
//
// The precache is all-or-nothing: manifest assets are fetched in parallel
// and if any fetch fails the partially written shell store is deleted and
// the worker stays on its previous state, so an incomplete shell can never
// activate. On success the worker transitions to StateWaiting.
func (w *Worker) Install(ctx context.Context) error {
	w.installMu.Lock()
	defer w.installMu.Unlock()

	w.setState(StateInstalling)

	name := w.storeName(RoleShell)
	st, err := w.registry.Open(ctx, name)
	if err != nil {
		w.setState(StateNew)
		return fmt.Errorf("%w: open shell store: %v", ErrPrecache, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.precacheWorkers)
	for _, raw := range w.manifest {
		g.Go(func() error {
			return w.precache(gctx, st, raw)
		})
	}
	if err := g.Wait(); err != nil {
		// Roll back so no partial shell survives this attempt.
		_ = w.registry.Delete(context.WithoutCancel(ctx), name)
		w.setState(StateNew)
		return fmt.Errorf("%w: %v", ErrPrecache, err)
	}

	w.setState(StateWaiting)
	return nil
}

// precache fetches one manifest asset and writes it into the shell store.
func (w *Worker) precache(ctx context.Context, st store.Store, raw string) error {
	u := w.resolveURL(raw)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("precache %s: %w", raw, err)
	}
	resp, err := w.transport.RoundTrip(req)
	if err != nil {
		return fmt.Errorf("precache %s: %w", raw, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return fmt.Errorf("precache %s: status %d", raw, resp.StatusCode)
	}
	entry, err := store.NewEntry(resp)
	if err != nil {
		return fmt.Errorf("precache %s: %w", raw, err)
	}
	if err := st.Put(ctx, store.Key(http.MethodGet, u), entry); err != nil {
		return fmt.Errorf("precache %s: %w", raw, err)
	}
	return nil
}

// Activate makes this worker's generation current. Every store belonging
// to this application whose name is not the current shell or runtime name
// is deleted; this is the generational eviction mechanism. Activation is
// idempotent and does not wait on in-flight requests; it only guarantees
// the next request sees the new generation.
func (w *Worker) Activate(ctx context.Context) error {
	switch w.State() {
	case StateWaiting, StateActive:
	default:
		return ErrNotInstalled
	}

	shell := w.storeName(RoleShell)
	runtime := w.storeName(RoleRuntime)

	// Materialize the runtime store so enumeration reflects the full
	// generation even before the first cached request.
	if _, err := w.registry.Open(ctx, runtime); err != nil {
		return fmt.Errorf("open runtime store: %w", err)
	}

	names, err := w.registry.Names(ctx)
	if err != nil {
		return fmt.Errorf("enumerate stores: %w", err)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, w.app+"-") {
			continue
		}
		if name == shell || name == runtime {
			continue
		}
		if err := w.registry.Delete(ctx, name); err != nil {
			return fmt.Errorf("evict store %q: %w", name, err)
		}
		w.logger.Info("evicted store generation", "store", name)
	}

	// Claim control immediately: requests already classified under the
	// old generation may still complete against it, which is harmless
	// write-through for still-valid URLs.
	w.gen.Store(&generation{shell: shell, runtime: runtime})
	w.setState(StateActive)
	return nil
}
