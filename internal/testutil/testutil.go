// Package testutil provides shared test doubles: a scriptable network
// transport and an in-memory store registry.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/sevensteps/offline/store"
)

// ErrOffline is the network failure returned by an offline Transport.
var ErrOffline = errors.New("testutil: network unreachable")

// Transport is a scriptable http.RoundTripper that serves canned
// responses and counts calls per URL.
type Transport struct {
	mu      sync.Mutex
	status  map[string]int
	bodies  map[string]string
	calls   map[string]int
	total   int
	offline bool
}

// NewTransport returns an empty transport; unscripted URLs yield 404s.
func NewTransport() *Transport {
	return &Transport{
		status: make(map[string]int),
		bodies: make(map[string]string),
		calls:  make(map[string]int),
	}
}

// Handle scripts a 200 response body for a URL.
func (t *Transport) Handle(url, body string) {
	t.HandleStatus(url, http.StatusOK, body)
}

// HandleStatus scripts a response status and body for a URL.
func (t *Transport) HandleStatus(url string, status int, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status[url] = status
	t.bodies[url] = body
}

// SetOffline makes every subsequent round trip fail with ErrOffline.
func (t *Transport) SetOffline(offline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offline = offline
}

// Calls reports the total number of round trips attempted.
func (t *Transport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// CallsFor reports the number of round trips attempted for a URL.
func (t *Transport) CallsFor(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[url]
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	url := req.URL.String()

	t.mu.Lock()
	t.total++
	t.calls[url]++
	offline := t.offline
	status, ok := t.status[url]
	body := t.bodies[url]
	t.mu.Unlock()

	if offline {
		return nil, ErrOffline
	}
	if !ok {
		status = http.StatusNotFound
		body = "not found"
	}
	header := make(http.Header)
	header.Set("Content-Type", "text/plain")
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}, nil
}

// MemoryRegistry is an in-memory store.Registry. Store handles observe
// registry-level deletes, mirroring the persistent implementations.
type MemoryRegistry struct {
	mu     sync.Mutex
	stores map[string]map[digest.Digest]*store.Entry
}

var _ store.Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry returns an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{stores: make(map[string]map[digest.Digest]*store.Entry)}
}

// Open returns the named store, creating it if necessary.
func (r *MemoryRegistry) Open(_ context.Context, name string) (store.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[name]; !ok {
		r.stores[name] = make(map[digest.Digest]*store.Entry)
	}
	return &memoryStore{registry: r, name: name}, nil
}

// Names enumerates all store names.
func (r *MemoryRegistry) Names(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	return names, nil
}

// Delete removes a store.
func (r *MemoryRegistry) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stores, name)
	return nil
}

// Entries reports the number of entries in a named store.
func (r *MemoryRegistry) Entries(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores[name])
}

type memoryStore struct {
	registry *MemoryRegistry
	name     string
}

func (s *memoryStore) Get(_ context.Context, key digest.Digest) (*store.Entry, error) {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	entries, ok := s.registry.stores[s.name]
	if !ok {
		return nil, store.ErrNotFound
	}
	entry, ok := entries[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return entry, nil
}

func (s *memoryStore) Put(_ context.Context, key digest.Digest, entry *store.Entry) error {
	s.registry.mu.Lock()
	defer s.registry.mu.Unlock()
	entries, ok := s.registry.stores[s.name]
	if !ok {
		return store.ErrStoreNotFound
	}
	entries[key] = entry
	return nil
}
