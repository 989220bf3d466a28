// Package store defines the persistent cache store registry: named,
// versioned key→response stores owned by the offline layer.
//
// A store maps a request key (method + URL) to a serialized response.
// Stores are generational: a store name embeds the application name, the
// store role and a version token (e.g. "shaadi-shell-v3"), and eviction
// happens by deleting whole stores, never individual entries.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when no entry exists for a key.
	ErrNotFound = errors.New("store: entry not found")

	// ErrStoreNotFound is returned when a named store does not exist.
	ErrStoreNotFound = errors.New("store: store not found")
)

// Registry owns named persistent stores.
//
// Implementations must tolerate concurrent use; writes to the same key are
// last-writer-wins.
type Registry interface {
	// Open returns the named store, creating it if necessary.
	Open(ctx context.Context, name string) (Store, error)

	// Names enumerates all existing store names.
	Names(ctx context.Context) ([]string, error)

	// Delete removes a store and all its entries. Deleting a missing
	// store is not an error.
	Delete(ctx context.Context, name string) error
}

// Store is a single key→entry mapping.
type Store interface {
	// Get returns the entry for key, or ErrNotFound.
	Get(ctx context.Context, key digest.Digest) (*Entry, error)

	// Put stores the entry under key, replacing any previous entry.
	Put(ctx context.Context, key digest.Digest, entry *Entry) error
}

// Entry is a cached response: status, headers and body, plus the time the
// response was fetched. Entries are written only by strategy write-through
// and never mutated by reads.
type Entry struct {
	Status    int         `json:"status"`
	Header    http.Header `json:"header"`
	Body      []byte      `json:"body"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// Key derives the store key for a request: the method plus the URL with any
// fragment stripped. Only read-safe methods should ever be keyed.
func Key(method, rawURL string) digest.Digest {
	return digest.FromString(method + " " + rawURL)
}

// RequestKey derives the store key for an *http.Request.
func RequestKey(req *http.Request) digest.Digest {
	u := *req.URL
	u.Fragment = ""
	return Key(req.Method, u.String())
}

// NewEntry drains resp's body and captures it as an Entry. The response
// body is closed; callers that still need the response should rebuild it
// with Entry.Response.
func NewEntry(resp *http.Response) (*Entry, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Entry{
		Status:    resp.StatusCode,
		Header:    resp.Header.Clone(),
		Body:      body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// Response materializes the entry as a fresh *http.Response for req.
// Each call returns an independent body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
