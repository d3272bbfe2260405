// Package cachestore is the named, versioned key/value storage behind the worker. A
// Storage holds any number of generations; each generation is a Store mapping a request
// key to the last response put under it.
package cachestore

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

var (
	// ErrNotFound is returned by Match when no entry exists for the key
	ErrNotFound = errors.New("cache entry not found")
	// ErrClosed is returned after the storage has been closed
	ErrClosed = errors.New("cache storage closed")
)

// Store is one cache generation
type Store interface {
	Name() string
	Match(ctx context.Context, key string) (*models.CacheEntry, error)
	Put(ctx context.Context, key string, resp *models.Response) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Storage owns every generation
type Storage interface {
	// Open returns the named generation, creating it when missing. Only install creates
	// generations.
	Open(ctx context.Context, name string) (Store, error)
	// Lookup returns an existing generation and ErrNotFound once it is gone
	Lookup(ctx context.Context, name string) (Store, error)
	Has(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Names(ctx context.Context) ([]string, error)
	// Match looks key up in every generation, oldest generation first
	Match(ctx context.Context, key string) (*models.CacheEntry, error)
	Close() error
}

// RequestKey derives the identity of a request: method plus absolute URL without fragment
func RequestKey(req *models.Request) string {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	u := *req.URL
	u.Fragment = ""
	u.RawFragment = ""
	return strings.ToUpper(method) + " " + u.String()
}

// URLKey is RequestKey for a plain GET of rawURL
func URLKey(rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL = rawURL[:i]
	}
	return http.MethodGet + " " + rawURL
}
