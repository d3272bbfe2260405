// Package strategy implements the two fetch strategies of the worker:
// cache-first with background refresh, and network-first with cache fallback.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
	"github.com/fr4nk3nst1ner/offlineboard/internal/classify"
	"github.com/fr4nk3nst1ner/offlineboard/internal/client"
	"github.com/fr4nk3nst1ner/offlineboard/internal/config"
	"github.com/fr4nk3nst1ner/offlineboard/internal/metrics"
	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// Engine executes strategies against a Storage and a Fetcher
type Engine struct {
	storage     cachestore.Storage
	fetcher     client.Fetcher
	generations config.Generations
	logger      *slog.Logger
	metrics     *metrics.Metrics

	background sync.WaitGroup
}

// New creates an Engine. m may be nil.
func New(storage cachestore.Storage, fetcher client.Fetcher, gens config.Generations, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		storage:     storage,
		fetcher:     fetcher,
		generations: gens,
		logger:      logger,
		metrics:     m,
	}
}

// StoreFor selects the generation a class reads and writes: data files go to the data
// generation, everything else to the static one.
func (e *Engine) StoreFor(class classify.Class) string {
	if class == classify.DataFile {
		return e.generations.Data
	}
	return e.generations.Static
}

// Wait blocks until every background revalidation started so far has finished
func (e *Engine) Wait() {
	e.background.Wait()
}

// CacheFirst serves a stored response when one exists and refreshes it in the
// background; on a miss it fetches, stores a 200, and returns the network response.
func (e *Engine) CacheFirst(ctx context.Context, req *models.Request, storeName string) (*models.Response, error) {
	store, err := e.open(ctx, storeName)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return e.fetcher.Fetch(ctx, req)
	}

	key := cachestore.RequestKey(req)
	if cacheable(req) {
		entry, err := store.Match(ctx, key)
		switch {
		case err == nil:
			e.metrics.Lookup(storeName, true)
			e.revalidate(ctx, req, store, key)
			return entry.Response, nil
		case !errors.Is(err, cachestore.ErrNotFound):
			e.logger.Warn("cache lookup failed", "store", storeName, "key", key, "error", err)
		}
		e.metrics.Lookup(storeName, false)
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	e.store(ctx, store, req, key, resp)
	return resp, nil
}

// NetworkFirst returns the live response whenever the network produces one, storing a
// copy of a 200. Only a transport failure falls back to the store; a miss there
// propagates the original failure. Non-200 statuses are returned as they are.
func (e *Engine) NetworkFirst(ctx context.Context, req *models.Request, storeName string) (*models.Response, error) {
	store, err := e.open(ctx, storeName)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return e.fetcher.Fetch(ctx, req)
	}
	key := cachestore.RequestKey(req)

	resp, fetchErr := e.fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		e.store(ctx, store, req, key, resp)
		return resp, nil
	}

	e.logger.Info("network failed, trying cache", "url", req.URL.String(), "error", fetchErr)
	if !cacheable(req) {
		return nil, fetchErr
	}

	entry, err := store.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cachestore.ErrNotFound) {
			e.logger.Warn("cache lookup failed", "store", storeName, "key", key, "error", err)
		}
		e.metrics.Lookup(storeName, false)
		return nil, fetchErr
	}
	e.metrics.Lookup(storeName, true)
	return entry.Response, nil
}

// open returns the target generation, or nil once it has been evicted. Strategies never
// create generations, so a superseded worker cannot bring its evicted ones back.
func (e *Engine) open(ctx context.Context, storeName string) (cachestore.Store, error) {
	store, err := e.storage.Lookup(ctx, storeName)
	if errors.Is(err, cachestore.ErrNotFound) {
		e.logger.Debug("generation gone, network only", "store", storeName)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", storeName, err)
	}
	return store, nil
}

// revalidate refreshes a cache-first entry without blocking the caller. It runs on a
// detached context and is never cancelled; it races with any foreground fill of the
// same key and the last write wins.
func (e *Engine) revalidate(ctx context.Context, req *models.Request, store cachestore.Store, key string) {
	bg := context.WithoutCancel(ctx)
	e.background.Add(1)
	go func() {
		defer e.background.Done()

		resp, err := e.fetcher.Fetch(bg, req)
		if err != nil {
			e.metrics.Revalidated("failed")
			e.logger.Debug("background refresh failed", "url", req.URL.String(), "error", err)
			return
		}
		if resp.Status != http.StatusOK {
			e.metrics.Revalidated("skipped")
			return
		}
		if err := store.Put(bg, key, resp); err != nil {
			e.metrics.Revalidated("failed")
			e.logger.Warn("background refresh store failed", "key", key, "error", err)
			return
		}
		e.metrics.Revalidated("updated")
		e.logger.Debug("background refresh updated cache", "url", req.URL.String())
	}()
}

// store writes a copy of a 200 response; failures only cost a future cache hit
func (e *Engine) store(ctx context.Context, store cachestore.Store, req *models.Request, key string, resp *models.Response) {
	if resp.Status != http.StatusOK || !cacheable(req) {
		return
	}
	if err := store.Put(context.WithoutCancel(ctx), key, resp.Clone()); err != nil {
		e.logger.Warn("cache put failed", "store", store.Name(), "key", key, "error", err)
	}
}

// cacheable reports whether the request method can be stored and matched
func cacheable(req *models.Request) bool {
	return req.Method == "" || req.Method == http.MethodGet
}
