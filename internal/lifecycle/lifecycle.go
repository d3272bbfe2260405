// Package lifecycle owns cache generations: it pre-populates them on install, evicts
// stale ones on activate, and produces the offline fallback document. It keeps no state
// between events; everything persistent lives in the cache storage.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
	"github.com/fr4nk3nst1ner/offlineboard/internal/client"
	"github.com/fr4nk3nst1ner/offlineboard/internal/config"
	"github.com/fr4nk3nst1ner/offlineboard/internal/metrics"
	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// Claimer takes control of every open page
type Claimer interface {
	Claim(ctx context.Context) error
}

// Manager runs install and activate for one pair of generations
type Manager struct {
	settings    config.Settings
	storage     cachestore.Storage
	fetcher     client.Fetcher
	claimer     Claimer
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Manager
type Option func(*Manager)

// WithConcurrency bounds the number of parallel pre-population fetches
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithMetrics records install and eviction counts
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// New creates a Manager. claimer may be nil when no pages can connect (CLI use).
func New(settings config.Settings, storage cachestore.Storage, fetcher client.Fetcher, claimer Claimer, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		settings:    settings,
		storage:     storage,
		fetcher:     fetcher,
		claimer:     claimer,
		concurrency: 4,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Settings returns the configuration the manager was built with
func (m *Manager) Settings() config.Settings {
	return m.settings
}

// InstallResult is the outcome of pre-populating one manifest entry
type InstallResult struct {
	Generation string
	URL        string
	Status     int
	Err        error
}

// InstallReport summarizes an install
type InstallReport struct {
	Results []InstallResult
}

// Failed returns the entries that could not be stored
func (r InstallReport) Failed() []InstallResult {
	var failed []InstallResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Install opens both generations and stores every manifest entry. A failing entry is
// logged and reported but does not stop the others; only a storage failure fails the
// install as a whole. observe, if set, is called once per entry as it completes, possibly
// from several goroutines at once.
func (m *Manager) Install(ctx context.Context, observe func(InstallResult)) (InstallReport, error) {
	gens := m.settings.Generations
	static, err := m.storage.Open(ctx, gens.Static)
	if err != nil {
		return InstallReport{}, fmt.Errorf("open static generation: %w", err)
	}
	data, err := m.storage.Open(ctx, gens.Data)
	if err != nil {
		return InstallReport{}, fmt.Errorf("open data generation: %w", err)
	}

	type job struct {
		store cachestore.Store
		url   string
	}
	jobs := make([]job, 0, len(m.settings.StaticURLs)+len(m.settings.DataURLs))
	for _, u := range m.settings.StaticURLs {
		jobs = append(jobs, job{static, u})
	}
	for _, u := range m.settings.DataURLs {
		jobs = append(jobs, job{data, u})
	}

	m.logger.Info("installing", "static", gens.Static, "data", gens.Data, "entries", len(jobs))

	var (
		mu     sync.Mutex
		report InstallReport
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			res := m.prepopulate(gctx, j.store, j.url)
			mu.Lock()
			report.Results = append(report.Results, res)
			mu.Unlock()
			if observe != nil {
				observe(res)
			}
			return nil
		})
	}
	// prepopulate never fails the group
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("install interrupted: %w", err)
	}

	m.logger.Info("install complete", "entries", len(report.Results), "failed", len(report.Failed()))
	return report, nil
}

func (m *Manager) prepopulate(ctx context.Context, store cachestore.Store, rawURL string) InstallResult {
	res := InstallResult{Generation: store.Name(), URL: rawURL}

	req, err := models.NewRequest(rawURL)
	if err != nil {
		res.Err = err
		m.logger.Warn("bad manifest entry", "url", rawURL, "error", err)
		m.metrics.Installed("failed")
		return res
	}
	req.Credentials = models.CredentialsSameOrigin

	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		res.Err = err
		m.logger.Warn("pre-population fetch failed", "url", rawURL, "error", err)
		m.metrics.Installed("failed")
		return res
	}
	res.Status = resp.Status
	if resp.Status != http.StatusOK {
		res.Err = fmt.Errorf("unexpected status %d", resp.Status)
		m.logger.Warn("pre-population skipped", "url", rawURL, "status", resp.Status)
		m.metrics.Installed("failed")
		return res
	}

	if err := store.Put(ctx, cachestore.RequestKey(req), resp); err != nil {
		res.Err = err
		m.logger.Warn("pre-population store failed", "url", rawURL, "error", err)
		m.metrics.Installed("failed")
		return res
	}
	m.metrics.Installed("stored")
	return res
}

// Activate deletes every generation not named by the current settings and then claims
// all open pages. It returns the deleted generation names; running it again deletes
// nothing.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if m.settings.Generations.Current(name) {
			continue
		}
		ok, err := m.storage.Delete(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("delete generation %s: %w", name, err)
		}
		if ok {
			m.logger.Info("deleted stale generation", "name", name)
			deleted = append(deleted, name)
		}
	}
	m.metrics.Evicted(len(deleted))

	if m.claimer != nil {
		if err := m.claimer.Claim(ctx); err != nil {
			return deleted, fmt.Errorf("claim pages: %w", err)
		}
	}

	m.logger.Info("activated", "static", m.settings.Generations.Static, "data", m.settings.Generations.Data, "evicted", len(deleted))
	return deleted, nil
}
