// Package syncer refreshes the cached data files on a background-sync signal and tells
// connected pages about it.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
	"github.com/fr4nk3nst1ner/offlineboard/internal/client"
	"github.com/fr4nk3nst1ner/offlineboard/internal/metrics"
	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// Tag is the only sync tag the worker acts on
const Tag = "background-sync-data"

// Broadcaster delivers a notification to every connected page, best effort
type Broadcaster interface {
	Broadcast(ctx context.Context, n models.ClientNotification) error
}

// FileResult is the outcome of refreshing one data file
type FileResult struct {
	URL    string
	Status int
	Err    error
}

// Report summarizes one sync run
type Report struct {
	Files     []FileResult
	Notified  bool
	Timestamp int64
}

// Updated counts the files whose cache entry was replaced
func (r Report) Updated() int {
	n := 0
	for _, f := range r.Files {
		if f.Err == nil {
			n++
		}
	}
	return n
}

// Syncer runs the data refresh job. At most one run is in flight; concurrent callers
// share its result.
type Syncer struct {
	dataURLs    []string
	dataStore   string
	storage     cachestore.Storage
	fetcher     client.Fetcher
	broadcaster Broadcaster
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	group singleflight.Group
}

// New creates a Syncer refreshing dataURLs into the dataStore generation.
// broadcaster and m may be nil.
func New(dataURLs []string, dataStore string, storage cachestore.Storage, fetcher client.Fetcher, broadcaster Broadcaster, logger *slog.Logger, m *metrics.Metrics) *Syncer {
	return &Syncer{
		dataURLs:    append([]string(nil), dataURLs...),
		dataStore:   dataStore,
		storage:     storage,
		fetcher:     fetcher,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

// HandleSync reacts to a platform sync signal. Unknown tags are ignored and yield a
// nil report.
func (s *Syncer) HandleSync(ctx context.Context, tag string) (*Report, error) {
	if tag != Tag {
		s.logger.Debug("ignoring sync tag", "tag", tag)
		return nil, nil
	}
	report, err := s.Sync(ctx)
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Sync re-fetches every data file, replaces the entries that come back 200, and then
// broadcasts DATA_UPDATED whatever the per-file outcome was.
func (s *Syncer) Sync(ctx context.Context) (Report, error) {
	v, err, shared := s.group.Do(Tag, func() (any, error) {
		return s.run(context.WithoutCancel(ctx))
	})
	if shared {
		s.logger.Debug("joined in-flight sync")
	}
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (s *Syncer) run(ctx context.Context) (Report, error) {
	s.logger.Info("syncing data files", "files", len(s.dataURLs))

	store, err := s.storage.Lookup(ctx, s.dataStore)
	if err != nil {
		return Report{}, fmt.Errorf("open data generation: %w", err)
	}

	var report Report
	for _, rawURL := range s.dataURLs {
		res := s.refresh(ctx, store, rawURL)
		if res.Err != nil {
			s.metrics.Synced("failed")
			s.logger.Warn("data refresh failed", "url", rawURL, "status", res.Status, "error", res.Err)
		} else {
			s.metrics.Synced("updated")
		}
		report.Files = append(report.Files, res)
	}

	report.Timestamp = s.now().UnixMilli()
	if s.broadcaster != nil {
		n := models.ClientNotification{Type: models.NotificationDataUpdated, Timestamp: report.Timestamp}
		if err := s.broadcaster.Broadcast(ctx, n); err != nil {
			s.logger.Warn("broadcast failed", "error", err)
		} else {
			report.Notified = true
			s.metrics.Broadcast()
		}
	}

	s.logger.Info("data sync complete", "updated", report.Updated(), "files", len(report.Files))
	return report, nil
}

func (s *Syncer) refresh(ctx context.Context, store cachestore.Store, rawURL string) FileResult {
	res := FileResult{URL: rawURL}

	req, err := models.NewRequest(rawURL)
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		res.Err = err
		return res
	}
	res.Status = resp.Status
	if resp.Status != http.StatusOK {
		res.Err = fmt.Errorf("unexpected status %d", resp.Status)
		return res
	}

	if err := store.Put(ctx, cachestore.RequestKey(req), resp); err != nil {
		res.Err = err
	}
	return res
}
