// Package cli implements the offlineboard command line.
package cli

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
	"github.com/fr4nk3nst1ner/offlineboard/internal/client"
	"github.com/fr4nk3nst1ner/offlineboard/internal/config"
	"github.com/fr4nk3nst1ner/offlineboard/internal/logging"
	"github.com/fr4nk3nst1ner/offlineboard/internal/metrics"
	"github.com/fr4nk3nst1ner/offlineboard/internal/push"
	"github.com/fr4nk3nst1ner/offlineboard/internal/ui"
	"github.com/fr4nk3nst1ner/offlineboard/internal/worker"
)

type app struct {
	cfg          config.Config
	manifestPath string
	silence      bool
}

// NewRootCommand builds the offlineboard command tree
func NewRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "offlineboard",
		Short:         "Offline caching worker for the job board",
		Long:          "offlineboard sits in front of the job board origin, keeps versioned caches of its shell and data files, and serves them when the network is gone.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if a.manifestPath != "" {
				cfg.ManifestPath = a.manifestPath
			}
			a.cfg = cfg
			ui.PrintBanner(a.silence)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.manifestPath, "manifest", "", "path to the cache manifest (overrides OFFLINEBOARD_MANIFEST)")
	cmd.PersistentFlags().BoolVar(&a.silence, "silence", false, "silence the banner")

	cmd.AddCommand(
		newServeCmd(a),
		newInstallCmd(a),
		newActivateCmd(a),
		newSyncCmd(a),
		newStatusCmd(a),
	)
	return cmd
}

// runtime holds what every command needs: logger, storage and network access
type runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	logCloser io.Closer
	storage   *cachestore.SQLiteStorage
	fetcher   *client.HTTPFetcher
	http      *http.Client
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
}

func (a *app) runtime(ctx context.Context) (*runtime, error) {
	logger, closer, err := logging.New(logging.Options{Level: a.cfg.LogLevel, JSON: a.cfg.LogJSON, File: a.cfg.LogFile})
	if err != nil {
		return nil, err
	}

	origin, err := a.cfg.OriginURL()
	if err != nil {
		closer.Close()
		return nil, err
	}

	httpClient, err := client.CreateHTTPClient(a.cfg.ProxyURL)
	if err != nil {
		closer.Close()
		return nil, err
	}

	storage, err := cachestore.NewSQLiteStorage(ctx, a.cfg.CachePath, a.cfg.HotCacheSize)
	if err != nil {
		closer.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &runtime{
		cfg:       a.cfg,
		logger:    logger,
		logCloser: closer,
		storage:   storage,
		fetcher:   client.NewHTTPFetcher(httpClient, origin),
		http:      httpClient,
		registry:  reg,
		metrics:   metrics.New(reg),
	}, nil
}

func (rt *runtime) Close() {
	if err := rt.storage.Close(); err != nil {
		rt.logger.Warn("close cache storage", "error", err)
	}
	rt.logCloser.Close()
}

// settings resolves the current manifest against the process config
func (rt *runtime) settings() (config.Settings, error) {
	m, err := config.LoadManifest(rt.cfg.ManifestPath)
	if err != nil {
		return config.Settings{}, err
	}
	return config.NewSettings(rt.cfg, m)
}

func (rt *runtime) notifier() push.Notifier {
	if rt.cfg.TelegramBotToken == "" || rt.cfg.TelegramChatID == "" {
		return push.LogNotifier{Logger: rt.logger}
	}
	return push.NewTelegramNotifier("", rt.cfg.TelegramBotToken, rt.cfg.TelegramChatID, rt.http, rt.logger)
}

func (rt *runtime) newWorker(settings config.Settings, opts ...worker.Option) *worker.Worker {
	opts = append([]worker.Option{
		worker.WithMetrics(rt.metrics),
		worker.WithNotifier(rt.notifier()),
		worker.WithInstallConcurrency(rt.cfg.InstallConcurrency),
	}, opts...)
	return worker.New(settings, rt.storage, rt.fetcher, rt.logger, opts...)
}
