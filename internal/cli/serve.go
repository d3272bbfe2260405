package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fr4nk3nst1ner/offlineboard/internal/config"
	"github.com/fr4nk3nst1ner/offlineboard/internal/notify"
	"github.com/fr4nk3nst1ner/offlineboard/internal/syncer"
	"github.com/fr4nk3nst1ner/offlineboard/internal/telemetry"
	"github.com/fr4nk3nst1ner/offlineboard/internal/worker"
)

func newServeCmd(a *app) *cobra.Command {
	var syncEvery time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Install, activate and serve the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, syncEvery)
		},
	}
	cmd.Flags().DurationVar(&syncEvery, "sync-interval", 0, "raise a background sync this often (0 disables)")
	return cmd
}

func (a *app) serve(ctx context.Context, syncEvery time.Duration) error {
	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	shutdownTracing, err := telemetry.Setup(ctx, "offlineboard")
	if err != nil {
		rt.logger.Warn("tracing disabled", "error", err)
	}
	defer shutdownTracing(context.Background())

	settings, err := rt.settings()
	if err != nil {
		return err
	}

	hub := notify.NewHub(rt.logger, rt.metrics)
	defer hub.Close()

	w := rt.newWorker(settings, worker.WithPages(hub))
	// a failed install leaves the worker redundant; requests then pass through
	if err := w.Dispatch(ctx, &worker.Event{Kind: worker.EventInstall}); err != nil {
		rt.logger.Error("install failed, serving without cache", "error", err)
	}
	srv := worker.NewServer(w, hub, rt.registry, rt.logger)

	if rt.cfg.ManifestPath != "" {
		go func() {
			err := config.Watch(ctx, rt.cfg.ManifestPath, rt.logger, func(m config.Manifest) {
				a.reload(ctx, rt, srv, hub, m)
			})
			if err != nil {
				rt.logger.Warn("manifest watch stopped", "error", err)
			}
		}()
	}

	if syncEvery > 0 {
		go periodicSync(ctx, srv, syncEvery, rt.logger)
	}

	httpServer := &http.Server{
		Addr:              rt.cfg.ListenAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("worker listening", "addr", rt.cfg.ListenAddr, "origin", settings.Origin.String(), "state", w.State().String())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.logger.Info("shutting down")
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	srv.Worker().Wait()
	return nil
}

// reload installs a worker for the new manifest and swaps it in once it is active.
// The old worker keeps serving until then.
func (a *app) reload(ctx context.Context, rt *runtime, srv *worker.Server, hub *notify.Hub, m config.Manifest) {
	settings, err := config.NewSettings(rt.cfg, m)
	if err != nil {
		rt.logger.Warn("manifest rejected", "error", err)
		return
	}
	rt.logger.Info("manifest changed", "static", settings.Generations.Static, "data", settings.Generations.Data)

	next := rt.newWorker(settings, worker.WithPages(hub))
	if err := next.Dispatch(ctx, &worker.Event{Kind: worker.EventInstall}); err != nil {
		rt.logger.Error("install of new release failed, keeping current worker", "error", err)
		return
	}
	if next.State() != worker.StateActivated {
		rt.logger.Warn("new release installed but not active", "state", next.State().String())
		return
	}
	prev := srv.Swap(next)
	prev.Wait()
}

func periodicSync(ctx context.Context, srv *worker.Server, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ev := &worker.Event{Kind: worker.EventSync, Tag: syncer.Tag}
			if err := srv.Worker().Dispatch(ctx, ev); err != nil {
				logger.Warn("periodic sync failed", "error", err)
			}
		}
	}
}
