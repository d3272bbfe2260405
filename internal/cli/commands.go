package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fr4nk3nst1ner/offlineboard/internal/cachestore"
	"github.com/fr4nk3nst1ner/offlineboard/internal/classify"
	"github.com/fr4nk3nst1ner/offlineboard/internal/config"
	"github.com/fr4nk3nst1ner/offlineboard/internal/syncer"
	"github.com/fr4nk3nst1ner/offlineboard/internal/ui"
	"github.com/fr4nk3nst1ner/offlineboard/internal/worker"
)

func newInstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Pre-populate the current cache generations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			settings, err := rt.settings()
			if err != nil {
				return err
			}
			w := rt.newWorker(settings)

			progress := ui.NewInstallProgress(len(settings.StaticURLs) + len(settings.DataURLs))
			report, err := w.Lifecycle().Install(ctx, progress.Observe)
			progress.Finish()
			if err != nil {
				return err
			}

			failed := report.Failed()
			if len(failed) == 0 {
				pterm.Success.Printf("Cached %d entries into %s and %s\n", len(report.Results), settings.Generations.Static, settings.Generations.Data)
				return nil
			}
			rows := [][]string{{"Generation", "URL", "Status", "Error"}}
			for _, f := range failed {
				rows = append(rows, []string{f.Generation, f.URL, ui.ColorizeStatus(f.Status), f.Err.Error()})
			}
			pterm.Warning.Printf("%d of %d entries could not be cached\n", len(failed), len(report.Results))
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}
}

func newActivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Delete every cache generation that is not current",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			settings, err := rt.settings()
			if err != nil {
				return err
			}
			deleted, err := rt.newWorker(settings).Lifecycle().Activate(ctx)
			if err != nil {
				return err
			}
			if len(deleted) == 0 {
				pterm.Info.Println("No stale generations")
				return nil
			}
			pterm.Success.Printf("Deleted %s\n", strings.Join(deleted, ", "))
			return nil
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh the cached data files",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			settings, err := rt.settings()
			if err != nil {
				return err
			}
			ev := &worker.Event{Kind: worker.EventSync, Tag: tag}
			if err := rt.newWorker(settings).Dispatch(ctx, ev); err != nil {
				return err
			}
			if ev.SyncReport == nil {
				pterm.Info.Printf("Tag %q is not handled\n", tag)
				return nil
			}

			rows := [][]string{{"URL", "Status", "Result"}}
			for _, f := range ev.SyncReport.Files {
				result := pterm.Green("updated")
				if f.Err != nil {
					result = pterm.Red(f.Err.Error())
				}
				rows = append(rows, []string{f.URL, ui.ColorizeStatus(f.Status), result})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
		},
	}
	cmd.Flags().StringVar(&tag, "tag", syncer.Tag, "sync tag to raise")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var audit bool
	var top int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache generations and the cached job data",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			settings, err := rt.settings()
			if err != nil {
				return err
			}
			lc := rt.newWorker(settings).Lifecycle()

			infos, err := lc.Inventory(ctx)
			if err != nil {
				return err
			}
			if err := ui.PrintStatus(infos); err != nil {
				return err
			}

			jobs, stats, err := cachedData(ctx, rt.storage, settings)
			if err != nil {
				return err
			}
			if jobs != nil || stats != nil {
				summary, err := ui.SummarizeJobs(jobs, stats, top)
				if err != nil {
					return fmt.Errorf("cached job data: %w", err)
				}
				if err := ui.PrintJobsSummary(summary); err != nil {
					return err
				}
			}

			if audit {
				report, err := lc.Audit(ctx, classify.NewScope(settings.Origin, settings.CrossOriginHosts))
				if err != nil {
					return err
				}
				ui.PrintAudit(report)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&audit, "audit", false, "check that every asset the cached root document references is cached")
	cmd.Flags().IntVar(&top, "top", 10, "companies to list")
	return cmd
}

// cachedData returns the cached jobs.json and statistics.json bodies, nil when absent
func cachedData(ctx context.Context, storage cachestore.Storage, settings config.Settings) (jobs, stats []byte, err error) {
	data, err := storage.Lookup(ctx, settings.Generations.Data)
	if errors.Is(err, cachestore.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	for _, u := range settings.DataURLs {
		entry, err := data.Match(ctx, cachestore.URLKey(u))
		if errors.Is(err, cachestore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		switch {
		case strings.HasSuffix(u, "/jobs.json"):
			jobs = entry.Response.Body
		case strings.HasSuffix(u, "/statistics.json"):
			stats = entry.Response.Body
		}
	}
	return jobs, stats, nil
}
