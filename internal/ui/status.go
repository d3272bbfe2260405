package ui

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/fr4nk3nst1ner/offlineboard/internal/lifecycle"
)

// StatusRows builds the generation table, header first
func StatusRows(infos []lifecycle.GenerationInfo, now time.Time) [][]string {
	rows := [][]string{{"Generation", "State", "Entries", "Size", "Last stored"}}
	for _, info := range infos {
		state := "stale"
		if info.Current {
			state = "current"
		}
		stored := "never"
		if !info.Newest.IsZero() {
			stored = humanize.RelTime(info.Newest, now, "ago", "from now")
		}
		rows = append(rows, []string{
			info.Name,
			state,
			humanize.Comma(int64(info.Entries)),
			humanize.Bytes(uint64(info.Bytes)),
			stored,
		})
	}
	return rows
}

// PrintStatus renders the generation table
func PrintStatus(infos []lifecycle.GenerationInfo) error {
	if len(infos) == 0 {
		pterm.Info.Println("No cache generations stored")
		return nil
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(StatusRows(infos, time.Now())).Render(); err != nil {
		return fmt.Errorf("render status: %w", err)
	}
	return nil
}

// PrintAudit lists shell assets missing from the static generation
func PrintAudit(report lifecycle.AuditReport) {
	if len(report.Missing) == 0 {
		pterm.Success.Printf("All %d assets referenced by %s are cached\n", len(report.Referenced), report.Root)
		return
	}
	pterm.Warning.Printf("%d of %d assets referenced by %s are not cached:\n", len(report.Missing), len(report.Referenced), report.Root)
	for _, m := range report.Missing {
		fmt.Println("  " + m)
	}
}
