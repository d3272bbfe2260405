package ui

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/fr4nk3nst1ner/offlineboard/internal/models"
)

// JobsSummary is what the cached data files say about the board
type JobsSummary struct {
	Jobs       int
	TodayJobs  int
	UpdateTime string
	Companies  []CompanyCount
}

// CompanyCount is the number of listings for one company
type CompanyCount struct {
	Company string
	Jobs    int
}

// SummarizeJobs decodes cached jobs.json and statistics.json bodies. Either may be nil.
// Company counts come from the statistics when present, otherwise from the listings.
func SummarizeJobs(jobsBody, statsBody []byte, top int) (JobsSummary, error) {
	var summary JobsSummary
	counts := map[string]int{}

	if len(jobsBody) > 0 {
		var jobs []models.Job
		if err := json.Unmarshal(jobsBody, &jobs); err != nil {
			return summary, fmt.Errorf("decode jobs: %w", err)
		}
		summary.Jobs = len(jobs)
		for _, j := range jobs {
			counts[j.Company]++
		}
	}

	if len(statsBody) > 0 {
		var stats models.Statistics
		if err := json.Unmarshal(statsBody, &stats); err != nil {
			return summary, fmt.Errorf("decode statistics: %w", err)
		}
		if summary.Jobs == 0 {
			summary.Jobs = stats.TotalJobs
		}
		summary.TodayJobs = stats.TodayJobs
		summary.UpdateTime = stats.UpdateTime
		if len(stats.ByCompany) > 0 {
			counts = stats.ByCompany
		}
	}

	for company, n := range counts {
		summary.Companies = append(summary.Companies, CompanyCount{Company: company, Jobs: n})
	}
	sort.Slice(summary.Companies, func(i, j int) bool {
		a, b := summary.Companies[i], summary.Companies[j]
		if a.Jobs != b.Jobs {
			return a.Jobs > b.Jobs
		}
		return a.Company < b.Company
	})
	if top > 0 && len(summary.Companies) > top {
		summary.Companies = summary.Companies[:top]
	}
	return summary, nil
}

// PrintJobsSummary renders the cached board summary
func PrintJobsSummary(s JobsSummary) error {
	pterm.Info.Printf("%s cached listings, %s posted today", humanize.Comma(int64(s.Jobs)), humanize.Comma(int64(s.TodayJobs)))
	if s.UpdateTime != "" {
		fmt.Printf(" (updated %s)", s.UpdateTime)
	}
	fmt.Println()

	if len(s.Companies) == 0 {
		return nil
	}
	rows := [][]string{{"Company", "Listings"}}
	for _, c := range s.Companies {
		rows = append(rows, []string{c.Company, humanize.Comma(int64(c.Jobs))})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
