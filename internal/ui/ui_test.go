package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fr4nk3nst1ner/offlineboard/internal/lifecycle"
)

func TestStatusRows(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rows := StatusRows([]lifecycle.GenerationInfo{
		{Name: "static-v1", Current: true, Entries: 1234, Bytes: 2048, Newest: now.Add(-2 * time.Hour)},
		{Name: "static-v0", Entries: 0},
	}, now)

	require.Len(t, rows, 3)
	assert.Equal(t, "Generation", rows[0][0])
	assert.Equal(t, []string{"static-v1", "current", "1,234", "2.0 kB", "2 hours ago"}, rows[1])
	assert.Equal(t, []string{"static-v0", "stale", "0", "0 B", "never"}, rows[2])
}

func TestSummarizeJobsFromListings(t *testing.T) {
	jobs := []byte(`[
		{"id":1,"title":"SRE","company":"Acme"},
		{"id":2,"title":"SWE","company":"Globex"},
		{"id":3,"title":"PM","company":"Acme"}
	]`)

	s, err := SummarizeJobs(jobs, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Jobs)
	assert.Equal(t, []CompanyCount{{"Acme", 2}, {"Globex", 1}}, s.Companies)
}

func TestSummarizeJobsPrefersStatistics(t *testing.T) {
	stats := []byte(`{"total_jobs":40,"today_jobs":3,"update_time":"2025-06-01 08:00","by_company":{"Initech":5,"Acme":9,"Hooli":5}}`)

	s, err := SummarizeJobs(nil, stats, 2)
	require.NoError(t, err)
	assert.Equal(t, 40, s.Jobs)
	assert.Equal(t, 3, s.TodayJobs)
	assert.Equal(t, "2025-06-01 08:00", s.UpdateTime)
	assert.Equal(t, []CompanyCount{{"Acme", 9}, {"Hooli", 5}}, s.Companies)
}

func TestSummarizeJobsRejectsGarbage(t *testing.T) {
	_, err := SummarizeJobs([]byte("<html>"), nil, 0)
	assert.ErrorContains(t, err, "decode jobs")

	_, err = SummarizeJobs(nil, []byte("[]"), 0)
	assert.ErrorContains(t, err, "decode statistics")
}

func TestColorizeStatus(t *testing.T) {
	assert.Contains(t, ColorizeStatus(200), "200")
	assert.Contains(t, ColorizeStatus(0), "error")
	assert.Contains(t, ColorizeStatus(503), "503")
}
