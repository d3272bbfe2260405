package ui

import (
	"github.com/cheggaaa/pb/v3"

	"github.com/fr4nk3nst1ner/offlineboard/internal/lifecycle"
)

// InstallProgress is a progress bar fed by install results
type InstallProgress struct {
	bar *pb.ProgressBar
}

// NewInstallProgress starts a bar for total manifest entries
func NewInstallProgress(total int) *InstallProgress {
	bar := pb.New(total)
	bar.Set("prefix", "Caching ")
	bar.Start()
	return &InstallProgress{bar: bar}
}

// Observe advances the bar; safe for concurrent use
func (p *InstallProgress) Observe(res lifecycle.InstallResult) {
	p.bar.Increment()
}

// Finish stops the bar
func (p *InstallProgress) Finish() {
	p.bar.Finish()
}
