package ui

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressBar wraps the progressbar library to provide progress visualization
// for the conversion and upload phases. Add is safe to call from concurrent
// workers.
type ProgressBar struct {
	bar         *progressbar.ProgressBar
	description string
	total       int64
	current     atomic.Int64
	startTime   time.Time
}

// NewProgressBar creates a progress bar for operations with known total size
// Updates are throttled to 500ms to keep terminal output readable
func NewProgressBar(total int64, description string) *ProgressBar {
	return newProgressBar(total, description, os.Stderr)
}

// NewProgressBarWithWriter creates a progress bar that writes to a specific
// writer. Useful for testing with mock writers.
func NewProgressBarWithWriter(total int64, description string, writer io.Writer) *ProgressBar {
	return newProgressBar(total, description, writer)
}

func newProgressBar(total int64, description string, writer io.Writer) *ProgressBar {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(500*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(false),
	)

	return &ProgressBar{
		bar:         bar,
		description: description,
		total:       total,
		startTime:   time.Now(),
	}
}

// Add increments the progress bar by the given amount
func (p *ProgressBar) Add(amount int64) error {
	p.current.Add(amount)
	return p.bar.Add64(amount)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	return p.bar.Finish()
}

// Clear clears the progress bar from the terminal
func (p *ProgressBar) Clear() error {
	return p.bar.Clear()
}

// GetPercentage returns current completion percentage (0-100)
func (p *ProgressBar) GetPercentage() float64 {
	if p.total == 0 {
		return 0
	}
	return (float64(p.current.Load()) / float64(p.total)) * 100
}

// GetElapsedTime returns time elapsed since the progress bar was created
func (p *ProgressBar) GetElapsedTime() time.Duration {
	return time.Since(p.startTime)
}
