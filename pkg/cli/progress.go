package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const progressBarWidth = 40

// Progress renders a single-line progress bar for long-running
// commands. All methods are safe for concurrent use.
type Progress struct {
	w io.Writer

	mu      sync.Mutex
	total   int64
	current int64
	started time.Time
}

// NewProgressReporter creates a progress bar writing to w, or to stdout
// when w is nil.
func NewProgressReporter(w io.Writer) *Progress {
	if w == nil {
		w = os.Stdout
	}
	return &Progress{w: w}
}

// Start resets the bar for a run of total items.
func (p *Progress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.current = 0
	p.started = time.Now()
	p.render()
}

// Update moves the bar to current items completed.
func (p *Progress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	p.render()
}

// Finish completes the bar and terminates the line.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = p.total
	p.render()
	fmt.Fprintln(p.w)
}

// render redraws the line in place. Caller holds the lock.
func (p *Progress) render() {
	if p.total <= 0 {
		return
	}
	frac := float64(p.current) / float64(p.total)
	filled := int(progressBarWidth * frac)
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	rate := float64(p.current) / time.Since(p.started).Seconds()
	fmt.Fprintf(p.w, "\r[%-*s] %3.0f%% (%d/%d) %.0f/s",
		progressBarWidth, strings.Repeat("=", filled), frac*100, p.current, p.total, rate)
}
