package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/franksops/gorelocate/engine"
)

// LineReporter prints progress as a single line that overwrites itself.
type LineReporter struct {
	mu      sync.Mutex
	w       io.Writer
	written bool
}

var _ engine.Reporter = (*LineReporter)(nil)

// NewLineReporter creates a reporter writing to w, usually os.Stdout.
func NewLineReporter(w io.Writer) *LineReporter {
	return &LineReporter{w: w}
}

// Update rewrites the progress line.
func (l *LineReporter) Update(p engine.Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "\rMoved %d objects so far (%d already in place, %d listed, %s)...",
		p.Moved, p.Skipped, p.Enumerated, formatRate(rate(p)))
	l.written = true
}

// Finish terminates the progress line.
func (l *LineReporter) Finish(p engine.Progress, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.written {
		fmt.Fprintf(l.w, "\rMoved %d objects (%d already in place, %d listed).          \n",
			p.Moved, p.Skipped, p.Enumerated)
	}
}

func rate(p engine.Progress) float64 {
	secs := p.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(p.Moved+p.Skipped) / secs
}
