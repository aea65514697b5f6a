package pipeline

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives events from the frame worker pool. Calls come
// from a single goroutine.
type ProgressCallback interface {
	OnStart(total int)
	OnProgress(current, total int)
	OnComplete()
	OnError(current int, err error)
}

const (
	barWidth       = 30
	redrawInterval = 100 * time.Millisecond
)

// ConsoleProgressCallback redraws a single status line, e.g.
//
//	Scanning [=========         ] 3/10 labels, 1 failed
type ConsoleProgressCallback struct {
	out   io.Writer
	label string
	now   func() time.Time

	mu      sync.Mutex
	started time.Time
	drawn   time.Time
	failed  int
}

// NewConsoleProgressCallback writes to out, or stderr when out is nil.
func NewConsoleProgressCallback(out io.Writer, label string) *ConsoleProgressCallback {
	if out == nil {
		out = os.Stderr
	}
	return &ConsoleProgressCallback{out: out, label: label, now: time.Now}
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started, c.failed = c.now(), 0
	c.draw(0, total)
}

// OnProgress throttles redraws except for the final frame.
func (c *ConsoleProgressCallback) OnProgress(current, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current >= total || c.now().Sub(c.drawn) >= redrawInterval {
		c.draw(current, total)
	}
}

func (c *ConsoleProgressCallback) OnError(int, error) {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	took := c.now().Sub(c.started).Round(time.Millisecond)
	summary := fmt.Sprintf("%s finished in %s", c.label, took)
	if c.failed > 0 {
		summary += fmt.Sprintf(" (%d failed)", c.failed)
	}
	_, _ = fmt.Fprintln(c.out, "\n"+summary)
}

func (c *ConsoleProgressCallback) draw(current, total int) {
	c.drawn = c.now()
	n := 0
	if total > 0 {
		n = min(barWidth, barWidth*current/total)
	}
	line := fmt.Sprintf("\r%s [%s%s] %d/%d labels", c.label,
		strings.Repeat("=", n), strings.Repeat(" ", barWidth-n), current, total)
	if c.failed > 0 {
		line += fmt.Sprintf(", %d failed", c.failed)
	}
	_, _ = io.WriteString(c.out, line)
}
