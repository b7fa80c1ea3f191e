// Package progress renders reducer progress on a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBuffer is the update queue length; updates beyond it are dropped.
	DefaultBuffer = 64
	// DefaultThrottle is the minimum gap between two rendered lines.
	DefaultThrottle = 100 * time.Millisecond
)

type update struct {
	done, total int64
	elapsed     time.Duration
}

// Printer implements dag.ProgressSink. OnProgress only queues; a separate
// goroutine renders. On a TTY the line is rewritten in place with \r,
// elsewhere each rendered update is its own line.
//
// Write errors disable the printer.
type Printer struct {
	w        io.Writer
	isTTY    bool
	throttle time.Duration

	updates chan update
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64

	// render goroutine only
	last      update
	haveLast  bool
	lastFlush time.Time
	lastLen   int
	disabled  bool
}

// NewPrinter starts the render goroutine. A nil w means stderr. Close must
// be called to stop it.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stderr
	}
	p := &Printer{
		w:        w,
		throttle: DefaultThrottle,
		updates:  make(chan update, DefaultBuffer),
		done:     make(chan struct{}),
	}
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				p.isTTY = fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	go p.loop()
	return p
}

// OnProgress never blocks.
func (p *Printer) OnProgress(completedTerms, totalTerms int64, elapsed time.Duration) {
	if p == nil {
		return
	}
	select {
	case p.updates <- update{done: completedTerms, total: totalTerms, elapsed: elapsed}:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns how many updates were discarded because the queue was
// full.
func (p *Printer) Dropped() int64 { return p.dropped.Load() }

// Close renders the latest queued update, ends the line and stops the
// render goroutine. It is safe to call more than once, but OnProgress must
// not be called concurrently with or after it.
func (p *Printer) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		close(p.updates)
		<-p.done
	})
}

func (p *Printer) loop() {
	defer close(p.done)
	for u := range p.updates {
		p.last, p.haveLast = u, true
		now := time.Now()
		if now.Sub(p.lastFlush) < p.throttle && u.done < u.total {
			continue
		}
		p.lastFlush = now
		p.render(u)
	}
	if p.haveLast && p.isTTY && p.lastLen > 0 {
		p.render(p.last)
		p.write("\n")
	}
}

func (p *Printer) render(u update) {
	line := Format(u.done, u.total, u.elapsed)
	if !p.isTTY {
		p.write(line + "\n")
		return
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(line)
	if pad := p.lastLen - len(line); pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	p.write(b.String())
	p.lastLen = len(line)
}

func (p *Printer) write(s string) {
	if p.disabled {
		return
	}
	if _, err := io.WriteString(p.w, s); err != nil {
		p.disabled = true
	}
}

// Format renders one progress line.
func Format(done, total int64, elapsed time.Duration) string {
	pct := 100.0
	if total > 0 {
		pct = float64(done) * 100 / float64(total)
	}
	return fmt.Sprintf("[pi] terms %d/%d (%.1f%%) | elapsed %s", done, total, pct, formatDur(elapsed))
}

func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
