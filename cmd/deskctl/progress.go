package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var (
	statusOK   = color.New(color.FgGreen)
	statusWarn = color.New(color.FgYellow)
	statusDim  = color.New(color.Faint)
)

// ProgressPrinter shows "prefix (phase Ns)" on one terminal line while a blocking
// step (connecting, scanning) runs. On a non-terminal it prints nothing.
//
//	p := NewCountdownProgressPrinter(os.Stdout, "Scanning", "Scanning", 5*time.Second, "Processing results")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use.
type ProgressPrinter struct {
	out        io.Writer
	enabled    bool
	prefix     string
	phase      atomic.Value // string
	stopPhases map[string]struct{}
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{}
	started    atomic.Bool
	countUp    bool
	duration   time.Duration
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time).
func NewProgressPrinter(out io.Writer, prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(out, prefix, phase, 0, true, stopPhases)
}

// NewCountdownProgressPrinter creates a progress printer that counts down from duration.
func NewCountdownProgressPrinter(out io.Writer, prefix string, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	return newProgressPrinter(out, prefix, phase, duration, false, stopPhases)
}

func newProgressPrinter(out io.Writer, prefix, phase string, duration time.Duration, countUp bool, stopPhases []string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		out:        out,
		enabled:    isTerminal(out),
		prefix:     prefix,
		stopPhases: stopSet,
		countUp:    countUp,
		duration:   duration,
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same ProgressPrinter instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if !p.enabled {
		return
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, p.phase.Load().(string))
	go p.loop(ticker)
}

func (p *ProgressPrinter) loop(ticker *time.Ticker) {
	defer close(p.done)

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			phase := p.phase.Load().(string)
			if _, stop := p.stopPhases[phase]; stop {
				return
			}
			elapsed := time.Since(p.startTime)
			seconds := int(elapsed.Seconds())
			if !p.countUp {
				seconds = 0
				if remaining := p.duration - elapsed; remaining > 0 {
					seconds = int(remaining.Seconds() + 0.5)
				}
			}
			if seconds > 0 {
				fmt.Fprintf(p.out, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
			} else {
				fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, phase)
			}
		}
	}
}

// Callback returns a progress callback that updates the phase and stops on a stop phase.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, stop := p.stopPhases[phase]; stop {
			p.Stop()
		}
	}
}

// Stop stops the progress display and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}
	ticker.Stop()
	close(p.stopChan)
	<-p.done
	fmt.Fprint(p.out, clearLineSequence)
}

// liveWriter rewrites consecutive "Height: ... Speed: ..." lines in place on a terminal
// so a movement shows as one updating line. Other lines pass through unchanged.
type liveWriter struct {
	out     io.Writer
	live    bool
	mu      sync.Mutex
	partial []byte
	inPlace bool
}

func newLiveWriter(out io.Writer) *liveWriter {
	return &liveWriter{out: out, live: isTerminal(out)}
}

func isSampleLine(line string) bool {
	return strings.HasPrefix(line, "Height:") && strings.Contains(line, "Speed:")
}

// Write implements io.Writer.
func (w *liveWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.live {
		return w.out.Write(p)
	}

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := string(w.partial[:i])
		w.partial = w.partial[i+1:]

		if isSampleLine(line) {
			if _, err := fmt.Fprint(w.out, clearLineSequence+line); err != nil {
				return 0, err
			}
			w.inPlace = true
			continue
		}
		if w.inPlace {
			fmt.Fprintln(w.out)
			w.inPlace = false
		}
		if _, err := fmt.Fprintln(w.out, line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close ends an in-place line and writes any incomplete trailing output.
func (w *liveWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inPlace {
		fmt.Fprintln(w.out)
		w.inPlace = false
	}
	if len(w.partial) > 0 {
		_, err := w.out.Write(w.partial)
		w.partial = nil
		return err
	}
	return nil
}
