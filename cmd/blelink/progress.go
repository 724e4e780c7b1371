package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter keeps a single status line with elapsed (or remaining)
// seconds on a terminal. Output printed through Suspend does not collide
// with the status line.
//
//	p := NewProgressPrinter(os.Stderr, "Waiting for Qualia peripheral", "scanning")
//	p.Start()
//	defer p.Stop()
//
// A ProgressPrinter is single-use. On a non-terminal writer it prints nothing.
type ProgressPrinter struct {
	w        io.Writer
	enabled  bool
	prefix   string
	phase    atomic.Value // string
	duration time.Duration

	mu        sync.Mutex // guards writes to w
	startTime time.Time
	started   atomic.Bool
	stopOnce  sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a progress printer that counts up.
func NewProgressPrinter(w io.Writer, prefix, phase string) *ProgressPrinter {
	return NewCountdownProgressPrinter(w, prefix, phase, 0)
}

// NewCountdownProgressPrinter creates a progress printer that counts down from
// duration. A zero duration counts up.
func NewCountdownProgressPrinter(w io.Writer, prefix, phase string, duration time.Duration) *ProgressPrinter {
	p := &ProgressPrinter{
		w:        w,
		enabled:  isTerminal(w),
		prefix:   prefix,
		duration: duration,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Start begins redrawing the status line. Panics if called twice.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	p.startTime = time.Now()
	if !p.enabled {
		close(p.done)
		return
	}

	p.draw()
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.draw()
			}
		}
	}()
}

func (p *ProgressPrinter) seconds() int {
	elapsed := time.Since(p.startTime)
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *ProgressPrinter) draw() {
	phase := p.phase.Load().(string)
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.seconds(); s > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, s)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// SetPhase changes the phase shown on the next redraw.
func (p *ProgressPrinter) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Suspend clears the status line and runs fn while no redraw can happen.
func (p *ProgressPrinter) Suspend(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		fmt.Fprint(p.w, clearLineSequence)
	}
	fn()
}

// Stop stops redrawing and clears the line. Safe to call more than once.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		if !p.started.Load() {
			return
		}
		close(p.stopChan)
		<-p.done
		if p.enabled {
			p.mu.Lock()
			fmt.Fprint(p.w, clearLineSequence)
			p.mu.Unlock()
		}
	})
}
