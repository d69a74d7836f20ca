package governor

import (
	"sync"
	"time"
)

const defaultWindow = time.Second

type Options struct {
	// TargetFPS caps accepted frames, zero means no cap.
	TargetFPS float64
	// Window is how far back samples count towards CurrentFPS.
	Window time.Duration
	Now    func() time.Time
}

// Governor measures the rate of accepted frames over a sliding window
// and optionally throttles frames arriving faster than a target rate.
type Governor struct {
	mu           sync.Mutex
	minInterval  time.Duration
	window       time.Duration
	now          func() time.Time
	samples      []time.Time
	lastAccepted time.Time
	skipped      uint64
}

func New(opts Options) *Governor {
	g := &Governor{
		window: opts.Window,
		now:    opts.Now,
	}
	if g.window <= 0 {
		g.window = defaultWindow
	}
	if g.now == nil {
		g.now = time.Now
	}
	if opts.TargetFPS > 0 {
		g.minInterval = time.Duration(float64(time.Second) / opts.TargetFPS)
	}
	return g
}

func (g *Governor) Now() time.Time {
	return g.now()
}

// Admit reports whether a frame arriving at t should be processed.
func (g *Governor) Admit(t time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.minInterval == 0 || g.lastAccepted.IsZero() {
		return true
	}
	if t.Sub(g.lastAccepted) < g.minInterval {
		g.skipped++
		return false
	}
	return true
}

// Record adds a sample for a frame successfully processed at t.
func (g *Governor) Record(t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastAccepted = t
	g.samples = append(g.samples, t)
	g.trim(t)
}

func (g *Governor) trim(now time.Time) {
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(g.samples) && !g.samples[i].After(cutoff) {
		i++
	}
	if i > 0 {
		g.samples = append(g.samples[:0], g.samples[i:]...)
	}
}

// CurrentFPS averages the samples inside the window ending now.
func (g *Governor) CurrentFPS() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fps(g.now())
}

func (g *Governor) fps(now time.Time) float64 {
	g.trim(now)
	n := len(g.samples)
	if n < 2 {
		return 0
	}
	span := g.samples[n-1].Sub(g.samples[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span
}

func (g *Governor) Skipped() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skipped
}

func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples = nil
	g.lastAccepted = time.Time{}
	g.skipped = 0
}
