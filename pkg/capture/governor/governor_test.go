package governor_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/tauraamui/texcapd/pkg/capture/governor"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)}
}

// feed pushes frames through the governor at the given rate for the
// duration, returning how many were admitted and how many arrived.
func feed(g *governor.Governor, clock *fakeClock, fps float64, d time.Duration) (admitted, total int) {
	interval := time.Duration(float64(time.Second) / fps)
	for elapsed := time.Duration(0); elapsed < d; elapsed += interval {
		total++
		if g.Admit(clock.now()) {
			g.Record(clock.now())
			admitted++
		}
		clock.advance(interval)
	}
	return admitted, total
}

func TestCurrentFPSConvergesToArrivalRate(t *testing.T) {
	is := is.New(t)
	clock := newClock()
	g := governor.New(governor.Options{Now: clock.now})

	for i := 0; i < 30; i++ {
		if i > 0 {
			clock.advance(time.Second / 30)
		}
		is.True(g.Admit(clock.now()))
		g.Record(clock.now())
	}

	assert.InDelta(t, 30, g.CurrentFPS(), 3)
}

func TestCurrentFPSIsZeroWithoutSamples(t *testing.T) {
	is := is.New(t)
	g := governor.New(governor.Options{})
	is.Equal(g.CurrentFPS(), 0.0)
	g.Record(time.Now())
	is.Equal(g.CurrentFPS(), 0.0)
}

func TestCurrentFPSFollowsRateChangeWithinOneSecond(t *testing.T) {
	clock := newClock()
	g := governor.New(governor.Options{Now: clock.now})

	feed(g, clock, 30, 2*time.Second)
	assert.InDelta(t, 30, g.CurrentFPS(), 3)

	feed(g, clock, 15, time.Second+100*time.Millisecond)
	assert.InDelta(t, 15, g.CurrentFPS(), 1.5)
}

func TestCurrentFPSStableUnderJitter(t *testing.T) {
	clock := newClock()
	g := governor.New(governor.Options{Now: clock.now})
	r := rand.New(rand.NewSource(42))

	base := time.Second / 30
	for i := 0; i < 120; i++ {
		g.Record(clock.now())
		jitter := time.Duration((r.Float64()*0.2 - 0.1) * float64(base))
		clock.advance(base + jitter)
		if i > 30 {
			assert.InDelta(t, 30, g.CurrentFPS(), 3)
		}
	}
}

func TestCurrentFPSDecaysAfterFramesStop(t *testing.T) {
	is := is.New(t)
	clock := newClock()
	g := governor.New(governor.Options{Now: clock.now})

	feed(g, clock, 30, time.Second)
	clock.advance(2 * time.Second)
	is.Equal(g.CurrentFPS(), 0.0)
}

func TestAdmitThrottlesToTargetRate(t *testing.T) {
	clock := newClock()
	g := governor.New(governor.Options{TargetFPS: 10, Now: clock.now})

	admitted, total := feed(g, clock, 50, 3*time.Second)

	assert.Equal(t, 150, total)
	assert.Equal(t, 30, admitted)
	assert.InDelta(t, 10, g.CurrentFPS(), 1)
	assert.Equal(t, uint64(total-admitted), g.Skipped())
}

func TestAdmitWithoutTargetNeverSkips(t *testing.T) {
	is := is.New(t)
	clock := newClock()
	g := governor.New(governor.Options{Now: clock.now})

	admitted, total := feed(g, clock, 100, time.Second)
	is.Equal(admitted, total)
	is.Equal(g.Skipped(), uint64(0))
}

func TestResetClearsSamples(t *testing.T) {
	is := is.New(t)
	clock := newClock()
	g := governor.New(governor.Options{TargetFPS: 5, Now: clock.now})
	feed(g, clock, 30, time.Second)

	g.Reset()
	is.Equal(g.CurrentFPS(), 0.0)
	is.Equal(g.Skipped(), uint64(0))
	is.True(g.Admit(clock.now()))
}
