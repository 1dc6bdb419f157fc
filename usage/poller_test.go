package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/songshake/shakesync/errors"
	"github.com/songshake/shakesync/job"
)

// usageSource is a scriptable Fetcher.
type usageSource struct {
	mu    sync.Mutex
	value job.AIUsage
	err   error
	calls int
}

func (s *usageSource) fetch(ctx context.Context) (job.AIUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return job.AIUsage{}, s.err
	}
	return s.value, nil
}

func (s *usageSource) set(u job.AIUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = u
}

func (s *usageSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *usageSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestPoller(src *usageSource, interval, glow time.Duration) *Poller {
	return NewPoller(src.fetch, interval, glow, zap.NewNop().Sugar())
}

func TestPollerFetchesImmediatelyOnStart(t *testing.T) {
	src := &usageSource{}
	src.set(job.AIUsage{InputTokens: 100, OutputTokens: 20, Cost: 0.005})
	p := newTestPoller(src, time.Hour, time.Hour)
	defer p.Stop()

	p.Start()
	require.True(t, p.Polling())

	require.Eventually(t, func() bool {
		u, _ := p.Snapshot()
		return u.InputTokens == 100
	}, time.Second, 5*time.Millisecond)
}

func TestPollerStartIsIdempotent(t *testing.T) {
	src := &usageSource{}
	p := newTestPoller(src, 10*time.Millisecond, time.Hour)
	defer p.Stop()

	p.Start()
	p.Start()
	p.Start()

	require.Eventually(t, func() bool { return src.count() >= 3 }, time.Second, 5*time.Millisecond)
	before := src.count()
	time.Sleep(35 * time.Millisecond)
	after := src.count()

	// One timer, roughly one fetch per interval. Three stacked timers would
	// triple the rate.
	require.LessOrEqual(t, after-before, 6)
}

func TestGlowRaisesOnChangeNotOnSeed(t *testing.T) {
	src := &usageSource{}
	src.set(job.AIUsage{InputTokens: 100})
	p := newTestPoller(src, 10*time.Millisecond, time.Hour)
	defer p.Stop()

	p.Start()
	require.Eventually(t, func() bool {
		u, _ := p.Snapshot()
		return u.InputTokens == 100
	}, time.Second, 5*time.Millisecond)

	// The first observation seeds the baseline without glowing.
	_, glowing := p.Snapshot()
	require.False(t, glowing)

	src.set(job.AIUsage{InputTokens: 150, Cost: 0.002})
	require.Eventually(t, func() bool {
		_, glowing := p.Snapshot()
		return glowing
	}, time.Second, 5*time.Millisecond)
}

func TestGlowClearsAfterWindow(t *testing.T) {
	src := &usageSource{}
	src.set(job.AIUsage{InputTokens: 100})
	p := newTestPoller(src, 10*time.Millisecond, 30*time.Millisecond)
	defer p.Stop()

	p.Start()
	require.Eventually(t, func() bool {
		u, _ := p.Snapshot()
		return u.InputTokens == 100
	}, time.Second, 5*time.Millisecond)

	src.set(job.AIUsage{InputTokens: 150})
	require.Eventually(t, func() bool {
		_, glowing := p.Snapshot()
		return glowing
	}, time.Second, 5*time.Millisecond)

	// With the value stable again the glow decays.
	require.Eventually(t, func() bool {
		_, glowing := p.Snapshot()
		return !glowing
	}, time.Second, 5*time.Millisecond)
}

func TestFetchFailureKeepsLastValue(t *testing.T) {
	src := &usageSource{}
	src.set(job.AIUsage{InputTokens: 100, Cost: 0.001})
	p := newTestPoller(src, 10*time.Millisecond, time.Hour)
	defer p.Stop()

	p.Start()
	require.Eventually(t, func() bool {
		u, _ := p.Snapshot()
		return u.InputTokens == 100
	}, time.Second, 5*time.Millisecond)

	src.setErr(errors.New("backend down"))
	time.Sleep(35 * time.Millisecond)

	u, glowing := p.Snapshot()
	require.Equal(t, 100, u.InputTokens)
	require.False(t, glowing, "a failed fetch is not a change")
}

func TestStopTakesSettlingFetch(t *testing.T) {
	src := &usageSource{}
	src.set(job.AIUsage{InputTokens: 100})
	p := newTestPoller(src, time.Hour, time.Hour)

	p.Start()
	require.Eventually(t, func() bool {
		u, _ := p.Snapshot()
		return u.InputTokens == 100
	}, time.Second, 5*time.Millisecond)

	// The value moves while the poller is being shut down; the final fetch
	// captures the settled aggregate.
	src.set(job.AIUsage{InputTokens: 250, Cost: 0.01})
	p.Stop()

	require.False(t, p.Polling())
	u, glowing := p.Snapshot()
	require.Equal(t, 250, u.InputTokens)
	require.False(t, glowing, "glow is cleared on stop")
}

func TestSettlingFetchNeverGlowsWhileIdle(t *testing.T) {
	src := &usageSource{}
	src.set(job.AIUsage{InputTokens: 100})
	p := newTestPoller(src, time.Hour, 20*time.Millisecond)

	p.Start()
	require.Eventually(t, func() bool {
		u, _ := p.Snapshot()
		return u.InputTokens == 100
	}, time.Second, 5*time.Millisecond)

	src.set(job.AIUsage{InputTokens: 250})
	p.Stop()

	u, glowing := p.Snapshot()
	require.Equal(t, 250, u.InputTokens, "settling fetch still takes the value")
	require.False(t, glowing, "settling fetch must not pulse while idle")

	// The settled value seeded the baseline, so the next polling cycle sees
	// no change either.
	p.Start()
	defer p.Stop()
	require.Eventually(t, func() bool { return src.count() >= 3 }, time.Second, 5*time.Millisecond)
	_, glowing = p.Snapshot()
	require.False(t, glowing)
}

func TestStopIsIdempotent(t *testing.T) {
	src := &usageSource{}
	p := newTestPoller(src, time.Hour, time.Hour)

	p.Stop() // idle, no-op
	require.Equal(t, 0, src.count())

	p.Start()
	require.Eventually(t, func() bool { return src.count() == 1 }, time.Second, 5*time.Millisecond)
	p.Stop()
	n := src.count()
	p.Stop()
	require.Equal(t, n, src.count(), "second stop must not fetch again")
}

func TestRestartAfterStop(t *testing.T) {
	src := &usageSource{}
	p := newTestPoller(src, time.Hour, time.Hour)

	p.Start()
	p.Stop()
	p.Start()
	defer p.Stop()

	require.True(t, p.Polling())
}
