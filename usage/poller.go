// Package usage polls the account-wide AI token/cost aggregate while jobs
// are running and raises a short-lived "glow" signal when the numbers move.
package usage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/songshake/shakesync/job"
)

// Fetcher fetches the current usage aggregate. api.Client.FetchUsage
// satisfies this.
type Fetcher func(ctx context.Context) (job.AIUsage, error)

// Poller is an idle → polling → idle state machine. Start is a no-op while
// polling; Stop clears the timer, takes one final settling fetch and returns
// to idle. Fetch failures are swallowed: the metric display is best-effort
// and must never destabilize anything else.
type Poller struct {
	fetch      Fetcher
	interval   time.Duration
	glowWindow time.Duration
	log        *zap.SugaredLogger

	mu        sync.Mutex
	polling   bool
	seeded    bool
	current   job.AIUsage
	glowing   bool
	glowTimer *time.Timer
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewPoller creates a poller. interval is the fetch period while polling;
// glowWindow is how long the changed signal stays up after a change.
func NewPoller(fetch Fetcher, interval, glowWindow time.Duration, log *zap.SugaredLogger) *Poller {
	return &Poller{
		fetch:      fetch,
		interval:   interval,
		glowWindow: glowWindow,
		log:        log,
	}
}

// Start moves to polling with an immediate fetch. Calling Start twice in a
// row yields exactly one active timer.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.polling {
		p.mu.Unlock()
		return
	}
	p.polling = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)
	p.log.Debugw("Usage poller started", "interval", p.interval)
}

// Stop clears the interval, performs one final fetch to capture the settled
// value, and returns to idle. No-op when already idle.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.polling {
		p.mu.Unlock()
		return
	}
	p.polling = false
	p.cancel()
	if p.glowTimer != nil {
		p.glowTimer.Stop()
	}
	p.glowing = false
	p.mu.Unlock()

	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.fetchOnce(ctx)
	p.log.Debugw("Usage poller stopped")
}

// Polling reports whether the poller is currently in the polling state.
func (p *Poller) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polling
}

// Snapshot returns the last seen usage and whether the glow signal is up.
func (p *Poller) Snapshot() (job.AIUsage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.glowing
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	p.fetchOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fetchOnce(ctx)
		}
	}
}

// fetchOnce pulls the aggregate and arms the glow signal when either
// counter moved. Overlapping changes re-arm the same timer rather than
// queueing. The settling fetch after Stop takes the value without pulsing:
// glow is a polling-state signal and must stay down while idle.
func (p *Poller) fetchOnce(ctx context.Context) {
	usage, err := p.fetch(ctx)
	if err != nil {
		p.log.Debugw("Usage fetch failed", "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	changed := p.seeded && usage != p.current
	p.current = usage
	p.seeded = true

	if !changed || !p.polling {
		return
	}
	p.glowing = true
	if p.glowTimer == nil {
		p.glowTimer = time.AfterFunc(p.glowWindow, p.clearGlow)
	} else {
		p.glowTimer.Reset(p.glowWindow)
	}
}

func (p *Poller) clearGlow() {
	p.mu.Lock()
	p.glowing = false
	p.mu.Unlock()
}
