// Package dashboard refreshes the playlist collection on a self-adjusting
// interval: fast while any playlist is being processed, slow otherwise.
package dashboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/songshake/shakesync/api"
)

// Lister fetches the playlist collection. api.Client.ListPlaylists
// satisfies this.
type Lister func(ctx context.Context) ([]api.Playlist, error)

// Poller is a self-rescheduling loop, not a fixed-interval ticker: the
// fast-or-slow decision is re-evaluated after every fetch against the
// freshly fetched collection, then the next timer is armed.
type Poller struct {
	list Lister
	fast time.Duration
	slow time.Duration
	log  *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	items   []api.Playlist
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	changed chan struct{}
}

// NewPoller creates a dashboard poller with the given fast/slow intervals.
func NewPoller(list Lister, fast, slow time.Duration, log *zap.SugaredLogger) *Poller {
	return &Poller{
		list:    list,
		fast:    fast,
		slow:    slow,
		log:     log,
		changed: make(chan struct{}, 1),
	}
}

// Start begins the refresh loop with an immediate fetch. Idempotent.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(ctx)
	p.log.Debugw("Dashboard poller started", "fast", p.fast, "slow", p.slow)
}

// Stop tears down the loop. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Debugw("Dashboard poller stopped")
}

// Snapshot returns a copy of the last fetched collection.
func (p *Poller) Snapshot() []api.Playlist {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]api.Playlist(nil), p.items...)
}

// Processing reports whether any known playlist is flagged as running.
func (p *Poller) Processing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return anyRunning(p.items)
}

// Changed signals after every successful refresh. Non-blocking, coalescing.
func (p *Poller) Changed() <-chan struct{} {
	return p.changed
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		p.fetchOnce(ctx)

		// Decide the next interval from the state we just fetched,
		// not from whatever was known when this cycle was scheduled.
		interval := p.slow
		if p.Processing() {
			interval = p.fast
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) fetchOnce(ctx context.Context) {
	items, err := p.list(ctx)
	if err != nil {
		p.log.Warnw("Playlist refresh failed, keeping last known state", "error", err)
		return
	}

	p.mu.Lock()
	p.items = items
	p.mu.Unlock()

	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func anyRunning(items []api.Playlist) bool {
	for i := range items {
		if items[i].IsRunning {
			return true
		}
	}
	return false
}
