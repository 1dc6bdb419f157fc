package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/songshake/shakesync/job"
)

// Reconciler periodically fetches the authoritative job list and feeds it to
// the registry. Poll failures are logged and leave the registry unchanged;
// stale-but-present data beats an error state.
//
// Out-of-cycle fetches (Kick, KickAfter) are coalesced through a buffered
// channel and rate limited so a burst of terminal push events cannot
// stampede the list endpoint.
type Reconciler struct {
	backend  Backend
	registry *job.Registry
	interval time.Duration
	limiter  *rate.Limiter
	log      *zap.SugaredLogger

	kicks chan struct{}

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	timers  map[*time.Timer]struct{}
}

// NewReconciler creates a reconciler polling at the given interval.
func NewReconciler(backend Backend, registry *job.Registry, interval time.Duration, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		backend:  backend,
		registry: registry,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(500*time.Millisecond), 3),
		log:      log,
		kicks:    make(chan struct{}, 1),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Start begins the poll loop with an immediate first fetch. Idempotent.
func (r *Reconciler) Start(parent context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(parent)

	r.wg.Add(1)
	go r.run()
	r.log.Debugw("Reconciliation poller started", "interval", r.interval)
}

// Stop tears down the loop and any pending delayed kicks. Idempotent, and
// safe to call while a fetch is in flight: the fetch's context is cancelled
// and its result discarded by the failure path.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.cancel()
	for t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[*time.Timer]struct{})
	r.mu.Unlock()

	r.wg.Wait()
	r.log.Debugw("Reconciliation poller stopped")
}

// Kick requests an out-of-cycle fetch. Non-blocking; concurrent kicks
// coalesce into one.
func (r *Reconciler) Kick() {
	select {
	case r.kicks <- struct{}{}:
	default:
	}
}

// KickAfter schedules a Kick after the given delay. Used to pick up the
// authoritative partition move shortly after a terminal push event or a
// cancel acknowledgement. Pending timers are torn down by Stop; fired ones
// drop out of tracking on their own.
func (r *Reconciler) KickAfter(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.mu.Lock()
		delete(r.timers, t)
		r.mu.Unlock()
		r.Kick()
	})
	r.timers[t] = struct{}{}
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.fetch()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.fetch()
		case <-r.kicks:
			if !r.limiter.Allow() {
				r.log.Debugw("Skipping kicked fetch, rate limited")
				continue
			}
			r.fetch()
		}
	}
}

// fetch pulls a snapshot and hands it to the registry. On failure the
// registry keeps its last known state.
func (r *Reconciler) fetch() {
	snap, err := r.backend.ListJobs(r.ctx)
	if err != nil {
		r.log.Warnw("Job list fetch failed, keeping last known state", "error", err)
		return
	}
	r.registry.UpsertFromPoll(snap)
}
