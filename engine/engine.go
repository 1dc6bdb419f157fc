package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/songshake/shakesync/api"
	"github.com/songshake/shakesync/errors"
	"github.com/songshake/shakesync/job"
)

// UsageDriver is started while any job is active and stopped when the
// active partition empties. Both methods must be idempotent.
type UsageDriver interface {
	Start()
	Stop()
}

// Config holds the engine's timing knobs.
type Config struct {
	// PollInterval is the reconciliation poll period.
	PollInterval time.Duration
	// ReconcileDelay is the lag between a terminal push event and the
	// fetch that moves the job to history.
	ReconcileDelay time.Duration
	// CancelConfirmDelay is the lag between a cancel acknowledgement and
	// the confirming fetch.
	CancelConfirmDelay time.Duration
}

// DefaultConfig returns the intervals used by the UI-facing deployment.
func DefaultConfig() Config {
	return Config{
		PollInterval:       10 * time.Second,
		ReconcileDelay:     1500 * time.Millisecond,
		CancelConfirmDelay: 1500 * time.Millisecond,
	}
}

// Engine wires the registry, reconciliation poller, push channel manager and
// cancellation coordinator together, and drives the usage poller lifecycle
// from active-job presence. All UI views read from the one registry.
type Engine struct {
	registry   *job.Registry
	backend    Backend
	reconciler *Reconciler
	streams    *StreamManager
	canceller  *Canceller
	usage      UsageDriver
	log        *zap.SugaredLogger

	mu        sync.Mutex
	started   bool
	subID     string
	updates   chan job.Snapshot
	wasActive bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New assembles an engine. usage may be nil when no usage display exists.
func New(backend Backend, usage UsageDriver, cfg Config, log *zap.SugaredLogger) *Engine {
	registry := job.NewRegistry(log)
	reconciler := NewReconciler(backend, registry, cfg.PollInterval, log)
	streams := NewStreamManager(backend, registry, reconciler, cfg.ReconcileDelay, log)
	canceller := NewCanceller(backend, registry, reconciler, streams, cfg.CancelConfirmDelay, log)

	return &Engine{
		registry:   registry,
		backend:    backend,
		reconciler: reconciler,
		streams:    streams,
		canceller:  canceller,
		usage:      usage,
		log:        log,
	}
}

// Start brings the engine up: stream manager first so no snapshot is
// missed, then the poller. Idempotent.
func (e *Engine) Start(parent context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.updates = make(chan job.Snapshot, 16)
	e.subID = e.registry.Subscribe(e.updates)
	e.wasActive = false
	e.mu.Unlock()

	e.wg.Add(1)
	go e.watchActivity(ctx)

	e.streams.Start(ctx)
	e.reconciler.Start(ctx)
	e.log.Infow("Sync engine started")
}

// Stop tears everything down in reverse order. Idempotent; all component
// teardowns are themselves idempotent so a racing Stop is harmless.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.registry.Unsubscribe(e.subID)
	e.cancel()
	e.mu.Unlock()

	e.reconciler.Stop()
	e.streams.Stop()
	e.wg.Wait()
	if e.usage != nil {
		e.usage.Stop()
	}
	e.log.Infow("Sync engine stopped")
}

// watchActivity starts and stops the usage driver on transitions of
// "any job active" derived from registry notifications.
func (e *Engine) watchActivity(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-e.updates:
			active := len(snap.Active) > 0
			e.mu.Lock()
			changed := active != e.wasActive
			e.wasActive = active
			e.mu.Unlock()
			if !changed || e.usage == nil {
				continue
			}
			if active {
				e.usage.Start()
			} else {
				e.usage.Stop()
			}
		}
	}
}

// CreateJob asks the backend for a new enrichment job and, on success,
// inserts the returned pending record into the active partition so the UI
// sees it immediately; the resulting registry notification opens its push
// channel. A backend conflict (active job already exists for the playlist)
// is passed through for the caller to surface.
func (e *Engine) CreateJob(ctx context.Context, req api.CreateJobRequest) (*job.Job, error) {
	created, err := e.backend.CreateJob(ctx, req)
	if err != nil {
		if errors.IsConflict(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "failed to create job for playlist %s", req.PlaylistID)
	}
	e.registry.AddActive(*created)
	e.log.Infow("Job created",
		"job_id", created.ID,
		"playlist_id", created.PlaylistID)
	return created, nil
}

// Cancel cancels a job. See Canceller for the optimistic-transition rules.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	return e.canceller.Cancel(ctx, jobID)
}

// Registry exposes the canonical store for UI reads and subscriptions.
func (e *Engine) Registry() *job.Registry {
	return e.registry
}

// Refresh requests an out-of-cycle reconciliation fetch.
func (e *Engine) Refresh() {
	e.reconciler.Kick()
}
