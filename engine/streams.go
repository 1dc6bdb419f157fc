package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/songshake/shakesync/job"
)

// StreamManager keeps exactly one push connection open per job that the
// registry currently believes is pending or running, and none for anything
// else. It re-evaluates the wanted set after every registry mutation.
//
// There is no retry logic here. A dropped connection is simply untracked;
// the next reconciliation snapshot re-triggers ensure() if the job is still
// active, which makes the transport self-healing without backoff bookkeeping.
type StreamManager struct {
	backend        Backend
	registry       *job.Registry
	reconciler     *Reconciler
	reconcileDelay time.Duration
	log            *zap.SugaredLogger

	mu      sync.Mutex
	started bool
	conns   map[string]JobStream
	subID   string
	updates chan job.Snapshot
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamManager creates a manager. reconcileDelay is how long after a
// terminal push event the authoritative partition-move fetch is scheduled.
func NewStreamManager(backend Backend, registry *job.Registry, reconciler *Reconciler, reconcileDelay time.Duration, log *zap.SugaredLogger) *StreamManager {
	return &StreamManager{
		backend:        backend,
		registry:       registry,
		reconciler:     reconciler,
		reconcileDelay: reconcileDelay,
		log:            log,
		conns:          make(map[string]JobStream),
	}
}

// Start subscribes to the registry and begins managing connections.
// Idempotent.
func (m *StreamManager) Start(parent context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(parent)
	m.updates = make(chan job.Snapshot, 16)
	m.subID = m.registry.Subscribe(m.updates)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()

	// Pick up whatever is already in the registry.
	m.reconcile(m.registry.Snapshot())
}

// Stop unsubscribes and closes every tracked connection. Idempotent; read
// loops unblock when their connections close.
func (m *StreamManager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.registry.Unsubscribe(m.subID)
	m.cancel()
	for id, s := range m.conns {
		s.Close()
		delete(m.conns, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Debugw("Stream manager stopped")
}

// Retire closes and untracks the connection for a job id, if one exists.
// Idempotent; unknown ids are a no-op.
func (m *StreamManager) Retire(jobID string) {
	m.mu.Lock()
	s, ok := m.conns[jobID]
	if ok {
		delete(m.conns, jobID)
	}
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Tracked reports whether a connection is currently tracked for the id.
func (m *StreamManager) Tracked(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[jobID]
	return ok
}

func (m *StreamManager) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case snap := <-m.updates:
			m.reconcile(snap)
		}
	}
}

// reconcile aligns the connection set with the snapshot: one connection per
// pending/running active job, none for anything else.
func (m *StreamManager) reconcile(snap job.Snapshot) {
	want := make(map[string]bool, len(snap.Active))
	for _, j := range snap.Active {
		if j.Status == job.StatusPending || j.Status == job.StatusRunning {
			want[j.ID] = true
		}
	}

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	var open []string
	for id := range want {
		if _, ok := m.conns[id]; !ok {
			open = append(open, id)
		}
	}
	var drop []JobStream
	for id, s := range m.conns {
		if !want[id] {
			drop = append(drop, s)
			delete(m.conns, id)
		}
	}
	m.mu.Unlock()

	for _, s := range drop {
		s.Close()
	}
	for _, id := range open {
		m.ensure(id)
	}
}

// ensure opens and tracks a connection for the job unless one already
// exists. Dial failures are left to the next poll cycle.
func (m *StreamManager) ensure(jobID string) {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	if _, ok := m.conns[jobID]; ok {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	stream, err := m.backend.StreamJob(m.ctx, jobID)
	if err != nil {
		m.log.Debugw("Push channel dial failed, next poll will retry",
			"job_id", jobID, "error", err)
		return
	}

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		stream.Close()
		return
	}
	if _, ok := m.conns[jobID]; ok {
		// Lost the race with another ensure for the same id.
		m.mu.Unlock()
		stream.Close()
		return
	}
	m.conns[jobID] = stream
	m.mu.Unlock()

	m.wg.Add(1)
	go m.readLoop(jobID, stream)
}

// readLoop applies deltas until the stream errors or turns terminal.
// A terminal delta closes the connection and schedules the reconciliation
// fetch that performs the authoritative move to history.
func (m *StreamManager) readLoop(jobID string, stream JobStream) {
	defer m.wg.Done()

	for {
		u, err := stream.Next()
		if err != nil {
			// Transport error or deliberate close. Untrack silently;
			// the next poll cycle re-evaluates and reopens if needed.
			m.Retire(jobID)
			return
		}

		m.registry.ApplyPushUpdate(jobID, u)

		if u.Terminal() {
			m.Retire(jobID)
			m.reconciler.KickAfter(m.reconcileDelay)
			return
		}
	}
}
