package job

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry is the canonical client-side store of job state. It reconciles
// two out-of-band sources of truth:
//
//   - poll snapshots are authoritative for membership and partitioning
//     (UpsertFromPoll replaces both partitions wholesale), and
//   - push deltas are authoritative for in-flight field values until a job
//     turns terminal (ApplyPushUpdate shallow-merges into the active record).
//
// A job id appears in at most one partition at a time, and once a job sits
// in history no push update may resurrect it.
//
// The Registry never fails; only its callers (poller, stream manager) can
// fail to populate it.
type Registry struct {
	mu          sync.RWMutex
	active      []Job
	history     []Job
	byPlaylist  map[string]string // playlist id -> most recent active job id
	subscribers map[string]chan<- Snapshot
	log         *zap.SugaredLogger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.SugaredLogger) *Registry {
	return &Registry{
		byPlaylist:  make(map[string]string),
		subscribers: make(map[string]chan<- Snapshot),
		log:         log,
	}
}

// UpsertFromPoll replaces both partitions with the poll result. The poll is
// authoritative for which jobs exist and which partition they are in.
func (r *Registry) UpsertFromPoll(snap Snapshot) {
	r.mu.Lock()
	r.active = append([]Job(nil), snap.Active...)
	r.history = append([]Job(nil), snap.History...)
	r.rebuildIndexLocked()
	r.mu.Unlock()
	r.notify()
}

// ApplyPushUpdate merges a push delta into the matching active record.
// If the id is unknown, the delta is appended as a new active record (the
// push connection's first message can arrive before the next poll refresh).
// If the id already resides in history the delta is dropped: the poll has
// spoken, and terminal jobs never move back to active.
func (r *Registry) ApplyPushUpdate(jobID string, u Update) {
	if jobID == "" {
		return
	}

	r.mu.Lock()
	for i := range r.history {
		if r.history[i].ID == jobID {
			r.mu.Unlock()
			r.log.Debugw("Dropping push update for job already in history",
				"job_id", jobID)
			return
		}
	}

	found := false
	for i := range r.active {
		if r.active[i].ID == jobID {
			u.merge(&r.active[i])
			found = true
			break
		}
	}
	if !found {
		j := Job{ID: jobID, Status: StatusPending}
		u.merge(&j)
		r.active = append(r.active, j)
	}
	r.rebuildIndexLocked()
	r.mu.Unlock()
	r.notify()
}

// AddActive inserts a freshly created job into the active partition,
// replacing any stale record with the same id.
func (r *Registry) AddActive(j Job) {
	r.mu.Lock()
	replaced := false
	for i := range r.active {
		if r.active[i].ID == j.ID {
			r.active[i] = j
			replaced = true
			break
		}
	}
	if !replaced {
		r.active = append(r.active, j)
	}
	r.rebuildIndexLocked()
	r.mu.Unlock()
	r.notify()
}

// Get returns the job with the given id from either partition.
func (r *Registry) Get(jobID string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.active {
		if r.active[i].ID == jobID {
			return r.active[i], true
		}
	}
	for i := range r.history {
		if r.history[i].ID == jobID {
			return r.history[i], true
		}
	}
	return Job{}, false
}

// LookupByPlaylist returns the most recently known active job for the
// playlist, if any.
func (r *Registry) LookupByPlaylist(playlistID string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPlaylist[playlistID]
	if !ok {
		return Job{}, false
	}
	for i := range r.active {
		if r.active[i].ID == id {
			return r.active[i], true
		}
	}
	return Job{}, false
}

// Active returns a copy of the active partition.
func (r *Registry) Active() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Job(nil), r.active...)
}

// History returns a copy of the history partition.
func (r *Registry) History() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Job(nil), r.history...)
}

// Snapshot returns a copy of both partitions.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// HasActive reports whether any job currently sits in the active partition.
func (r *Registry) HasActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active) > 0
}

// Subscribe registers a channel to receive a snapshot after every mutation.
// Sends are non-blocking: a slow subscriber misses intermediate snapshots
// rather than stalling the registry. Returns a registration id for
// Unsubscribe.
func (r *Registry) Subscribe(ch chan<- Snapshot) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.subscribers[id] = ch
	r.mu.Unlock()
	return id
}

// Unsubscribe removes a subscriber registration. Unknown ids are a no-op.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	delete(r.subscribers, id)
	r.mu.Unlock()
}

func (r *Registry) notify() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snapshotLocked()
	for _, ch := range r.subscribers {
		select {
		case ch <- snap:
		default:
			// Subscriber buffer full - it will catch up on the next send.
		}
	}
}

func (r *Registry) snapshotLocked() Snapshot {
	return Snapshot{
		Active:  append([]Job(nil), r.active...),
		History: append([]Job(nil), r.history...),
	}
}

// rebuildIndexLocked recomputes the playlist lookup from the active
// partition. Later records win so the most recent job shadows older ones.
func (r *Registry) rebuildIndexLocked() {
	index := make(map[string]string, len(r.active))
	for i := range r.active {
		if r.active[i].PlaylistID != "" {
			index[r.active[i].PlaylistID] = r.active[i].ID
		}
	}
	r.byPlaylist = index
}
