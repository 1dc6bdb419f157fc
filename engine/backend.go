// Package engine owns the synchronization loop between the backend job API
// and the client-side job Registry: the reconciliation poller, the per-job
// push channel manager, and the cancellation coordinator.
package engine

import (
	"context"

	"github.com/songshake/shakesync/api"
	"github.com/songshake/shakesync/job"
)

// JobStream is a push channel handle as the engine sees it.
type JobStream interface {
	Next() (job.Update, error)
	Close() error
}

// Backend is the slice of the job API the engine consumes.
type Backend interface {
	ListJobs(ctx context.Context) (job.Snapshot, error)
	CreateJob(ctx context.Context, req api.CreateJobRequest) (*job.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	StreamJob(ctx context.Context, jobID string) (JobStream, error)
}

// apiBackend adapts *api.Client to the Backend interface; the only friction
// is the concrete stream return type.
type apiBackend struct {
	*api.Client
}

// NewBackend wraps an api.Client for use by the engine.
func NewBackend(c *api.Client) Backend {
	return &apiBackend{Client: c}
}

func (b *apiBackend) StreamJob(ctx context.Context, jobID string) (JobStream, error) {
	return b.Client.StreamJob(ctx, jobID)
}
