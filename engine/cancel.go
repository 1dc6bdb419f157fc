package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/songshake/shakesync/errors"
	"github.com/songshake/shakesync/job"
)

// Canceller coordinates optimistic cancellation. The client never claims
// authority over the final state: the server may complete the job
// concurrently, and the next poll snapshot resolves the race.
type Canceller struct {
	backend      Backend
	registry     *job.Registry
	reconciler   *Reconciler
	streams      *StreamManager
	confirmDelay time.Duration
	log          *zap.SugaredLogger
}

// NewCanceller creates a canceller. confirmDelay is how long after a
// successful cancel the confirming reconciliation fetch is scheduled.
func NewCanceller(backend Backend, registry *job.Registry, reconciler *Reconciler, streams *StreamManager, confirmDelay time.Duration, log *zap.SugaredLogger) *Canceller {
	return &Canceller{
		backend:      backend,
		registry:     registry,
		reconciler:   reconciler,
		streams:      streams,
		confirmDelay: confirmDelay,
		log:          log,
	}
}

// Cancel issues the remote cancel, then applies the optimistic local
// transition and schedules the confirming fetch. On remote failure no
// optimistic state is applied; an immediate fetch restores ground truth and
// the failure is surfaced to the caller.
func (c *Canceller) Cancel(ctx context.Context, jobID string) error {
	if err := c.backend.CancelJob(ctx, jobID); err != nil {
		c.log.Warnw("Cancel request rejected", "job_id", jobID, "error", err)
		c.reconciler.Kick()
		return errors.MarkCancelFailed(err, "job "+jobID)
	}

	c.streams.Retire(jobID)

	status := job.StatusCancelled
	msg := "cancelling…"
	c.registry.ApplyPushUpdate(jobID, job.Update{Status: &status, Message: &msg})

	c.log.Infow("Cancel requested, awaiting authoritative state", "job_id", jobID)
	c.reconciler.KickAfter(c.confirmDelay)
	return nil
}
