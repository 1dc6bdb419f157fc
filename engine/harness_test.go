package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/songshake/shakesync/api"
	"github.com/songshake/shakesync/errors"
	"github.com/songshake/shakesync/job"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func statusPtr(s job.Status) *job.Status { return &s }
func intPtr(n int) *int                  { return &n }

// fakeStream is a scriptable push channel.
type fakeStream struct {
	updates chan job.Update
	closed  chan struct{}
	once    sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		updates: make(chan job.Update, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeStream) Next() (job.Update, error) {
	select {
	case u := <-s.updates:
		return u, nil
	case <-s.closed:
		return job.Update{}, errors.New("stream closed")
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) push(u job.Update) {
	s.updates <- u
}

// fail simulates a transport error by closing the stream from the far side.
func (s *fakeStream) fail() {
	s.Close()
}

// fakeBackend is an in-memory job API.
type fakeBackend struct {
	mu        sync.Mutex
	snapshot  job.Snapshot
	listErr   error
	listCalls int

	created   *job.Job
	createErr error

	cancelErr error
	cancelled []string

	dialErr error
	dials   []string
	streams map[string]*fakeStream
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{streams: make(map[string]*fakeStream)}
}

func (b *fakeBackend) ListJobs(ctx context.Context) (job.Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return job.Snapshot{}, b.listErr
	}
	return b.snapshot, nil
}

func (b *fakeBackend) CreateJob(ctx context.Context, req api.CreateJobRequest) (*job.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return nil, b.createErr
	}
	return b.created, nil
}

func (b *fakeBackend) CancelJob(ctx context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelErr != nil {
		return b.cancelErr
	}
	b.cancelled = append(b.cancelled, jobID)
	return nil
}

func (b *fakeBackend) StreamJob(ctx context.Context, jobID string) (JobStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	s := newFakeStream()
	b.dials = append(b.dials, jobID)
	b.streams[jobID] = s
	return s, nil
}

func (b *fakeBackend) setSnapshot(snap job.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshot = snap
}

func (b *fakeBackend) setListErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listErr = err
}

func (b *fakeBackend) listCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

func (b *fakeBackend) dialCount(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, id := range b.dials {
		if id == jobID {
			n++
		}
	}
	return n
}

func (b *fakeBackend) stream(jobID string) *fakeStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[jobID]
}

func (b *fakeBackend) cancelledJobs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled...)
}
