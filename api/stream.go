package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/songshake/shakesync/errors"
	"github.com/songshake/shakesync/job"
)

type wsDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

func newDialer(timeout time.Duration) wsDialer {
	return &websocket.Dialer{HandshakeTimeout: timeout}
}

// JobStream is one push channel: a long-lived, server-initiated, one-way
// message stream scoped to a single job id.
type JobStream struct {
	jobID     string
	conn      *websocket.Conn
	closeOnce sync.Once
	log       *zap.SugaredLogger
}

// StreamJob opens the push channel for a job. Messages are partial-Job JSON
// deltas; the server closes the stream after sending a terminal status.
func (c *Client) StreamJob(ctx context.Context, jobID string) (*JobStream, error) {
	wsURL := httpToWS(c.baseURL) + fmt.Sprintf("/jobs/%s/stream", jobID)

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, errors.Wrapf(err, "failed to open push channel for job %s", jobID)
	}

	return &JobStream{
		jobID: jobID,
		conn:  conn,
		log:   c.log.With("job_id", jobID),
	}, nil
}

// Next blocks until the next well-formed delta arrives. Malformed frames
// are dropped with a diagnostic; a single bad message must not tear down an
// otherwise healthy stream. Transport errors are returned to the caller.
func (s *JobStream) Next() (job.Update, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return job.Update{}, errors.Wrapf(err, "push channel for job %s closed", s.jobID)
		}

		var u job.Update
		if err := json.Unmarshal(data, &u); err != nil {
			s.log.Warnw("Dropping malformed push message", "error", err)
			continue
		}
		if u.Status != nil && !job.IsValidStatus(string(*u.Status)) {
			s.log.Warnw("Dropping push message with unknown status",
				"status", string(*u.Status))
			continue
		}
		return u, nil
	}
}

// Close tears down the connection. Safe to call more than once and safe to
// call concurrently with a blocked Next (the read unblocks with an error).
func (s *JobStream) Close() error {
	s.closeOnce.Do(func() {
		s.conn.Close()
	})
	return nil
}

// JobID returns the id the stream is scoped to.
func (s *JobStream) JobID() string {
	return s.jobID
}

// httpToWS converts an http(s) base URL into its ws(s) counterpart.
func httpToWS(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return u
	}
}
