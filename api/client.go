// Package api is the HTTP and WebSocket client for the Song Shake backend
// job API. It is consumed by the sync engine; it defines no server-side
// behaviour of its own.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/songshake/shakesync/errors"
	"github.com/songshake/shakesync/job"
)

// Client talks to the backend job API. Identity is supplied up front as a
// bearer token; who the current user is remains an opaque precondition.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  wsDialer
	log     *zap.SugaredLogger
}

// NewClient creates a backend client. baseURL is the http(s) root of the
// API, without a trailing slash.
func NewClient(baseURL, token string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		dialer:  newDialer(timeout),
		log:     log,
	}
}

// CreateJobRequest is the payload for creating a new enrichment job.
type CreateJobRequest struct {
	PlaylistID   string `json:"playlist_id"`
	APIKey       string `json:"api_key,omitempty"`
	Wipe         bool   `json:"wipe,omitempty"`
	PlaylistName string `json:"playlist_name,omitempty"`
}

// Playlist is one entry of the dashboard collection, with the backend's
// embedded processing flags.
type Playlist struct {
	PlaylistID string `json:"playlistId"`
	Title      string `json:"title"`
	// Count is either a number or a display string depending on which
	// backend code path produced the playlist. Kept raw; display only.
	Count         json.RawMessage `json:"count,omitempty"`
	Description   string          `json:"description,omitempty"`
	LastProcessed string          `json:"last_processed,omitempty"`
	LastStatus    string          `json:"last_status,omitempty"`
	IsRunning     bool            `json:"is_running"`
	ActiveTaskID  string          `json:"active_task_id,omitempty"`
}

// ListJobs fetches the authoritative job list snapshot.
func (c *Client) ListJobs(ctx context.Context) (job.Snapshot, error) {
	var snap job.Snapshot
	if err := c.getJSON(ctx, "/jobs", &snap); err != nil {
		return job.Snapshot{}, errors.Wrap(err, "failed to list jobs")
	}
	return snap, nil
}

// CreateJob asks the backend to start a new enrichment job. The backend
// rejects the request with a conflict when an active job already exists for
// the playlist.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*job.Job, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode create request")
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "create job request failed")
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var created job.Job
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, errors.Wrap(err, "failed to decode created job")
	}
	return &created, nil
}

// CancelJob requests cancellation of a job. The response only acknowledges
// the request; the actual terminal status is learned via list or stream.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	path := fmt.Sprintf("/jobs/%s/cancel", jobID)
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "cancel request for job %s failed", jobID)
	}
	defer resp.Body.Close()

	return c.checkStatus(resp)
}

// FetchUsage fetches the account-wide AI usage aggregate.
func (c *Client) FetchUsage(ctx context.Context) (job.AIUsage, error) {
	var usage job.AIUsage
	if err := c.getJSON(ctx, "/jobs/ai-usage/current", &usage); err != nil {
		return job.AIUsage{}, errors.Wrap(err, "failed to fetch AI usage")
	}
	return usage, nil
}

// ListPlaylists fetches the playlist collection with processing flags.
func (c *Client) ListPlaylists(ctx context.Context) ([]Playlist, error) {
	var playlists []Playlist
	if err := c.getJSON(ctx, "/playlists", &playlists); err != nil {
		return nil, errors.Wrap(err, "failed to list playlists")
	}
	return playlists, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build %s %s request", method, path)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "GET %s failed", path)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "failed to decode %s response", path)
	}
	return nil
}

// checkStatus maps backend status codes onto the engine's sentinel errors.
func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(errors.ErrNotFound, "%s %s", resp.Request.Method, resp.Request.URL.Path)
	case resp.StatusCode == http.StatusConflict:
		return errors.Wrapf(errors.ErrConflict, "%s %s", resp.Request.Method, resp.Request.URL.Path)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errors.Wrapf(errors.ErrUnauthorized, "%s %s", resp.Request.Method, resp.Request.URL.Path)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Newf("%s %s returned %d: %s",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, string(body))
	}
}
