package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/songshake/shakesync/errors"
	"github.com/songshake/shakesync/job"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", 5*time.Second, zap.NewNop().Sugar())
}

func TestListJobsParsesPartitions(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/jobs", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"active": [{"id": "J1", "playlist_id": "P1", "status": "running", "current": 5, "total": 50}],
			"history": [{"id": "J0", "playlist_id": "P0", "status": "completed",
				"errors": [{"track_title": "Song A", "track_video_id": "v123", "message": "no match"}],
				"ai_usage": {"input_tokens": 1200, "output_tokens": 340, "cost": 0.0042}}]
		}`))
	}))

	snap, err := c.ListJobs(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Active, 1)
	require.Equal(t, "J1", snap.Active[0].ID)
	require.Equal(t, job.StatusRunning, snap.Active[0].Status)
	require.Equal(t, 5, snap.Active[0].Current)

	require.Len(t, snap.History, 1)
	h := snap.History[0]
	require.Equal(t, job.StatusCompleted, h.Status)
	require.Len(t, h.Errors, 1)
	require.Equal(t, "Song A", h.Errors[0].TrackTitle)
	require.Equal(t, "v123", h.Errors[0].TrackVideoID)
	require.Equal(t, 1200, h.AIUsage.InputTokens)
	require.InDelta(t, 0.0042, h.AIUsage.Cost, 1e-9)
}

func TestCreateJobSendsPayload(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/jobs", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req CreateJobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "P1", req.PlaylistID)
		require.True(t, req.Wipe)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "J1", "playlist_id": "P1", "status": "pending"}`))
	}))

	created, err := c.CreateJob(context.Background(), CreateJobRequest{
		PlaylistID: "P1",
		Wipe:       true,
	})
	require.NoError(t, err)
	require.Equal(t, "J1", created.ID)
	require.Equal(t, job.StatusPending, created.Status)
}

func TestCreateJobConflict(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	_, err := c.CreateJob(context.Background(), CreateJobRequest{PlaylistID: "P1"})
	require.Error(t, err)
	require.True(t, errors.IsConflict(err))
}

func TestCancelJobHitsEndpoint(t *testing.T) {
	var gotPath string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.CancelJob(context.Background(), "J1"))
	require.Equal(t, "/jobs/J1/cancel", gotPath)
}

func TestCancelJobNotFound(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	err := c.CancelJob(context.Background(), "missing")
	require.Error(t, err)
	require.True(t, errors.IsNotFound(err))
}

func TestFetchUsage(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jobs/ai-usage/current", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"input_tokens": 5000, "output_tokens": 1200, "cost": 0.015}`))
	}))

	usage, err := c.FetchUsage(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5000, usage.InputTokens)
	require.Equal(t, 1200, usage.OutputTokens)
	require.InDelta(t, 0.015, usage.Cost, 1e-9)
}

func TestListPlaylistsTolerantCount(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/playlists", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		// count arrives as a number from one backend path and as a display
		// string from another.
		w.Write([]byte(`[
			{"playlistId": "P1", "title": "Morning Mix", "count": 42, "is_running": true, "active_task_id": "J1"},
			{"playlistId": "P2", "title": "Deep Focus", "count": "100+", "last_status": "completed", "last_processed": "2026-08-30T12:00:00Z"}
		]`))
	}))

	playlists, err := c.ListPlaylists(context.Background())
	require.NoError(t, err)
	require.Len(t, playlists, 2)

	require.True(t, playlists[0].IsRunning)
	require.Equal(t, "J1", playlists[0].ActiveTaskID)
	require.JSONEq(t, `42`, string(playlists[0].Count))

	require.False(t, playlists[1].IsRunning)
	require.Equal(t, "completed", playlists[1].LastStatus)
	require.JSONEq(t, `"100+"`, string(playlists[1].Count))
}

func TestUnauthorizedMapsToSentinel(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.ListJobs(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrUnauthorized))
}

func TestUnexpectedStatusIncludesBody(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("backend exploded"))
	}))

	_, err := c.ListJobs(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
	require.Contains(t, err.Error(), "backend exploded")
}

func TestNoAuthHeaderWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"active": [], "history": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second, zap.NewNop().Sugar())
	_, err := c.ListJobs(context.Background())
	require.NoError(t, err)
}
