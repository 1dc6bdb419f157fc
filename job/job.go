// Package job defines the client-side view of backend enrichment jobs and
// the Registry that owns it.
package job

// Status represents the current state of a job as reported by the backend.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true once no further transitions are valid for the job.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsValidStatus returns true if the status string is a known Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// AIUsage holds token and cost counters. Monotonically non-decreasing while
// the owning job is non-terminal; also used as the account-wide aggregate.
type AIUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// JobError is a single per-track failure recorded during a job. Item errors
// are data on an otherwise healthy job, not a client error.
type JobError struct {
	TrackTitle   string `json:"track_title,omitempty"`
	TrackVideoID string `json:"track_video_id,omitempty"`
	Message      string `json:"message"`
}

// Job is one unit of trackable asynchronous backend work.
// Field names follow the backend wire format.
type Job struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	PlaylistID   string     `json:"playlist_id"`
	PlaylistName string     `json:"playlist_name,omitempty"`
	Owner        string     `json:"owner,omitempty"`
	Status       Status     `json:"status"`
	Current      int        `json:"current"`
	Total        int        `json:"total"`
	Message      string     `json:"message,omitempty"`
	Errors       []JobError `json:"errors,omitempty"`
	AIUsage      AIUsage    `json:"ai_usage"`
	CreatedAt    string     `json:"created_at,omitempty"`
	UpdatedAt    string     `json:"updated_at,omitempty"`
}

// Snapshot is the authoritative job list as returned by the backend:
// membership and partitioning are exactly what the server says they are.
type Snapshot struct {
	Active  []Job `json:"active"`
	History []Job `json:"history"`
}

// Update is a partial-Job delta delivered over a push channel. Pointer
// fields distinguish "absent from the message" from zero values.
type Update struct {
	Status    *Status    `json:"status,omitempty"`
	Current   *int       `json:"current,omitempty"`
	Total     *int       `json:"total,omitempty"`
	Message   *string    `json:"message,omitempty"`
	Errors    []JobError `json:"errors,omitempty"`
	AIUsage   *AIUsage   `json:"ai_usage,omitempty"`
	UpdatedAt *string    `json:"updated_at,omitempty"`
}

// Terminal reports whether this delta carries a terminal status.
func (u Update) Terminal() bool {
	return u.Status != nil && u.Status.IsTerminal()
}

// merge overlays the delta onto a job record, field by field. The job's
// progress invariant (current <= total once total is known) is enforced
// here regardless of message interleaving.
func (u Update) merge(j *Job) {
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.Current != nil {
		j.Current = *u.Current
	}
	if u.Total != nil {
		j.Total = *u.Total
	}
	if u.Message != nil {
		j.Message = *u.Message
	}
	if u.Errors != nil {
		j.Errors = u.Errors
	}
	if u.AIUsage != nil {
		j.AIUsage = *u.AIUsage
	}
	if u.UpdatedAt != nil {
		j.UpdatedAt = *u.UpdatedAt
	}
	if j.Total > 0 && j.Current > j.Total {
		j.Current = j.Total
	}
}
