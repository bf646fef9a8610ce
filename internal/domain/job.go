package domain

import "time"

type Status string

const (
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// Terminal reports whether s is an end state. Jobs never leave a terminal state.
func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// BackgroundJob is one user-visible unit of work shown in the jobs panel.
type BackgroundJob struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobPatch is a partial update; nil fields are left untouched.
type JobPatch struct {
	Status   *Status
	Progress *int
	Message  *string
}

// Apply merges p into j. CompletedAt is stamped with now only on the first
// transition into a terminal status; a terminal job keeps its status.
func (p JobPatch) Apply(j *BackgroundJob, now time.Time) {
	if p.Status != nil && !j.Status.Terminal() {
		j.Status = *p.Status
		if j.Status.Terminal() && j.CompletedAt == nil {
			t := now
			j.CompletedAt = &t
		}
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.Message != nil {
		j.Message = *p.Message
	}
}

// BulkRunProgress is the fine-grained snapshot of one bulk run.
type BulkRunProgress struct {
	Current       int      `json:"current"`
	Total         int      `json:"total"`
	CurrentDomain string   `json:"current_domain"`
	Completed     []string `json:"completed"`
	Failed        []string `json:"failed"`
	IsRunning     bool     `json:"is_running"`
}

// Clone returns a copy that shares no slices with p.
func (p BulkRunProgress) Clone() BulkRunProgress {
	c := p
	c.Completed = append([]string{}, p.Completed...)
	c.Failed = append([]string{}, p.Failed...)
	return c
}

// OperationArgs are the extra parameters some backend commands accept.
type OperationArgs struct {
	WindowDays int    `json:"window_days,omitempty"`
	Date       string `json:"date,omitempty"`
}

// RunRequest is a bulk run waiting in the scheduler queue.
type RunRequest struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	Domains   []string      `json:"domains"`
	Args      OperationArgs `json:"args"`
	RunAt     time.Time     `json:"run_at"`
	CreatedAt time.Time     `json:"created_at"`
}

func (p JobPatch) WithStatus(s Status) JobPatch {
	p.Status = &s
	return p
}

func (p JobPatch) WithProgress(pct int) JobPatch {
	p.Progress = &pct
	return p
}

func (p JobPatch) WithMessage(msg string) JobPatch {
	p.Message = &msg
	return p
}
