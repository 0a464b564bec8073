package domain

import "time"

// JobKind is the typed job discriminator. Only reply generation exists today;
// new kinds dispatch in the worker without string comparisons at call sites.
type JobKind string

const (
	JobFredReply JobKind = "fred_reply"
)

// JobStatus is a linear state machine:
// queued -> running -> done, or queued -> running -> failed (attempts < max),
// or -> deadletter once the retry budget is exhausted. A job whose claim
// discovers the message already handled goes queued -> done directly.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobRunning    JobStatus = "running"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
	JobDeadletter JobStatus = "deadletter"
)

// Terminal reports whether no further transition is expected from s.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobDeadletter
}

// DefaultJobPriority is a hint only; no priority queue exists and jobs run
// as fast as the creation trigger fires.
const DefaultJobPriority = 5

// Job is a transient work ticket pointing at the message that triggered it.
// Attempts counts job-local tries, separate from the message's own counter.
type Job struct {
	ID             string     `json:"id"`
	Kind           JobKind    `json:"kind"`
	MessageID      string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	Status         JobStatus  `json:"status"`
	Priority       int        `json:"priority"`
	Attempts       int        `json:"attempts"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	Error          string     `json:"error,omitempty"`
}
