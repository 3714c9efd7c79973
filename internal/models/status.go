package models

// RunStatus is the run state persisted on a Message.
type RunStatus string

const (
	RunPending             RunStatus = "pending"
	RunQueued              RunStatus = "queued"
	RunInProgress          RunStatus = "in_progress"
	RunProcessing          RunStatus = "processing"
	RunRequiresAction      RunStatus = "requires_action"
	RunCancelling          RunStatus = "cancelling"
	RunCompleted           RunStatus = "completed"
	RunFailed              RunStatus = "failed"
	RunCancelled           RunStatus = "cancelled"
	RunExpired             RunStatus = "expired"
	RunIncomplete          RunStatus = "incomplete"
	RunCompletedNoResponse RunStatus = "completed_no_response"
	RunCompletedWithError  RunStatus = "completed_with_error"
)

// IsTerminal reports whether no further transitions can happen.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete,
		RunCompletedNoResponse, RunCompletedWithError:
		return true
	}
	return false
}

// Succeeded reports whether the run finished with an answer.
func (s RunStatus) Succeeded() bool {
	return s == RunCompleted
}

type ThreadStatus string

const (
	ThreadPending ThreadStatus = "pending"
	ThreadCreated ThreadStatus = "created"
)

// CheckmarkStatus is the status value published to observers.
type CheckmarkStatus int

const (
	CheckmarkNone       CheckmarkStatus = 0
	CheckmarkProcessing CheckmarkStatus = 1
	CheckmarkSuccess    CheckmarkStatus = 2
	CheckmarkFailed     CheckmarkStatus = 3
)

func (c CheckmarkStatus) String() string {
	switch c {
	case CheckmarkProcessing:
		return "processing"
	case CheckmarkSuccess:
		return "success"
	case CheckmarkFailed:
		return "failed"
	default:
		return "none"
	}
}
