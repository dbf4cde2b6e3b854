package core

// status.go defines the job status state machine.
//
// Transitions are data, not scattered string comparisons: the transitions
// table is the single source of truth, and every service operation checks its
// precondition set through requireStatus before doing anything.

// Status is the lifecycle state of a migration job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploaded   Status = "uploaded"
	StatusMapped     Status = "mapped"
	StatusValidated  Status = "validated"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRolledBack Status = "rolled_back"
)

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// transitions lists the legal successor states for each status.
// failed and rolled_back are terminal; completed and cancelled admit only
// rollback.
var transitions = map[Status][]Status{
	StatusPending:  {StatusUploaded},
	StatusUploaded: {StatusUploaded, StatusMapped},
	// Re-uploading from mapped resets to uploaded; validate moves forward.
	StatusMapped:     {StatusUploaded, StatusMapped, StatusValidated},
	StatusValidated:  {StatusUploaded, StatusMapped, StatusValidated, StatusRunning},
	StatusRunning:    {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusRolledBack},
	StatusCancelled:  {StatusRolledBack},
	StatusFailed:     {},
	StatusRolledBack: {},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// transition moves the job to next, or returns InvalidStateError naming the
// operation and the job's current status.
func (j *MigrationJob) transition(op string, next Status) error {
	if !j.Status.CanTransition(next) {
		return &InvalidStateError{Op: op, Status: j.Status}
	}
	j.Status = next
	return nil
}

// requireStatus rejects the operation unless the job is in one of the
// allowed states.
func requireStatus(op string, job *MigrationJob, allowed ...Status) error {
	for _, s := range allowed {
		if job.Status == s {
			return nil
		}
	}
	return &InvalidStateError{Op: op, Status: job.Status}
}
