package core

// errors.go defines the pipeline's error taxonomy.
//
// Configuration and state errors are rejected synchronously and loudly.
// Row-level errors never surface here: they are recorded on the
// MigrationRecord and reported in aggregate. Job-level fatal errors are
// written to the job entity, never thrown past the execution boundary.

import (
	"errors"
	"fmt"
	"strings"
)

// ErrJobNotFound is returned by job stores when no job has the given id.
var ErrJobNotFound = errors.New("job not found")

// ErrNotFound is returned by the target store when no record matches.
var ErrNotFound = errors.New("record not found")

// ErrValidationBlocked rejects execution while the last validation has
// unresolved errors.
var ErrValidationBlocked = errors.New("validation errors present, fix and re-validate before executing")

// InvalidStateError rejects an operation called from the wrong job status.
type InvalidStateError struct {
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s job in status %q", e.Op, e.Status)
}

// IncompleteMappingError rejects a mapping that leaves required fields
// without a mapped column or a default value.
type IncompleteMappingError struct {
	Missing []string
}

func (e *IncompleteMappingError) Error() string {
	return fmt.Sprintf("mapping incomplete, required fields unmapped: %s", strings.Join(e.Missing, ", "))
}

// UserMessage is the client-facing rendering of an error: a stable code for
// support reference, a readable message, and a suggested next step.
type UserMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

type errorPattern struct {
	substrings []string
	msg        UserMessage
}

// errorPatterns maps raw error text to user-facing messages. Checked in
// order; first match wins.
var errorPatterns = []errorPattern{
	{
		substrings: []string{"unknown entity type"},
		msg: UserMessage{
			Code:    "CAT001",
			Message: "The requested entity type is not registered",
			Action:  "List /entities for the available types",
		},
	},
	{
		substrings: []string{"cyclic entity dependencies"},
		msg: UserMessage{
			Code:    "CAT002",
			Message: "The entity catalog contains a dependency cycle",
			Action:  "Fix the entity dependency declarations and restart",
		},
	},
	{
		substrings: []string{"mapping incomplete"},
		msg: UserMessage{
			Code:    "MAP001",
			Message: "Required fields have no mapped column and no default",
			Action:  "Map the listed fields or give them a default cleaning rule",
		},
	},
	{
		substrings: []string{"job in status"},
		msg: UserMessage{
			Code:    "JOB001",
			Message: "The job is not in a status that allows this operation",
			Action:  "Check the job status and follow the upload, map, validate, execute order",
		},
	},
	{
		substrings: []string{"job not found"},
		msg: UserMessage{
			Code:    "JOB002",
			Message: "No migration job exists with this id",
			Action:  "List /jobs to find the right job id",
		},
	},
	{
		substrings: []string{"validation errors present"},
		msg: UserMessage{
			Code:    "VAL001",
			Message: "The last validation found blocking errors",
			Action:  "Fix the source data or mapping and validate again",
		},
	},
	{
		substrings: []string{"empty file", "no data rows", "parse CSV"},
		msg: UserMessage{
			Code:    "FILE001",
			Message: "The uploaded file could not be parsed as tabular data",
			Action:  "Upload a CSV with a header row and at least one data row",
		},
	},
	{
		substrings: []string{"exceeds", "limit"},
		msg: UserMessage{
			Code:    "FILE002",
			Message: "The uploaded file is too large",
			Action:  "Split the file and migrate it in parts",
		},
	},
	{
		substrings: []string{"too many concurrent"},
		msg: UserMessage{
			Code:    "RUN001",
			Message: "All execution slots are busy",
			Action:  "Wait for a running migration to finish and try again",
		},
	},
	{
		substrings: []string{"connection refused", "connection reset", "deadlock", "timeout"},
		msg: UserMessage{
			Code:    "DB001",
			Message: "The datastore is unavailable or overloaded",
			Action:  "Try again in a few moments",
		},
	},
}

var defaultMessage = UserMessage{
	Code:    "GEN001",
	Message: "Something went wrong processing the request",
	Action:  "Try again; if the problem persists, quote this code to support",
}

// MapError converts any pipeline error into a client-safe UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	text := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		for _, sub := range p.substrings {
			if strings.Contains(text, strings.ToLower(sub)) {
				return p.msg
			}
		}
	}
	return defaultMessage
}
