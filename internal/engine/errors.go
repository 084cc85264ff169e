package engine

import "errors"

// Validation failures are terminal for the caller: retrying the same input
// cannot succeed. Persistence faults and repo.ErrConflict are the only
// transient errors this package surfaces.
var (
	// ErrMissingWorkflow means the project has no workflow configured,
	// which is a data-integrity problem for that project.
	ErrMissingWorkflow = errors.New("project has no workflow configured")

	// ErrInvalidStage means the requested stage id is not in the
	// project's stage list.
	ErrInvalidStage = errors.New("stage not in project workflow")

	// ErrInvalidState means the project's status forbids the operation.
	ErrInvalidState = errors.New("cannot move stage of a finished or cancelled project")

	// ErrDuplicateStage means a custom stage id collides with an
	// existing stage.
	ErrDuplicateStage = errors.New("stage id already exists in workflow")

	// ErrInvalidHours means hours are outside (0, 24].
	ErrInvalidHours = errors.New("hours must be greater than 0 and at most 24")

	// ErrFutureDate means the entry is dated after today; time entries
	// document work already performed.
	ErrFutureDate = errors.New("time entry date cannot be in the future")
)
