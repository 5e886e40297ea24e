package models

// StepExecutionResult is returned by a registered step function. It is a
// value, never persisted: the dispatcher interprets it into step and entry
// mutations.
type StepExecutionResult struct {
	// Modified indicates the step did work that has to be persisted.
	Modified bool
	// StepStatus is the resulting status of the just-run step. Left empty
	// it defaults to DONE.
	StepStatus ProcessStepStatus
	// StepMessage replaces the just-run step's message, e.g. the failure
	// text on a requeue.
	StepMessage string
	// ModifyEntry mutates the checklist entry the step targets.
	ModifyEntry func(*ChecklistEntry)
	// ScheduleStepTypes are follow-on steps; types already present among the
	// checklist's steps are not created again. Manual types are recorded for
	// external triggering, automatic ones join the dispatch queue.
	ScheduleStepTypes []ProcessStepType
	// SkipStepTypes are sibling step types to resolve as SKIPPED.
	SkipStepTypes []ProcessStepType
}

// ExecutionOutcome is the signal an executor emits to the scheduler while
// working through a process.
type ExecutionOutcome int

const (
	// OutcomeUnmodified carries no persistence action.
	OutcomeUnmodified ExecutionOutcome = iota
	// OutcomeLockRequested asks the scheduler to commit a lock on the
	// process before any further results are consumed.
	OutcomeLockRequested
	// OutcomeSaveRequested asks the scheduler to commit the queued
	// mutations, clearing a previously requested lock.
	OutcomeSaveRequested
)

func (o ExecutionOutcome) String() string {
	switch o {
	case OutcomeLockRequested:
		return "LOCK_REQUESTED"
	case OutcomeSaveRequested:
		return "SAVE_REQUESTED"
	default:
		return "UNMODIFIED"
	}
}
