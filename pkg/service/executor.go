package service

import (
	"context"
	"time"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/storage"
)

// Logger defines the logging interface of the services.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// ExecutionResult is one element of an executor's result stream. Apply
// carries the mutations queued since the previous signal; the scheduler
// runs it inside the commit of a SaveRequested result, so an aborted
// stream leaves nothing behind.
type ExecutionResult struct {
	Outcome models.ExecutionOutcome
	Apply   func(storage.Store) error
	Err     error
}

// StepExecutor runs the steps of one process type. Execute streams results
// one at a time so the scheduler can commit after each lock/save signal
// without buffering the whole step sequence. The stream ends when the
// returned channel closes; cancelling ctx stops it after the step in
// flight.
type StepExecutor interface {
	ProcessType() models.ProcessType
	ExecutableStepTypes() []models.ProcessStepType
	LockExpiry() time.Duration
	Execute(ctx context.Context, process models.Process, pending []models.ProcessStepType) <-chan ExecutionResult
}

// changeSet collects the mutations of one dispatch step.
type changeSet struct {
	stepUpdates  []models.ProcessStep
	newSteps     []models.ProcessStep
	entryUpdates []models.ChecklistEntry
}

func (c *changeSet) empty() bool {
	return len(c.stepUpdates) == 0 && len(c.newSteps) == 0 && len(c.entryUpdates) == 0
}

func (c *changeSet) apply(tx storage.Store) error {
	for _, step := range c.stepUpdates {
		if err := tx.UpdateProcessStep(step); err != nil {
			return err
		}
	}
	if len(c.newSteps) > 0 {
		if err := tx.CreateProcessSteps(c.newSteps); err != nil {
			return err
		}
	}
	for _, entry := range c.entryUpdates {
		if err := tx.UpdateChecklistEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// sendResult delivers r unless ctx is cancelled first.
func sendResult(ctx context.Context, ch chan<- ExecutionResult, r ExecutionResult) bool {
	select {
	case ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
