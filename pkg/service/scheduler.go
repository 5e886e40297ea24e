package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/models"
	"github.com/eclipse-tractusx/portal-backend-sub020/pkg/storage"
)

// ProcessExecutionService polls for processes with eligible pending steps
// and dispatches each to the executor owning its process type. Many worker
// instances may run the same poll loop against one backlog; safety comes
// from the optimistic version check on every save, not from mutual
// exclusion between instances.
type ProcessExecutionService struct {
	store     storage.Store
	logger    Logger
	executors map[models.ProcessType]StepExecutor
}

func NewProcessExecutionService(store storage.Store, logger Logger, executors ...StepExecutor) *ProcessExecutionService {
	m := make(map[models.ProcessType]StepExecutor, len(executors))
	for _, e := range executors {
		m[e.ProcessType()] = e
	}
	return &ProcessExecutionService{store: store, logger: logger, executors: m}
}

// ExecuteCycle runs one poll pass. Failures are isolated per process: an
// ordinary error aborts only that process's remaining results. A fatal
// error (SystemError) is returned to the caller, which is expected to
// terminate the worker non-zero. Cancellation is observed between
// processes; the process in flight finishes its current step.
func (s *ProcessExecutionService) ExecuteCycle(ctx context.Context) error {
	types := make([]models.ProcessType, 0, len(s.executors))
	var stepTypes []models.ProcessStepType
	for t, e := range s.executors {
		types = append(types, t)
		stepTypes = append(stepTypes, e.ExecutableStepTypes()...)
	}

	processes, err := s.store.GetActiveProcesses(types, stepTypes, time.Now())
	if err != nil {
		return err
	}
	for i := range processes {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.executeProcess(ctx, &processes[i]); err != nil {
			return err
		}
	}
	return nil
}

// executeProcess consumes one executor stream. Only fatal errors are
// returned; everything else is logged and the poll cycle moves on.
func (s *ProcessExecutionService) executeProcess(ctx context.Context, process *models.Process) error {
	executor, ok := s.executors[process.Type]
	if !ok {
		s.logger.Infof("No executor registered for process type %s, skipping process %s", process.Type, process.ID)
		return nil
	}
	if process.Locked(time.Now()) {
		s.logger.Infof("Process %s is locked until %s, skipping", process.ID, process.LockExpiry)
		return nil
	}

	steps, err := s.store.GetProcessSteps(process.ID)
	if err != nil {
		s.logger.Infof("Failed to load steps of process %s: %v", process.ID, err)
		return nil
	}
	pending := pendingStepTypes(steps, executor.ExecutableStepTypes())
	if len(pending) == 0 {
		return nil
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := executor.Execute(streamCtx, *process, pending)
	defer drain(results)

	for result := range results {
		if result.Err != nil {
			if IsFatal(result.Err) {
				s.logger.Errorf("Fatal error processing process %s: %v", process.ID, result.Err)
				cancel()
				return result.Err
			}
			s.logger.Infof("Error processing process %s: %v", process.ID, result.Err)
			cancel()
			return nil
		}
		switch result.Outcome {
		case models.OutcomeUnmodified:
			// nothing to persist
		case models.OutcomeLockRequested:
			expiry := time.Now().Add(executor.LockExpiry())
			if err := s.commit(process, nil, &expiry); err != nil {
				if IsFatal(err) {
					cancel()
					return err
				}
				s.logger.Infof("Failed to lock process %s, aborting remaining results: %v", process.ID, err)
				cancel()
				return nil
			}
		case models.OutcomeSaveRequested:
			if err := s.commit(process, result.Apply, nil); err != nil {
				if IsFatal(err) {
					cancel()
					return err
				}
				s.logger.Infof("Failed to save process %s, aborting remaining results: %v", process.ID, err)
				cancel()
				return nil
			}
		}
	}
	return nil
}

// commit persists the queued mutations and the process row in one unit of
// work: version token replaced, lock expiry set or cleared. The change set
// is consumed whether or not the commit succeeds, so the next process
// starts from a clean slate.
func (s *ProcessExecutionService) commit(process *models.Process, apply func(storage.Store) error, lockExpiry *time.Time) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	if apply != nil {
		if err = apply(txStore); err != nil {
			return err
		}
	}
	expected := process.Version
	process.Version = uuid.New()
	process.LockExpiry = lockExpiry
	if err = txStore.SaveProcess(*process, expected); err != nil {
		process.Version = expected
		return err
	}
	return nil
}

// pendingStepTypes returns the distinct TODO step types the executor can
// run, in step discovery order.
func pendingStepTypes(steps []models.ProcessStep, executable []models.ProcessStepType) []models.ProcessStepType {
	executableSet := make(map[models.ProcessStepType]struct{}, len(executable))
	for _, t := range executable {
		executableSet[t] = struct{}{}
	}
	seen := make(map[models.ProcessStepType]struct{})
	var out []models.ProcessStepType
	for _, step := range steps {
		if step.Status != models.StepStatusTodo {
			continue
		}
		if _, ok := executableSet[step.Type]; !ok {
			continue
		}
		if _, ok := seen[step.Type]; ok {
			continue
		}
		seen[step.Type] = struct{}{}
		out = append(out, step.Type)
	}
	return out
}

func drain(ch <-chan ExecutionResult) {
	for range ch {
	}
}
